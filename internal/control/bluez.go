// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"fmt"
	"log"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName     = "org.bluez"
	bluezDevice      = "org.bluez.Device1"
	bluezRoot        = dbus.ObjectPath("/org/bluez")
	propertiesIface  = "org.freedesktop.DBus.Properties"
	propertiesSignal = propertiesIface + ".PropertiesChanged"
	objectsIface     = "org.freedesktop.DBus.ObjectManager"
	objectsSignal    = objectsIface + ".InterfacesAdded"
)

// Bus is the part of a D-Bus connection the peer watcher uses.
// *dbus.Conn satisfies it.
type Bus interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// PeerWatcher follows the Connected property of BlueZ devices and reports
// the central talking to our GATT server. One peer at a time.
type PeerWatcher struct {
	bus     Bus
	signals chan *dbus.Signal
	done    chan struct{}

	mu   sync.Mutex
	peer dbus.ObjectPath
}

func NewPeerWatcher(bus Bus) *PeerWatcher {
	return &PeerWatcher{bus: bus}
}

// Start subscribes to device property changes and forwards connects and
// disconnects to h from its own goroutine.
func (w *PeerWatcher) Start(h Handler) error {
	err := w.bus.AddMatchSignal(
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(bluezRoot),
	)
	if err != nil {
		return fmt.Errorf("control: watch device properties: %w", err)
	}
	// a device seen for the first time shows up already connected
	err = w.bus.AddMatchSignal(
		dbus.WithMatchInterface(objectsIface),
		dbus.WithMatchMember("InterfacesAdded"),
	)
	if err != nil {
		return fmt.Errorf("control: watch new devices: %w", err)
	}

	w.signals = make(chan *dbus.Signal, 16)
	w.done = make(chan struct{})
	w.bus.Signal(w.signals)
	go w.run(h, w.signals, w.done)
	return nil
}

func (w *PeerWatcher) run(h Handler, signals <-chan *dbus.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			w.handle(sig, h)
		}
	}
}

func (w *PeerWatcher) handle(sig *dbus.Signal, h Handler) {
	var (
		path dbus.ObjectPath
		prop dbus.Variant
		ok   bool
	)
	switch sig.Name {
	case propertiesSignal:
		if len(sig.Body) < 2 {
			return
		}
		if iface, _ := sig.Body[0].(string); iface != bluezDevice {
			return
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		prop, ok = changed["Connected"]
		path = sig.Path
	case objectsSignal:
		if len(sig.Body) < 2 {
			return
		}
		path, _ = sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		prop, ok = ifaces[bluezDevice]["Connected"]
	default:
		return
	}
	if !ok {
		return
	}
	connected, ok := prop.Value().(bool)
	if !ok {
		return
	}

	w.mu.Lock()
	switch {
	case connected && w.peer == "":
		w.peer = path
	case !connected && w.peer == path:
		w.peer = ""
	default:
		// a second central, or a device we were not tracking
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if connected {
		log.Printf("control: peer %s connected", path)
		h.OnConnect()
	} else {
		log.Printf("control: peer %s disconnected", path)
		h.OnDisconnect()
	}
}

// Peer returns the object path of the connected central, if any.
func (w *PeerWatcher) Peer() (dbus.ObjectPath, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peer, w.peer != ""
}

// Disconnect asks BlueZ to drop the connected central. The matching
// disconnect event arrives through the watcher like any other.
func (w *PeerWatcher) Disconnect() error {
	peer, ok := w.Peer()
	if !ok {
		return errNoPeer
	}
	call := w.bus.Object(bluezBusName, peer).Call(bluezDevice+".Disconnect", 0)
	if call.Err != nil {
		return fmt.Errorf("control: disconnect %s: %w", peer, call.Err)
	}
	return nil
}

// Close stops watching.
func (w *PeerWatcher) Close() {
	if w.done == nil {
		return
	}
	w.bus.RemoveSignal(w.signals)
	close(w.done)
	w.done = nil
}
