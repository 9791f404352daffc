// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package control

import (
	"errors"
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

// BLEConfig names the GATT layout of the control link.
type BLEConfig struct {
	DeviceName  string
	ServiceUUID string
	ControlUUID string
	DataUUID    string
}

// BLELink exposes the control link as a GATT peripheral: a read/write
// control characteristic and a read/notify data characteristic. BlueZ
// does not report peripheral-side connections through the adapter, so
// the central is tracked on the system bus.
type BLELink struct {
	cfg     BLEConfig
	adapter *bluetooth.Adapter
	peers   *PeerWatcher

	control bluetooth.Characteristic
	data    bluetooth.Characteristic
}

var errNoPeer = errors.New("control: no peer connected")

func NewBLELink(cfg BLEConfig) *BLELink {
	return &BLELink{cfg: cfg, adapter: bluetooth.DefaultAdapter}
}

// Start enables the adapter, registers the service and begins
// advertising. Callbacks from the stack are forwarded to h.
func (l *BLELink) Start(h Handler) error {
	serviceUUID, err := bluetooth.ParseUUID(l.cfg.ServiceUUID)
	if err != nil {
		return fmt.Errorf("control: service uuid: %w", err)
	}
	controlUUID, err := bluetooth.ParseUUID(l.cfg.ControlUUID)
	if err != nil {
		return fmt.Errorf("control: control uuid: %w", err)
	}
	dataUUID, err := bluetooth.ParseUUID(l.cfg.DataUUID)
	if err != nil {
		return fmt.Errorf("control: data uuid: %w", err)
	}

	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("control: enable adapter: %w", err)
	}

	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("control: system bus: %w", err)
	}
	l.peers = NewPeerWatcher(bus)
	if err := l.peers.Start(h); err != nil {
		return err
	}

	err = l.adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &l.control,
				UUID:   controlUUID,
				Value:  []byte{CmdIdle},
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicWritePermission,
				WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
					if len(value) == 0 {
						return
					}
					h.OnCommand(value[0])
				},
			},
			{
				Handle: &l.data,
				UUID:   dataUUID,
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("control: add service: %w", err)
	}

	adv := l.adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    l.cfg.DeviceName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	})
	if err != nil {
		return fmt.Errorf("control: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("control: start advertising: %w", err)
	}
	log.Printf("control: advertising as %q", l.cfg.DeviceName)
	return nil
}

// Notify writes p to the data characteristic, notifying subscribers.
func (l *BLELink) Notify(p []byte) error {
	if _, err := l.data.Write(p); err != nil {
		return fmt.Errorf("control: notify: %w", err)
	}
	return nil
}

// Disconnect drops the current peer, if any.
func (l *BLELink) Disconnect() error {
	if l.peers == nil {
		return errNoPeer
	}
	return l.peers.Disconnect()
}

// Close stops tracking peers.
func (l *BLELink) Close() {
	if l.peers != nil {
		l.peers.Close()
	}
}
