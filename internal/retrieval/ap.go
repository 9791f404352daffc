// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package retrieval

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// AccessPoint brings the local network used for retrieval up and down.
type AccessPoint interface {
	Up(ssid, passphrase string) error
	Down() error
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// NMCLIAccessPoint runs a shared-mode Wi-Fi hotspot through NetworkManager.
// An empty passphrase gives an open network.
type NMCLIAccessPoint struct {
	Interface string
	Run       CommandRunner

	conn string // connection profile created by Up
}

func NewNMCLIAccessPoint(iface string) *NMCLIAccessPoint {
	return &NMCLIAccessPoint{Interface: iface, Run: execRunner}
}

func (a *NMCLIAccessPoint) Up(ssid, passphrase string) error {
	if a.conn != "" {
		return nil
	}
	args := []string{
		"connection", "add",
		"type", "wifi",
		"ifname", a.Interface,
		"con-name", ssid,
		"autoconnect", "no",
		"ssid", ssid,
		"802-11-wireless.mode", "ap",
		"ipv4.method", "shared",
	}
	if passphrase != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", passphrase)
	}
	if err := a.nmcli(args...); err != nil {
		return fmt.Errorf("retrieval: create access point %q: %w", ssid, err)
	}
	if err := a.nmcli("connection", "up", ssid); err != nil {
		a.nmcli("connection", "delete", ssid)
		return fmt.Errorf("retrieval: start access point %q: %w", ssid, err)
	}
	a.conn = ssid
	log.Printf("retrieval: access point %q up on %s", ssid, a.Interface)
	return nil
}

func (a *NMCLIAccessPoint) Down() error {
	if a.conn == "" {
		return nil
	}
	name := a.conn
	a.conn = ""
	if err := a.nmcli("connection", "down", name); err != nil {
		log.Printf("retrieval: %v", err)
	}
	if err := a.nmcli("connection", "delete", name); err != nil {
		return fmt.Errorf("retrieval: remove access point %q: %w", name, err)
	}
	log.Printf("retrieval: access point %q down", name)
	return nil
}

func (a *NMCLIAccessPoint) nmcli(args ...string) error {
	out, err := a.Run("nmcli", args...)
	if err != nil {
		return fmt.Errorf("nmcli %s: %w: %s", args[0]+" "+args[1], err, strings.TrimSpace(string(out)))
	}
	return nil
}
