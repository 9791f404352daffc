// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RegisterDevice is register-level access to the sensor.
type RegisterDevice interface {
	ReadRegister(bank, addr uint8) (uint8, error)
	WriteRegister(bank, addr, v uint8) error
}

// RegisterCmd is a request from the register debug page.
type RegisterCmd struct {
	Action string `json:"action"` // "get_map", "read", "read_all", "write"
	Bank   uint8  `json:"bank"`
	Addr   string `json:"addr,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Response types
type RegisterResponse struct {
	Type        string                 `json:"type"` // "register_data", "register_map", "error"
	Bank        uint8                  `json:"bank"`
	Address     string                 `json:"addr,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Registers   map[string]string      `json:"registers,omitempty"` // for bulk read
	Timestamp   string                 `json:"timestamp,omitempty"`
	Message     string                 `json:"message,omitempty"`
	RegisterMap []sensors.RegisterInfo `json:"register_map,omitempty"`
}

// RegisterDebugHandler serves the register debug websocket. Only one
// session touches the bus at a time.
type RegisterDebugHandler struct {
	mu  sync.Mutex
	dev RegisterDevice
}

func NewRegisterDebugHandler(dev RegisterDevice) *RegisterDebugHandler {
	return &RegisterDebugHandler{dev: dev}
}

// RegisterDebugSession holds WebSocket connection state for register debugging
type RegisterDebugSession struct {
	Conn *websocket.Conn
	h    *RegisterDebugHandler
}

func (h *RegisterDebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := &RegisterDebugSession{Conn: conn, h: h}

	// Send register map on connection
	if err := session.sendRegisterMap(); err != nil {
		log.Printf("register_debug: error sending register map: %v", err)
		return
	}

	// Message loop
	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("register_debug: websocket error: %v", err)
			}
			break
		}

		switch cmd.Action {
		case "get_map":
			session.sendRegisterMap()
		case "read":
			session.handleRead(cmd)
		case "read_all":
			session.handleReadAll(cmd)
		case "write":
			session.handleWrite(cmd)
		default:
			session.sendError(fmt.Sprintf("unknown action: %s", cmd.Action))
		}
	}
}

func (s *RegisterDebugSession) sendRegisterMap() error {
	return s.Conn.WriteJSON(RegisterResponse{
		Type:        "register_map",
		RegisterMap: sensors.ICM20948RegisterMap(),
	})
}

func (s *RegisterDebugSession) handleRead(cmd RegisterCmd) {
	var addr byte
	if _, err := fmt.Sscanf(cmd.Addr, "0x%X", &addr); err != nil {
		s.sendError(fmt.Sprintf("invalid address format: %s", cmd.Addr))
		return
	}

	s.h.mu.Lock()
	value, err := s.h.dev.ReadRegister(cmd.Bank, addr)
	s.h.mu.Unlock()
	if err != nil {
		s.sendError(fmt.Sprintf("read error: %v", err))
		return
	}

	s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		Bank:      cmd.Bank,
		Address:   fmt.Sprintf("0x%02X", addr),
		Value:     fmt.Sprintf("0x%02X", value),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleReadAll reads every mapped register of one bank.
func (s *RegisterDebugSession) handleReadAll(cmd RegisterCmd) {
	regs := make(map[string]string)

	s.h.mu.Lock()
	for _, info := range sensors.ICM20948RegisterMap() {
		if info.Bank != cmd.Bank {
			continue
		}
		v, err := s.h.dev.ReadRegister(info.Bank, info.Address)
		if err != nil {
			s.h.mu.Unlock()
			s.sendError(fmt.Sprintf("read %s error: %v", info.Name, err))
			return
		}
		regs[fmt.Sprintf("0x%02X", info.Address)] = fmt.Sprintf("0x%02X", v)
	}
	s.h.mu.Unlock()

	s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		Bank:      cmd.Bank,
		Registers: regs,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *RegisterDebugSession) handleWrite(cmd RegisterCmd) {
	var addr, value byte
	if _, err := fmt.Sscanf(cmd.Addr, "0x%X", &addr); err != nil {
		s.sendError(fmt.Sprintf("invalid address format: %s", cmd.Addr))
		return
	}
	if _, err := fmt.Sscanf(cmd.Value, "0x%X", &value); err != nil {
		s.sendError(fmt.Sprintf("invalid value format: %s", cmd.Value))
		return
	}

	// only mapped, writable registers
	info, ok := sensors.LookupRegister(cmd.Bank, addr)
	if !ok || !info.Writable() {
		s.sendError(fmt.Sprintf("register 0x%02X in bank %d is not writable", addr, cmd.Bank))
		return
	}

	s.h.mu.Lock()
	err := s.h.dev.WriteRegister(cmd.Bank, addr, value)
	s.h.mu.Unlock()
	if err != nil {
		s.sendError(fmt.Sprintf("write error: %v", err))
		return
	}

	s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		Bank:      cmd.Bank,
		Address:   fmt.Sprintf("0x%02X", addr),
		Value:     fmt.Sprintf("0x%02X", value),
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   "write successful",
	})
}

func (s *RegisterDebugSession) sendError(message string) {
	s.Conn.WriteJSON(RegisterResponse{
		Type:    "error",
		Message: message,
	})
}
