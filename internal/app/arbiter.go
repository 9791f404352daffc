// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"time"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/control"
)

// Mode is which subsystem currently owns storage and radios.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCapturing
	ModeServing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeCapturing:
		return "capturing"
	case ModeServing:
		return "serving"
	}
	return "unknown"
}

// Session is the capture side the arbiter drives.
type Session interface {
	Begin() error
	Step()
	Stop(reason string)
	Status() capture.Status
	Rows() int
	Elapsed() time.Duration
}

// Retriever is the bulk-transfer side the arbiter drives.
type Retriever interface {
	Start() error
	Stop()
	ServePending() int
}

// Link is the control link as seen by the arbiter.
type Link interface {
	control.Notifier
	Disconnect() error
}

// Arbiter is the only writer of Mode. Control events are applied here,
// one at a time, from the loop goroutine.
type Arbiter struct {
	mode      Mode
	session   Session
	retrieval Retriever
	link      Link
	status    StatusPublisher

	logPath      string
	readoutDelay time.Duration

	connected bool
	// set when the arbiter drops the peer itself on entering Serving
	expectDisconnect bool
	sessions         int
}

type ArbiterOptions struct {
	LogPath      string
	ReadoutDelay time.Duration
}

func NewArbiter(session Session, retrieval Retriever, link Link, status StatusPublisher, opts ArbiterOptions) *Arbiter {
	if status == nil {
		status = NopPublisher{}
	}
	return &Arbiter{
		session:      session,
		retrieval:    retrieval,
		link:         link,
		status:       status,
		logPath:      opts.LogPath,
		readoutDelay: opts.ReadoutDelay,
	}
}

func (a *Arbiter) Mode() Mode { return a.mode }

// Handle applies one control event.
func (a *Arbiter) Handle(e control.Event) {
	switch e.Kind {
	case control.EventConnected:
		a.onConnect()
	case control.EventDisconnected:
		a.onDisconnect()
	case control.EventCommand:
		a.onCommand(e.Command)
	}
}

func (a *Arbiter) onConnect() {
	a.connected = true
	switch a.mode {
	case ModeIdle:
		a.startCapture()
	case ModeServing:
		log.Println("app: peer connected while serving; send 0 to stop serving")
	}
}

func (a *Arbiter) onDisconnect() {
	a.connected = false
	if a.expectDisconnect {
		a.expectDisconnect = false
		return
	}
	switch a.mode {
	case ModeCapturing:
		a.session.Stop("peer disconnected")
		a.setMode(ModeIdle)
	case ModeServing:
		log.Println("app: peer lost while serving, tearing down network")
		a.retrieval.Stop()
		a.setMode(ModeIdle)
	}
}

func (a *Arbiter) onCommand(b byte) {
	switch b {
	case control.CmdServe:
		a.startServing()
	case control.CmdIdle:
		a.toIdle()
	case control.CmdReadout:
		a.readout()
	default:
		log.Printf("app: ignoring unknown command %d", b)
	}
}

func (a *Arbiter) startCapture() {
	if err := a.session.Begin(); err != nil {
		log.Printf("app: cannot start capture: %v", err)
		return
	}
	a.sessions++
	a.setMode(ModeCapturing)
}

func (a *Arbiter) startServing() {
	switch a.mode {
	case ModeCapturing:
		log.Println("app: serve rejected, capture in progress")
		return
	case ModeServing:
		return
	}
	if err := a.retrieval.Start(); err != nil {
		log.Printf("app: cannot start retrieval: %v", err)
		return
	}
	a.setMode(ModeServing)

	if !a.connected {
		return
	}
	a.expectDisconnect = true
	if err := a.link.Disconnect(); err != nil {
		a.expectDisconnect = false
		log.Printf("app: %v", err)
	}
}

func (a *Arbiter) toIdle() {
	switch a.mode {
	case ModeCapturing:
		a.session.Stop("stop command")
	case ModeServing:
		a.retrieval.Stop()
	default:
		return
	}
	a.setMode(ModeIdle)
}

// readout streams the log over the control link. It holds the loop for
// the whole transfer, so it is only allowed while nothing else runs.
func (a *Arbiter) readout() {
	if a.mode != ModeIdle {
		log.Printf("app: readout rejected while %s", a.mode)
		return
	}
	n, err := control.StreamLog(a.logPath, a.link, a.readoutDelay)
	if err != nil {
		log.Printf("app: readout stopped after %d lines: %v", n, err)
		return
	}
	log.Printf("app: readout sent %d lines", n)
}

// afterStep moves back to Idle once the session has ended on its own.
func (a *Arbiter) afterStep() {
	if a.mode == ModeCapturing && a.session.Status() != capture.StatusActive {
		a.setMode(ModeIdle)
	}
}

// shutdown releases whatever the current mode holds.
func (a *Arbiter) shutdown() {
	switch a.mode {
	case ModeCapturing:
		a.session.Stop("shutdown")
	case ModeServing:
		a.retrieval.Stop()
	}
	a.setMode(ModeIdle)
}

func (a *Arbiter) setMode(m Mode) {
	if a.mode != m {
		log.Printf("app: mode %s -> %s", a.mode, m)
	}
	a.mode = m
	a.status.Publish(a.snapshot())
}

func (a *Arbiter) snapshot() Status {
	return Status{
		Mode:      a.mode.String(),
		Session:   a.sessions,
		Capture:   a.session.Status().String(),
		Rows:      a.session.Rows(),
		ElapsedMS: a.session.Elapsed().Milliseconds(),
		Time:      time.Now().UTC().Format(time.RFC3339),
	}
}
