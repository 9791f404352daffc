// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control is the short-range control link: a one-byte control
// point and a notify-only data point. Transport callbacks never touch
// device state; they push typed events onto a Queue that the control
// loop drains once per iteration.
package control

import (
	"fmt"
	"log"
)

// Command bytes accepted on the control point.
const (
	CmdIdle    byte = 0 // stop capture or serving
	CmdServe   byte = 1 // hand the log to the retrieval service
	CmdReadout byte = 2 // stream the log over the data point
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventCommand
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventCommand:
		return "command"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Command byte // valid for EventCommand
}

func (e Event) String() string {
	if e.Kind == EventCommand {
		return fmt.Sprintf("command %d", e.Command)
	}
	return e.Kind.String()
}

// Handler is the capability a transport drives.
type Handler interface {
	OnConnect()
	OnDisconnect()
	OnCommand(b byte)
}

// Notifier sends one message over the data point.
type Notifier interface {
	Notify(p []byte) error
}

// DefaultQueueSize holds a burst of events well beyond what a single
// peer can produce within one loop iteration.
const DefaultQueueSize = 32

// Queue is a Handler that buffers events for a single consumer.
// Pushes never block; when full the event is dropped and logged.
type Queue struct {
	ch chan Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Event, size)}
}

func (q *Queue) OnConnect()       { q.push(Event{Kind: EventConnected}) }
func (q *Queue) OnDisconnect()    { q.push(Event{Kind: EventDisconnected}) }
func (q *Queue) OnCommand(b byte) { q.push(Event{Kind: EventCommand, Command: b}) }

func (q *Queue) push(e Event) {
	select {
	case q.ch <- e:
	default:
		log.Printf("control: event queue full, dropping %s", e)
	}
}

// Drain returns every queued event in arrival order without blocking.
func (q *Queue) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-q.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
