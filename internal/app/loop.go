// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"log"
	"time"

	"github.com/relabs-tech/motion_logger/internal/control"
)

// EventSource is drained once per iteration.
type EventSource interface {
	Drain() []control.Event
}

// Loop is the single control loop. Everything that touches the sensor,
// the session log or the radios runs on its goroutine.
type Loop struct {
	events   EventSource
	arbiter  *Arbiter
	interval time.Duration
}

func NewLoop(events EventSource, arbiter *Arbiter, interval time.Duration) *Loop {
	return &Loop{events: events, arbiter: arbiter, interval: interval}
}

// Iterate runs one pass: apply queued control events, then give the
// current mode's owner one turn.
func (l *Loop) Iterate() {
	for _, e := range l.events.Drain() {
		l.arbiter.Handle(e)
	}

	switch l.arbiter.Mode() {
	case ModeCapturing:
		l.arbiter.session.Step()
		l.arbiter.afterStep()
	case ModeServing:
		l.arbiter.retrieval.ServePending()
	}
}

// Run iterates every interval until ctx is cancelled, then releases
// whatever the current mode holds.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	log.Printf("app: control loop running every %s", l.interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("app: control loop stopping")
			l.arbiter.shutdown()
			return nil
		case <-ticker.C:
			l.Iterate()
		}
	}
}
