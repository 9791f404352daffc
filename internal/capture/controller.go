// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/motion_logger/internal/imu"
	"github.com/relabs-tech/motion_logger/internal/orientation"
	"github.com/relabs-tech/motion_logger/internal/sensors"
	"github.com/relabs-tech/motion_logger/internal/sessionlog"
)

// maxDrain bounds a single drain of the sensor queue. The ICM-20948
// FIFO holds 4 KiB, i.e. at most 256 Quat6 packets.
const maxDrain = 512

// Status of the current capture session.
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusComplete:
		return "complete"
	}
	return "unknown"
}

// Source is the sample source a session reads from.
type Source interface {
	Poll() (sensors.PollStatus, imu.DMPFrame, error)
	Reinit() error
}

// Clock abstracts monotonic time so sessions can be driven in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads time.Now, which carries the monotonic reading.
var SystemClock Clock = systemClock{}

// SampleLog is where a session writes its rows.
type SampleLog interface {
	Append(s orientation.Sample) error
	Close() error
}

// OpenLogFunc truncates path and returns a log ready for appends.
type OpenLogFunc func(path string) (SampleLog, error)

func openSessionLog(path string) (SampleLog, error) {
	l, err := sessionlog.Begin(path)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Options configure a Controller.
type Options struct {
	LogPath  string
	Duration time.Duration // session budget
	Backoff  time.Duration // wait before re-initializing a faulted sensor
	Clock    Clock
	OpenLog  OpenLogFunc // defaults to sessionlog.Begin
}

// Controller runs capture sessions: Idle -> Active -> Complete -> (Begin) Active ...
// It owns the session log while Active.
type Controller struct {
	src  Source
	opts Options

	status  Status
	start   time.Time
	end     time.Time
	log     SampleLog
	lastMS  uint64
	rows    int
	dropped int

	faulted bool
	retryAt time.Time
}

func NewController(src Source, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.OpenLog == nil {
		opts.OpenLog = openSessionLog
	}
	return &Controller{src: src, opts: opts}
}

func (c *Controller) Status() Status { return c.status }

// Rows returns the samples written in the current or last session.
func (c *Controller) Rows() int { return c.rows }

// Dropped returns the samples lost to append failures in the current or last session.
func (c *Controller) Dropped() int { return c.dropped }

// Elapsed returns how long the current session has run, or how long the
// last one ran once it is complete. Zero before the first session.
func (c *Controller) Elapsed() time.Duration {
	switch {
	case c.start.IsZero():
		return 0
	case c.status == StatusComplete:
		return c.end.Sub(c.start)
	}
	return c.opts.Clock.Now().Sub(c.start)
}

// Begin starts a new session, truncating the previous log.
func (c *Controller) Begin() error {
	if c.status == StatusActive {
		return fmt.Errorf("capture: session already active")
	}
	l, err := c.opts.OpenLog(c.opts.LogPath)
	if err != nil {
		return fmt.Errorf("capture: open session log: %w", err)
	}

	c.log = l
	c.start = c.opts.Clock.Now()
	c.end = time.Time{}
	c.lastMS = 0
	c.rows = 0
	c.dropped = 0
	c.status = StatusActive
	log.Printf("capture: session started (%s budget) -> %s", c.opts.Duration, c.opts.LogPath)
	return nil
}

// Step runs one capture iteration: it ends the session once the budget
// is spent, otherwise drains every packet the sensor has queued.
func (c *Controller) Step() {
	if c.status != StatusActive {
		return
	}
	now := c.opts.Clock.Now()
	if now.Sub(c.start) >= c.opts.Duration {
		c.finish("budget reached")
		return
	}

	if c.faulted {
		if now.Before(c.retryAt) {
			return
		}
		if err := c.src.Reinit(); err != nil {
			log.Printf("capture: sensor re-init failed: %v", err)
			c.retryAt = now.Add(c.opts.Backoff)
			return
		}
		log.Println("capture: sensor recovered")
		c.faulted = false
	}

	for i := 0; i < maxDrain; i++ {
		status, frame, err := c.src.Poll()
		if err != nil {
			log.Printf("capture: sensor fault, retrying in %s: %v", c.opts.Backoff, err)
			c.faulted = true
			c.retryAt = now.Add(c.opts.Backoff)
			return
		}
		if status == sensors.PollEmpty {
			return
		}
		if frame.HasQuat6() {
			c.record(frame.Quat6)
		}
		if status != sensors.PollSampleMore {
			return
		}
	}
	log.Printf("capture: sensor queue still busy after %d packets", maxDrain)
}

func (c *Controller) record(raw imu.Quat6) {
	ms := uint64(c.opts.Clock.Now().Sub(c.start).Milliseconds())
	if ms < c.lastMS {
		ms = c.lastMS
	}
	s := orientation.Sample{ElapsedMS: ms, Quat: orientation.FromQuat6(raw)}

	if err := c.log.Append(s); err != nil {
		c.dropped++
		log.Printf("capture: sample at %d ms dropped: %v", ms, err)
		return
	}
	c.lastMS = ms
	c.rows++
}

// Stop ends an active session early.
func (c *Controller) Stop(reason string) {
	if c.status != StatusActive {
		return
	}
	c.finish(reason)
}

func (c *Controller) finish(reason string) {
	if err := c.log.Close(); err != nil {
		log.Printf("capture: %v", err)
	}
	c.log = nil
	c.faulted = false
	c.end = c.opts.Clock.Now()
	c.status = StatusComplete
	log.Printf("capture: session complete (%s): %d rows, %d dropped", reason, c.rows, c.dropped)
}
