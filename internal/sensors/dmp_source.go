// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/motion_logger/internal/imu"
)

// PollStatus is the outcome of one read of the DMP output queue.
type PollStatus int

const (
	PollEmpty      PollStatus = iota // nothing queued
	PollSample                       // one packet, queue now empty
	PollSampleMore                   // one packet, more queued: read again before yielding
)

func (s PollStatus) String() string {
	switch s {
	case PollEmpty:
		return "empty"
	case PollSample:
		return "sample"
	case PollSampleMore:
		return "sample+more"
	}
	return "unknown"
}

// DMPDevice is a motion sensor whose on-chip motion processor emits
// fused orientation packets into a FIFO. ICM20948 and the mock device
// implement it.
type DMPDevice interface {
	Begin() error
	InitializeDMP() error
	EnableGameRotationVector() error
	SetQuat6Rate(div uint16) error
	EnableFIFO() error
	EnableDMP() error
	ResetDMP() error
	ResetFIFO() error
	ReadFrame() (imu.DMPFrame, PollStatus, error)
}

// DMPSource is the sample source of the logger: a DMPDevice configured
// for a single Quat6 stream.
type DMPSource struct {
	dev    DMPDevice
	odrDiv uint16
}

func NewDMPSource(dev DMPDevice, odrDiv uint16) *DMPSource {
	return &DMPSource{dev: dev, odrDiv: odrDiv}
}

// Init configures the DMP. The sequence is all-or-nothing: the first
// failing stage aborts it and is named in the error.
func (s *DMPSource) Init() error {
	stages := []struct {
		name string
		fn   func() error
	}{
		{"initialize DMP", s.dev.InitializeDMP},
		{"enable game rotation vector", s.dev.EnableGameRotationVector},
		{"set Quat6 output rate", func() error { return s.dev.SetQuat6Rate(s.odrDiv) }},
		{"enable FIFO", s.dev.EnableFIFO},
		{"enable DMP", s.dev.EnableDMP},
		{"reset DMP", s.dev.ResetDMP},
		{"reset FIFO", s.dev.ResetFIFO},
	}

	for _, st := range stages {
		if err := st.fn(); err != nil {
			return fmt.Errorf("sensors: %s: %w", st.name, err)
		}
	}
	log.Println("sensors: DMP enabled")
	return nil
}

// Poll reads at most one packet. An error means the motion processor
// faulted; it is never reported as PollEmpty.
func (s *DMPSource) Poll() (PollStatus, imu.DMPFrame, error) {
	frame, status, err := s.dev.ReadFrame()
	if err != nil {
		return PollEmpty, imu.DMPFrame{}, fmt.Errorf("sensors: read DMP FIFO: %w", err)
	}
	return status, frame, nil
}

// Reinit restarts the device and runs Init again after a fault.
func (s *DMPSource) Reinit() error {
	if err := s.dev.Begin(); err != nil {
		return fmt.Errorf("sensors: begin: %w", err)
	}
	return s.Init()
}

// OpenWithRetry probes the device until Begin succeeds, waiting backoff
// between attempts. Only ctx cancellation ends the loop early.
func OpenWithRetry(ctx context.Context, dev DMPDevice, backoff time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := dev.Begin()
		if err == nil {
			if attempt > 1 {
				log.Printf("sensors: sensor up after %d attempts", attempt)
			}
			return nil
		}
		log.Printf("sensors: begin failed (%v), trying again...", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
