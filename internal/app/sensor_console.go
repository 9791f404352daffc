// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/imu"
	"github.com/relabs-tech/motion_logger/internal/orientation"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

// Poller is the read side of a sample source.
type Poller interface {
	Poll() (sensors.PollStatus, imu.DMPFrame, error)
}

// drainLatest empties the source queue and returns the newest Quat6
// orientation and how many Quat6 packets were read.
func drainLatest(src Poller) (orientation.Quaternion, int, error) {
	var (
		q orientation.Quaternion
		n int
	)
	for {
		status, frame, err := src.Poll()
		if err != nil {
			return q, n, err
		}
		if status == sensors.PollEmpty {
			return q, n, nil
		}
		if frame.HasQuat6() {
			q = orientation.FromQuat6(frame.Quat6)
			n++
		}
		if status != sensors.PollSampleMore {
			return q, n, nil
		}
	}
}

// ReinitPoller is a sample source that can be brought back after a fault.
type ReinitPoller interface {
	Poller
	Reinit() error
}

// sensorWatch polls a source and re-initializes it after a fault, no
// more often than once per backoff.
type sensorWatch struct {
	src     ReinitPoller
	backoff time.Duration
	faulted bool
	retryAt time.Time
}

// poll returns the newest orientation and the packet count. ok is false
// while the source is faulted or backing off.
func (w *sensorWatch) poll(now time.Time) (q orientation.Quaternion, n int, ok bool) {
	if w.faulted {
		if now.Before(w.retryAt) {
			return q, 0, false
		}
		if err := w.src.Reinit(); err != nil {
			log.Printf("re-init failed: %v", err)
			w.retryAt = now.Add(w.backoff)
			return q, 0, false
		}
		log.Println("sensor recovered")
		w.faulted = false
	}

	q, n, err := drainLatest(w.src)
	if err != nil {
		log.Printf("sensor fault, retrying in %s: %v", w.backoff, err)
		w.faulted = true
		w.retryAt = now.Add(w.backoff)
		return q, 0, false
	}
	return q, n, true
}

// RunSensorConsole prints the live orientation at 10 Hz. Rotating the
// board about one physical axis at a time shows whether the axis
// mapping matches how the sensor is mounted.
func RunSensorConsole(ctx context.Context) error {
	cfg := config.Get()

	var dev sensors.DMPDevice
	if cfg.SensorMock {
		log.Println("using mock DMP sensor")
		dev = sensors.NewMockDMP(10 * time.Millisecond)
	} else {
		icm, bus, err := sensors.OpenICM20948(cfg)
		if err != nil {
			return err
		}
		defer bus.Close()
		dev = icm
	}

	if err := sensors.OpenWithRetry(ctx, dev, ms(cfg.SensorRetryMS)); err != nil {
		return err
	}
	src := sensors.NewDMPSource(dev, cfg.DMPQuat6ODRDiv)
	if err := src.Init(); err != nil {
		return fmt.Errorf("enable DMP failed: %w", err)
	}

	watch := &sensorWatch{src: src, backoff: ms(cfg.SensorRetryMS)}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		var now time.Time
		select {
		case <-ctx.Done():
			return nil
		case now = <-ticker.C:
		}

		q, n, ok := watch.poll(now)
		if !ok || n == 0 {
			continue
		}
		fmt.Printf(
			"W=%9.6f  X=%9.6f  Y=%9.6f  Z=%9.6f  |q|=%.6f  (%d pkts)\n",
			q.W, q.X, q.Y, q.Z, q.Norm(), n,
		)
	}
}
