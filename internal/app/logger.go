// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/motion_logger/internal/capture"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/control"
	"github.com/relabs-tech/motion_logger/internal/retrieval"
	"github.com/relabs-tech/motion_logger/internal/sensors"
	"github.com/relabs-tech/motion_logger/internal/sessionlog"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// RunLogger brings up storage, the sensor and both radio surfaces, then
// runs the control loop until ctx is cancelled. Errors returned before
// the loop starts are fatal for the device.
func RunLogger(ctx context.Context) error {
	log.Println("starting motion logger")

	cfg := config.Get()

	// --- storage: start from an empty log, like a fresh session ---
	l, err := sessionlog.Begin(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	l.Close()
	log.Printf("storage ready at %s", cfg.LogPath)

	// --- sensor (mock vs ICM-20948) ---
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
	log.Println("DMP enabled")

	session := capture.NewController(src, capture.Options{
		LogPath:  cfg.LogPath,
		Duration: ms(cfg.CaptureDurationMS),
		Backoff:  ms(cfg.SensorRetryMS),
	})

	// --- retrieval network ---
	service := retrieval.NewService(retrieval.Options{
		Addr:       cfg.HTTPAddr,
		LogPath:    cfg.LogPath,
		SSID:       cfg.APSSID,
		Passphrase: cfg.APPassphrase,
	}, retrieval.NewNMCLIAccessPoint(cfg.APInterface))

	// --- status telemetry (optional) ---
	var status StatusPublisher = NopPublisher{}
	if cfg.MQTTBroker != "" {
		pub, err := NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicStatus)
		if err != nil {
			log.Printf("MQTT connect error, status disabled: %v", err)
		} else {
			defer pub.Close()
			status = pub
		}
	}

	// --- control link ---
	queue := control.NewQueue(control.DefaultQueueSize)
	link := control.NewBLELink(control.BLEConfig{
		DeviceName:  cfg.BLEDeviceName,
		ServiceUUID: cfg.BLEServiceUUID,
		ControlUUID: cfg.BLEControlUUID,
		DataUUID:    cfg.BLEDataUUID,
	})

	arbiter := NewArbiter(session, service, link, status, ArbiterOptions{
		LogPath:      cfg.LogPath,
		ReadoutDelay: ms(cfg.ReadoutLineDelayMS),
	})

	if err := link.Start(queue); err != nil {
		return err
	}
	defer link.Close()
	log.Println("waiting for a control link connection...")

	return NewLoop(queue, arbiter, ms(cfg.LoopIntervalMS)).Run(ctx)
}
