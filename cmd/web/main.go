// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/motion_logger/internal/app"
	"github.com/relabs-tech/motion_logger/internal/config"
)

func main() {
	configPath := flag.String("config", "./motion_logger_config.txt", "path to configuration file")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	log.Println("starting motion-logger status web server (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if config.Get().MQTTBroker == "" {
		log.Fatalf("MQTT_BROKER is not configured")
	}

	if err := app.RunWeb(*addr); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
