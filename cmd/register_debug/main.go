// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/relabs-tech/motion_logger/internal/app"
	"github.com/relabs-tech/motion_logger/internal/config"
	"github.com/relabs-tech/motion_logger/internal/sensors"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (compiled-in defaults when empty)")
	addr := flag.String("addr", ":8081", "listen address")
	flag.Parse()

	log.Println("starting ICM-20948 register debug tool (standalone, stop the logger first)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	icm, bus, err := sensors.OpenICM20948(config.Get())
	if err != nil {
		log.Fatalf("failed to open sensor: %v", err)
	}
	defer bus.Close()

	if err := icm.Begin(); err != nil {
		log.Printf("Warning: sensor did not answer: %v", err)
		log.Println("Continuing anyway - register reads will report errors")
	}

	http.Handle("/ws", app.NewRegisterDebugHandler(icm))

	log.Printf("Register debug tool listening on %s (websocket at /ws)", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
