// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/motion_logger/internal/app"
	"github.com/relabs-tech/motion_logger/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (compiled-in defaults when empty)")
	flag.Parse()

	log.Println("starting motion-logger sensor console")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunSensorConsole(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
