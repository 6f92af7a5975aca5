// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/sphere_capture/internal/app"
	"github.com/relabs-tech/sphere_capture/internal/config"
)

func main() {
	configPath := flag.String("config", "sphere_config.txt", "path to the KEY=VALUE config file")
	flag.Parse()

	log.Println("starting sphere-capture console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
