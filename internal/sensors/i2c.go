// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/relabs-tech/motion_logger/internal/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// OpenICM20948 initializes periph, opens the configured I2C bus and
// returns the sensor on it. The returned closer releases the bus.
func OpenICM20948(cfg *config.Config) (*ICM20948, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph host init: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, nil, fmt.Errorf("i2c open bus %q: %w", cfg.I2CBus, err)
	}

	if err := bus.SetSpeed(physic.Frequency(cfg.I2CSpeedHz) * physic.Hertz); err != nil {
		// not every host driver supports it; the kernel default still works
		log.Printf("sensors: i2c set speed %d Hz: %v", cfg.I2CSpeedHz, err)
	}

	var firmware []byte
	if cfg.DMPFirmwarePath != "" {
		firmware, err = os.ReadFile(cfg.DMPFirmwarePath)
		if err != nil {
			bus.Close()
			return nil, nil, fmt.Errorf("read DMP firmware: %w", err)
		}
		log.Printf("sensors: loaded DMP firmware %s (%d bytes)", cfg.DMPFirmwarePath, len(firmware))
	} else {
		log.Println("sensors: WARNING: DMP_FIRMWARE_PATH not set, DMP initialization will fail")
	}

	dev := &i2c.Dev{Bus: bus, Addr: cfg.ICMI2CAddr}
	log.Printf("sensors: ICM-20948 on i2c bus %s at 0x%02X", cfg.I2CBus, cfg.ICMI2CAddr)
	return NewICM20948(dev, firmware), bus, nil
}
