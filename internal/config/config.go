package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// Storage
	LogPath string // session log, also the HTTP resource name

	// Capture timing
	CaptureDurationMS int // session budget
	SensorRetryMS     int // backoff between sensor retries (startup and faults)
	LoopIntervalMS    int // control loop tick

	// Sensor
	SensorMock      bool
	I2CBus          string
	I2CSpeedHz      int
	ICMI2CAddr      uint16
	DMPFirmwarePath string
	DMPQuat6ODRDiv  uint16 // 0 = fastest DMP output rate

	// Control link (BLE)
	BLEDeviceName      string
	BLEServiceUUID     string
	BLEControlUUID     string
	BLEDataUUID        string
	ReadoutLineDelayMS int

	// Retrieval network
	APSSID       string
	APPassphrase string // empty for an open network
	APInterface  string
	HTTPAddr     string

	// MQTT status (optional, disabled when MQTTBroker is empty)
	MQTTBroker          string
	MQTTClientID        string
	MQTTClientIDConsole string
	TopicStatus         string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal/Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the compiled-in configuration. A config file only
// overrides the keys it names.
func Default() *Config {
	return &Config{
		LogPath: "/shots.csv",

		CaptureDurationMS: 10000,
		SensorRetryMS:     500,
		LoopIntervalMS:    10,

		I2CBus:     "1",
		I2CSpeedHz: 400000,
		ICMI2CAddr: 0x69, // AD0 high

		BLEDeviceName:      "TennisAssistant",
		BLEServiceUUID:     "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
		BLEControlUUID:     "beb5483e-36e1-4688-b7f5-ea07361b26a8",
		BLEDataUUID:        "e3223119-9445-4e96-a4a1-85358c4046a2",
		ReadoutLineDelayMS: 5,

		APSSID:      "DataLog",
		APInterface: "wlan0",
		HTTPAddr:    ":80",

		MQTTClientID:        "motion-logger",
		MQTTClientIDConsole: "motion-logger-console",
		TopicStatus:         "motionlog/status",
	}
}

// Load reads the configuration file on top of Default().
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Storage
	case "LOG_PATH":
		c.LogPath = value

	// Capture timing
	case "CAPTURE_DURATION_MS":
		ms, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.CaptureDurationMS = ms
	case "SENSOR_RETRY_MS":
		ms, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.SensorRetryMS = ms
	case "LOOP_INTERVAL_MS":
		ms, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.LoopIntervalMS = ms

	// Sensor
	case "SENSOR_MOCK":
		mock, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_MOCK %q: %w", value, err)
		}
		c.SensorMock = mock
	case "I2C_BUS":
		c.I2CBus = value
	case "I2C_SPEED_HZ":
		hz, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.I2CSpeedHz = hz
	case "ICM_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid ICM_I2C_ADDR %q: %w", value, err)
		}
		if addr != 0x68 && addr != 0x69 {
			return fmt.Errorf("ICM_I2C_ADDR must be 0x68 or 0x69, got 0x%02X", addr)
		}
		c.ICMI2CAddr = uint16(addr)
	case "DMP_FIRMWARE_PATH":
		c.DMPFirmwarePath = value
	case "DMP_QUAT6_ODR_DIV":
		div, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DMP_QUAT6_ODR_DIV %q: %w", value, err)
		}
		c.DMPQuat6ODRDiv = uint16(div)

	// Control link
	case "BLE_DEVICE_NAME":
		c.BLEDeviceName = value
	case "BLE_SERVICE_UUID":
		c.BLEServiceUUID = value
	case "BLE_CONTROL_UUID":
		c.BLEControlUUID = value
	case "BLE_DATA_UUID":
		c.BLEDataUUID = value
	case "READOUT_LINE_DELAY_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid READOUT_LINE_DELAY_MS %q: %w", value, err)
		}
		if ms < 0 {
			return fmt.Errorf("READOUT_LINE_DELAY_MS must be >= 0, got %d", ms)
		}
		c.ReadoutLineDelayMS = ms

	// Retrieval network
	case "AP_SSID":
		c.APSSID = value
	case "AP_PASSPHRASE":
		c.APPassphrase = value
	case "AP_INTERFACE":
		c.APInterface = value
	case "HTTP_ADDR":
		c.HTTPAddr = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_STATUS":
		c.TopicStatus = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parsePositive(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %d", key, n)
	}
	return n, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.LogPath == "" {
		return fmt.Errorf("LOG_PATH is required")
	}
	if !c.SensorMock && c.I2CBus == "" {
		return fmt.Errorf("I2C_BUS is required unless SENSOR_MOCK=true")
	}
	if c.BLEServiceUUID == "" || c.BLEControlUUID == "" || c.BLEDataUUID == "" {
		return fmt.Errorf("BLE_SERVICE_UUID, BLE_CONTROL_UUID and BLE_DATA_UUID are required")
	}
	if c.APSSID == "" {
		return fmt.Errorf("AP_SSID is required")
	}
	if c.APPassphrase != "" && len(c.APPassphrase) < 8 {
		return fmt.Errorf("AP_PASSPHRASE must be empty (open network) or at least 8 characters")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.MQTTBroker != "" && c.TopicStatus == "" {
		return fmt.Errorf("TOPIC_STATUS is required when MQTT_BROKER is set")
	}
	return nil
}

// InitGlobal initializes the global configuration. An empty path keeps
// the compiled-in defaults.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Default()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
