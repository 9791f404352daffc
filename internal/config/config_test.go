package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motion_config.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.LogPath != "/shots.csv" {
		t.Errorf("LogPath = %q, want /shots.csv", cfg.LogPath)
	}
	if cfg.CaptureDurationMS != 10000 {
		t.Errorf("CaptureDurationMS = %d, want 10000", cfg.CaptureDurationMS)
	}
	if cfg.SensorRetryMS != 500 {
		t.Errorf("SensorRetryMS = %d, want 500", cfg.SensorRetryMS)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# capture settings
LOG_PATH=/tmp/shots.csv
CAPTURE_DURATION_MS = 45000
SENSOR_MOCK=true
ICM_I2C_ADDR=0x68
MQTT_BROKER=tcp://localhost:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogPath != "/tmp/shots.csv" {
		t.Errorf("LogPath = %q", cfg.LogPath)
	}
	if cfg.CaptureDurationMS != 45000 {
		t.Errorf("CaptureDurationMS = %d", cfg.CaptureDurationMS)
	}
	if !cfg.SensorMock {
		t.Error("SensorMock = false, want true")
	}
	if cfg.ICMI2CAddr != 0x68 {
		t.Errorf("ICMI2CAddr = 0x%02X", cfg.ICMI2CAddr)
	}
	// untouched keys keep their defaults
	if cfg.APSSID != "DataLog" {
		t.Errorf("APSSID = %q, want DataLog", cfg.APSSID)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "NOPE=1", "unknown config key"},
		{"missing equals", "LOG_PATH", "invalid config line 1"},
		{"negative duration", "CAPTURE_DURATION_MS=-1", "must be > 0"},
		{"bad address", "ICM_I2C_ADDR=0x42", "0x68 or 0x69"},
		{"short passphrase", "AP_PASSPHRASE=abc", "at least 8"},
		{"empty log path", "LOG_PATH=", "LOG_PATH is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
