package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
registers:
  path: "/tmp/registers.db"
modbus:
  transport: tcp
  port: 5020
  slave_id: 17
api:
  port: 8081
mqtt:
  enabled: true
  broker:
    host: "broker.local"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Registers.Path != "/tmp/registers.db" {
		t.Errorf("Registers.Path = %q", cfg.Registers.Path)
	}
	if cfg.Modbus.Port != 5020 || cfg.Modbus.SlaveID != 17 {
		t.Errorf("Modbus = %+v", cfg.Modbus)
	}
	if cfg.API.Port != 8081 {
		t.Errorf("API.Port = %d, want 8081", cfg.API.Port)
	}
	// Defaults survive a partial file.
	if cfg.Registers.Synchronous != "FULL" || !cfg.Registers.WALMode {
		t.Errorf("Registers defaults lost: %+v", cfg.Registers)
	}
	if cfg.Modbus.Serial.BaudRate != 38400 {
		t.Errorf("Serial.BaudRate = %d, want 38400", cfg.Modbus.Serial.BaudRate)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantMsg string
	}{
		{
			name:    "missing file",
			path:    func(*testing.T) string { return "/nonexistent/config.yaml" },
			wantMsg: "reading config file",
		},
		{
			name:    "invalid yaml",
			path:    func(t *testing.T) string { return writeFile(t, "c.yaml", "modbus: [port: x") },
			wantMsg: "parsing config file",
		},
		{
			name:    "validation failure",
			path:    func(t *testing.T) string { return writeFile(t, "c.yaml", "modbus:\n  transport: udp\n") },
			wantMsg: "modbus.transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "registers:\n  path: /from/file.db\n")

	t.Setenv("NEASMART_REGISTERS_PATH", "/from/env.db")
	t.Setenv("NEASMART_MODBUS_SLAVE_ID", "12")
	t.Setenv("NEASMART_MQTT_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Registers.Path != "/from/env.db" {
		t.Errorf("Registers.Path = %q, want env value", cfg.Registers.Path)
	}
	if cfg.Modbus.SlaveID != 12 {
		t.Errorf("SlaveID = %d, want 12", cfg.Modbus.SlaveID)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
}

func TestLoad_EnvOverrideNotANumber(t *testing.T) {
	path := writeFile(t, "config.yaml", "{}\n")
	t.Setenv("NEASMART_API_PORT", "eighty")

	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_AddonOptions(t *testing.T) {
	tests := []struct {
		name    string
		options string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "tcp listener",
			options: `{"listen_address": "127.0.0.1", "listen_port": 1502, "server_type": "tcp", "slave_id": 240}`,
			check: func(t *testing.T, cfg *Config) {
				if got := cfg.Modbus.Address(); got != "127.0.0.1:1502" {
					t.Errorf("Modbus.Address() = %q", got)
				}
			},
		},
		{
			name:    "serial device",
			options: `{"listen_address": "/dev/ttyAMA0", "server_type": "serial", "slave_id": 3}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Modbus.Transport != TransportSerial || cfg.Modbus.Serial.Device != "/dev/ttyAMA0" {
					t.Errorf("Modbus = %+v", cfg.Modbus)
				}
				if cfg.Modbus.SlaveID != 3 {
					t.Errorf("SlaveID = %d, want 3", cfg.Modbus.SlaveID)
				}
			},
		},
		{
			name:    "empty options keep defaults",
			options: `{}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Modbus.Port != 502 || cfg.Modbus.SlaveID != 240 {
					t.Errorf("Modbus = %+v, want defaults", cfg.Modbus)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeFile(t, "config.yaml", "{}\n")
			t.Setenv("NEASMART_ADDON_OPTIONS", writeFile(t, "options.json", tt.options))

			cfg, err := Load(cfgPath)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_AddonOptionsMissing(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", "addon_options: /nonexistent/options.json\n")

	if _, err := Load(cfgPath); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing registers path", func(c *Config) { c.Registers.Path = "" }, "registers.path"},
		{"bad synchronous", func(c *Config) { c.Registers.Synchronous = "OFF" }, "registers.synchronous"},
		{"normal synchronous", func(c *Config) { c.Registers.Synchronous = "normal" }, "registers.synchronous"},
		{"extra synchronous", func(c *Config) { c.Registers.Synchronous = "extra" }, ""},
		{"unknown transport", func(c *Config) { c.Modbus.Transport = "udp" }, "modbus.transport"},
		{"tcp port zero", func(c *Config) { c.Modbus.Port = 0 }, "modbus.port"},
		{"slave id zero", func(c *Config) { c.Modbus.SlaveID = 0 }, "modbus.slave_id"},
		{"slave id too large", func(c *Config) { c.Modbus.SlaveID = 248 }, "modbus.slave_id"},
		{"serial without device", func(c *Config) {
			c.Modbus.Transport = TransportSerial
			c.Modbus.Serial.Device = ""
		}, "modbus.serial.device"},
		{"serial bad parity", func(c *Config) {
			c.Modbus.Transport = TransportSerial
			c.Modbus.Serial.Parity = "X"
		}, "modbus.serial.parity"},
		{"api port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"port clash", func(c *Config) { c.API.Port = c.Modbus.Port }, "same address"},
		{"mqtt without host", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker.Host = ""
		}, "mqtt.broker.host"},
		{"influx without bucket", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb"},
		{"short jwt secret", func(c *Config) { c.Security.JWT.Secret = "short" }, "jwt.secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Registers.Path = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"registers.path", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %q, missing %q", err, want)
		}
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v", got)
	}
	if got := cfg.GetDebounce(); got != 250*time.Millisecond {
		t.Errorf("GetDebounce() = %v", got)
	}
	if got := cfg.Modbus.GetTimeout(); got != 30*time.Second {
		t.Errorf("Modbus.GetTimeout() = %v", got)
	}
	if got := cfg.API.Address(); got != "0.0.0.0:5000" {
		t.Errorf("API.Address() = %q", got)
	}
}
