package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  id: "cold-room-2"
  host: "192.168.1.50"
  request_timeout: 3
  log_rate: 10
bridge:
  poll_interval: 30
  drain_on_start: true
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
database:
  path: "/tmp/test.db"
logging:
  format: "json"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "cold-room-2" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "cold-room-2")
	}
	if cfg.Device.Port != 10001 {
		t.Errorf("Device.Port = %d, want default 10001", cfg.Device.Port)
	}
	if cfg.Device.LogRate != 10 {
		t.Errorf("Device.LogRate = %d, want 10", cfg.Device.LogRate)
	}
	if !cfg.Bridge.DrainOnStart || cfg.Bridge.PollInterval != 30 {
		t.Errorf("Bridge = %+v", cfg.Bridge)
	}
	if cfg.Bridge.HealthInterval != 30 {
		t.Errorf("Bridge.HealthInterval = %d, want default 30", cfg.Bridge.HealthInterval)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
device:
  log_rate: 90
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for log_rate 90, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing device id", func(c *Config) { c.Device.ID = "" }, true},
		{"port zero", func(c *Config) { c.Device.Port = 0 }, true},
		{"port high", func(c *Config) { c.Device.Port = 70000 }, true},
		{"request timeout zero", func(c *Config) { c.Device.RequestTimeout = 0 }, true},
		{"log rate zero", func(c *Config) { c.Device.LogRate = 0 }, true},
		{"log rate max", func(c *Config) { c.Device.LogRate = 60 }, false},
		{"poll interval zero", func(c *Config) { c.Bridge.PollInterval = 0 }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"influx enabled without url", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"influx enabled", func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = "http://localhost:8086"
		}, false},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("M307_DEVICE_HOST", "10.0.0.7")
	t.Setenv("M307_DEVICE_PORT", "2001")
	t.Setenv("M307_MQTT_HOST", "mqtt.example.com")
	t.Setenv("M307_MQTT_USERNAME", "testuser")
	t.Setenv("M307_MQTT_PASSWORD", "testpass")
	t.Setenv("M307_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("M307_DATABASE_PATH", "/custom/path.db")

	applyEnvOverrides(cfg)

	if cfg.Device.Host != "10.0.0.7" || cfg.Device.Port != 2001 {
		t.Errorf("Device = %s:%d", cfg.Device.Host, cfg.Device.Port)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("M307_DEVICE_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	if cfg.Device.Port != 10001 {
		t.Errorf("Device.Port = %d, want 10001", cfg.Device.Port)
	}
}

func TestDeviceSessionConfig(t *testing.T) {
	d := DeviceConfig{Host: "guard.local", Port: 10001, ConnectTimeout: 2, RequestTimeout: 7}
	sc := d.SessionConfig(nil)

	if sc.Address != "guard.local:10001" {
		t.Errorf("Address = %q", sc.Address)
	}
	if sc.ConnectTimeout != 2*time.Second || sc.RequestTimeout != 7*time.Second {
		t.Errorf("timeouts = %v/%v", sc.ConnectTimeout, sc.RequestTimeout)
	}

}

func TestDeviceAddress(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{"bare host", "guard.local", "guard.local:10001"},
		{"bare ipv6", "fe80::1", "[fe80::1]:10001"},
		{"host with port", "127.0.0.1:45207", "127.0.0.1:45207"},
		{"bracketed ipv6 with port", "[fe80::1]:10002", "[fe80::1]:10002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DeviceConfig{Host: tt.host, Port: 10001}
			if got := d.Address(); got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBridgeConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Device.Host = "guard.local"

	bc := cfg.BridgeConfig(nil)
	if bc.DeviceID != "m307" || bc.LogRate != 5 {
		t.Errorf("BridgeConfig() = %+v", bc)
	}
	if bc.PollInterval != time.Minute || bc.HealthInterval != 30*time.Second {
		t.Errorf("intervals = %v/%v", bc.PollInterval, bc.HealthInterval)
	}
	if bc.Session.Address != "guard.local:10001" {
		t.Errorf("Session.Address = %q", bc.Session.Address)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate: %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.InfluxDB.Enabled {
		t.Error("defaultConfig should leave InfluxDB disabled")
	}
}
