// Package config handles loading and validating M307 tool configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/m307.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := m307.Connect(ctx, cfg.Device.SessionConfig(logger))
package config
