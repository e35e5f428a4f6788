// Package config handles loading and validating Switchboard configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (SWITCHBOARD_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (MQTT password, InfluxDB token, password hash) should be set
//     via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Driver)
package config
