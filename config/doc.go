// Package config provides configuration loading for the location sync relay.
//
// Settings are layered, later layers winning:
//   - Built-in defaults (port 3000, 30s heartbeat, ...)
//   - An optional YAML file passed with --config or RELAY_CONFIG
//   - A .env file, loaded without overriding the real environment
//   - Environment variables and command-line flags
//
// The last layer is applied by the command itself; this package only knows
// about the first three.
//
// Configuration Format:
//
//	host: 0.0.0.0
//	port: 3000
//	heartbeat_interval: 30s
//	write_wait: 10s
//	max_message_size: 65536
//	send_buffer: 256
//	shutdown_timeout: 10s
//	log_level: info
//	log_format: text
//
// Unknown keys are rejected.
//
// Usage:
//
//	if err := config.LoadDotEnv(); err != nil {
//		log.Fatal(err)
//	}
//	cfg, err := config.LoadFile(path)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config
