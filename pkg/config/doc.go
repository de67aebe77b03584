// Package config provides configuration management for Warden.
//
// Configuration is read from YAML with environment variable overrides and
// validated before use. Every field has a default, so an empty file (or no
// file at all) yields a runnable single-node setup backed by SQLite.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("warden.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("warden.yaml")
//
// Unknown keys in the file are rejected.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention WARDEN_SECTION_FIELD:
//
//   - WARDEN_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - WARDEN_STORAGE_DSN overrides storage.dsn
//   - WARDEN_KAFKA_BROKERS overrides kafka.brokers (comma separated)
//
// A malformed value (a bad duration, say) fails the load.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Validation errors include field paths:
//
//	configuration validation failed with 2 errors:
//	  - storage.dsn: dsn is required for postgres
//	  - lock.backend: must be one of memory, redis (got "etcd")
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	storage:
//	  driver: postgres
//	  dsn: "postgres://warden@db/warden?sslmode=disable"
//
//	policy:
//	  dir: ./policies
//	  watch: true
//
//	cases:
//	  base_sla:
//	    critical: 2h
//
//	lock:
//	  backend: redis
//	  redis:
//	    addr: "redis:6379"
//
// # Singleton Pattern
//
// Initialize and GetConfig give application-wide access. Tests should pass
// explicit Config values instead.
package config
