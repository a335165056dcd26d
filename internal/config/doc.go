// Package config handles configuration loading for agentstate.
//
// # Overview
//
// Configuration is loaded from YAML files (or TOML, for paths ending in .toml)
// with environment variable expansion. Keys missing from the file keep the values
// returned by Default, so the CLI runs without any file at all.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	storage:
//	  backend: encrypted
//	  password: "${AGENTSTATE_PASSWORD}"
//
// An unset variable expands to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	storage:
//	  busy_timeout: "5s"
//	redis:
//	  ttl: "24h"
//
// # Configuration Sections
//
// Storage settings:
//
//	storage:
//	  backend: sqlite_history     # memory, json, encrypted, sqlite, sqlite_history, redis
//	  path: ".agent_state.db"     # defaults per backend
//	  cipher: "aes-256-gcm"       # or xchacha20-poly1305
//	  kdf_iterations: 480000
//	  max_history: 1000
//	  sqlite_driver: "sqlite"     # sqlite (pure Go) or sqlite3 (cgo)
//
// Redis settings (redis backend only):
//
//	redis:
//	  addr: "localhost:6379"
//	  key_prefix: "agentstate:"
//
// Phase rules:
//
//	engine:
//	  single_active_phase: true
//	  auto_advance: true
//
// Server, logging and metrics:
//
//	server:
//	  http_addr: "127.0.0.1:8420"
//	logging:
//	  level: info                 # debug, info, warn, error
//	  format: text                # text or json
//	metrics:
//	  enabled: true
//	  path: /metrics
package config
