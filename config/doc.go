// Package config loads, validates and applies anystore configuration.
//
// Values are merged with viper and checked with go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (ANYSTORE_ prefix)
//  4. CLI flags
//
// Without explicit files, ./anystore.yaml is read when present.
//
// # Usage
//
//	cfg, err := config.Load([]string{"anystore.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	config.SetupLogging(cfg.Log, os.Stderr)
//
//	op, closeFn, err := config.Open(ctx, cfg, prometheus.DefaultRegisterer)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer closeFn()
//
// # Environment Variables
//
// Config keys map to environment variables with the ANYSTORE_ prefix:
//   - storage.scheme → ANYSTORE_STORAGE_SCHEME
//   - server.port → ANYSTORE_SERVER_PORT
//   - layers.read_only → ANYSTORE_LAYERS_READ_ONLY
//
// # Configuration Structure
//
// The Config struct contains:
//   - Storage: backend scheme, its option map and the startup check
//   - Layers: read-only, concurrency limit, timeout, retry, metrics, logging, tracing
//   - Server: port, gateway mode (store/static/spa), upload limit and shutdown timeout
//   - Auth: per-direction access (public/private), signing region and service, keys
//   - CORS: cross-origin resource sharing settings
//   - Log: level and format (text/json)
//
// Storage options are backend specific and are validated by the backend when
// Open creates it. The fs scheme defaults root to ./data and creates it; the
// sqlite scheme defaults dsn to anystore.db.
package config
