// Package config reads process configuration from environment variables
// once at startup, matching the teacher's cmd/engine/main.go
// requireEnv/getEnvOrDefault idiom (spec.md §6: "CLI and environment: ...
// a host process may expose --port, --data-dir, --log for a relay server
// wrapper").
package config

import "os"

// RelayConfig is the relay binary's process configuration.
type RelayConfig struct {
	Port           string
	DataDir        string
	AllowedOrigins string
	DBPath         string
}

// LoadRelayConfig reads RELAY_PORT, RELAY_DATA_DIR, RELAY_ALLOWED_ORIGINS,
// and RELAY_DB_PATH, applying the same defaults a local development run
// would want without a .env file present.
func LoadRelayConfig() RelayConfig {
	dataDir := getEnvOrDefault("RELAY_DATA_DIR", "./data")
	return RelayConfig{
		Port:           getEnvOrDefault("RELAY_PORT", "8080"),
		DataDir:        dataDir,
		AllowedOrigins: os.Getenv("RELAY_ALLOWED_ORIGINS"),
		DBPath:         getEnvOrDefault("RELAY_DB_PATH", dataDir+"/relay.sqlite"),
	}
}

func getEnvOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
