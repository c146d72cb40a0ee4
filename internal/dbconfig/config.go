package dbconfig

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds Postgres connection settings. Replica settings fall back to
// the primary when unset; the replica serves read-only history queries that
// tolerate staleness while phase transitions always hit the primary.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	ReplicaHost string
	ReplicaPort int
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	cfg := Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "altiplay"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	cfg.ReplicaHost = getEnv("DB_REPLICA_HOST", cfg.Host)
	replicaPort, err := strconv.Atoi(getEnv("DB_REPLICA_PORT", strconv.Itoa(cfg.Port)))
	if err != nil {
		replicaPort = cfg.Port
	}
	cfg.ReplicaPort = replicaPort
	return cfg
}

// DSN returns the primary connection URL.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// ReplicaDSN returns the read-replica connection URL.
func (c Config) ReplicaDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.ReplicaHost, c.ReplicaPort, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
