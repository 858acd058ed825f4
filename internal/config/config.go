/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Scheduling window defaults. The hard ceiling of 90 days is compiled
	// into the queue package; this only tunes the default.
	LookaheadDays int

	// Job dispatcher
	DispatchInterval  time.Duration
	DispatchBatchSize int
	ReconcileSpec     string // cron spec for the job-store reconcile pass

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("SKALD_ENV", "development"),
		HTTPBind:    getEnv("SKALD_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("SKALD_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("SKALD_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:       getEnv("SKALD_DB_DSN", ""),

		LookaheadDays: getEnvInt("SKALD_LOOKAHEAD_DAYS", 30),

		DispatchInterval:  time.Duration(getEnvInt("SKALD_DISPATCH_INTERVAL_SECONDS", 1)) * time.Second,
		DispatchBatchSize: getEnvInt("SKALD_DISPATCH_BATCH_SIZE", 100),
		ReconcileSpec:     getEnv("SKALD_JOB_RECONCILE_SPEC", "@hourly"),

		TracingEnabled:    getEnvBool("SKALD_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SKALD_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SKALD_TRACING_SAMPLE_RATE", 1.0),

		LeaderElectionEnabled: getEnvBool("SKALD_LEADER_ELECTION_ENABLED", false),
		RedisAddr:             getEnv("SKALD_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("SKALD_REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("SKALD_REDIS_DB", 0),
		InstanceID:            getEnv("SKALD_INSTANCE_ID", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SKALD_DB_DSN must be provided")
	}

	if cfg.LookaheadDays < 1 || cfg.LookaheadDays > 90 {
		return nil, fmt.Errorf("SKALD_LOOKAHEAD_DAYS must be between 1 and 90, got %d", cfg.LookaheadDays)
	}

	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Second
	}
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = 100
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
