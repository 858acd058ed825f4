/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import "testing"

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when SKALD_DB_DSN is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("SKALD_DB_BACKEND", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.LookaheadDays != 30 {
		t.Errorf("LookaheadDays = %d, want 30", cfg.LookaheadDays)
	}
	if cfg.DispatchBatchSize != 100 {
		t.Errorf("DispatchBatchSize = %d, want 100", cfg.DispatchBatchSize)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown backend", key: "SKALD_DB_BACKEND", value: "oracle"},
		{name: "lookahead too wide", key: "SKALD_LOOKAHEAD_DAYS", value: "120"},
		{name: "lookahead zero", key: "SKALD_LOOKAHEAD_DAYS", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SKALD_DB_DSN", "dsn")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
