package storage

import (
	"context"
	"testing"
	"time"
)

func TestWithClockStampsJSONRecords(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(func() time.Time { return fixed }))

	account, err := store.CreateAccount(context.Background(), CreateAccountParams{ID: "viewer", DisplayName: "Viewer"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if !account.CreatedAt.Equal(fixed) {
		t.Fatalf("expected CreatedAt %s, got %s", fixed, account.CreatedAt)
	}
}

func TestPostgresConfigAppliesOptions(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	cfg := newPostgresConfig("postgres://example",
		WithClock(func() time.Time { return fixed }),
		WithPostgresPool(PoolSettings{MaxConns: 8, ConnectTimeout: 3 * time.Second, MaxConnIdleTime: time.Minute}),
		WithPostgresApplicationName("  livego-test "),
		WithPostgresMigrations(true),
		nil,
	)

	if cfg.MaxConnections != 8 || cfg.MinConnections != 0 {
		t.Fatalf("unexpected pool limits %d/%d", cfg.MaxConnections, cfg.MinConnections)
	}
	if cfg.ConnectTimeout != 3*time.Second || cfg.MaxConnIdleTime != time.Minute || cfg.MaxConnLifetime != 0 {
		t.Fatalf("unexpected pool durations %+v", cfg)
	}
	if cfg.ApplicationName != "livego-test" {
		t.Fatalf("expected trimmed application name, got %q", cfg.ApplicationName)
	}
	if !cfg.ApplySchema {
		t.Fatal("expected migrations to be enabled")
	}
	if got := cfg.Clock(); !got.Equal(fixed) {
		t.Fatalf("expected injected clock, got %s", got)
	}
}

func TestPostgresConfigDefaults(t *testing.T) {
	cfg := newPostgresConfig("postgres://example", WithPostgresApplicationName(" "))
	if cfg.ApplicationName != "livego" {
		t.Fatalf("expected default application name, got %q", cfg.ApplicationName)
	}
	if cfg.ApplySchema {
		t.Fatal("expected migrations to be off by default")
	}
	if cfg.Clock == nil {
		t.Fatal("expected a default clock")
	}
}
