package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.AdminPassword != "" {
		t.Fatalf("expected empty ADMIN_PASSWORD when unset, got %q", cfg.AdminPassword)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MINUTES", "zero")
	t.Setenv("POLL_BATCH_SIZE", "-3")
	t.Setenv("BULK_BATCH_SIZE", "0")
	t.Setenv("THROTTLE_MS", "250")
	t.Setenv("PVPM_WARNING_TOLERANCE", "nope")

	cfg := Load()
	if cfg.PollInterval != 30*time.Minute {
		t.Fatalf("expected default poll interval, got %s", cfg.PollInterval)
	}
	if cfg.PollBatchSize != 20 {
		t.Fatalf("expected default batch size, got %d", cfg.PollBatchSize)
	}
	if cfg.BulkBatchSize != 50 {
		t.Fatalf("expected default bulk batch size, got %d", cfg.BulkBatchSize)
	}
	if cfg.Throttle != 250*time.Millisecond {
		t.Fatalf("expected 250ms throttle, got %s", cfg.Throttle)
	}
	if cfg.PVPMWarningTolerance != 0.05 {
		t.Fatalf("expected default tolerance, got %v", cfg.PVPMWarningTolerance)
	}
}

func TestLoadSplitsKafkaBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %#v", cfg.KafkaBrokers)
	}
}
