package config

import (
	"testing"
)

func TestDefault_UsesBuiltInValues(t *testing.T) {
	t.Setenv("MAX_EVENT_LOGS", "")
	t.Setenv("DURABLE_QUEUE_SIZE", "")
	t.Setenv("MAX_RETRIES", "")

	cfg := Default()
	if cfg.MaxEventLogs != 1000 {
		t.Fatalf("expected MaxEventLogs=1000, got %d", cfg.MaxEventLogs)
	}
	if cfg.DurableQueueSize != 100 {
		t.Fatalf("expected DurableQueueSize=100, got %d", cfg.DurableQueueSize)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.SinkEnabled {
		t.Fatalf("expected sink disabled by default")
	}
}

func TestDefault_ReadsEnvironment(t *testing.T) {
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("INGEST_RATE_PER_SECOND", "2.5")
	t.Setenv("ADMIN_ALLOW_CIDRS", " 10.0.0.0/8, ,127.0.0.1 ")
	t.Setenv("SINK_ENABLED", "true")

	cfg := Default()
	if cfg.MaxRetries != 5 {
		t.Fatalf("expected MaxRetries=5, got %d", cfg.MaxRetries)
	}
	if cfg.IngestRatePerSecond != 2.5 {
		t.Fatalf("expected IngestRatePerSecond=2.5, got %v", cfg.IngestRatePerSecond)
	}
	if len(cfg.AdminAllowCIDRs) != 2 || cfg.AdminAllowCIDRs[0] != "10.0.0.0/8" || cfg.AdminAllowCIDRs[1] != "127.0.0.1" {
		t.Fatalf("unexpected AdminAllowCIDRs: %#v", cfg.AdminAllowCIDRs)
	}
	if !cfg.SinkEnabled {
		t.Fatalf("expected sink enabled")
	}
}

func TestDefault_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	cfg := Default()
	if cfg.Port != 5000 {
		t.Fatalf("expected fallback port 5000, got %d", cfg.Port)
	}
}
