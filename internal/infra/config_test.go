package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DISPATCH_INTERVAL_SECONDS", "")
	t.Setenv("COMPLETION_CHECK_BUFFER_SECONDS", "")
	t.Setenv("MAX_PROCESSING_SECONDS", "")
	t.Setenv("TRANSCRIPTION_LANGUAGE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver mismatch: got %q", cfg.StoreDriver)
	}
	tc := cfg.Transcription
	if tc.DispatchInterval != time.Minute {
		t.Fatalf("DispatchInterval mismatch: got %s", tc.DispatchInterval)
	}
	if tc.DispatchInitialDelay != 2*time.Minute {
		t.Fatalf("DispatchInitialDelay mismatch: got %s", tc.DispatchInitialDelay)
	}
	if tc.CompletionCheckBuffer != 300*time.Second {
		t.Fatalf("CompletionCheckBuffer mismatch: got %s", tc.CompletionCheckBuffer)
	}
	if tc.MaxProcessingTime != 5*time.Hour {
		t.Fatalf("MaxProcessingTime mismatch: got %s", tc.MaxProcessingTime)
	}
	if tc.CleanupRetentionDays != 7 {
		t.Fatalf("CleanupRetentionDays mismatch: got %d", tc.CleanupRetentionDays)
	}
	if tc.Language != "en-US" {
		t.Fatalf("Language mismatch: got %q", tc.Language)
	}
}

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadConfigMemoryDriverWithoutDatabase(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("StoreDriver mismatch: got %q", cfg.StoreDriver)
	}
}

func TestLoadConfigCanonicalizesLanguage(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TRANSCRIPTION_LANGUAGE", "de-de")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Transcription.Language != "de-DE" {
		t.Fatalf("Language mismatch: got %q", cfg.Transcription.Language)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"STORE_DRIVER":           "mongo",
		"TRANSCRIPTION_LANGUAGE": "not a language!",
		"CLEANUP_RETENTION_DAYS": "-1",
		"MAX_PROCESSING_SECONDS": "-5",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv(key, value)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
