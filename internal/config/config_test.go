package config_test

import (
	"testing"

	"github.com/bobboyms/immux-go/internal/config"
)

func TestDefaultConfigPopulatesLoggerAndMetrics(t *testing.T) {
	cfg := config.DefaultConfig("/tmp/does-not-matter")

	if cfg.Logger == nil {
		t.Fatalf("Logger is nil, want logging.Default()")
	}
	if cfg.Metrics == nil {
		t.Fatalf("Metrics is nil, want a constructed *metrics.Collectors")
	}
	if cfg.SentryDSN != "" {
		t.Fatalf("SentryDSN = %q, want empty (diagnostics disabled by default)", cfg.SentryDSN)
	}
}

func TestLogPathJoinsDirAndFileName(t *testing.T) {
	cfg := config.DefaultConfig("/data/store")
	cfg.LogFileName = "store.log"

	want := "/data/store/store.log"
	if got := cfg.LogPath(); got != want {
		t.Fatalf("LogPath() = %q, want %q", got, want)
	}
}
