package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadQueuesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	cfg, err := LoadQueues(path)
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg == nil {
		t.Fatalf("expected default config")
	}
	retry := cfg.Policy(JobRetry)
	if retry.Attempts != 3 || retry.BackoffType != "exponential" || retry.Delay() != time.Second {
		t.Fatalf("unexpected default retry policy: %+v", retry)
	}
}

func TestLoadQueuesDefaultPathOutsideRepo(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadQueues(Load().QueueConfigPath)
	if err != nil {
		t.Fatalf("load from empty working dir: %v", err)
	}
	if cfg.Policy(JobRetry).Attempts != 3 {
		t.Fatalf("expected default retry policy, got %+v", cfg.Policy(JobRetry))
	}
}

func TestLoadQueuesUnreadablePath(t *testing.T) {
	// a directory exists but cannot be read as a file
	if _, err := LoadQueues(t.TempDir()); err == nil {
		t.Fatalf("expected read error for directory path")
	}
}

func TestLoadQueuesPartial(t *testing.T) {
	data := []byte("jobs:\n  notify:\n    attempts: 5\n    backoff_delay_ms: 200\npromoter:\n  interval_ms: 50\n")
	path := filepath.Join(t.TempDir(), "queues.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadQueues(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	notify := cfg.Policy("notify")
	if notify.Attempts != 5 || notify.BackoffType != "exponential" || notify.Delay() != 200*time.Millisecond {
		t.Fatalf("unexpected notify policy: %+v", notify)
	}
	if cfg.Policy(JobRetry).Attempts != 3 {
		t.Fatalf("expected retry default to be merged in")
	}
	if cfg.Promoter.IntervalMillis != 50 || cfg.Promoter.BatchSize != 100 {
		t.Fatalf("unexpected promoter config: %+v", cfg.Promoter)
	}
}

func TestPolicyUnknownJob(t *testing.T) {
	var cfg *QueuesConfig
	p := cfg.Policy("nope")
	if p.Attempts != 1 {
		t.Fatalf("expected single attempt fallback")
	}
}

func TestParseQueuesInvalid(t *testing.T) {
	cfg, err := ParseQueues([]byte("jobs: ["))
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if cfg.Policy(JobRetry).Attempts != 3 {
		t.Fatalf("expected defaults on parse error")
	}
}
