package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.CallTimeout != 60*time.Second {
		t.Fatalf("expected 60s call timeout, got %s", cfg.Engine.CallTimeout)
	}
	if cfg.Classifier.MinConfidence != 0.5 {
		t.Fatalf("expected min confidence 0.5, got %v", cfg.Classifier.MinConfidence)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("budget:\n  daily_cost_limit: 1.00\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Budget.DailyCostLimit != 1.0 {
		t.Fatalf("limit not applied: %v", cfg.Budget.DailyCostLimit)
	}
	if cfg.Engine.MaxConcurrentIdeas != 3 {
		t.Fatalf("expected default concurrency, got %d", cfg.Engine.MaxConcurrentIdeas)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"zero limit":    "budget:\n  daily_cost_limit: 0\n",
		"bad timezone":  "budget:\n  timezone: Mars/Olympus\n",
		"no slots":      "engine:\n  max_concurrent_ideas: 0\n",
		"bad provider":  "generation:\n  provider: carrier-pigeon\n",
		"bad threshold": "classifier:\n  min_confidence: 1.5\n",
		"bad yaml":      "budget: [\n",
		"bad webhook":   "webhooks:\n  - url: ftp://example.com\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("expected defaults, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected missing config error")
	}
	if err := os.WriteFile(filepath.Join(dir, "ideaforge.yml"), []byte("engine:\n  max_concurrent_ideas: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.MaxConcurrentIdeas != 7 {
		t.Fatalf("expected 7, got %d", cfg.Engine.MaxConcurrentIdeas)
	}
}

func TestWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte("webhooks:\n  - url: https://hooks.example.com/ideas\n    events: [idea.transition]\n    timeout: 2s\n  - url: nope\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Webhooks) != 2 {
		t.Fatalf("expected 2 webhooks, got %d", len(cfg.Webhooks))
	}
	if !cfg.Webhooks[0].Active() || cfg.Webhooks[0].Timeout != 2*time.Second {
		t.Fatalf("unexpected first webhook %+v", cfg.Webhooks[0])
	}
	if cfg.Webhooks[1].Active() {
		t.Fatalf("disabled webhook reported active")
	}
}
