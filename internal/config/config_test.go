package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"authorline/internal/config"
)

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
upstream:
  authoring:
    base_url: https://authoring.example
    token: secret
review:
  default_reviewers: [rev1, rev2]
webhooks:
  - url: https://hooks.example/review
    events: [review.approved.set]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Upstream.Authoring.BaseURL != "https://authoring.example" {
		t.Fatalf("authoring base url not applied: %q", cfg.Upstream.Authoring.BaseURL)
	}
	if cfg.Upstream.Terminology.BaseURL != "http://localhost:8082" {
		t.Fatalf("terminology default lost: %q", cfg.Upstream.Terminology.BaseURL)
	}
	if cfg.Upstream.Timeout != 10*time.Second {
		t.Fatalf("timeout default lost: %v", cfg.Upstream.Timeout)
	}
	if len(cfg.Review.DefaultReviewers) != 2 || cfg.Review.DefaultReviewers[0] != "rev1" {
		t.Fatalf("reviewers not parsed: %v", cfg.Review.DefaultReviewers)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://hooks.example/review" {
		t.Fatalf("webhooks not parsed: %+v", cfg.Webhooks)
	}
}

func TestFromYAMLRejectsBlankListen(t *testing.T) {
	_, err := config.FromYAML([]byte(`
server:
  listen: ""
`))
	if err == nil {
		t.Fatal("expected validation error for blank listen address")
	}
}

func TestGeneratedDefaultParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("starter config must validate: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:8090" {
		t.Fatalf("unexpected listen %q", cfg.Server.Listen)
	}
}

func TestLoadOptionalWithoutFile(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Upstream.Authoring.BaseURL == "" {
		t.Fatal("defaults must be filled in")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	body := `
upstream:
  authoring:
    base_url: https://authoring.example
server:
  listen: 127.0.0.1:9999
`
	if err := os.WriteFile(filepath.Join(dir, "authorline.yml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Fatalf("unexpected listen %q", cfg.Server.Listen)
	}
}
