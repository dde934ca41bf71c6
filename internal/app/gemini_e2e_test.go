//go:build gemini_e2e

package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shpitdev/sf-graffiti-search/internal/app"
	"github.com/shpitdev/sf-graffiti-search/internal/config"
	"github.com/shpitdev/sf-graffiti-search/internal/enrich"
	"github.com/shpitdev/sf-graffiti-search/internal/source"
	"github.com/shpitdev/sf-graffiti-search/internal/store"
	applog "github.com/shpitdev/sf-graffiti-search/pkg/log"
)

func TestRunDescribe_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	imageURL := os.Getenv("GEMINI_E2E_IMAGE_URL")
	if imageURL == "" {
		t.Fatalf("GEMINI_E2E_IMAGE_URL is required for gemini_e2e tests")
	}

	baseDir := t.TempDir()
	if artifactDir := os.Getenv("GEMINI_E2E_ARTIFACT_DIR"); artifactDir != "" {
		if err := os.MkdirAll(artifactDir, 0755); err != nil {
			t.Fatalf("create GEMINI_E2E_ARTIFACT_DIR: %v", err)
		}
		baseDir = artifactDir
	}

	cfg := config.Config{
		StorePath:      filepath.Join(baseDir, "processed-images.json"),
		SourcePath:     filepath.Join(baseDir, "graffiti-photos.csv"),
		DefaultLimit:   10,
		RequestTimeout: 60 * time.Second,
		MaxRetries:     2,
		Describe:       config.Describe{Backend: config.BackendGemini, BatchSize: 1, CheckpointEvery: 1},
		Gemini: config.Gemini{
			APIKey:  apiKey,
			Model:   os.Getenv("GEMINI_MODEL"),
			BaseURL: os.Getenv("GEMINI_BASE_URL"),
		},
		Columns: source.DefaultColumns(),
	}
	csv := "noid,cdn_url,full_address\ne2e-1," + imageURL + ",1 MARKET ST\n"
	if err := os.WriteFile(cfg.SourcePath, []byte(csv), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	logger, err := applog.New("debug", "console")
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}

	res, err := app.RunDescribe(context.Background(), cfg, 0, logger, app.Overrides{})
	if err != nil {
		t.Fatalf("RunDescribe failed: %v", err)
	}
	if res.Summary.Succeeded != 1 {
		t.Fatalf("expected one successful description, got %+v", res.Summary)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec, ok := st.Get("e2e-1")
	if !ok {
		t.Fatalf("record missing from store")
	}
	if rec.AITitle == "" || rec.AITitle == enrich.PlaceholderTitle {
		t.Fatalf("expected a model title, got %q", rec.AITitle)
	}
	t.Logf("title=%q analysis=%q", rec.AITitle, rec.AIAnalysis)
}
