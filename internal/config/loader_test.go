package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)

	if cfg.Pipeline.PollInterval != 10*time.Second {
		t.Fatalf("expected 10s poll interval, got %s", cfg.Pipeline.PollInterval)
	}
	if cfg.Pipeline.PollBudget != 30*time.Minute {
		t.Fatalf("expected 30m poll budget, got %s", cfg.Pipeline.PollBudget)
	}
	if cfg.Pipeline.SegmentParallelism != 4 {
		t.Fatalf("expected parallelism 4, got %d", cfg.Pipeline.SegmentParallelism)
	}
	if cfg.Embeddings.Dimensions != 1024 {
		t.Fatalf("expected 1024 dims, got %d", cfg.Embeddings.Dimensions)
	}
	if !cfg.Defaults.UseOCR {
		t.Fatal("expected use_ocr default true")
	}
	if cfg.Defaults.UseBDA || cfg.Defaults.UseTranscribe {
		t.Fatal("expected bda/transcribe defaults false")
	}
	if cfg.Defaults.Language != "en" {
		t.Fatalf("expected default language en, got %q", cfg.Defaults.Language)
	}
	if cfg.Defaults.OCRModel != "paddleocr-vl" {
		t.Fatalf("expected default ocr model paddleocr-vl, got %q", cfg.Defaults.OCRModel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("SEGMENT_PARALLELISM", "8")
	t.Setenv("POLL_INTERVAL", "3s")
	t.Setenv("DEFAULT_USE_OCR", "false")

	cfg := Config{}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.Kafka.Brokers != "broker1:9092,broker2:9092" {
		t.Fatalf("unexpected brokers %q", cfg.Kafka.Brokers)
	}
	if cfg.Pipeline.SegmentParallelism != 8 {
		t.Fatalf("expected parallelism 8, got %d", cfg.Pipeline.SegmentParallelism)
	}
	if cfg.Pipeline.PollInterval != 3*time.Second {
		t.Fatalf("expected 3s poll interval, got %s", cfg.Pipeline.PollInterval)
	}
	if cfg.Defaults.UseOCR {
		t.Fatal("expected use_ocr disabled via env")
	}
}
