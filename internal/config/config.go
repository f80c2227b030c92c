// Package config loads pipeline configuration from environment variables
// (optionally a .env file) and an optional YAML file. Environment values win
// over YAML; hard defaults are applied last.
package config

import (
	"time"
)

// S3Config configures the object store backend.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// KafkaConfig configures the track queues and the index write queue.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"` // comma-separated
	GroupID string `yaml:"group_id"`

	UploadsTopic    string `yaml:"uploads_topic"`
	OCRTopic        string `yaml:"ocr_topic"`
	BDATopic        string `yaml:"bda_topic"`
	TranscribeTopic string `yaml:"transcribe_topic"`
	WebcrawlerTopic string `yaml:"webcrawler_topic"`
	WorkflowTopic   string `yaml:"workflow_topic"`
	IndexWriteTopic string `yaml:"index_write_topic"`
}

// PostgresConfig configures the state store and the hybrid index, which share
// one database.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the dedupe store and the embedding cache.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// AnthropicConfig configures the vision agent and the summarizer models.
type AnthropicConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	AnalyzerModel   string `yaml:"analyzer_model"`
	SummarizerModel string `yaml:"summarizer_model"`
}

// EmbeddingsConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingsConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// OCRConfig configures the external OCR compute hints.
type OCRConfig struct {
	WarmupURL    string `yaml:"warmup_url"`
	DefaultModel string `yaml:"default_model"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollBudget         time.Duration `yaml:"poll_budget"`
	StepTimeout        time.Duration `yaml:"step_timeout"`
	SegmentParallelism int           `yaml:"segment_parallelism"`
	WorkerCount        int           `yaml:"worker_count"`
	DedupeTTL          time.Duration `yaml:"dedupe_ttl"`
}

// ProjectDefaults are the project-level fallbacks used when a document does
// not carry its own settings.
type ProjectDefaults struct {
	Language       string `yaml:"language"`
	UseBDA         bool   `yaml:"use_bda"`
	UseOCR         bool   `yaml:"use_ocr"`
	UseTranscribe  bool   `yaml:"use_transcribe"`
	OCRModel       string `yaml:"ocr_model"`
	DocumentPrompt string `yaml:"document_prompt"`
}

// ObsConfig controls telemetry export.
type ObsConfig struct {
	OTLP        string `yaml:"otlp_endpoint"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

// ConvertConfig locates the external conversion binaries used by the format
// parser.
type ConvertConfig struct {
	SofficePath  string        `yaml:"soffice_path"`
	PdftoppmPath string        `yaml:"pdftoppm_path"`
	Timeout      time.Duration `yaml:"timeout"`
	RenderDPI    int           `yaml:"render_dpi"`
}

// Config is the full pipeline configuration.
type Config struct {
	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`

	S3         S3Config         `yaml:"s3"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	OCR        OCRConfig        `yaml:"ocr"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Defaults   ProjectDefaults  `yaml:"defaults"`
	Obs        ObsConfig        `yaml:"obs"`
	Convert    ConvertConfig    `yaml:"convert"`
}
