package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration. Order: YAML file (CONFIG_FILE or ./config.yaml if
// present), then environment variables (a .env file is overlaid first), then
// hard defaults for anything still unset. The one exception is
// defaults.use_ocr: it is reset to true whatever the YAML file says, and only
// DEFAULT_USE_OCR in the environment can turn it off.
func Load() (Config, error) {
	// Overload so .env values deterministically control local runs.
	_ = godotenv.Overload()

	cfg := Config{}

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	strEnv(&cfg.LogPath, "LOG_PATH")
	strEnv(&cfg.LogLevel, "LOG_LEVEL")

	strEnv(&cfg.S3.Bucket, "S3_BUCKET")
	strEnv(&cfg.S3.Region, "S3_REGION", "AWS_REGION")
	strEnv(&cfg.S3.Endpoint, "S3_ENDPOINT")
	strEnv(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	strEnv(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	boolEnv(&cfg.S3.UsePathStyle, "S3_USE_PATH_STYLE")

	strEnv(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	strEnv(&cfg.Kafka.GroupID, "KAFKA_GROUP_ID")
	strEnv(&cfg.Kafka.UploadsTopic, "KAFKA_UPLOADS_TOPIC")
	strEnv(&cfg.Kafka.OCRTopic, "KAFKA_OCR_TOPIC")
	strEnv(&cfg.Kafka.BDATopic, "KAFKA_BDA_TOPIC")
	strEnv(&cfg.Kafka.TranscribeTopic, "KAFKA_TRANSCRIBE_TOPIC")
	strEnv(&cfg.Kafka.WebcrawlerTopic, "KAFKA_WEBCRAWLER_TOPIC")
	strEnv(&cfg.Kafka.WorkflowTopic, "KAFKA_WORKFLOW_TOPIC")
	strEnv(&cfg.Kafka.IndexWriteTopic, "KAFKA_INDEX_WRITE_TOPIC")

	strEnv(&cfg.Postgres.DSN, "POSTGRES_DSN", "DATABASE_URL")
	strEnv(&cfg.Redis.Addr, "REDIS_ADDR")

	strEnv(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	strEnv(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	strEnv(&cfg.Anthropic.AnalyzerModel, "ANALYZER_MODEL")
	strEnv(&cfg.Anthropic.SummarizerModel, "SUMMARIZER_MODEL")

	strEnv(&cfg.Embeddings.APIKey, "EMBED_API_KEY", "OPENAI_API_KEY")
	strEnv(&cfg.Embeddings.BaseURL, "EMBED_BASE_URL")
	strEnv(&cfg.Embeddings.Model, "EMBED_MODEL")
	intEnv(&cfg.Embeddings.Dimensions, "EMBED_DIMENSIONS")

	strEnv(&cfg.OCR.WarmupURL, "OCR_WARMUP_URL")
	strEnv(&cfg.OCR.DefaultModel, "OCR_DEFAULT_MODEL")

	durEnv(&cfg.Pipeline.PollInterval, "POLL_INTERVAL")
	durEnv(&cfg.Pipeline.PollBudget, "POLL_BUDGET")
	durEnv(&cfg.Pipeline.StepTimeout, "STEP_TIMEOUT")
	intEnv(&cfg.Pipeline.SegmentParallelism, "SEGMENT_PARALLELISM")
	intEnv(&cfg.Pipeline.WorkerCount, "WORKER_COUNT")
	durEnv(&cfg.Pipeline.DedupeTTL, "DEDUPE_TTL")

	strEnv(&cfg.Defaults.Language, "DEFAULT_LANGUAGE")
	strEnv(&cfg.Defaults.OCRModel, "DEFAULT_OCR_MODEL")

	strEnv(&cfg.Obs.OTLP, "OTLP_ENDPOINT")
	strEnv(&cfg.Obs.ServiceName, "OTEL_SERVICE_NAME")
	strEnv(&cfg.Obs.Environment, "DEPLOY_ENV")

	strEnv(&cfg.Convert.SofficePath, "SOFFICE_PATH")
	strEnv(&cfg.Convert.PdftoppmPath, "PDFTOPPM_PATH")
	durEnv(&cfg.Convert.Timeout, "CONVERT_TIMEOUT")
	intEnv(&cfg.Convert.RenderDPI, "CONVERT_RENDER_DPI")
}

func applyDefaults(cfg *Config) {
	def := func(s *string, v string) {
		if strings.TrimSpace(*s) == "" {
			*s = v
		}
	}
	def(&cfg.LogLevel, "info")
	def(&cfg.S3.Region, "us-east-1")
	def(&cfg.Kafka.GroupID, "docstream-pipeline")
	def(&cfg.Kafka.UploadsTopic, "docstream.uploads")
	def(&cfg.Kafka.OCRTopic, "docstream.track.ocr")
	def(&cfg.Kafka.BDATopic, "docstream.track.bda")
	def(&cfg.Kafka.TranscribeTopic, "docstream.track.transcribe")
	def(&cfg.Kafka.WebcrawlerTopic, "docstream.track.webcrawler")
	def(&cfg.Kafka.WorkflowTopic, "docstream.track.workflow")
	def(&cfg.Kafka.IndexWriteTopic, "docstream.index.write")
	def(&cfg.Redis.Addr, "localhost:6379")
	def(&cfg.Anthropic.AnalyzerModel, "claude-sonnet-4-5")
	def(&cfg.Anthropic.SummarizerModel, "claude-haiku-4-5")
	def(&cfg.Embeddings.Model, "text-embedding-3-small")
	def(&cfg.OCR.DefaultModel, "paddleocr-vl")
	def(&cfg.Defaults.Language, "en")
	def(&cfg.Defaults.OCRModel, "paddleocr-vl")
	def(&cfg.Obs.ServiceName, "docstream-pipeline")
	def(&cfg.Convert.SofficePath, "soffice")
	def(&cfg.Convert.PdftoppmPath, "pdftoppm")

	if cfg.Embeddings.Dimensions <= 0 {
		cfg.Embeddings.Dimensions = 1024
	}
	if cfg.Pipeline.PollInterval <= 0 {
		cfg.Pipeline.PollInterval = 10 * time.Second
	}
	if cfg.Pipeline.PollBudget <= 0 {
		cfg.Pipeline.PollBudget = 30 * time.Minute
	}
	if cfg.Pipeline.StepTimeout <= 0 {
		cfg.Pipeline.StepTimeout = 15 * time.Minute
	}
	if cfg.Pipeline.SegmentParallelism <= 0 {
		cfg.Pipeline.SegmentParallelism = 4
	}
	if cfg.Pipeline.WorkerCount <= 0 {
		cfg.Pipeline.WorkerCount = 4
	}
	if cfg.Pipeline.DedupeTTL <= 0 {
		cfg.Pipeline.DedupeTTL = 30 * time.Minute
	}
	if cfg.Convert.Timeout <= 0 {
		cfg.Convert.Timeout = 5 * time.Minute
	}
	if cfg.Convert.RenderDPI <= 0 {
		cfg.Convert.RenderDPI = 150
	}
	// use_ocr is the only boolean whose hard default is true. Opting out
	// requires an explicit DEFAULT_USE_OCR=false in the environment.
	cfg.Defaults.UseOCR = true
	boolEnv(&cfg.Defaults.UseOCR, "DEFAULT_USE_OCR")
	boolEnv(&cfg.Defaults.UseBDA, "DEFAULT_USE_BDA")
	boolEnv(&cfg.Defaults.UseTranscribe, "DEFAULT_USE_TRANSCRIBE")
}

func strEnv(dst *string, keys ...string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
			return
		}
	}
}

func boolEnv(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
}

func intEnv(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func durEnv(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
