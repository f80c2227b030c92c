// pipelined is the ingestion worker process: it consumes upload
// notifications, fans documents out across the preprocessing tracks, drives
// each workflow's state machine, and commits enriched segments to the hybrid
// index.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"docstream/internal/analyzer"
	"docstream/internal/config"
	"docstream/internal/embed"
	"docstream/internal/finalizer"
	"docstream/internal/formatparser"
	"docstream/internal/index"
	"docstream/internal/indexwriter"
	"docstream/internal/llm"
	"docstream/internal/objectstore"
	"docstream/internal/observability"
	"docstream/internal/ocr"
	"docstream/internal/pipeline"
	"docstream/internal/queue"
	"docstream/internal/router"
	"docstream/internal/segments"
	"docstream/internal/statestore"
	"docstream/internal/summarizer"
	"docstream/internal/webcrawler"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("pipelined")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitTracing(ctx, cfg.Obs)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	brokers := splitBrokers(cfg.Kafka.Brokers)
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        200,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// Backends.
	objects, err := objectstore.NewS3Store(ctx, cfg.S3, nil)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("init postgres pool: %w", err)
	}
	defer pool.Close()

	store, err := statestore.NewPostgres(ctx, pool)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("error closing redis client")
		}
	}()
	dedupe, err := queue.NewRedisDedupe(redisClient)
	if err != nil {
		return fmt.Errorf("init dedupe store: %w", err)
	}

	embedder := embed.NewCached(embed.New(cfg.Embeddings), redisClient, 24*time.Hour)
	indexStore, err := index.NewPostgres(ctx, pool, embedder)
	if err != nil {
		return fmt.Errorf("init index store: %w", err)
	}

	// Kafka.
	if err := queue.CheckBrokers(ctx, brokers, 5*time.Second); err != nil {
		return fmt.Errorf("reach kafka brokers: %w", err)
	}
	topics := []string{
		cfg.Kafka.UploadsTopic, cfg.Kafka.OCRTopic, cfg.Kafka.BDATopic,
		cfg.Kafka.TranscribeTopic, cfg.Kafka.WebcrawlerTopic,
		cfg.Kafka.WorkflowTopic, cfg.Kafka.IndexWriteTopic,
	}
	adminCtx, cancelAdmin := context.WithTimeout(ctx, 10*time.Second)
	if err := queue.EnsureTopics(adminCtx, brokers, topics); err != nil {
		cancelAdmin()
		return fmt.Errorf("ensure kafka topics: %w", err)
	}
	cancelAdmin()

	producer := queue.NewKafkaProducer(brokers)
	defer func() {
		if cerr := producer.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("error closing kafka producer")
		}
	}()

	// Components.
	rt := router.New(store, objects, producer, nil,
		&ocr.HTTPScaler{URL: cfg.OCR.WarmupURL, Client: httpClient},
		router.Topics{
			OCR:        cfg.Kafka.OCRTopic,
			BDA:        cfg.Kafka.BDATopic,
			Transcribe: cfg.Kafka.TranscribeTopic,
			Webcrawler: cfg.Kafka.WebcrawlerTopic,
			Workflow:   cfg.Kafka.WorkflowTopic,
		}, cfg.Defaults)

	analyzerLLM := llm.NewAnthropic(cfg.Anthropic, cfg.Anthropic.AnalyzerModel, httpClient)
	summarizerLLM := llm.NewAnthropic(cfg.Anthropic, cfg.Anthropic.SummarizerModel, httpClient)

	driver := pipeline.New(
		store,
		objects,
		formatparser.New(objects, cfg.Convert),
		segments.New(objects, store),
		analyzer.New(analyzerLLM, objects, analyzer.DefaultMaxIterations),
		finalizer.New(objects, producer, cfg.Kafka.IndexWriteTopic),
		summarizer.New(summarizerLLM, indexStore, objects),
		indexStore,
		pipeline.Options{
			PollInterval: cfg.Pipeline.PollInterval,
			PollBudget:   cfg.Pipeline.PollBudget,
			Parallelism:  cfg.Pipeline.SegmentParallelism,
		},
	)

	crawler := webcrawler.New(webcrawler.ChromeFetcher{}, objects, store)
	writer := indexwriter.New(indexStore, embedder)

	log.Info().
		Strs("brokers", brokers).
		Str("group_id", cfg.Kafka.GroupID).
		Int("workers", cfg.Pipeline.WorkerCount).
		Msg("pipelined starting consumers")

	consume := func(topic string, handle queue.Handler) func() error {
		return func() error {
			return queue.Consume(ctx, queue.ConsumerConfig{
				Brokers:     brokers,
				GroupID:     cfg.Kafka.GroupID,
				Topic:       topic,
				WorkerCount: cfg.Pipeline.WorkerCount,
			}, producer, handle)
		}
	}

	var g errgroup.Group
	g.Go(consume(cfg.Kafka.UploadsTopic, rt.Handle))
	g.Go(consume(cfg.Kafka.WebcrawlerTopic, crawler.Handle))
	g.Go(consume(cfg.Kafka.WorkflowTopic,
		queue.WithDedupe(dedupe, cfg.Pipeline.DedupeTTL, driver.Handle)))
	g.Go(consume(cfg.Kafka.IndexWriteTopic, writer.Handle))

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	log.Info().Msg("pipelined stopped")
	return err
}

func splitBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
