package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"
)

// KafkaProducer publishes to Kafka. The underlying writer carries no topic so
// each message selects its own destination.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a producer for the given brokers.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish writes msgs to their topics.
func (p *KafkaProducer) Publish(ctx context.Context, msgs ...Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{Topic: m.Topic, Key: []byte(m.Key), Value: m.Value}
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close shuts the writer down.
func (p *KafkaProducer) Close() error { return p.writer.Close() }

var _ Producer = (*KafkaProducer)(nil)

// ConsumerConfig configures one consumer group loop.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	WorkerCount int
	MaxAttempts int
}

// Consume reads messages from the topic and processes them with a worker
// pool. Messages are committed only after successful handling, or after DLQ
// publication once retries are exhausted or the error is permanent. Blocks
// until ctx is canceled and the workers drain.
func Consume(ctx context.Context, cfg ConsumerConfig, producer Producer, handle Handler) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Error().Err(err).Str("topic", cfg.Topic).Msg("queue_reader_close_failed")
		}
	}()

	jobs := make(chan kafka.Message, cfg.WorkerCount*4)

	var wg sync.WaitGroup
	wg.Add(cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		go func(workerID int) {
			defer wg.Done()
			for km := range jobs {
				processMessage(ctx, cfg, producer, handle, km, workerID)
				if err := reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
					log.Error().Err(err).
						Str("topic", km.Topic).Int("partition", km.Partition).Int64("offset", km.Offset).
						Msg("queue_commit_failed")
				}
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			km, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				log.Warn().Err(err).Str("topic", cfg.Topic).Msg("queue_fetch_error")
				select {
				case <-time.After(500 * time.Millisecond):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case jobs <- km:
			case <-ctx.Done():
				// Not committed; the message is re-fetched after restart.
				return
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func processMessage(ctx context.Context, cfg ConsumerConfig, producer Producer, handle Handler, km kafka.Message, workerID int) {
	msg := Message{Topic: km.Topic, Key: string(km.Key), Value: km.Value}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = handle(ctx, msg)
		if lastErr == nil {
			return
		}
		if IsPermanent(lastErr) || ctx.Err() != nil {
			break
		}
		backoff := time.Duration(200*(1<<uint(attempt-1))) * time.Millisecond
		log.Warn().Err(lastErr).
			Int("worker", workerID).Int("attempt", attempt).Int("max", cfg.MaxAttempts).
			Str("topic", cfg.Topic).Dur("backoff", backoff).
			Msg("queue_handler_retry")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}
	publishDLQ(ctx, producer, msg, lastErr)
}

func publishDLQ(ctx context.Context, producer Producer, msg Message, cause error) {
	if producer == nil {
		return
	}
	dlq := Message{Topic: msg.Topic + ".dlq", Key: msg.Key, Value: msg.Value}
	if err := producer.Publish(ctx, dlq); err != nil {
		log.Error().Err(err).Str("topic", dlq.Topic).Str("key", msg.Key).Msg("queue_dlq_publish_failed")
		return
	}
	log.Error().Err(cause).Str("topic", dlq.Topic).Str("key", msg.Key).Msg("queue_message_dead_lettered")
}
