package queue

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"
)

// CheckBrokers dials the brokers until one answers or the timeout elapses.
func CheckBrokers(ctx context.Context, brokers []string, timeout time.Duration) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers provided")
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			lastErr = err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to reach any broker within %s: last error: %v", timeout, lastErr)
}

// EnsureTopics creates any missing topics (single partition, replication 1)
// plus their .dlq counterparts via the cluster controller.
func EnsureTopics(ctx context.Context, brokers []string, topics []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers provided")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, fmt.Sprint(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrlConn.Close()

	for _, topic := range topics {
		for _, name := range []string{topic, topic + ".dlq"} {
			parts, err := ctrlConn.ReadPartitions(name)
			if err == nil && len(parts) > 0 {
				continue
			}
			cfg := kafka.TopicConfig{Topic: name, NumPartitions: 1, ReplicationFactor: 1}
			if err := ctrlConn.CreateTopics(cfg); err != nil {
				return fmt.Errorf("create topic %s: %w", name, err)
			}
			log.Info().Str("topic", name).Msg("queue_topic_created")
		}
	}
	return nil
}
