package queue

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process queue for tests: buffered channels per topic,
// one consumer loop per Subscribe call.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]chan Message
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]chan Message)}
}

func (b *MemoryBus) channel(topic string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[topic]
	if !ok {
		ch = make(chan Message, 1024)
		b.topics[topic] = ch
	}
	return ch
}

// Publish enqueues msgs on their topics.
func (b *MemoryBus) Publish(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		select {
		case b.channel(m.Topic) <- m:
		default:
			return fmt.Errorf("memory bus: topic %s full", m.Topic)
		}
	}
	return nil
}

// Subscribe runs handle for each message on topic until ctx is canceled.
// Failed messages are re-dispatched to topic+".dlq" after one retry, matching
// the kafka consumer's observable behavior.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handle Handler) {
	ch := b.channel(topic)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				if err := handle(ctx, msg); err != nil {
					if !IsPermanent(err) {
						if err = handle(ctx, msg); err == nil {
							continue
						}
					}
					_ = b.Publish(ctx, Message{Topic: topic + ".dlq", Key: msg.Key, Value: msg.Value})
				}
			}
		}
	}()
}

// Pending returns the number of undelivered messages on topic.
func (b *MemoryBus) Pending(topic string) int {
	return len(b.channel(topic))
}

// Drain synchronously applies handle to every currently queued message on
// topic; useful for single-threaded test assertions.
func (b *MemoryBus) Drain(ctx context.Context, topic string, handle Handler) error {
	ch := b.channel(topic)
	for {
		select {
		case msg := <-ch:
			if err := handle(ctx, msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

var _ Producer = (*MemoryBus)(nil)
