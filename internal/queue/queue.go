// Package queue carries the pipeline's track hand-offs: upload notifications,
// per-track preprocessing messages, and index write messages. Delivery is
// at-least-once; consumers commit only after handling, so every handler in the
// pipeline is idempotent.
package queue

import (
	"context"
	"errors"
)

// Message is one queue record.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Producer publishes messages. Message.Topic selects the destination.
type Producer interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// Handler processes one message. A returned error is retried unless it is
// marked permanent, in which case the message goes to the DLQ and the offset
// is committed.
type Handler func(ctx context.Context, msg Message) error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
