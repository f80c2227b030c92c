// Package ocr holds the pipeline-side hooks for the external OCR compute: a
// best-effort warm-up hint emitted when OCR work is dispatched, so the
// scheduler can scale the endpoint before the first job lands.
package ocr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPScaler posts an empty warm-up request to the scheduler endpoint.
// Failures are reported to the caller, which logs and continues; a missed
// warm-up only costs cold-start latency.
type HTTPScaler struct {
	URL    string
	Client *http.Client
}

// WarmUp sends the capacity hint.
func (s *HTTPScaler) WarmUp(ctx context.Context) error {
	if s.URL == "" {
		return nil
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, nil)
	if err != nil {
		return fmt.Errorf("ocr warmup request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("ocr warmup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ocr warmup: status %d", resp.StatusCode)
	}
	log.Debug().Str("url", s.URL).Msg("ocr_warmup_sent")
	return nil
}

// NopScaler ignores warm-up hints; used when no scheduler is configured.
type NopScaler struct{}

// WarmUp does nothing.
func (NopScaler) WarmUp(ctx context.Context) error { return nil }
