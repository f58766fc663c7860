package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// retryBackoff grows linearly with each retry.
var retryBackoff = time.Second

var httpClient = &http.Client{Timeout: requestTimeout}

// Send posts event to the webhook described by cfg. Transport failures and
// 5xx responses are retried. A 4xx response fails immediately.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * retryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		retry, err := post(ctx, cfg, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

// post makes one delivery and reports whether a failure is worth retrying.
func post(ctx context.Context, cfg AlertConfig, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tradeguard-alert")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode < 500:
		return false, fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	default:
		return true, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
