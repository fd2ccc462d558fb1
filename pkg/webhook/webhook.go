// Package webhook posts best-effort JSON notifications about task outcomes
// and device records to an operator-configured endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Notifier delivers payloads to one webhook URL. A nil or URL-less Notifier
// is valid and drops everything silently, so callers never branch on
// configuration.
type Notifier struct {
	url    string
	client *retryablehttp.Client
}

// New builds a Notifier for url; an empty url yields a no-op notifier.
func New(url string) *Notifier {
	if url == "" {
		return &Notifier{}
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil
	return &Notifier{url: url, client: client}
}

// Post sends one JSON payload. Errors are returned for logging only; the
// caller's state must not depend on delivery.
func (n *Notifier) Post(ctx context.Context, payload any) error {
	if n == nil || n.url == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "webhook: marshal payload failed")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "webhook: build request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook: post failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.Errorf("webhook: endpoint returned %s", resp.Status)
	}
	return nil
}

// PostAsync fires Post on its own goroutine and logs delivery failures.
func (n *Notifier) PostAsync(payload any) {
	if n == nil || n.url == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := n.Post(ctx, payload); err != nil {
			log.Warn().Err(err).Msg("webhook notification failed")
		}
	}()
}
