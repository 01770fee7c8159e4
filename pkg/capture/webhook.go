package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// WebhookClient delivers caption batches to an HTTP endpoint. The destination
// may be reconfigured at any time and takes effect on the next flush.
type WebhookClient struct {
	httpClient *http.Client

	mu  sync.Mutex
	url string
}

// NewWebhookClient creates a webhook sink. An empty url leaves the client
// unconfigured; Deliver fails until SetURL provides a destination.
func NewWebhookClient(url string, httpClient *http.Client) *WebhookClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WebhookClient{
		httpClient: httpClient,
		url:        strings.TrimSpace(url),
	}
}

// SetURL replaces the destination endpoint.
func (c *WebhookClient) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = strings.TrimSpace(url)
}

// URL returns the current destination endpoint.
func (c *WebhookClient) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Configured reports whether a destination is set.
func (c *WebhookClient) Configured() bool {
	return c != nil && c.URL() != ""
}

type simpleWebhookBody struct {
	BatchMetadata
	Transcript string `json:"transcript"`
}

type advancedWebhookBody struct {
	Metadata BatchMetadata    `json:"metadata"`
	Captions []UtteranceBlock `json:"captions"`
}

// Deliver posts a caption batch to the destination. Any non-2xx response is a
// delivery failure.
func (c *WebhookClient) Deliver(ctx context.Context, batch CaptionBatch) error {
	url := c.URL()
	if url == "" {
		return fmt.Errorf("webhook destination is not configured")
	}

	var payload any
	switch batch.Metadata.BodyMode {
	case BodyModeAdvanced:
		payload = advancedWebhookBody{
			Metadata: batch.Metadata,
			Captions: batch.Captions,
		}
	default:
		lines := make([]string, 0, len(batch.Captions))
		for _, b := range batch.Captions {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", b.Timestamp, b.PersonName, b.TranscriptText))
		}
		payload = simpleWebhookBody{
			BatchMetadata: batch.Metadata,
			Transcript:    strings.Join(lines, "\n"),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
