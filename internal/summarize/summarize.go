package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toricodesthings/image-ocr-service/internal/types"
)

// DefaultSummary is returned when the webhook answers without a summary.
const DefaultSummary = " "

var ErrEmptyText = errors.New("no text provided")

// ForwardingError wraps any failure talking to the webhook.
type ForwardingError struct {
	Err error
}

func (e *ForwardingError) Error() string { return "forward to webhook: " + e.Err.Error() }

func (e *ForwardingError) Unwrap() error { return e.Err }

// Forwarder relays text to a summarization webhook.
type Forwarder struct {
	url    string
	client *http.Client
}

func New(url string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// Forward posts {"text": text} and returns the webhook's summary field.
func (f *Forwarder) Forward(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", ErrEmptyText
	}
	if f.url == "" {
		return "", &ForwardingError{Err: errors.New("webhook URL not configured")}
	}

	b, err := json.Marshal(types.SummaryRequest{Text: text})
	if err != nil {
		return "", &ForwardingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(b))
	if err != nil {
		return "", &ForwardingError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "imgocr/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &ForwardingError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &ForwardingError{Err: fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))}
	}

	var parsed struct {
		Summary *string `json:"summary"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&parsed); err != nil {
		return "", &ForwardingError{Err: fmt.Errorf("decode webhook response: %w", err)}
	}
	if parsed.Summary == nil {
		return DefaultSummary, nil
	}
	return *parsed.Summary, nil
}
