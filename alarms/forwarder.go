package alarms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPForwarder delivers firing alarms as a JSON array to a receiver URL.
type HTTPForwarder struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPForwarder builds a forwarder for the given receiver URL.
func NewHTTPForwarder(url string, log zerolog.Logger) *HTTPForwarder {
	return &HTTPForwarder{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Forward implements Forwarder. An empty alarm list is still delivered so
// the receiver can resolve alerts that stopped firing.
func (f *HTTPForwarder) Forward(ctx context.Context, alarms []Alarm) error {
	if alarms == nil {
		alarms = []Alarm{}
	}
	body, err := json.Marshal(alarms)
	if err != nil {
		return fmt.Errorf("encoding alarms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting alarms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("receiver returned %s", resp.Status)
	}
	f.log.Debug().Int("alarms", len(alarms)).Msg("alarms forwarded")
	return nil
}
