package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRegistrar posts registrations to the ledger's REST endpoint
type HTTPRegistrar struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPRegistrar creates a registrar. A nil client gets a default with timeout.
func NewHTTPRegistrar(endpoint, apiKey string, timeout time.Duration, client *http.Client) *HTTPRegistrar {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPRegistrar{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

// Client returns the underlying HTTP client
func (r *HTTPRegistrar) Client() *http.Client {
	return r.client
}

func (r *HTTPRegistrar) Register(ctx context.Context, reg Registration) (*Certificate, error) {
	body, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/certificates", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ledger returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var cert Certificate
	if err := json.NewDecoder(resp.Body).Decode(&cert); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return &cert, nil
}
