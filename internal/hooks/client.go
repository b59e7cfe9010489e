package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lazypower/duro/internal/enforce"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 5 * time.Second
)

// Client talks to the duro server.
type Client struct {
	http      *http.Client
	serverURL string
}

// NewClient creates a new hook HTTP client.
// Respects DURO_URL env var, falls back to http://127.0.0.1:37778.
func NewClient() *Client {
	url := os.Getenv("DURO_URL")
	if url == "" {
		url = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: url,
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.serverURL }

// Post sends a POST request with JSON body. Returns response body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EvaluateRequest is the body of POST /api/evaluate.
type EvaluateRequest struct {
	Operation enforce.Operation `json:"operation"`
	Waiver    string            `json:"waiver,omitempty"`
}

// Evaluate asks the server for an admission decision. Any transport or
// decoding failure is reported as an integrity denial.
func (c *Client) Evaluate(ctx context.Context, op enforce.Operation, waiver string) enforce.Decision {
	body, err := json.Marshal(EvaluateRequest{Operation: op, Waiver: waiver})
	if err != nil {
		return integrityDenial(err)
	}
	data, err := c.Post("/api/evaluate", body)
	if err != nil {
		return integrityDenial(err)
	}
	var d enforce.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return integrityDenial(fmt.Errorf("decode decision: %w", err))
	}
	if d.Outcome == "" {
		return integrityDenial(fmt.Errorf("server returned an empty decision"))
	}
	return d
}

func integrityDenial(err error) enforce.Decision {
	return enforce.Decision{
		Outcome:   enforce.OutcomeDeny,
		Reason:    fmt.Errorf("%w: %v", enforce.ErrIntegrity, err).Error(),
		Integrity: true,
		ExitCode:  enforce.ExitIntegrity,
	}
}
