// Package buildlog queries the external build-log analysis backend for
// error keywords.
package buildlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client looks up error keywords for a build-log reference. The backend is
// best-effort: callers treat a failure as an empty result.
type Client interface {
	// QueryErrors returns the error keyword strings found in the build log
	// identified by ref (a URL or a numeric instance id).
	QueryErrors(ctx context.Context, ref string) ([]string, error)
}

// HTTPClient implements Client against the build-log analysis HTTP API.
type HTTPClient struct {
	apiURL string
	httpc  *http.Client
}

// NewHTTPClient creates a lookup client with a bounded request timeout.
func NewHTTPClient(apiURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		apiURL: apiURL,
		httpc:  &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	BuildLogURL string `json:"build_log_url"`
}

type queryResponse struct {
	Errors []string `json:"errors"`
}

// QueryErrors posts the build-log reference and returns the reported error
// keywords.
func (c *HTTPClient) QueryErrors(ctx context.Context, ref string) ([]string, error) {
	payload, err := json.Marshal(queryRequest{BuildLogURL: ref})
	if err != nil {
		return nil, fmt.Errorf("encode lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call build log API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("build log API returned status %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	return out.Errors, nil
}
