package roc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the public ROC punch feed.
const DefaultBaseURL = "http://roc.olresultat.se/getpunches.asp"

// DefaultTimeout bounds one getpunches request.
const DefaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses from the ROC service.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("roc returned status %d", e.Code)
}

// Client fetches punch batches from one ROC unit.
type Client struct {
	baseURL string
	unitID  string
	http    *http.Client
}

// NewClient creates a client for the given unit. An empty baseURL means
// the public feed.
func NewClient(baseURL, unitID string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		unitID:  unitID,
		http:    &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the punches recorded after lastID. Malformed rows in
// an otherwise good response come back as warnings.
func (c *Client) Fetch(ctx context.Context, lastID int64) ([]Reading, []string, error) {
	q := url.Values{}
	q.Set("unitId", c.unitID)
	q.Set("lastId", strconv.FormatInt(lastID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("getpunches: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	readings, warnings := ParseReadings(string(body))
	return readings, warnings, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
