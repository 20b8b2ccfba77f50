// Package authority provides the HTTP client used when the ingestion
// gate runs remote from the central trust authority.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single authority call
const DefaultTimeout = 5 * time.Second

// Client calls the remote trust authority. Every transport failure
// (timeout, connection refused, non-2xx, bad body) maps to
// (false, error), never (true, nil). Availability of the authority
// must not become an amplifier for unauthenticated writes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new trust authority client. timeout zero means
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CanSendData asks the authority whether a device may send telemetry
func (c *Client) CanSendData(ctx context.Context, deviceID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/trust/can-send-data?device_id=%s",
		c.baseURL, url.QueryEscape(deviceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.do(req, &result); err != nil {
		return false, err
	}

	return result.Allowed, nil
}

// ValidateAuthSecret asks the authority to validate a device secret
func (c *Client) ValidateAuthSecret(ctx context.Context, deviceID, candidate string) (bool, error) {
	endpoint := c.baseURL + "/api/v1/trust/validate-auth"

	body, err := json.Marshal(map[string]string{
		"device_id":   deviceID,
		"auth_secret": candidate,
	})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(string(body)))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Valid bool `json:"valid"`
	}
	if err := c.do(req, &result); err != nil {
		return false, err
	}

	return result.Valid, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trust authority request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trust authority returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode trust authority response: %w", err)
	}

	return nil
}
