// ============================================================================
// cardbus hardware-reset client
// ============================================================================
//
// Package: internal/resetclient
// File: resetclient.go
// Function: Issues the signed HTTP reset call to the dsxpi endpoint (§6):
// POST <dsxpiHost>/reset/<signedPayload>, where signedPayload is an
// HMAC-SHA256 of the target location over the shared secret.
//
// ============================================================================

package resetclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Client posts signed reset requests to a single dsxpi host.
type Client struct {
	host   string
	secret []byte
	hc     *http.Client
}

// New constructs a Client bound to host (e.g. "https://dsxpi.example.net")
// and the shared signing secret.
func New(host, secret string) *Client {
	return &Client{
		host:   host,
		secret: []byte(secret),
		hc:     &http.Client{Timeout: 10 * time.Second},
	}
}

// sign computes the hex-encoded HMAC-SHA256 of locationID over the shared
// secret, the payload the dsxpi endpoint verifies before acting (§6).
func (c *Client) sign(locationID int) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(strconv.Itoa(locationID)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Reset issues the signed POST for locationID and returns an error unless
// the endpoint answers 2xx.
func (c *Client) Reset(ctx context.Context, locationID int) error {
	url := fmt.Sprintf("%s/reset/%s", c.host, c.sign(locationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("resetclient: build request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("resetclient: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("resetclient: %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
