// Package opticclient talks to the optical decoding service that turns a
// camera frame into the QR payload it contains.
package opticclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNoCode means the image was readable but held no QR code.
	ErrNoCode = errors.New("no qr code in image")
	// ErrNotConfigured is returned when no service URL is set.
	ErrNotConfigured = errors.New("optical decode service not configured")
)

// Client calls the optical decoding microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Decode uploads image and returns the first QR payload found in it.
func (c *Client) Decode(ctx context.Context, image io.Reader, filename string) (string, error) {
	if c.BaseURL == "" {
		return "", ErrNotConfigured
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, image); err != nil {
		return "", errors.Wrap(err, "read image")
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/decode", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "optical service request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.Errorf("optical service error %s: %s", resp.Status, string(msg))
	}

	var out struct {
		Payloads []string `json:"payloads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "failed to decode response")
	}
	for _, p := range out.Payloads {
		if p != "" {
			return p, nil
		}
	}
	return "", ErrNoCode
}

// Health checks if the optical service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.BaseURL == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrap(err, "optical service unavailable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("optical service unhealthy: %s", resp.Status)
	}
	return nil
}
