// Package station runs a scanning station: it owns one scan session and
// submits every payload the session emits to the attendance API.
package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"scanattend/internal/attendance"
)

// APIError is a non-success answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

// Outcome is the API's answer to an accepted scan.
type Outcome struct {
	Edge   attendance.Edge   `json:"edge"`
	Record attendance.Record `json:"record"`
}

// Client calls the attendance API with a station token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Submit posts one payload.
func (c *Client) Submit(ctx context.Context, payload string) (Outcome, error) {
	body, _ := json.Marshal(map[string]string{"payload": payload})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/attendance", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "attendance api request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &msg) != nil || msg.Error == "" {
			msg.Error = strings.TrimSpace(string(raw))
		}
		return Outcome{}, &APIError{StatusCode: resp.StatusCode, Message: msg.Error}
	}

	var out Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, errors.Wrap(err, "failed to decode response")
	}
	return out, nil
}
