package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/campusride/bustrack/internal/errs"
)

// HTTPSender posts captures to POST /api/bus/location with a driver token.
type HTTPSender struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Timeout time.Duration
}

type locationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Send implements Sender. Rejections come back classified so the caller can
// tell a bad token from a transient failure.
func (s *HTTPSender) Send(ctx context.Context, p Point) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := json.Marshal(locationBody{Latitude: p.Latitude, Longitude: p.Longitude})
	if err != nil {
		return err
	}
	url := strings.TrimRight(s.BaseURL, "/") + "/api/bus/location"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return errs.NewValidation(body.Error)
	case http.StatusUnauthorized:
		return errs.NewUnauthorized(body.Error)
	case http.StatusForbidden:
		return errs.NewForbidden(body.Error)
	case http.StatusNotFound:
		return errs.NewNotFound(body.Error)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, body.Error)
}
