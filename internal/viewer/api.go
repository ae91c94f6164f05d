package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/campusride/bustrack/internal/errs"
	"github.com/campusride/bustrack/models"
)

type errorBody struct {
	Error string `json:"error"`
}

// FetchPosition performs the point lookup for unitID. The returned position
// is nil when none has been recorded since the last reset.
func (c *Client) FetchPosition(ctx context.Context, unitID string) (*models.Position, error) {
	var up models.UnitPosition
	if err := c.getJSON(ctx, "/api/bus/"+url.PathEscape(unitID)+"/location", &up); err != nil {
		return nil, err
	}
	return up.Position, nil
}

// FetchUnit returns the unit with its waypoints, arrivals and position.
func (c *Client) FetchUnit(ctx context.Context, unitID string) (*models.TrackedUnit, error) {
	var u models.TrackedUnit
	if err := c.getJSON(ctx, "/api/bus/"+url.PathEscape(unitID), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FetchToday lists the units available today.
func (c *Client) FetchToday(ctx context.Context) ([]models.TrackedUnit, error) {
	var body struct {
		Units []models.TrackedUnit `json:"units"`
	}
	if err := c.getJSON(ctx, "/api/bus/today", &body); err != nil {
		return nil, err
	}
	return body.Units, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb errorBody
	msg := resp.Status
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return errs.NewValidation(msg)
	case http.StatusUnauthorized:
		return errs.NewUnauthorized(msg)
	case http.StatusForbidden:
		return errs.NewForbidden(msg)
	case http.StatusNotFound:
		return errs.NewNotFound(msg)
	default:
		return errs.E(errs.Internal, msg, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}
