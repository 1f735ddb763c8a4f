// Package consoleui implements the huntrelay-console operator TUI's
// model and its REST client against the Gateway (C7). It never opens
// the database or an SSH connection itself; every view is read
// through the same HTTP surface a browser client would use.
package consoleui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// Client is a thin REST client for the subset of the Gateway's API
// the console reads from.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a Client for baseURL, authenticating every
// request with token as a bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("console: requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("console: %s returned %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListAssets fetches every known asset.
func (c *Client) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	var out []domain.Asset
	err := c.get(ctx, "/api/v1/assets/", &out)
	return out, err
}

// sessionView mirrors the Gateway's session response shape.
type sessionView struct {
	ID        ids.SessionID       `json:"id"`
	AssetID   ids.AssetID         `json:"asset_id"`
	AnalystID ids.AnalystID       `json:"analyst_id"`
	Mode      domain.SessionMode  `json:"mode"`
	State     domain.SessionState `json:"state"`
}

// ListSessions fetches every active session.
func (c *Client) ListSessions(ctx context.Context) ([]sessionView, error) {
	var out []sessionView
	err := c.get(ctx, "/api/v1/sessions/", &out)
	return out, err
}

// GetTimeline fetches an asset's timeline, most recent first.
func (c *Client) GetTimeline(ctx context.Context, assetID ids.AssetID, limit int) ([]domain.TimelineEvent, error) {
	var out []domain.TimelineEvent
	path := fmt.Sprintf("/api/v1/intelligence/timeline/%s?limit=%d", assetID, limit)
	err := c.get(ctx, path, &out)
	return out, err
}

// ListFindings fetches findings for an asset.
func (c *Client) ListFindings(ctx context.Context, assetID ids.AssetID) ([]domain.Finding, error) {
	var out []domain.Finding
	path := fmt.Sprintf("/api/v1/intelligence/findings?asset_id=%s", assetID)
	err := c.get(ctx, path, &out)
	return out, err
}

// ListModules fetches every registered hunt-module spec.
func (c *Client) ListModules(ctx context.Context) ([]domain.HuntModule, error) {
	var out []domain.HuntModule
	err := c.get(ctx, "/api/v1/hunt-modules/", &out)
	return out, err
}
