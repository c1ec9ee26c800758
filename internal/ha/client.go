// Package ha is a minimal Home Assistant REST client covering the calls the
// bridge needs: camera snapshots, service calls, and event firing.
package ha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client wraps the Home Assistant REST API.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient builds a client for the given Home Assistant base URL using a
// long-lived access token.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http: hc,
		log:  log.With().Str("component", "ha").Logger(),
	}
}

// Snapshot fetches the current image for a camera entity.
func (c *Client) Snapshot(ctx context.Context, entityID string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/camera_proxy/" + entityID)
	if err != nil {
		return nil, fmt.Errorf("snapshot request for %s: %w", entityID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("snapshot for %s failed: %s: %s",
			entityID, resp.Status(), strings.TrimSpace(string(resp.Body())))
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("snapshot for %s returned no data", entityID)
	}

	c.log.Debug().Str("entity_id", entityID).Int("bytes", len(body)).Msg("snapshot fetched")
	return body, nil
}

// CallService invokes <domain>.<service> with the given payload.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(data).
		Post(fmt.Sprintf("/api/services/%s/%s", domain, service))
	if err != nil {
		return fmt.Errorf("service call %s.%s: %w", domain, service, err)
	}
	if resp.IsError() {
		return fmt.Errorf("service call %s.%s failed: %s: %s",
			domain, service, resp.Status(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}

// CallServiceWithResponse invokes a service and returns its response data
// (Home Assistant's ?return_response mode).
func (c *Client) CallServiceWithResponse(ctx context.Context, domain, service string, data map[string]any) (map[string]any, error) {
	var body struct {
		ServiceResponse map[string]any `json:"service_response"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(data).
		SetQueryParam("return_response", "true").
		SetResult(&body).
		Post(fmt.Sprintf("/api/services/%s/%s", domain, service))
	if err != nil {
		return nil, fmt.Errorf("service call %s.%s: %w", domain, service, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("service call %s.%s failed: %s: %s",
			domain, service, resp.Status(), strings.TrimSpace(string(resp.Body())))
	}
	return body.ServiceResponse, nil
}

// FireEvent publishes an event on the Home Assistant event bus.
func (c *Client) FireEvent(ctx context.Context, eventType string, payload map[string]any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/api/events/" + eventType)
	if err != nil {
		return fmt.Errorf("fire event %s: %w", eventType, err)
	}
	if resp.IsError() {
		return fmt.Errorf("fire event %s failed: %s: %s",
			eventType, resp.Status(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}
