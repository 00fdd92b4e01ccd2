// Package crm is the HTTP client for the remote business-data API that
// owns leads, orders, and the outbound send endpoint. The engine never
// talks to the database directly; everything goes through this client.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gemdesk/internal/domain"
)

// Client talks to the CRM API. It implements domain.LeadStore,
// domain.OrderSource, and domain.Sender.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// CreateLead persists a new lead and returns the canonical record.
func (c *Client) CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	var created domain.Lead
	if err := c.do(ctx, http.MethodPost, "/leads", lead, &created); err != nil {
		return domain.Lead{}, fmt.Errorf("create lead: %w", err)
	}
	return created, nil
}

// UpdateLead applies a partial update and returns the canonical record.
func (c *Client) UpdateLead(ctx context.Context, id string, partial domain.LeadPatch) (domain.Lead, error) {
	var updated domain.Lead
	if err := c.do(ctx, http.MethodPatch, "/leads/"+id, partial, &updated); err != nil {
		return domain.Lead{}, fmt.Errorf("update lead %s: %w", id, err)
	}
	return updated, nil
}

func (c *Client) ListLeads(ctx context.Context) ([]domain.Lead, error) {
	var leads []domain.Lead
	if err := c.do(ctx, http.MethodGet, "/leads", nil, &leads); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}

func (c *Client) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &orders); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Send delivers an outbound message (text and/or encoded attachments)
// and returns the server confirmation with saved attachment paths.
func (c *Client) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	var result domain.SendResult
	if err := c.do(ctx, http.MethodPost, "/messages/send", req, &result); err != nil {
		return domain.SendResult{}, fmt.Errorf("send: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("send: server reported failure")
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("crm API %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
