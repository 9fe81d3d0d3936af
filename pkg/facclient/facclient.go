// Package facclient provides a typed client for the facilitator API.
package facclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vaultpay-hq/facilitator/pkg/logger"
	"github.com/vaultpay-hq/facilitator/pkg/models"
)

// QueueSnapshot is the facilitator's queue endpoint response.
type QueueSnapshot struct {
	Stats   models.QueueStats    `json:"stats"`
	Pending []models.QueueRecord `json:"pending"`
}

// Client talks to one facilitator endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	log        logger.Logger
}

// New creates a facilitator API client.
func New(endpoint string, log logger.Logger) *Client {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		log:        log,
	}
}

// Settle submits an exact-scheme payment for synchronous settlement.
func (c *Client) Settle(ctx context.Context, payload models.PaymentPayload) (models.SettleResponse, error) {
	var response models.SettleResponse
	if err := c.post(ctx, "/settle", payload, &response); err != nil {
		return models.SettleResponse{}, err
	}
	return response, nil
}

// ValidateIntent submits a deferred-scheme intent for validation and
// enqueueing.
func (c *Client) ValidateIntent(ctx context.Context, payload models.PaymentPayload) (models.ValidateResponse, error) {
	var response models.ValidateResponse
	if err := c.post(ctx, "/validate-intent", payload, &response); err != nil {
		return models.ValidateResponse{}, err
	}
	return response, nil
}

// SettleBatch triggers one settler pass and returns its report.
func (c *Client) SettleBatch(ctx context.Context) (models.RunReport, error) {
	var report models.RunReport
	if err := c.post(ctx, "/settle-batch", nil, &report); err != nil {
		return models.RunReport{}, err
	}
	return report, nil
}

// Queue fetches queue stats and pending records.
func (c *Client) Queue(ctx context.Context) (QueueSnapshot, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/queue", nil)
	if err != nil {
		return QueueSnapshot{}, fmt.Errorf("failed to build request: %v", err)
	}

	var snapshot QueueSnapshot
	if err := c.do(request, &snapshot); err != nil {
		return QueueSnapshot{}, err
	}
	return snapshot, nil
}

// Health reports whether the facilitator answers its health check.
func (c *Client) Health(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// ResetCircuit manually closes the facilitator's circuit breaker for one
// chain.
func (c *Client) ResetCircuit(ctx context.Context, chainID int) error {
	url := fmt.Sprintf("%s/circuit/reset?chain=%d", c.endpoint, chainID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("circuit reset failed: %v", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")

	return c.do(request, out)
}

func (c *Client) do(request *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request to %s failed: %v", request.URL.Path, err)
	}
	defer c.closeBody(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.log.Error("Failed to close response body: %v", err)
	}
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
