// Package backend is the HTTP client for the plant backend's persistence,
// fault-listing and analytics endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/models"
	"github.com/rs/zerolog"
)

// maxErrorBody caps how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to one backend base URL.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client for baseURL. A zero timeout keeps the
// http.Client default of no timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.WithComponent("backend"),
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// LoadPlant returns the operator's persisted plant, or nil when none exists.
func (c *Client) LoadPlant(ctx context.Context, username string) (*models.PlantRecord, error) {
	var resp models.PlantResponse
	if err := c.do(ctx, "load plant", http.MethodGet, "/plant", url.Values{"username": {username}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.PlantData, nil
}

// SavePlant posts the full configuration tree.
func (c *Client) SavePlant(ctx context.Context, payload models.PlantPayload) error {
	return c.do(ctx, "save plant", http.MethodPost, "/industry", nil, payload, nil)
}

// ListFaults returns every fault logged for the operator.
func (c *Client) ListFaults(ctx context.Context, username string) ([]models.Fault, error) {
	var resp models.FaultsResponse
	if err := c.do(ctx, "list faults", http.MethodGet, "/faults", url.Values{"username": {username}}, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Faults == nil {
		resp.Faults = []models.Fault{}
	}
	return resp.Faults, nil
}

// DeleteFault removes one fault. Any 2xx answer is success.
func (c *Client) DeleteFault(ctx context.Context, username string, id models.FaultID) error {
	path := "/faults/" + url.PathEscape(string(id))
	return c.do(ctx, "delete fault", http.MethodDelete, path, url.Values{"username": {username}}, nil, nil)
}

// MachineAnalytics fetches the aggregated analytics for one machine.
func (c *Client) MachineAnalytics(ctx context.Context, username string, machineID int64, filter models.TimeFilter) (*models.MachineAnalytics, error) {
	path := "/machine-analytics/" + strconv.FormatInt(machineID, 10)
	query := url.Values{"username": {username}, "time_filter": {string(filter)}}

	var out models.MachineAnalytics
	if err := c.do(ctx, "machine analytics", http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend %s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend %s: decoding response: %w", op, err)
	}
	return nil
}
