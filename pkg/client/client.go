package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
)

// Client is the API client for the contribution-mirror status API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is an error envelope returned by the server
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health reports whether the server answers its health check
func (c *Client) Health(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", response.Status)
	}
	return nil
}

// ListRuns retrieves the most recent runs, newest first
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.RunRecord `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/runs", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun retrieves one run
func (c *Client) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	var response struct {
		Data *domain.RunRecord `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRunCommits retrieves the commits a run created
func (c *Client) GetRunCommits(ctx context.Context, id string) ([]domain.CommitRecord, error) {
	var response struct {
		Data []domain.CommitRecord `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/commits", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSummary retrieves ledger statistics
func (c *Client) GetSummary(ctx context.Context) (*domain.RunSummary, error) {
	var response struct {
		Data *domain.RunSummary `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/summary", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
