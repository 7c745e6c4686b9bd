package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prudhvinik1/changesync/internal/models"
)

// APIError is a non-success response other than cursor-gone.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Code)
}

type CursorInfo struct {
	Cursor       int64 `json:"cursor"`
	ChangesFloor int64 `json:"changesFloor"`
}

type TokenInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	AccountID string    `json:"accountId"`
	SessionID string    `json:"sessionId"`
}

type KVWriteResult struct {
	Entry  *models.KVEntry `json:"entry"`
	Cursor int64           `json:"cursor"`
}

// APIClient talks to the sync server. Transient failures (connection
// errors, 5xx, 429) are retried honoring Retry-After.
type APIClient struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

type APIClientOption func(*retryablehttp.Client)

func WithRetries(max int, waitMin, waitMax time.Duration) APIClientOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

func NewAPIClient(baseURL, token string, logger *slog.Logger, opts ...APIClientOption) *APIClient {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 4
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if logger != nil {
		httpClient.Logger = logger.With("module", "api-client")
	} else {
		httpClient.Logger = nil
	}
	for _, opt := range opts {
		opt(httpClient)
	}

	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *APIClient) SetToken(token string) {
	c.token = token
}

// FetchChanges returns changes after the given cursor. A cursor the server
// no longer serves yields *models.CursorGoneError.
func (c *APIClient) FetchChanges(ctx context.Context, after int64, limit int) (*models.ChangesResponse, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp models.ChangesResponse
	if err := c.do(ctx, http.MethodGet, "/v2/changes?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetCursor(ctx context.Context) (*CursorInfo, error) {
	var info CursorInfo
	if err := c.do(ctx, http.MethodGet, "/v2/cursor", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *APIClient) ListKV(ctx context.Context) ([]*models.KVEntry, error) {
	var resp struct {
		Entries []*models.KVEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/kv", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *APIClient) PutKV(ctx context.Context, key, value string, version int64) (*KVWriteResult, error) {
	body := map[string]any{"value": value, "version": version}
	var result KVWriteResult
	if err := c.do(ctx, http.MethodPut, "/v2/kv/"+url.PathEscape(key), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) DeleteKV(ctx context.Context, key string, version int64) (*KVWriteResult, error) {
	path := "/v2/kv/" + url.PathEscape(key) + "?version=" + strconv.FormatInt(version, 10)
	var result KVWriteResult
	if err := c.do(ctx, http.MethodDelete, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) IssueToken(ctx context.Context, accountID, deviceType, secret string) (*TokenInfo, error) {
	body := map[string]string{"accountId": accountID, "deviceType": deviceType, "secret": secret}
	var info TokenInfo
	if err := c.do(ctx, http.MethodPost, "/v2/auth/token", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var rawBody interface{}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rawBody = raw
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, rawBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusGone {
		var gone models.CursorGoneError
		if err := json.Unmarshal(data, &gone); err != nil {
			return fmt.Errorf("failed to decode cursor-gone response: %w", err)
		}
		return &gone
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		return &APIError{Status: resp.StatusCode, Code: e.Error}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
