package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/vecpager/internal/models"
)

// DefaultServerURL is where client commands look for a running server.
const DefaultServerURL = "http://localhost:8080"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status back to the model error the server reported, so
// callers can use errors.Is the same way in client and direct mode.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return models.ErrInvalidInput
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusInsufficientStorage:
		return models.ErrCapacityExceeded
	case http.StatusServiceUnavailable:
		return models.ErrPersistence
	case http.StatusGatewayTimeout:
		return context.DeadlineExceeded
	default:
		return nil
	}
}

// Client talks to the vecpager HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient uses a client
// with a 60 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// PutRequest is the body of POST /api/v1/records.
type PutRequest struct {
	models.RecordInput
	Source string `json:"source,omitempty"`
}

// Put stores a record and returns its id.
func (c *Client) Put(ctx context.Context, req *PutRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/records", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Get fetches a record by id.
func (c *Client) Get(ctx context.Context, id string) (*models.Record, error) {
	var rec models.Record
	if err := c.do(ctx, http.MethodGet, "/api/v1/records/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/records/"+url.PathEscape(id), nil, nil)
}

// DeleteBySource removes every record filed under source and returns the count.
func (c *Client) DeleteBySource(ctx context.Context, source string) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/records?source="+url.QueryEscape(source), nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Search runs a one-shot search.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenStream opens a streaming search and returns its handle and chunk count.
func (c *Client) OpenStream(ctx context.Context, query *models.SearchQuery) (string, int, error) {
	var out struct {
		Handle      string `json:"handle"`
		ChunksTotal int    `json:"chunks_total"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/streams", query, &out); err != nil {
		return "", 0, err
	}
	return out.Handle, out.ChunksTotal, nil
}

// Next pulls the next batch of a stream.
func (c *Client) Next(ctx context.Context, handle string) (*models.StreamBatch, error) {
	var batch models.StreamBatch
	if err := c.do(ctx, http.MethodPost, "/api/v1/streams/"+url.PathEscape(handle)+"/next", nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// CloseStream releases a stream.
func (c *Client) CloseStream(ctx context.Context, handle string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/streams/"+url.PathEscape(handle), nil, nil)
}

// Compact purges tombstones and returns how many were removed.
func (c *Client) Compact(ctx context.Context) (int, error) {
	var out struct {
		Purged int `json:"purged"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/compact", nil, &out); err != nil {
		return 0, err
	}
	return out.Purged, nil
}

// Flush persists dirty chunks.
func (c *Client) Flush(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/flush", nil, nil)
}

// Status fetches store status.
func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	var status models.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SpoolDirectories lists the spool roots.
func (c *Client) SpoolDirectories(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/spool/directories", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// AddSpoolDirectory adds a spool root; sync ingests the files already in it.
func (c *Client) AddSpoolDirectory(ctx context.Context, path string, sync bool) error {
	body := map[string]interface{}{"path": path, "sync": sync}
	return c.do(ctx, http.MethodPost, "/api/v1/spool/directories", body, nil)
}

// RemoveSpoolDirectory removes a spool root.
func (c *Client) RemoveSpoolDirectory(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/spool/directories?path="+url.QueryEscape(path), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
