// Package store is the client for the remote keyed-record API.
//
// The store holds exactly one record per user: a flat map of fields,
// with the large structured values (card bank, topic lists, color map)
// JSON-encoded into individual string fields. The API surface is
// narrow: get a record, partially update it, create one, or find one by
// the indexed user-id field.
//
// The client does no retrying; ordering and retry policy belong to the
// coordinator. It does classify failures so the coordinator can tell
// an authorization error (refresh the token once) from a transient one
// (backoff) from a terminal one (give up).
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Sentinel errors for failure classification.
var (
	// ErrUnauthorized marks a 401/403 response. The coordinator reacts
	// with a single token refresh.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)

// TokenProvider supplies the current bearer token per request.
type TokenProvider interface {
	Token() string
}

// Config configures a Client.
type Config struct {
	// BaseURL of the record API, e.g. "https://api.example.com/v1".
	BaseURL string

	// APIKey is the application-level key sent alongside the user token.
	APIKey string

	// Tokens supplies the per-user bearer token.
	Tokens TokenProvider

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Logger defaults to a stderr logger.
	Logger *log.Logger
}

// Client talks to the record API.
type Client struct {
	baseURL    string
	apiKey     string
	tokens     TokenProvider
	httpClient *http.Client
	logger     *log.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		tokens:     cfg.Tokens,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// GetRecord fetches a record's full field map.
func (c *Client) GetRecord(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return nil, fmt.Errorf("record id is required")
	}

	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	return coerceRecord(raw), nil
}

// UpdateRecord writes the given fields to a record. Fields absent from
// the map are left untouched by the store; callers wanting whole-record
// consistency use the coordinator's preserve-fields mode.
func (c *Client) UpdateRecord(ctx context.Context, id string, fields Record) error {
	if id == "" {
		return fmt.Errorf("record id is required")
	}
	return c.do(ctx, http.MethodPut, "/records/"+url.PathEscape(id), fields, nil)
}

// CreateRecord creates a new record and returns its id.
func (c *Client) CreateRecord(ctx context.Context, fields Record) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/records", fields, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create response carried no record id")
	}
	return resp.ID, nil
}

// FindRecordByUser looks up the user's record id via the indexed
// user-id field. Returns ErrNotFound when the user has no record yet.
func (c *Client) FindRecordByUser(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	filters := fmt.Sprintf(`[{"field":%q,"operator":"is","value":%q}]`, FieldUserID, userID)
	path := "/records?filters=" + url.QueryEscape(filters)

	var resp struct {
		Records []struct {
			ID string `json:"id"`
		} `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Records) == 0 {
		return "", ErrNotFound
	}
	return resp.Records[0].ID, nil
}

// do performs one HTTP exchange. No retries here.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w (status %d)", method, path, ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// coerceRecord flattens a decoded JSON object into the string field
// map. Non-string values (numbers, nested objects from other features)
// are re-encoded so preserve-fields can copy them forward verbatim.
func coerceRecord(raw map[string]any) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			rec[k] = t
		case nil:
			rec[k] = ""
		default:
			if data, err := json.Marshal(t); err == nil {
				rec[k] = string(data)
			}
		}
	}
	return rec
}
