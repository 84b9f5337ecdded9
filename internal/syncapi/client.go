package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/cache"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	recordsCacheKey = "records:%s:%d:%d"
	recordsCacheTTL = 5 * time.Minute
)

var ErrNoToken = errors.New("no access token")

// FetchError reports a failed category fetch.
type FetchError struct {
	Category   types.Category
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Category, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubmitError reports a rejected batch. Batches are all-or-nothing.
type SubmitError struct {
	StatusCode int
	Err        error
}

func (e *SubmitError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submit batch: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submit batch: %v", e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

type TokenSource interface {
	AccessToken() (string, bool)
}

type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	cache   *cache.Store
	logger  *logrus.Logger
}

type recordsResponse struct {
	Records []types.Record `json:"records"`
}

func NewClient(logger *logrus.Logger, baseURL string, tokens TokenSource, store *cache.Store) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		tokens: tokens,
		cache:  store,
		logger: logger,
	}
}

// WithTimeout overrides the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.client.Timeout = d
	}
	return c
}

// FetchCategory returns the records of one category in [from, to). Results
// are memoized in the cache store for a few minutes.
func (c *Client) FetchCategory(ctx context.Context, category types.Category, from, to time.Time) ([]types.Record, error) {
	key := fmt.Sprintf(recordsCacheKey, category, from.Unix(), to.Unix())
	if !c.cache.IsExpired(key, recordsCacheTTL) {
		if records, ok := cache.Get[[]types.Record](c.cache, key); ok {
			c.logger.WithField("category", category).Debug("Found cached records")
			return records, nil
		}
	}

	query := url.Values{}
	query.Set("category", string(category))
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/records?"+query.Encode(), nil)
	if err != nil {
		return nil, &FetchError{Category: category, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Category: category, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Category: category, StatusCode: resp.StatusCode, Err: readError(resp.Body)}
	}

	var body recordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &FetchError{Category: category, Err: fmt.Errorf("failed to decode records: %w", err)}
	}

	c.cache.Store(key, body.Records)

	c.logger.WithFields(logrus.Fields{
		"category": category,
		"records":  len(body.Records),
	}).Debug("Fetched records")
	return body.Records, nil
}

func (c *Client) SubmitBatch(ctx context.Context, batch types.Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return &SubmitError{Err: fmt.Errorf("failed to encode batch: %w", err)}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/records/batch", bytes.NewReader(payload))
	if err != nil {
		return &SubmitError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &SubmitError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SubmitError{StatusCode: resp.StatusCode, Err: readError(resp.Body)}
	}

	c.logger.WithField("records", len(batch.Records)).Info("Submitted record batch")
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	token, ok := c.tokens.AccessToken()
	if !ok {
		return nil, ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func readError(r io.Reader) error {
	msg, _ := io.ReadAll(io.LimitReader(r, 512))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		text = "empty response"
	}
	return errors.New(text)
}
