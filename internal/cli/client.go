package cli

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

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/executor"
)

// APIError is a non-2xx answer from searchd.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("searchd returned %d: %s", e.StatusCode, e.Message)
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration, concurrency int) *client {
	if concurrency < 1 {
		concurrency = 1
	}
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        concurrency * 2,
				MaxIdleConnsPerHost: concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *client) searchURL(query string, limit int, fields []string) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	return c.base + "/api/v1/search?" + params.Encode()
}

func (c *client) search(ctx context.Context, query string, limit int, fields []string) (*executor.Result, error) {
	var out executor.Result
	if err := c.do(ctx, http.MethodGet, c.searchURL(query, limit, fields), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) index(ctx context.Context, doc any) (*ingestion.IndexResponse, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var out ingestion.IndexResponse
	if err := c.do(ctx, http.MethodPost, c.base+"/api/v1/documents", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// bulk sends docs as one stream of concatenated JSON objects.
func (c *client) bulk(ctx context.Context, docs []any) (*ingestion.BulkResponse, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encoding document: %w", err)
		}
	}
	var out ingestion.BulkResponse
	if err := c.do(ctx, http.MethodPost, c.base+"/api/v1/documents/_bulk", buf.Bytes(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) commit(ctx context.Context, op string) (*indexer.CommitOutcome, error) {
	var out indexer.CommitOutcome
	if err := c.do(ctx, http.MethodPost, c.base+"/api/v1/"+op, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) stats(ctx context.Context) (*indexer.Stats, error) {
	var out indexer.Stats
	if err := c.do(ctx, http.MethodGet, c.base+"/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
