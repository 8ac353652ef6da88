package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/ValentinKolb/hKV/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// Client talks to one or more hKV servers. Requests are spread round-robin
// over the endpoints; a request that fails to reach a server is retried on
// the next endpoint.
type Client struct {
	endpoints  []string
	prefix     string
	http       *http.Client
	counter    atomic.Uint32
	retryCount int
}

// NewClient creates a client from the given configuration
func NewClient(config common.ClientConfig) (*Client, error) {
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}

	// Parse each server URL
	endpoints := make([]string, len(config.Endpoints))
	for i, endpoint := range config.Endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
		endpoints[i] = strings.TrimRight(parsed.String(), "/")
	}

	prefix := "/" + strings.Trim(config.Prefix, "/")
	if config.Prefix == "" {
		prefix = "/data"
	}

	conns := config.ConnectionsPerEndpoint
	if conns < 1 {
		conns = 1
	}

	return &Client{
		endpoints: endpoints,
		prefix:    strings.TrimRight(prefix, "/"),
		http: &http.Client{
			Timeout: time.Duration(config.TimeoutSecond) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: conns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryCount: config.RetryCount,
	}, nil
}

// Database returns a client bound to one database.
func (c *Client) Database(environment, name string) *Database {
	return &Database{
		c:    c,
		base: c.prefix + "/" + url.PathEscape(environment) + "/" + url.PathEscape(name) + "/",
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// do sends a request and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempts := c.retryCount
	if attempts < 1 {
		attempts = 1
	}
	first := c.counter.Add(1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		endpoint := c.endpoints[(first+uint32(i))%uint32(len(c.endpoints))]

		req, err := http.NewRequestWithContext(ctx, method, endpoint+target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			Logger.Debugf("request to %s failed (attempt %d/%d): %v", endpoint, i+1, attempts, err)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			Logger.Errorf("Failed to close response body: %v", closeErr)
		}
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, responseError(resp.StatusCode, data)
		}
		return data, nil
	}
	return nil, lastErr
}

// responseError converts an error response back into a store.Error.
func responseError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	code := store.RetCInternalError
	switch status {
	case http.StatusNotFound:
		code = store.RetCNotFound
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		code = store.RetCInvalidOperation
	case http.StatusMethodNotAllowed:
		code = store.RetCUnsupportedOperation
	case http.StatusConflict:
		code = store.RetCAborted
	}
	return store.Errorf(code, "http %d: %s", status, msg)
}
