// Package api is the REST client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4096

	requestIdHeader = "X-Request-Id"

	MetricRestErrors = "rest_errors"
)

// CredentialSource supplies the bearer token attached to each request.
type CredentialSource interface {
	Credential() (string, bool)
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	creds   CredentialSource
	log     zerolog.Logger
	stats   stats.StatsProvider
}

func NewClient(baseURL *url.URL, creds CredentialSource, logger zerolog.Logger, st stats.StatsProvider) *Client {
	st.RegisterMetric(MetricRestErrors)
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		creds:   creds,
		log:     logger,
		stats:   st,
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method string, body any, out any, path ...string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL.JoinPath(path...)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	reqId := newRequestId()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIdHeader, reqId)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := c.creds.Credential(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logger := c.log.With().Str("method", method).Str("path", u.Path).Str("request_id", reqId).Logger()

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.stats.Incr(MetricRestErrors)
		logger.Error().Err(err).Msg("request failed")
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	logger.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.stats.Incr(MetricRestErrors)
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug().Msg("empty response body")
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) *ApiError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		if eb.Message != "" {
			return newApiError(resp.StatusCode, eb.Message)
		}
		if eb.Error != "" {
			return newApiError(resp.StatusCode, eb.Error)
		}
	}
	return newApiError(resp.StatusCode, "")
}

func newRequestId() string {
	id, err := shortid.Generate()
	if err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return id
}
