package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sonata-music/sonata/internal/config"
)

// Client talks to the music store REST backend.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *zap.Logger

	tokenMu sync.RWMutex
	token   string

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.API.Retries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = time.Duration(cfg.API.Timeout) * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil
	if cfg.Debug {
		retryClient.Logger = leveledLogger{logger.Sugar()}
	}

	limit := rate.Inf
	if rps := cfg.API.RateLimit.RequestsPerSecond; rps > 0 {
		limit = rate.Limit(rps)
	}
	burst := cfg.API.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.API.BaseURL, "/"),
		httpClient: retryClient,
		limiter:    rate.NewLimiter(limit, burst),
		userAgent:  cfg.API.UserAgent,
		logger:     logger,
		token:      cfg.API.Token,
	}

	logger.Debug("api client initialized",
		zap.String("base_url", c.baseURL),
		zap.Bool("authenticated", c.IsAuthenticated()))

	return c
}

// leveledLogger routes retryablehttp's logging into zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

func (c *Client) makeRequest(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, []byte, error) {
	startTime := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	n := c.requestCount.Add(1)
	log := c.logger.With(zap.String("method", method), zap.String("path", path), zap.Int64("request", n))

	// With the passthrough error handler a response that exhausted its
	// retries comes back together with the retry error; the response wins.
	resp, err := c.httpClient.Do(req)
	if resp == nil {
		c.errorCount.Add(1)
		log.Debug("request failed", zap.Duration("elapsed", time.Since(startTime)), zap.Error(err))
		return nil, nil, fmt.Errorf("do request: %w", err)
	}

	responseBody, readErr := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		log.Debug("failed to close response body", zap.Error(closeErr))
	}
	if readErr != nil {
		c.errorCount.Add(1)
		return resp, nil, fmt.Errorf("read response body: %w", readErr)
	}

	log.Debug("response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(startTime)))

	if resp.StatusCode >= 400 {
		c.errorCount.Add(1)
		return resp, responseBody, newAPIError(resp, responseBody)
	}

	return resp, responseBody, nil
}

// getJSON performs a GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	_, body, err := c.makeRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	return decodeBody(body, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	_, body, err := c.makeRequest(ctx, method, path, nil, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeBody(body, out)
}

func decodeBody(body []byte, out interface{}) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) GetStats() map[string]interface{} {
	requests := c.requestCount.Load()
	errs := c.errorCount.Load()
	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(errs) / float64(requests) * 100
	}
	return map[string]interface{}{
		"total_requests": requests,
		"error_count":    errs,
		"error_rate":     errorRate,
		"authenticated":  c.IsAuthenticated(),
	}
}
