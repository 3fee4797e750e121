// Package eastmoney provides a client for the public eastmoney fund data
// endpoints: fundgz realtime estimates, pingzhongdata NAV history, push2
// exchange quotes and the mobile holdings API.
package eastmoney

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/metrics"
)

// flexFloat64 handles JSON values that may be either a number or a string.
// eastmoney sends "-" for suspended securities and "" for missing values.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" || s == "-" || s == "--" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	if string(data) == "null" {
		*f = 0
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultEstimateURL = "http://fundgz.1234567.com.cn"
	DefaultFundURL     = "http://fund.eastmoney.com"
	DefaultQuoteURL    = "http://push2.eastmoney.com"
	DefaultMobileURL   = "https://fundmobapi.eastmoney.com"
	DefaultTimeout     = 10 * time.Second
	DefaultRateLimit   = 20 // requests per second

	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second

	maxBodyBytes = 16 << 20 // the full fund list is a few MB
)

// Endpoint names double as circuit breaker and metric labels.
const (
	endpointEstimate = "estimate"
	endpointFund     = "fund"
	endpointQuote    = "quote"
	endpointMobile   = "mobile"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

// Client implements the FundDataClient interface
type Client struct {
	estimateURL string
	fundURL     string
	quoteURL    string
	mobileURL   string

	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	breakerFailures uint32
	breakerTimeout  time.Duration
	breakers        map[string]*gobreaker.CircuitBreaker
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL points every endpoint at one host, used by tests
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.estimateURL = baseURL
		c.fundURL = baseURL
		c.quoteURL = baseURL
		c.mobileURL = baseURL
	}
}

// WithURLs sets each endpoint host; empty values keep the default
func WithURLs(estimate, fund, quote, mobile string) ClientOption {
	return func(c *Client) {
		if estimate != "" {
			c.estimateURL = estimate
		}
		if fund != "" {
			c.fundURL = fund
		}
		if quote != "" {
			c.quoteURL = quote
		}
		if mobile != "" {
			c.mobileURL = mobile
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBreaker configures the per-endpoint circuit breakers: they open after
// failures consecutive failures and probe again after timeout.
func WithBreaker(failures int, timeout time.Duration) ClientOption {
	return func(c *Client) {
		if failures > 0 {
			c.breakerFailures = uint32(failures)
		}
		if timeout > 0 {
			c.breakerTimeout = timeout
		}
	}
}

// NewClient creates a new eastmoney client.
// No API key is required; these are public endpoints.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		estimateURL: DefaultEstimateURL,
		fundURL:     DefaultFundURL,
		quoteURL:    DefaultQuoteURL,
		mobileURL:   DefaultMobileURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:          common.NewSilentLogger(),
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breakers = make(map[string]*gobreaker.CircuitBreaker, 4)
	for _, name := range []string{endpointEstimate, endpointFund, endpointQuote, endpointMobile} {
		c.breakers[name] = c.newBreaker(name)
	}

	return c
}

// NewClientFromConfig builds a client from the [clients.eastmoney] section.
func NewClientFromConfig(cfg common.EastmoneyConfig, logger *common.Logger) *Client {
	return NewClient(
		WithURLs(cfg.EstimateURL, cfg.FundURL, cfg.QuoteURL, cfg.MobileURL),
		WithRateLimit(cfg.RateLimit),
		WithTimeout(cfg.GetTimeout()),
		WithBreaker(cfg.BreakerFailures, cfg.GetBreakerTimeout()),
		WithLogger(logger),
	)
}

func (c *Client) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := c.breakerFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eastmoney-" + name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 4xx means the request was wrong, not that the host is down
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eastmoney API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited, breaker-guarded GET and returns the body.
func (c *Client) get(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	out, err := c.breakers[endpoint].Execute(func() (interface{}, error) {
		return c.do(ctx, endpoint, reqURL)
	})
	elapsed := time.Since(start)
	metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "breaker_open"
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Dur("elapsed", elapsed).Msg("eastmoney request failed")
		return nil, err
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	c.logger.Debug().Str("endpoint", endpoint).Dur("elapsed", elapsed).Msg("eastmoney request")
	return out.([]byte), nil
}

func (c *Client) do(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	req.Header.Set("Referer", "http://fund.eastmoney.com/")
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Endpoint:   endpoint,
		}
	}

	return body, nil
}

// Ensure Client implements FundDataClient
var _ interfaces.FundDataClient = (*Client)(nil)
