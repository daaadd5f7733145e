// Package client owns the authenticated session against the reporting API.
// It knows nothing about report semantics.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aluiziolira/go-rescue-extract/config"
	"github.com/aluiziolira/go-rescue-extract/telemetry"
)

const (
	// LoginPath authenticates with email/pwd query parameters.
	LoginPath = "/API/login.aspx"
	// SessionCookie is the cookie the API issues on a successful login.
	SessionCookie = "ASP.NET_SessionId"

	responseKey = "response"
)

// Client issues requests one at a time through a synchronous colly collector.
type Client struct {
	cfg       *config.Config
	base      *url.URL
	collector *colly.Collector
	obs       *telemetry.Observer
	sleep     func(time.Duration)

	cookie   string
	requests int
	backoffs int
}

// New builds a client configured from cfg.
func New(cfg *config.Config, obs *telemetry.Observer) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if obs == nil {
		obs = telemetry.Nop()
	}

	options := []colly.CollectorOption{
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
	}
	if cfg.UserAgent != "" {
		options = append(options, colly.UserAgent(cfg.UserAgent))
	}
	collector := colly.NewCollector(options...)
	collector.SetRequestTimeout(cfg.Timeout)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.RequestDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}
	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
	})

	return &Client{
		cfg:       cfg,
		base:      parsed,
		collector: collector,
		obs:       obs,
		sleep:     time.Sleep,
	}, nil
}

// Stats returns the request attempts and backoff sleeps made so far.
func (c *Client) Stats() (requests, backoffs int) {
	return c.requests, c.backoffs
}

// WithTransport replaces the HTTP transport used by the collector.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.collector.WithTransport(rt)
}

// Authenticated reports whether a session cookie is held.
func (c *Client) Authenticated() bool {
	return c.cookie != ""
}

// Login establishes the session once per client. A body containing "OK" with
// a session cookie in the jar succeeds; "INVALID" or a missing cookie is an
// ErrAuthentication and is never retried.
func (c *Client) Login(ctx context.Context) error {
	if c.cookie != "" {
		return nil
	}

	ctx, span := c.obs.Tracer.Start(ctx, "client.Login")
	defer span.End()

	c.obs.Logger.InfoContext(ctx, "logging in", slog.String("url", c.endpoint(LoginPath, nil)))

	params := url.Values{
		"email": {c.cfg.Username},
		"pwd":   {c.cfg.Password},
	}
	start := time.Now()
	resp, err := c.do(http.MethodGet, c.endpoint(LoginPath, params))
	if err != nil {
		c.obs.Metrics.ObserveRequest("failure", time.Since(start))
		span.SetStatus(codes.Error, "login request failed")
		return ErrAuthentication{Err: err}
	}

	body := string(resp.Body)
	if strings.Contains(body, "OK") {
		c.cookie = c.sessionCookie()
	}
	if c.cookie == "" || strings.Contains(body, "INVALID") {
		c.cookie = ""
		c.obs.Metrics.ObserveRequest("failure", time.Since(start))
		span.SetStatus(codes.Error, "login rejected")
		return ErrAuthentication{Err: errors.New("failed to login, double check the provided credentials")}
	}

	c.obs.Metrics.ObserveRequest("success", time.Since(start))
	return nil
}

// Request sends method to path with params in the query string and returns
// the body. A 429 sleeps BaseBackoff, doubling on every consecutive 429; once
// the next backoff would exceed MaxBackoff the call fails with
// ErrRateLimitExceeded. Any other non-200 status is an ErrRequest.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values) (string, error) {
	backoff := c.cfg.BaseBackoff
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := c.Login(ctx); err != nil {
			return "", err
		}

		body, status, err := c.attempt(ctx, method, path, params)
		if err != nil {
			return "", err
		}

		switch {
		case status == http.StatusTooManyRequests:
			if backoff > c.cfg.MaxBackoff {
				return "", ErrRateLimitExceeded{Attempts: attempts, Backoff: backoff, Ceiling: c.cfg.MaxBackoff}
			}
			c.obs.Logger.WarnContext(ctx, "rate limited, backing off",
				slog.String("path", path),
				slog.Duration("backoff", backoff),
			)
			c.obs.Metrics.IncBackoff()
			c.backoffs++
			c.sleep(backoff)
			attempts++
			backoff *= 2
		case status != http.StatusOK:
			return "", ErrRequest{Method: method, Path: path, StatusCode: status, Body: body}
		default:
			return body, nil
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, params url.Values) (string, int, error) {
	ctx, span := c.obs.Tracer.Start(ctx, "client.Request")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)

	c.obs.Logger.InfoContext(ctx, "making request",
		slog.String("method", method),
		slog.String("url", c.endpoint(path, nil)),
	)

	c.requests++
	start := time.Now()
	resp, err := c.do(method, c.endpoint(path, params))
	if err != nil {
		c.obs.Metrics.ObserveRequest("failure", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return "", 0, fmt.Errorf("%s %s: %w", method, path, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusOK {
		c.obs.Metrics.ObserveRequest("success", time.Since(start))
	} else {
		c.obs.Metrics.ObserveRequest("failure", time.Since(start))
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return string(resp.Body), resp.StatusCode, nil
}

func (c *Client) do(method, target string) (*colly.Response, error) {
	rctx := colly.NewContext()
	if err := c.collector.Request(method, target, nil, rctx, nil); err != nil {
		return nil, err
	}
	resp, ok := rctx.GetAny(responseKey).(*colly.Response)
	if !ok {
		return nil, fmt.Errorf("no response captured for %s %s", method, target)
	}
	return resp, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

func (c *Client) sessionCookie() string {
	for _, cookie := range c.collector.Cookies(c.base.String()) {
		if cookie.Name == SessionCookie {
			return cookie.Value
		}
	}
	return ""
}
