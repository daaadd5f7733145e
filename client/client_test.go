package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-rescue-extract/config"
	"github.com/aluiziolira/go-rescue-extract/telemetry"
)

const (
	baseURL    = "http://rescue.test"
	loginURL   = baseURL + LoginPath
	reportPath = "/API/getReport_v2.aspx"
	reportURL  = baseURL + reportPath
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Username = "ops@example.test"
	cfg.Password = "secret"
	cfg.StartDate = "2018-10-01T00:00:00Z"
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config) (*Client, *httpmock.MockTransport, *[]time.Duration) {
	t.Helper()
	c, err := New(cfg, telemetry.New(nil, telemetry.NewMetrics()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport := httpmock.NewMockTransport()
	c.WithTransport(transport)

	sleeps := &[]time.Duration{}
	c.sleep = func(d time.Duration) {
		*sleeps = append(*sleeps, d)
	}
	return c, transport, sleeps
}

func loginResponder(body string, withCookie bool) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		if withCookie {
			resp.Header.Add("Set-Cookie", SessionCookie+"=abc123; Path=/; HttpOnly")
		}
		return resp, nil
	}
}

func TestLoginAndCookieReuse(t *testing.T) {
	c, transport, _ := newTestClient(t, testConfig())

	var gotQuery url.Values
	transport.RegisterResponder("GET", loginURL, func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.Query()
		return loginResponder("OK", true)(req)
	})
	transport.RegisterResponder("GET", reportURL, func(req *http.Request) (*http.Response, error) {
		cookie, err := req.Cookie(SessionCookie)
		if err != nil || cookie.Value != "abc123" {
			return httpmock.NewStringResponse(http.StatusForbidden, "no session"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "OK\n\nbody"), nil
	})

	for i := 0; i < 3; i++ {
		body, err := c.Request(context.Background(), http.MethodGet, reportPath, url.Values{"node": {"5"}})
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if body != "OK\n\nbody" {
			t.Fatalf("body=%q", body)
		}
	}

	if gotQuery.Get("email") != "ops@example.test" || gotQuery.Get("pwd") != "secret" {
		t.Fatalf("login query=%v", gotQuery)
	}
	if !c.Authenticated() {
		t.Fatalf("client should hold a session")
	}
	calls := transport.GetCallCountInfo()
	if got := calls["GET "+loginURL]; got != 1 {
		t.Fatalf("login calls=%d, want 1", got)
	}
	if got := calls["GET "+reportURL]; got != 3 {
		t.Fatalf("report calls=%d, want 3", got)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		withCookie bool
	}{
		{name: "invalid credentials", body: "INVALID", withCookie: false},
		{name: "invalid with cookie", body: "INVALID", withCookie: true},
		{name: "ok without cookie", body: "OK", withCookie: false},
		{name: "neither marker", body: "ERROR", withCookie: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, transport, _ := newTestClient(t, testConfig())
			transport.RegisterResponder("GET", loginURL, loginResponder(tt.body, tt.withCookie))
			transport.RegisterResponder("GET", reportURL, httpmock.NewStringResponder(http.StatusOK, "OK\n\n"))

			_, err := c.Request(context.Background(), http.MethodGet, reportPath, nil)
			var authErr ErrAuthentication
			if !errors.As(err, &authErr) {
				t.Fatalf("error=%v, want ErrAuthentication", err)
			}
			if c.Authenticated() {
				t.Fatalf("failed login must leave the session unauthenticated")
			}
			if got := transport.GetCallCountInfo()["GET "+reportURL]; got != 0 {
				t.Fatalf("report endpoint called %d times after failed login", got)
			}
			if ErrorLabel(err) != "authentication" {
				t.Fatalf("label=%q", ErrorLabel(err))
			}
		})
	}
}

func TestBackoffLadderExhausted(t *testing.T) {
	c, transport, sleeps := newTestClient(t, testConfig())
	transport.RegisterResponder("GET", loginURL, loginResponder("OK", true))
	transport.RegisterResponder("GET", reportURL, httpmock.NewStringResponder(http.StatusTooManyRequests, "slow down"))

	_, err := c.Request(context.Background(), http.MethodGet, reportPath, nil)
	var rateErr ErrRateLimitExceeded
	if !errors.As(err, &rateErr) {
		t.Fatalf("error=%v, want ErrRateLimitExceeded", err)
	}
	if rateErr.Backoff != 240*time.Second {
		t.Fatalf("failing backoff=%s, want 240s", rateErr.Backoff)
	}

	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Fatalf("sleeps=%v, want %v", *sleeps, want)
	}
	if got := transport.GetCallCountInfo()["GET "+reportURL]; got != 5 {
		t.Fatalf("attempts=%d, want 5", got)
	}
	if got := transport.GetCallCountInfo()["GET "+loginURL]; got != 1 {
		t.Fatalf("login calls=%d, want 1 (no re-login on failed requests)", got)
	}
	if requests, backoffs := c.Stats(); requests != 5 || backoffs != 4 {
		t.Fatalf("stats requests=%d backoffs=%d, want 5/4", requests, backoffs)
	}
}

func TestBackoffRecovers(t *testing.T) {
	c, transport, sleeps := newTestClient(t, testConfig())
	transport.RegisterResponder("GET", loginURL, loginResponder("OK", true))
	transport.RegisterResponder("POST", baseURL+"/API/setOutput.aspx",
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusTooManyRequests, ""),
			httpmock.NewStringResponse(http.StatusTooManyRequests, ""),
			httpmock.NewStringResponse(http.StatusTooManyRequests, ""),
			httpmock.NewStringResponse(http.StatusOK, "OK"),
		}),
	)

	body, err := c.Request(context.Background(), http.MethodPost, "/API/setOutput.aspx", url.Values{"output": {"XML"}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != "OK" {
		t.Fatalf("body=%q", body)
	}
	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Fatalf("sleeps=%v, want %v", *sleeps, want)
	}
}

func TestRequestErrorCarriesBody(t *testing.T) {
	c, transport, sleeps := newTestClient(t, testConfig())
	transport.RegisterResponder("GET", loginURL, loginResponder("OK", true))
	transport.RegisterResponder("GET", reportURL, httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := c.Request(context.Background(), http.MethodGet, reportPath, nil)
	var reqErr ErrRequest
	if !errors.As(err, &reqErr) {
		t.Fatalf("error=%v, want ErrRequest", err)
	}
	if reqErr.StatusCode != http.StatusInternalServerError || reqErr.Body != "boom" {
		t.Fatalf("unexpected error %+v", reqErr)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("non-429 errors must not back off, slept %v", *sleeps)
	}
}

func TestRequestHonoursCancelledContext(t *testing.T) {
	c, transport, _ := newTestClient(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Request(ctx, http.MethodGet, reportPath, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("error=%v, want context.Canceled", err)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("no request should be issued on a cancelled context")
	}
}

func TestErrorLabel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "rate limit", err: ErrRateLimitExceeded{}, expected: "rate_limit_exceeded"},
		{name: "request", err: ErrRequest{StatusCode: 500}, expected: "request"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection"},
		{name: "other", err: errors.New("some other error"), expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorLabel(tt.err); got != tt.expected {
				t.Fatalf("ErrorLabel(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}
