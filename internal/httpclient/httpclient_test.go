package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gustycube/podwatch/internal/circuitbreaker"
)

func TestResilientClient_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewResilientClient(srv.Client(), nil)
	resp, err := c.GetWithContext(context.Background(), "test", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestResilientClient_ServerErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewResilientClient(srv.Client(), nil)
	_, err := c.GetWithContext(context.Background(), "test", srv.URL)
	if got := GetHTTPStatusCode(err); got != http.StatusBadGateway {
		t.Errorf("expected 502 HTTPError, got %v", err)
	}
}

func TestResilientClient_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		Threshold:    2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
		Interval:     time.Minute,
	})
	c := NewResilientClient(srv.Client(), breakers)

	for i := 0; i < 2; i++ {
		_, _ = c.GetWithContext(context.Background(), "geo", srv.URL)
	}
	_, err := c.GetWithContext(context.Background(), "geo", srv.URL)
	if !errors.Is(err, circuitbreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
	if c.Stats()["geo"].State != "open" {
		t.Errorf("stats = %+v", c.Stats())
	}

	c.ResetBreaker("geo")
	_, err = c.GetWithContext(context.Background(), "geo", srv.URL)
	if GetHTTPStatusCode(err) != http.StatusTooManyRequests {
		t.Errorf("after reset expected upstream error, got %v", err)
	}
}
