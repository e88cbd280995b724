package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gustycube/podwatch/internal/circuitbreaker"
)

const userAgent = "podwatch/1.0"

func Default() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          256,
		MaxConnsPerHost:       64,
		MaxIdleConnsPerHost:   32,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   15 * time.Second,
	}
}

// ResilientClient wraps http.Client with a circuit breaker per upstream.
type ResilientClient struct {
	client   *http.Client
	breakers *circuitbreaker.Registry
}

// NewResilientClient creates a client. Nil arguments select Default() and a
// registry with circuitbreaker.DefaultConfig.
func NewResilientClient(client *http.Client, breakers *circuitbreaker.Registry) *ResilientClient {
	if client == nil {
		client = Default()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(nil)
	}
	return &ResilientClient{client: client, breakers: breakers}
}

// Do executes req through the breaker keyed by the request host.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	return c.DoNamed(req.URL.Host, req)
}

// DoNamed executes req through the breaker called name. Transport errors,
// 5xx and 429 responses count as failures; for those the body is closed and
// an *HTTPError is returned.
func (c *ResilientClient) DoNamed(name string, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	var resp *http.Response
	err := c.breakers.Execute(name, func() error {
		r, err := c.client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return &HTTPError{StatusCode: r.StatusCode, Status: r.Status}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetWithContext performs a GET request through the breaker called name.
func (c *ResilientClient) GetWithContext(ctx context.Context, name, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.DoNamed(name, req)
}

// Stats returns circuit breaker statistics for every upstream seen so far.
func (c *ResilientClient) Stats() map[string]circuitbreaker.Stats {
	return c.breakers.Stats()
}

// ResetBreaker resets the circuit breaker for name.
func (c *ResilientClient) ResetBreaker(name string) {
	c.breakers.Reset(name)
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %s", e.Status)
}

// GetHTTPStatusCode returns the HTTP status code from an HTTPError
func GetHTTPStatusCode(err error) int {
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.StatusCode
	}
	return 0
}
