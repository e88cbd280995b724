// Package prpc is a minimal JSON-RPC 2.0 client for the pod RPC interface
// exposed by seed nodes.
package prpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	MethodPodsWithStats = "get-pods-with-stats"
	MethodPods          = "get-pods"

	DefaultPort = 6000

	maxBody = 32 << 20
)

var (
	// ErrMalformed marks a response that could not be trusted: bad JSON, a
	// missing result, or a result with no identifiable pods.
	ErrMalformed = errors.New("prpc: malformed response")
	ErrNoPods    = fmt.Errorf("%w: no pods with a pubkey", ErrMalformed)
)

// Pod is one seed's view of one pod.
type Pod struct {
	Address             string  `json:"address"`
	IsPublic            bool    `json:"is_public"`
	LastSeenTimestamp   int64   `json:"last_seen_timestamp"`
	Pubkey              string  `json:"pubkey"`
	RPCPort             int     `json:"rpc_port"`
	StorageCommitted    uint64  `json:"storage_committed"`
	StorageUsagePercent float64 `json:"storage_usage_percent"`
	StorageUsed         uint64  `json:"storage_used"`
	Uptime              float64 `json:"uptime"`
	Version             string  `json:"version"`

	// Extensions some seeds report.
	Name       string   `json:"name,omitempty"`
	LatencyMS  *float64 `json:"latency_ms,omitempty"`
	CPUPercent float64  `json:"cpu_percent,omitempty"`
	Stake      float64  `json:"stake,omitempty"`
	Rewards    float64  `json:"rewards,omitempty"`
}

// PodsResult is the result object of both pod methods.
type PodsResult struct {
	Pods       []Pod `json:"pods"`
	TotalCount int   `json:"total_count"`
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("prpc: rpc error %d: %s", e.Code, e.Message)
}

// Client talks to seeds. It is safe for concurrent use.
type Client struct {
	hc   *http.Client
	port int
}

// New returns a client. port is used for seeds configured without one.
func New(hc *http.Client, port int) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if port <= 0 {
		port = DefaultPort
	}
	return &Client{hc: hc, port: port}
}

// Endpoint returns the RPC URL for seed. Seeds may be given as "host",
// "host:port" or a full http(s) URL.
func (c *Client) Endpoint(seed string) string {
	seed = strings.TrimSpace(seed)
	if strings.HasPrefix(seed, "http://") || strings.HasPrefix(seed, "https://") {
		base := strings.TrimRight(seed, "/")
		if strings.HasSuffix(base, "/rpc") {
			return base
		}
		return base + "/rpc"
	}
	if _, _, err := net.SplitHostPort(seed); err == nil {
		return "http://" + seed + "/rpc"
	}
	return "http://" + net.JoinHostPort(strings.Trim(seed, "[]"), strconv.Itoa(c.port)) + "/rpc"
}

// Call invokes method on seed and decodes the result into out.
func (c *Client) Call(ctx context.Context, seed, method string, out any) error {
	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, ID: 1})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(seed), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("prpc: %s: http %d", method, resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 || bytes.Equal(r.Result, []byte("null")) {
		return fmt.Errorf("%w: missing result", ErrMalformed)
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Pods calls method and returns only the pods that carry a pubkey.
func (c *Client) Pods(ctx context.Context, seed, method string) ([]Pod, error) {
	var res PodsResult
	if err := c.Call(ctx, seed, method, &res); err != nil {
		return nil, err
	}
	pods := usable(res.Pods)
	if len(pods) == 0 {
		return nil, ErrNoPods
	}
	return pods, nil
}

// Fetch is one pod listing from a seed.
type Fetch struct {
	Pods   []Pod
	Method string
	// Elapsed is the round trip of the call that produced Pods only.
	Elapsed time.Duration
}

// FetchPods tries the stats method first and falls back to the plain list.
func (c *Client) FetchPods(ctx context.Context, seed string) (Fetch, error) {
	start := time.Now()
	pods, err := c.Pods(ctx, seed, MethodPodsWithStats)
	if err == nil {
		return Fetch{Pods: pods, Method: MethodPodsWithStats, Elapsed: time.Since(start)}, nil
	}
	if ctx.Err() != nil {
		return Fetch{}, err
	}
	start = time.Now()
	pods, err2 := c.Pods(ctx, seed, MethodPods)
	if err2 != nil {
		return Fetch{}, fmt.Errorf("%s: %v; %s: %w", MethodPodsWithStats, err, MethodPods, err2)
	}
	return Fetch{Pods: pods, Method: MethodPods, Elapsed: time.Since(start)}, nil
}

func usable(pods []Pod) []Pod {
	out := pods[:0]
	for _, p := range pods {
		p.Pubkey = strings.TrimSpace(p.Pubkey)
		if p.Pubkey == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
