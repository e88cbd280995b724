package prpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const statsBody = `{"jsonrpc":"2.0","id":1,"result":{"pods":[
 {"address":"173.212.203.145:9001","is_public":true,"last_seen_timestamp":1765204349,"pubkey":"6PbJSbfG1","rpc_port":6000,"storage_committed":100000000000,"storage_usage_percent":0.5,"storage_used":500000000,"uptime":3600,"version":"0.7.3"},
 {"address":"10.0.0.2:9001","pubkey":null,"version":"0.7.3"},
 {"address":"161.97.97.41:9001","pubkey":"2kLmVjo9","version":"0.7.3","name":"alpha","latency_ms":12.5}
],"total_count":3}}`

func seedServer(t *testing.T, handler func(method string) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rpc" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		method := MethodPods
		if strings.Contains(string(body), MethodPodsWithStats) {
			method = MethodPodsWithStats
		}
		status, resp := handler(method)
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}))
}

func TestEndpoint(t *testing.T) {
	c := New(nil, 0)
	tests := map[string]string{
		"173.212.203.145":           "http://173.212.203.145:6000/rpc",
		"173.212.203.145:7000":      "http://173.212.203.145:7000/rpc",
		"seed.example.org":          "http://seed.example.org:6000/rpc",
		"http://127.0.0.1:8080":     "http://127.0.0.1:8080/rpc",
		"https://seed.example.org/": "https://seed.example.org/rpc",
		"http://127.0.0.1:8080/rpc": "http://127.0.0.1:8080/rpc",
		"2001:db8::1":               "http://[2001:db8::1]:6000/rpc",
	}
	for in, want := range tests {
		if got := c.Endpoint(in); got != want {
			t.Errorf("Endpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchPods_PrimaryMethod(t *testing.T) {
	srv := seedServer(t, func(method string) (int, string) {
		if method != MethodPodsWithStats {
			t.Errorf("fallback should not be called")
		}
		return http.StatusOK, statsBody
	})
	defer srv.Close()

	f, err := New(srv.Client(), 0).FetchPods(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Method != MethodPodsWithStats {
		t.Errorf("method = %s", f.Method)
	}
	if f.Elapsed <= 0 {
		t.Errorf("elapsed = %v", f.Elapsed)
	}
	pods := f.Pods
	if len(pods) != 2 {
		t.Fatalf("expected the pod without pubkey to be dropped, got %d pods", len(pods))
	}
	if pods[0].Pubkey != "6PbJSbfG1" || pods[0].StorageCommitted != 100000000000 || pods[0].Uptime != 3600 {
		t.Errorf("unexpected first pod: %+v", pods[0])
	}
	if pods[1].LatencyMS == nil || *pods[1].LatencyMS != 12.5 || pods[1].Name != "alpha" {
		t.Errorf("extension fields not decoded: %+v", pods[1])
	}
}

func TestFetchPods_FallsBackToSecondary(t *testing.T) {
	srv := seedServer(t, func(method string) (int, string) {
		if method == MethodPodsWithStats {
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"pods":[{"address":"1.2.3.4:9001","pubkey":"pk1","version":"0.6","last_seen_timestamp":1}],"total_count":1}}`
	})
	defer srv.Close()

	f, err := New(srv.Client(), 0).FetchPods(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Method != MethodPods || len(f.Pods) != 1 || f.Pods[0].Pubkey != "pk1" {
		t.Errorf("method=%s pods=%+v", f.Method, f.Pods)
	}
}

func TestFetchPods_ElapsedExcludesFailedPrimary(t *testing.T) {
	const primaryDelay = 300 * time.Millisecond
	srv := seedServer(t, func(method string) (int, string) {
		if method == MethodPodsWithStats {
			time.Sleep(primaryDelay)
			return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"pods":[{"address":"1.2.3.4:9001","pubkey":"pk1"}],"total_count":1}}`
	})
	defer srv.Close()

	f, err := New(srv.Client(), 0).FetchPods(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Method != MethodPods {
		t.Fatalf("method = %s", f.Method)
	}
	if f.Elapsed <= 0 || f.Elapsed >= primaryDelay {
		t.Errorf("elapsed = %v, want the fallback call only (< %v)", f.Elapsed, primaryDelay)
	}
}

func TestFetchPods_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"jsonrpc":"2.0",`},
		{"missing result", `{"jsonrpc":"2.0","id":1}`},
		{"null result", `{"jsonrpc":"2.0","id":1,"result":null}`},
		{"no pubkeys", `{"jsonrpc":"2.0","id":1,"result":{"pods":[{"address":"1.2.3.4:1"}],"total_count":1}}`},
		{"wrong result type", `{"jsonrpc":"2.0","id":1,"result":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := seedServer(t, func(string) (int, string) { return http.StatusOK, tt.body })
			defer srv.Close()

			_, err := New(srv.Client(), 0).FetchPods(context.Background(), srv.URL)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestFetchPods_HTTPError(t *testing.T) {
	srv := seedServer(t, func(string) (int, string) { return http.StatusServiceUnavailable, "" })
	defer srv.Close()

	if _, err := New(srv.Client(), 0).FetchPods(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 503")
	}
}

func TestCall_RPCError(t *testing.T) {
	srv := seedServer(t, func(string) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"busy"}}`
	})
	defer srv.Close()

	var out PodsResult
	err := New(srv.Client(), 0).Call(context.Background(), srv.URL, MethodPods, &out)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32000 {
		t.Errorf("expected RPCError, got %v", err)
	}
}
