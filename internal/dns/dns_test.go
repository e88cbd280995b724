package dns

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestSplitHost(t *testing.T) {
	tests := map[string]string{
		"173.212.203.145:9001": "173.212.203.145",
		"173.212.203.145":      "173.212.203.145",
		"[2001:db8::1]:6000":   "2001:db8::1",
		"2001:db8::1":          "2001:db8::1",
		"seed.example.org:80":  "seed.example.org",
		"  10.0.0.1  ":         "10.0.0.1",
		"":                     "",
	}
	for in, want := range tests {
		if got := SplitHost(in); got != want {
			t.Errorf("SplitHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveIP_Literal(t *testing.T) {
	ip, err := ResolveIP(context.Background(), "8.8.8.8:6000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ip.Equal(net.ParseIP("8.8.8.8")) {
		t.Errorf("got %v", ip)
	}
}

func TestResolveIP_Localhost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ip, err := ResolveIP(ctx, "localhost")
	if err != nil {
		t.Skipf("localhost does not resolve here: %v", err)
	}
	if !ip.IsLoopback() {
		t.Errorf("expected loopback, got %v", ip)
	}
}

func TestResolveIP_Empty(t *testing.T) {
	if _, err := ResolveIP(context.Background(), ""); err == nil {
		t.Error("expected error for empty host")
	}
}

func TestResolveIP_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ResolveIP(ctx, "this-domain-definitely-does-not-exist-123456789.com"); err == nil {
		t.Error("expected an error with cancelled context")
	}
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"8.8.8.8", true},
		{"173.212.203.145", true},
		{"10.1.2.3", false},
		{"192.168.0.10", false},
		{"172.16.5.4", false},
		{"127.0.0.1", false},
		{"0.0.0.0", false},
		{"169.254.1.1", false},
		{"::1", false},
		{"fd00::1", false},
		{"2001:4860:4860::8888", true},
	}
	for _, tt := range tests {
		if got := IsPublic(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsPublic(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
	if IsPublic(nil) {
		t.Error("nil ip must not be public")
	}
}
