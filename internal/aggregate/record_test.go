package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/gustycube/podwatch/internal/model"
	"github.com/gustycube/podwatch/internal/prpc"
	"github.com/gustycube/podwatch/internal/scoring"
	"github.com/gustycube/podwatch/internal/seeds"
)

func TestUptime(t *testing.T) {
	week := DefaultUptimeWindow
	tests := []struct {
		name     string
		raw      float64
		unit     UptimeUnit
		wantPct  float64
		wantSecs uint64
	}{
		{"zero", 0, UptimeSeconds, 0, 0},
		{"negative", -5, UptimeSeconds, 0, 0},
		{"half window", week.Seconds() / 2, UptimeSeconds, 50, uint64(week.Seconds() / 2)},
		{"beyond window caps", week.Seconds() * 3, UptimeSeconds, 100, uint64(week.Seconds() * 3)},
		{"percent passthrough", 97.5, UptimePercent, 97.5, 0},
		{"percent capped", 140, UptimePercent, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, secs := uptime(tt.raw, tt.unit, week)
			if math.Abs(pct-tt.wantPct) > 1e-9 || secs != tt.wantSecs {
				t.Errorf("uptime(%v, %s) = %v, %d; want %v, %d", tt.raw, tt.unit, pct, secs, tt.wantPct, tt.wantSecs)
			}
		})
	}
}

func TestParseUptimeUnit(t *testing.T) {
	for in, want := range map[string]UptimeUnit{"": UptimeSeconds, "Seconds": UptimeSeconds, " percent ": UptimePercent} {
		got, err := ParseUptimeUnit(in)
		if err != nil || got != want {
			t.Errorf("ParseUptimeUnit(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseUptimeUnit("hours"); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct{ name, pubkey, want string }{
		{"alpha", "ABCDEFGHIJ", "alpha"},
		{"  ", "ABCDEFGHIJ", "pNode-ABCDEFGH"},
		{"", "abc", "pNode-abc"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.name, tt.pubkey); got != tt.want {
			t.Errorf("DisplayName(%q, %q) = %q, want %q", tt.name, tt.pubkey, got, tt.want)
		}
	}
}

func TestBuildRecord(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := seeds.Observation{
		Pod: prpc.Pod{
			Pubkey:            "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			Address:           "173.212.203.145:9001",
			Version:           "0.7.3",
			LastSeenTimestamp: 1767322800,
			StorageUsed:       250,
			StorageCommitted:  1000,
			Uptime:            99,
			IsPublic:          true,
			RPCPort:           6000,
			CPUPercent:        20,
			Stake:             5,
			Rewards:           1.5,
		},
		Seed:      "seed-1",
		RoundTrip: 42 * time.Millisecond,
	}
	loc := model.Location{Country: "Germany", City: "Nuremberg", Latitude: 49.45, Longitude: 11.07}

	r := BuildRecord(o, loc, UptimePercent, 0, now)

	if r.ID != o.Pubkey || r.ExternalID != o.Pubkey || r.Name != "pNode-9xQeWvG8" {
		t.Errorf("identity fields wrong: %+v", r)
	}
	if r.Status != model.StatusActive || r.Uptime != 99 {
		t.Errorf("status/uptime wrong: %s %v", r.Status, r.Uptime)
	}
	if r.Latency != 42 {
		t.Errorf("latency should fall back to round trip, got %v", r.Latency)
	}
	if r.StorageUsagePercent != 25 {
		t.Errorf("usage = %v, want 25", r.StorageUsagePercent)
	}
	if r.Location != "Germany" || r.Region != model.UnknownPlace || r.Timezone != model.DefaultTimezone || r.Lat != 49.45 {
		t.Errorf("location fields wrong: %+v", r)
	}
	want := scoring.Compute(scoring.Inputs{Uptime: 99, Latency: 42, CPUPercent: 20, Stake: 5})
	if r.Performance != want.Performance || r.RiskScore != want.Risk || r.XDNScore != want.Composite {
		t.Errorf("scores = %v/%v/%v, want %+v", r.Performance, r.RiskScore, r.XDNScore, want)
	}
	if !r.LastSeen.Equal(time.Unix(1767322800, 0)) || !r.CreatedAt.Equal(now) || !r.UpdatedAt.Equal(now) {
		t.Errorf("timestamps wrong: %v %v %v", r.LastSeen, r.CreatedAt, r.UpdatedAt)
	}
	if r.Seed != "seed-1" || !r.IsPublic || r.RPCPort != 6000 || r.Version != "0.7.3" {
		t.Errorf("passthrough fields wrong: %+v", r)
	}
}

func TestBuildRecord_EdgeCases(t *testing.T) {
	now := time.Now().UTC()
	lat := 7.5
	o := seeds.Observation{Pod: prpc.Pod{Pubkey: "pk", LatencyMS: &lat}}

	r := BuildRecord(o, model.Location{}, UptimeSeconds, 0, now)
	if r.Status != model.StatusInactive {
		t.Errorf("zero uptime should be inactive, got %s", r.Status)
	}
	if r.StorageUsagePercent != 0 {
		t.Errorf("zero capacity should give 0%% usage, got %v", r.StorageUsagePercent)
	}
	if r.Latency != 7.5 {
		t.Errorf("reported latency should win, got %v", r.Latency)
	}
	if !r.LastSeen.Equal(now) {
		t.Error("missing last_seen should default to now")
	}
	if r.Location != model.UnknownPlace {
		t.Errorf("empty location should normalise to sentinel, got %q", r.Location)
	}
}
