package aggregate

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gustycube/podwatch/internal/model"
	"github.com/gustycube/podwatch/internal/scoring"
	"github.com/gustycube/podwatch/internal/seeds"
)

// UptimeUnit is how a seed reports the uptime field.
type UptimeUnit string

const (
	UptimeSeconds UptimeUnit = "seconds"
	UptimePercent UptimeUnit = "percent"
)

// DefaultUptimeWindow is the span that 100% uptime is measured against when
// a seed reports seconds.
const DefaultUptimeWindow = 7 * 24 * time.Hour

// ParseUptimeUnit accepts "seconds", "percent" or "" (seconds).
func ParseUptimeUnit(s string) (UptimeUnit, error) {
	switch UptimeUnit(strings.ToLower(strings.TrimSpace(s))) {
	case "", UptimeSeconds:
		return UptimeSeconds, nil
	case UptimePercent:
		return UptimePercent, nil
	}
	return "", fmt.Errorf("unknown uptime unit %q (use seconds or percent)", s)
}

// uptime converts a raw reading to a 0-100 percentage and, when the reading
// was in seconds, the raw seconds.
func uptime(raw float64, unit UptimeUnit, window time.Duration) (pct float64, secs uint64) {
	if raw <= 0 || math.IsNaN(raw) {
		return 0, 0
	}
	if unit == UptimePercent {
		return math.Min(100, raw), 0
	}
	if window <= 0 {
		window = DefaultUptimeWindow
	}
	return math.Min(100, raw/window.Seconds()*100), uint64(raw)
}

// DisplayName is the reported name, else "pNode-" and the first eight
// characters of the pubkey.
func DisplayName(name, pubkey string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	if len(pubkey) > 8 {
		pubkey = pubkey[:8]
	}
	return "pNode-" + pubkey
}

// BuildRecord assembles the public record for one merged observation.
func BuildRecord(o seeds.Observation, loc model.Location, unit UptimeUnit, window time.Duration, now time.Time) model.NodeRecord {
	up, upSecs := uptime(o.Uptime, unit, window)

	latency := float64(o.RoundTrip) / float64(time.Millisecond)
	if o.LatencyMS != nil && *o.LatencyMS >= 0 {
		latency = *o.LatencyMS
	}

	var usage float64
	if o.StorageCommitted > 0 {
		usage = float64(o.StorageUsed) / float64(o.StorageCommitted) * 100
	}

	status := model.StatusInactive
	if up > 0 {
		status = model.StatusActive
	}

	lastSeen := now
	if o.LastSeenTimestamp > 0 {
		lastSeen = time.Unix(o.LastSeenTimestamp, 0).UTC()
	}

	s := scoring.Compute(scoring.Inputs{
		Uptime:     up,
		Latency:    latency,
		CPUPercent: o.CPUPercent,
		Stake:      o.Stake,
	})

	loc = loc.Normalize()
	return model.NodeRecord{
		ID:                  o.Pubkey,
		ExternalID:          o.Pubkey,
		Name:                DisplayName(o.Name, o.Pubkey),
		Status:              status,
		Uptime:              up,
		UptimeSeconds:       upSecs,
		Latency:             latency,
		StorageUsed:         o.StorageUsed,
		StorageCapacity:     o.StorageCommitted,
		StorageUsagePercent: usage,
		Location:            loc.Country,
		Region:              loc.Region,
		City:                loc.City,
		Lat:                 loc.Latitude,
		Lng:                 loc.Longitude,
		Timezone:            loc.Timezone,
		Performance:         s.Performance,
		RiskScore:           s.Risk,
		XDNScore:            s.Composite,
		Stake:               o.Stake,
		Rewards:             o.Rewards,
		CPUPercent:          o.CPUPercent,
		Version:             o.Version,
		IsPublic:            o.IsPublic,
		RPCPort:             o.RPCPort,
		Address:             o.Address,
		Seed:                o.Seed,
		LastSeen:            lastSeen,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
