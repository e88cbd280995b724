package directory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gustycube/podwatch/internal/model"
)

// Filter narrows the node directory. Page is 0-based.
type Filter struct {
	Status   string
	Location string
	Region   string
	Page     int
	Limit    int
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
	MaxPage      = 1_000_000
)

// NodePage is one page of the filtered directory.
type NodePage struct {
	Nodes      []model.NodeRecord `json:"pnodes"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	Total      int                `json:"total"`
	TotalPages int                `json:"totalPages"`
}

func (f Filter) match(r model.NodeRecord) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Location != "" && !containsFold(r.Location, f.Location) {
		return false
	}
	if f.Region != "" && !containsFold(r.Region, f.Region) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func paginate(all []model.NodeRecord, f Filter) NodePage {
	matched := make([]model.NodeRecord, 0, len(all))
	for _, r := range all {
		if f.match(r) {
			matched = append(matched, r)
		}
	}
	p := NodePage{Page: f.Page, Limit: f.Limit, Total: len(matched)}
	p.TotalPages = (p.Total + f.Limit - 1) / f.Limit

	if f.Page >= p.TotalPages {
		p.Nodes = []model.NodeRecord{}
		return p
	}
	start := f.Page * f.Limit
	end := min(start+f.Limit, len(matched))
	p.Nodes = matched[start:end]
	return p
}

// sortKeys maps a leaderboard sort key to its value and direction.
var sortKeys = map[string]struct {
	value     func(model.NodeRecord) float64
	ascending bool
}{
	"xdnScore":    {func(r model.NodeRecord) float64 { return r.XDNScore }, false},
	"uptime":      {func(r model.NodeRecord) float64 { return r.Uptime }, false},
	"latency":     {func(r model.NodeRecord) float64 { return r.Latency }, true},
	"rewards":     {func(r model.NodeRecord) float64 { return r.Rewards }, false},
	"stake":       {func(r model.NodeRecord) float64 { return r.Stake }, false},
	"performance": {func(r model.NodeRecord) float64 { return r.Performance }, false},
	"riskScore":   {func(r model.NodeRecord) float64 { return r.RiskScore }, true},
}

// SortKeys lists the accepted leaderboard sort keys.
func SortKeys() []string {
	keys := make([]string, 0, len(sortKeys))
	for k := range sortKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rank(all []model.NodeRecord, sortBy string, limit int) []model.RankedNode {
	key := sortKeys[sortBy]
	sorted := make([]model.NodeRecord, len(all))
	copy(sorted, all)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := key.value(sorted[i]), key.value(sorted[j])
		if key.ascending {
			return a < b
		}
		return a > b
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]model.RankedNode, len(sorted))
	for i, r := range sorted {
		out[i] = model.RankedNode{Rank: i + 1, NodeRecord: r}
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func computeStats(all []model.NodeRecord, fetch time.Duration, now time.Time) model.NetworkStats {
	st := model.NetworkStats{
		TotalNodes: len(all),
		FetchTime:  fetch.Seconds(),
		Timestamp:  now,
	}
	var latency, uptime float64
	for _, r := range all {
		if r.Active() {
			st.ActiveNodes++
		}
		if r.IsPublic {
			st.PublicNodes++
		}
		latency += r.Latency
		uptime += r.Uptime
		st.TotalRewards += r.Rewards
		st.TotalStake += r.Stake
		st.TotalStorage += r.StorageCapacity
		st.UsedStorage += r.StorageUsed
	}
	st.InactiveNodes = st.TotalNodes - st.ActiveNodes
	st.PrivateNodes = st.TotalNodes - st.PublicNodes
	if st.TotalNodes == 0 {
		return st
	}

	n := float64(st.TotalNodes)
	activeRatio := float64(st.ActiveNodes) / n
	st.AverageLatency = round2(latency / n)
	st.AverageUptime = round2(uptime / n)
	st.NetworkHealth = round2(math.Min(activeRatio*80+math.Max(0, 100-latency/n)*0.2, 100))
	st.ValidationRate = activeRatio * 100
	st.TotalRewards = round2(st.TotalRewards)
	return st
}

// Heatmap is the per-country rollup.
type Heatmap struct {
	Entries        []model.HeatmapEntry `json:"heatmap"`
	TotalCountries int                  `json:"totalCountries"`
	TotalNodes     int                  `json:"totalNodes"`
	Timestamp      time.Time            `json:"timestamp"`
}

var flags = map[string]string{
	"United States":    "🇺🇸",
	"United Kingdom":   "🇬🇧",
	"Germany":          "🇩🇪",
	"France":           "🇫🇷",
	"Canada":           "🇨🇦",
	"Japan":            "🇯🇵",
	"Australia":        "🇦🇺",
	"India":            "🇮🇳",
	"Singapore":        "🇸🇬",
	"Netherlands":      "🇳🇱",
	"Finland":          "🇫🇮",
	model.UnknownPlace: "❓",
}

func flag(country string) string {
	if f, ok := flags[country]; ok {
		return f
	}
	return "🌍"
}

// UptimeColor buckets an average uptime into the heatmap palette.
func UptimeColor(uptime float64) string {
	switch {
	case uptime >= 99.5:
		return "#00d084"
	case uptime >= 99:
		return "#3b82f6"
	case uptime >= 98:
		return "#fbbf24"
	case uptime >= 97:
		return "#f97316"
	}
	return "#ef4444"
}

func computeHeatmap(all []model.NodeRecord, now time.Time) Heatmap {
	type acc struct {
		count  int
		uptime float64
	}
	byCountry := make(map[string]*acc)
	for _, r := range all {
		c := r.Location
		if c == "" {
			c = model.UnknownPlace
		}
		a, ok := byCountry[c]
		if !ok {
			a = &acc{}
			byCountry[c] = a
		}
		a.count++
		a.uptime += r.Uptime
	}

	entries := make([]model.HeatmapEntry, 0, len(byCountry))
	for country, a := range byCountry {
		avg := a.uptime / float64(a.count)
		entries = append(entries, model.HeatmapEntry{
			Country:   country,
			Count:     a.count,
			AvgUptime: round2(avg),
			Flag:      flag(country),
			Color:     UptimeColor(avg),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Country < entries[j].Country
	})
	return Heatmap{Entries: entries, TotalCountries: len(entries), TotalNodes: len(all), Timestamp: now}
}
