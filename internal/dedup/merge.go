package dedup

import (
	"fmt"
	"strings"

	"github.com/gustycube/podwatch/internal/seeds"
)

// Policy decides which observation of a pod survives the merge.
type Policy string

const (
	// PolicyFirst keeps the observation from the earliest configured seed.
	PolicyFirst Policy = "first"
	// PolicyLatest keeps the observation with the newest last_seen
	// timestamp; ties keep the earlier seed.
	PolicyLatest Policy = "latest"
)

// ParsePolicy accepts "first", "latest" or "" (first).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFirst:
		return PolicyFirst, nil
	case PolicyLatest:
		return PolicyLatest, nil
	}
	return "", fmt.Errorf("unknown merge policy %q (use first or latest)", s)
}

// Stats describes one merge.
type Stats struct {
	Observations int
	Unique       int
	Duplicates   int
}

// Merge flattens per-seed results into one observation per pubkey. Results
// are walked in the order given (configured seed order) and observations in
// the order each seed reported them; the output is in first-seen order.
// Failed results contribute nothing.
func Merge(results []seeds.Result, policy Policy) ([]seeds.Observation, Stats) {
	var st Stats
	var out []seeds.Observation

	switch policy {
	case PolicyLatest:
		index := make(map[string]int)
		for _, r := range results {
			if !r.OK() {
				continue
			}
			for _, o := range r.Pods {
				st.Observations++
				if i, ok := index[o.Pubkey]; ok {
					st.Duplicates++
					if o.LastSeenTimestamp > out[i].LastSeenTimestamp {
						out[i] = o
					}
					continue
				}
				index[o.Pubkey] = len(out)
				out = append(out, o)
			}
		}
	default:
		seen := NewMemory()
		for _, r := range results {
			if !r.OK() {
				continue
			}
			for _, o := range r.Pods {
				st.Observations++
				if seen.Seen(o.Pubkey) {
					st.Duplicates++
					continue
				}
				out = append(out, o)
			}
		}
	}

	st.Unique = len(out)
	return out, st
}
