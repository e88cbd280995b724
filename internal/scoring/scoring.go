// Package scoring turns raw pod metrics into the performance, risk and
// composite (XDN) scores. Every function is pure.
package scoring

import "math"

// Inputs are the already-known metrics a score is computed from. Uptime and
// CPUPercent are on a 0-100 scale, Latency is in milliseconds, Stake is an
// unbounded raw amount.
type Inputs struct {
	Uptime     float64
	Latency    float64
	CPUPercent float64
	Stake      float64
}

// Scores bundles the three derived values.
type Scores struct {
	Performance float64
	Risk        float64
	Composite   float64
}

// Performance = uptime*0.5 + max(0, 100-latency)*0.3 + (100-cpu)*0.2
func Performance(in Inputs) float64 {
	return in.Uptime*0.5 + latencyHeadroom(in.Latency)*0.3 + (100-in.CPUPercent)*0.2
}

// Risk = clamp((100-uptime)*0.4 + min(latency/100, 1)*40 + (cpu/100)*20, 0, 100)
func Risk(in Inputs) float64 {
	r := (100-in.Uptime)*0.4 + math.Min(in.Latency/100, 1)*40 + (in.CPUPercent/100)*20
	return clamp(r, 0, 100)
}

// Composite = stake*0.4 + uptime*0.3 + max(0, 100-latency)*0.2 + max(0, 100-risk)*0.1
//
// Stake is weighted without normalization, so a large stake dominates the
// other terms.
func Composite(in Inputs, risk float64) float64 {
	return in.Stake*0.4 + in.Uptime*0.3 + latencyHeadroom(in.Latency)*0.2 + math.Max(0, 100-risk)*0.1
}

// Compute returns all three scores for in.
func Compute(in Inputs) Scores {
	risk := Risk(in)
	return Scores{
		Performance: Performance(in),
		Risk:        risk,
		Composite:   Composite(in, risk),
	}
}

func latencyHeadroom(latency float64) float64 {
	return math.Max(0, 100-latency)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
