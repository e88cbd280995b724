package dedup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gustycube/podwatch/internal/prpc"
	"github.com/gustycube/podwatch/internal/seeds"
)

func result(seed string, idx int, pods ...prpc.Pod) seeds.Result {
	r := seeds.Result{Seed: seed, Index: idx}
	for _, p := range pods {
		r.Pods = append(r.Pods, seeds.Observation{Pod: p, Seed: seed, SeedIndex: idx})
	}
	return r
}

func TestMerge_FirstSeedWins(t *testing.T) {
	results := []seeds.Result{
		result("seedA", 0, prpc.Pod{Pubkey: "pk123", Uptime: 90, LastSeenTimestamp: 100}),
		result("seedB", 1, prpc.Pod{Pubkey: "pk123", Uptime: 50, LastSeenTimestamp: 200}),
	}

	merged, st := Merge(results, PolicyFirst)
	if len(merged) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(merged))
	}
	if merged[0].Seed != "seedA" || merged[0].Uptime != 90 {
		t.Errorf("expected seedA's observation, got %+v", merged[0])
	}
	if st.Observations != 2 || st.Unique != 1 || st.Duplicates != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestMerge_LatestPolicy(t *testing.T) {
	results := []seeds.Result{
		result("seedA", 0, prpc.Pod{Pubkey: "pk123", Uptime: 90, LastSeenTimestamp: 100}, prpc.Pod{Pubkey: "tie", LastSeenTimestamp: 5}),
		result("seedB", 1, prpc.Pod{Pubkey: "pk123", Uptime: 50, LastSeenTimestamp: 200}, prpc.Pod{Pubkey: "tie", LastSeenTimestamp: 5}),
	}

	merged, _ := Merge(results, PolicyLatest)
	if len(merged) != 2 {
		t.Fatalf("expected 2 records, got %d", len(merged))
	}
	if merged[0].Pubkey != "pk123" || merged[0].Seed != "seedB" {
		t.Errorf("expected the fresher observation, got %+v", merged[0])
	}
	if merged[1].Pubkey != "tie" || merged[1].Seed != "seedA" {
		t.Errorf("ties must keep the earlier seed, got %+v", merged[1])
	}
}

func TestMerge_PreservesFirstSeenOrder(t *testing.T) {
	results := []seeds.Result{
		result("s1", 0, prpc.Pod{Pubkey: "c"}, prpc.Pod{Pubkey: "a"}),
		result("s2", 1, prpc.Pod{Pubkey: "b"}, prpc.Pod{Pubkey: "a"}, prpc.Pod{Pubkey: "d"}),
	}
	for _, policy := range []Policy{PolicyFirst, PolicyLatest} {
		merged, _ := Merge(results, policy)
		var got string
		for _, o := range merged {
			got += o.Pubkey
		}
		if got != "cabd" {
			t.Errorf("%s: order = %q, want cabd", policy, got)
		}
	}
}

func TestMerge_SkipsFailedSeeds(t *testing.T) {
	failed := result("s2", 1, prpc.Pod{Pubkey: "ghost"})
	failed.Err = errors.New("timeout")

	merged, st := Merge([]seeds.Result{result("s1", 0, prpc.Pod{Pubkey: "a"}), failed}, PolicyFirst)
	if len(merged) != 1 || st.Observations != 1 {
		t.Errorf("failed seed leaked into merge: %+v", merged)
	}
}

func TestMerge_DisjointSets(t *testing.T) {
	var a, b []prpc.Pod
	for i := 0; i < 5; i++ {
		a = append(a, prpc.Pod{Pubkey: fmt.Sprintf("a%d", i)})
	}
	for i := 0; i < 7; i++ {
		b = append(b, prpc.Pod{Pubkey: fmt.Sprintf("b%d", i)})
	}
	down := seeds.Result{Seed: "s2", Index: 1, Err: errors.New("timeout")}

	merged, st := Merge([]seeds.Result{result("s1", 0, a...), down, result("s3", 2, b...)}, PolicyFirst)
	if len(merged) != 12 || st.Duplicates != 0 {
		t.Errorf("expected 12 unique records, got %d (%+v)", len(merged), st)
	}
}

func TestMerge_Empty(t *testing.T) {
	merged, st := Merge(nil, PolicyFirst)
	if len(merged) != 0 || st.Unique != 0 {
		t.Errorf("expected empty merge, got %v", merged)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{"": PolicyFirst, "first": PolicyFirst, "LATEST": PolicyLatest}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("random"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
