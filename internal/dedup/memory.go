package dedup

import "sync"

// Interface answers "has this identity been seen before", recording it on
// first sight.
type Interface interface {
	Seen(key string) bool
}

type Memory struct{ m sync.Map }

func NewMemory() *Memory { return &Memory{} }

func (d *Memory) Seen(key string) bool {
	_, ok := d.m.LoadOrStore(key, struct{}{})
	return ok
}
