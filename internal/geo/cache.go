package geo

import (
	"sync"

	"github.com/gustycube/podwatch/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache remembers resolved locations by host.
type Cache interface {
	Get(host string) (model.Location, bool)
	Set(host string, loc model.Location)
	Len() int
	Clear()
}

// MemoryCache keeps every location for the life of the process.
type MemoryCache struct {
	m sync.Map
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (c *MemoryCache) Get(host string) (model.Location, bool) {
	v, ok := c.m.Load(host)
	if !ok {
		return model.Location{}, false
	}
	return v.(model.Location), true
}

func (c *MemoryCache) Set(host string, loc model.Location) { c.m.Store(host, loc) }

func (c *MemoryCache) Len() int {
	n := 0
	c.m.Range(func(any, any) bool { n++; return true })
	return n
}

func (c *MemoryCache) Clear() { c.m.Clear() }

// LRUCache bounds the number of remembered hosts.
type LRUCache struct {
	c *lru.Cache[string, model.Location]
}

func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, model.Location](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{c: c}, nil
}

func (c *LRUCache) Get(host string) (model.Location, bool) { return c.c.Get(host) }
func (c *LRUCache) Set(host string, loc model.Location)    { c.c.Add(host, loc) }
func (c *LRUCache) Len() int                               { return c.c.Len() }
func (c *LRUCache) Clear()                                 { c.c.Purge() }
