// Package routingcache memoizes router selection per request shape.
//
// Every lookup first compares the cached generation's version with the
// store's current version. On mismatch the whole generation is dropped
// and replaced with an empty one; entries are never invalidated
// selectively. Hits touch only a sharded LRU, never the store lock.
package routingcache

import (
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/verkehr/internal/metrics"
	"github.com/wudi/verkehr/internal/router"
	"github.com/wudi/verkehr/internal/rule"
)

const (
	DefaultShards    = 16
	DefaultShardSize = 4096
)

// Source is the store the cache follows.
type Source interface {
	Version() uint64
	Table() *router.Table
}

type generation struct {
	version uint64
	shards  []*lru.Cache[string, *router.Resolution]
}

type Cache struct {
	src       Source
	shardSize int
	numShards int
	gen       atomic.Pointer[generation]
	group     singleflight.Group
	metrics   *metrics.Collector
}

type Option func(*Cache)

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithSize sets the number of shards and the capacity of each.
func WithSize(shards, perShard int) Option {
	return func(c *Cache) {
		if shards > 0 {
			c.numShards = shards
		}
		if perShard > 0 {
			c.shardSize = perShard
		}
	}
}

func New(src Source, opts ...Option) *Cache {
	c := &Cache{
		src:       src,
		numShards: DefaultShards,
		shardSize: DefaultShardSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.gen.Store(c.newGeneration(src.Version()))
	return c
}

func (c *Cache) newGeneration(version uint64) *generation {
	g := &generation{version: version, shards: make([]*lru.Cache[string, *router.Resolution], c.numShards)}
	for i := range g.shards {
		// only fails for a non-positive size
		g.shards[i], _ = lru.New[string, *router.Resolution](c.shardSize)
	}
	return g
}

// current returns the generation for version, replacing a stale one.
func (c *Cache) current(version uint64) *generation {
	for {
		g := c.gen.Load()
		if g.version == version {
			return g
		}
		if g.version > version {
			// a concurrent lookup already moved past the version we read
			return nil
		}
		if c.gen.CompareAndSwap(g, c.newGeneration(version)) {
			c.metrics.RecordCacheFlush()
		}
	}
}

// Lookup resolves the router for req on entrypoint, from the cache when
// the config version is unchanged since the entry was stored.
func (c *Cache) Lookup(entrypoint string, req *rule.Request) (*router.Resolution, error) {
	version := c.src.Version()
	g := c.current(version)
	key := Key(entrypoint, req)

	var shard *lru.Cache[string, *router.Resolution]
	if g != nil {
		shard = g.shards[xxhash.Sum64String(key)%uint64(len(g.shards))]
		if res, ok := shard.Get(key); ok {
			c.metrics.RecordCacheHit()
			return res, nil
		}
	}
	c.metrics.RecordCacheMiss()

	v, err, _ := c.group.Do(strconv.FormatUint(version, 10)+"\x00"+key, func() (any, error) {
		tbl := c.src.Table()
		res, err := tbl.Select(entrypoint, req)
		if err != nil {
			return nil, err
		}
		// never store a resolution under a generation it does not belong to
		if shard != nil && tbl.Version() == version {
			shard.Add(key, res)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*router.Resolution), nil
}

// Len reports the number of entries in the current generation.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.gen.Load().shards {
		n += s.Len()
	}
	return n
}

// Key derives the request-shape key: every input a rule can observe.
func Key(entrypoint string, req *rule.Request) string {
	var b strings.Builder
	b.Grow(len(entrypoint) + len(req.Method) + len(req.Host) + len(req.Path) + len(req.RawQuery) + 48)
	b.WriteString(entrypoint)
	b.WriteByte(0)
	b.WriteString(addrString(req.ClientIP))
	b.WriteByte(0)
	b.WriteString(req.Method)
	b.WriteByte(0)
	b.WriteString(req.Host)
	b.WriteByte(0)
	b.WriteString(req.Path)
	b.WriteByte(0)
	b.WriteString(req.RawQuery)
	return b.String()
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.Unmap().String()
}
