package artifact

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"runcell/internal/observer"
	"runcell/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSizeMB bounds the in-memory tier when no size is configured.
const DefaultCacheSizeMB = 256

// CacheOptions configures a Cache.
type CacheOptions struct {
	MaxBytes int64
	Store    Store
	Metrics  observer.MetricsRecorder
	Now      func() time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	L2Hits    int64   `json:"l2Hits"`
	Entries   int     `json:"entries"`
	Bytes     int64   `json:"bytes"`
	MaxBytes  int64   `json:"maxBytes"`
	HitRate   float64 `json:"hitRate"`
}

type cacheEntry struct {
	key      string
	artifact *CompiledArtifact
}

type fetchResult struct {
	artifact *CompiledArtifact
	cached   bool
}

// Cache maps (source, compiler, options) to compiled artifacts. The memory
// tier is an LRU bounded by total artifact bytes; an optional Store backs it.
type Cache struct {
	compiler Compiler
	store    Store
	metrics  observer.MetricsRecorder
	now      func() time.Time
	maxBytes int64

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
	bytes int64

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	l2Hits    atomic.Int64
}

// NewCache creates a cache in front of compiler.
func NewCache(compiler Compiler, opts CacheOptions) *Cache {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultCacheSizeMB << 20
	}
	if opts.Metrics == nil {
		opts.Metrics = observer.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		compiler: compiler,
		store:    opts.Store,
		metrics:  opts.Metrics,
		now:      opts.Now,
		maxBytes: opts.MaxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Key identifies the artifact compiled from src by compiler under opts.
func Key(compiler string, src Source, opts CompileOptions) string {
	return compiler + "/" + opts.cacheKey() + "/" + src.Digest()
}

// Compiler returns the compiler behind the cache.
func (c *Cache) Compiler() Compiler {
	return c.compiler
}

// Get returns the artifact for src, compiling it on a miss. The bool reports
// whether the artifact came from either cache tier. Failed compiles are
// returned to every waiter and never stored.
func (c *Cache) Get(ctx context.Context, src Source, opts CompileOptions) (*CompiledArtifact, bool, error) {
	key := Key(c.compiler.Name(), src, opts)
	if !opts.UseCache {
		a, err := c.compile(ctx, key, src, opts)
		return a, false, err
	}

	if a, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.metrics.ObserveCompile(ctx, c.compiler.Name(), true, true, 0)
		return a, true, nil
	}
	c.misses.Add(1)

	// The shared compile outlives any one caller; a cancelled caller stops
	// waiting without failing the others.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if a, ok := c.lookup(key); ok {
			return fetchResult{artifact: a, cached: true}, nil
		}
		if a, ok := c.loadFromStore(shared, key); ok {
			c.insert(a)
			return fetchResult{artifact: a, cached: true}, nil
		}
		a, err := c.compile(shared, key, src, opts)
		if err != nil {
			return nil, err
		}
		c.insert(a)
		c.saveToStore(shared, a)
		return fetchResult{artifact: a}, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		res := r.Val.(fetchResult)
		return res.artifact, res.cached, nil
	}
}

func (c *Cache) compile(ctx context.Context, key string, src Source, opts CompileOptions) (*CompiledArtifact, error) {
	start := time.Now()
	out, err := c.compiler.Compile(ctx, src, opts)
	c.metrics.ObserveCompile(ctx, c.compiler.Name(), err == nil, false, time.Since(start))
	if err != nil {
		return nil, err
	}
	return NewCompiledArtifact(key, c.compiler.Name(), out, c.now()), nil
}

func (c *Cache) loadFromStore(ctx context.Context, key string) (*CompiledArtifact, bool) {
	if c.store == nil {
		return nil, false
	}
	a, ok, err := c.store.Load(ctx, key)
	if err != nil {
		logger.Warn(ctx, "artifact store load failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if ok {
		c.l2Hits.Add(1)
	}
	return a, ok
}

func (c *Cache) saveToStore(ctx context.Context, a *CompiledArtifact) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, a); err != nil {
		logger.Warn(ctx, "artifact store save failed", zap.String("key", a.Key()), zap.Error(err))
	}
}

func (c *Cache) lookup(key string) (*CompiledArtifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).artifact, true
}

func (c *Cache) insert(a *CompiledArtifact) {
	size := int64(a.Size())
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[a.Key()]; ok {
		c.order.MoveToFront(elem)
		return
	}
	c.items[a.Key()] = c.order.PushFront(&cacheEntry{key: a.Key(), artifact: a})
	c.bytes += size
	for c.bytes > c.maxBytes {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
	c.bytes -= int64(entry.artifact.Size())
	c.evictions.Add(1)
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries, bytes := len(c.items), c.bytes
	c.mu.Unlock()

	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		L2Hits:    c.l2Hits.Load(),
		Entries:   entries,
		Bytes:     bytes,
		MaxBytes:  c.maxBytes,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
