package artifact_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"runcell/internal/artifact"

	"golang.org/x/sync/errgroup"
)

// fakeCompiler emits one class per file whose bytes are the file content.
// A file containing "error" fails the compile.
type fakeCompiler struct {
	calls atomic.Int64
	gate  chan struct{}
}

func (f *fakeCompiler) Name() string { return "fake" }

func (f *fakeCompiler) Compile(ctx context.Context, src artifact.Source, opts artifact.CompileOptions) (*artifact.CompileOutput, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := &artifact.CompileOutput{Classes: map[string][]byte{}}
	for _, path := range src.Paths() {
		content, _ := src.File(path)
		if strings.Contains(content, "error") {
			return nil, &artifact.CompileError{Diagnostics: []artifact.Diagnostic{{
				Severity: artifact.SeverityError,
				Location: artifact.Location{Source: path, Line: 1, Column: 1},
				Message:  "bad input",
			}}}
		}
		out.Classes[strings.TrimSuffix(path, ".cell")] = []byte(content)
	}
	return out, nil
}

func source(t *testing.T, content string) artifact.Source {
	t.Helper()
	src, err := artifact.NewSource(map[string]string{"Main.cell": content})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	return src
}

func TestCacheHitAndMiss(t *testing.T) {
	fc := &fakeCompiler{}
	c := artifact.NewCache(fc, artifact.CacheOptions{})
	ctx := context.Background()
	opts := artifact.DefaultCompileOptions()

	first, cached, err := c.Get(ctx, source(t, "hello"), opts)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cached {
		t.Fatalf("expected first get to compile")
	}
	second, cached, err := c.Get(ctx, source(t, "hello"), opts)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !cached || second != first {
		t.Fatalf("expected second get to return the cached artifact")
	}
	if fc.calls.Load() != 1 {
		t.Fatalf("expected one compile, got %d", fc.calls.Load())
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", stats.HitRate)
	}
	if stats.Bytes != int64(first.Size()) {
		t.Fatalf("expected %d bytes, got %d", first.Size(), stats.Bytes)
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	fc := &fakeCompiler{}
	c := artifact.NewCache(fc, artifact.CacheOptions{})
	opts := artifact.DefaultCompileOptions()

	for i := 0; i < 2; i++ {
		_, _, err := c.Get(context.Background(), source(t, "syntax error"), opts)
		var ce *artifact.CompileError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CompileError, got %v", err)
		}
		if len(ce.Diagnostics) != 1 || ce.Diagnostics[0].Location.Source != "Main.cell" {
			t.Fatalf("unexpected diagnostics: %+v", ce.Diagnostics)
		}
	}
	if fc.calls.Load() != 2 {
		t.Fatalf("expected failed compile to be retried, got %d calls", fc.calls.Load())
	}
	if c.Stats().Entries != 0 {
		t.Fatalf("expected no entries after failures")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	fc := &fakeCompiler{}
	// each artifact is len("Main") + 10 bytes
	c := artifact.NewCache(fc, artifact.CacheOptions{MaxBytes: 30})
	ctx := context.Background()
	opts := artifact.DefaultCompileOptions()

	get := func(content string) bool {
		t.Helper()
		_, cached, err := c.Get(ctx, source(t, content), opts)
		if err != nil {
			t.Fatalf("get %s: %v", content, err)
		}
		return cached
	}

	get("aaaaaaaaaa")
	get("bbbbbbbbbb")
	if !get("aaaaaaaaaa") {
		t.Fatalf("expected a to be cached")
	}
	get("cccccccccc")

	stats := c.Stats()
	if stats.Evictions != 1 || stats.Entries != 2 {
		t.Fatalf("unexpected stats after eviction: %+v", stats)
	}
	if !get("aaaaaaaaaa") {
		t.Fatalf("expected recently used a to survive")
	}
	if get("bbbbbbbbbb") {
		t.Fatalf("expected b to be evicted")
	}
}

func TestCacheSkipsOversizedArtifacts(t *testing.T) {
	fc := &fakeCompiler{}
	c := artifact.NewCache(fc, artifact.CacheOptions{MaxBytes: 8})

	a, cached, err := c.Get(context.Background(), source(t, "much too large"), artifact.DefaultCompileOptions())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cached || a == nil {
		t.Fatalf("expected a freshly compiled artifact")
	}
	if stats := c.Stats(); stats.Entries != 0 || stats.Evictions != 0 {
		t.Fatalf("expected oversized artifact not to be retained: %+v", stats)
	}
}

func TestCacheBypass(t *testing.T) {
	fc := &fakeCompiler{}
	c := artifact.NewCache(fc, artifact.CacheOptions{})
	opts := artifact.DefaultCompileOptions()
	opts.UseCache = false

	for i := 0; i < 2; i++ {
		_, cached, err := c.Get(context.Background(), source(t, "hello"), opts)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if cached {
			t.Fatalf("expected bypass to skip the cache")
		}
	}
	if fc.calls.Load() != 2 {
		t.Fatalf("expected two compiles, got %d", fc.calls.Load())
	}
	if stats := c.Stats(); stats.Entries != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("expected bypass to leave the cache untouched: %+v", stats)
	}
}

func TestCacheDeduplicatesConcurrentMisses(t *testing.T) {
	fc := &fakeCompiler{gate: make(chan struct{})}
	c := artifact.NewCache(fc, artifact.CacheOptions{})
	opts := artifact.DefaultCompileOptions()

	var started sync.WaitGroup
	var g errgroup.Group
	results := make([]*artifact.CompiledArtifact, 8)
	for i := range results {
		started.Add(1)
		g.Go(func() error {
			started.Done()
			a, _, err := c.Get(context.Background(), source(t, "shared"), opts)
			results[i] = a
			return err
		})
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(fc.gate)
	if err := g.Wait(); err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, a := range results {
		if a == nil || a != results[0] {
			t.Fatalf("expected every caller to share one artifact")
		}
	}
	if fc.calls.Load() != 1 {
		t.Fatalf("expected a single compile, got %d", fc.calls.Load())
	}
}

func TestCancelledCallerDoesNotFailSharedCompile(t *testing.T) {
	fc := &fakeCompiler{gate: make(chan struct{})}
	c := artifact.NewCache(fc, artifact.CacheOptions{})
	opts := artifact.DefaultCompileOptions()

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.Get(ctx, source(t, "shared"), opts)
		firstErr <- err
	}()
	for fc.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		a   *artifact.CompiledArtifact
		err error
	}
	second := make(chan result, 1)
	go func() {
		a, _, err := c.Get(context.Background(), source(t, "shared"), opts)
		second <- result{a, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to stop waiting, got %v", err)
	}
	close(fc.gate)

	res := <-second
	if res.err != nil || res.a == nil {
		t.Fatalf("expected the second caller to get the artifact, got %v", res.err)
	}
	if fc.calls.Load() != 1 {
		t.Fatalf("expected a single compile, got %d", fc.calls.Load())
	}
}
