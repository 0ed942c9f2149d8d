package noderuntime

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/execution"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/internal/wasmtest"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

func newTestEngine(t *testing.T, cfg Config, opts ...EngineOption) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), cfg, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	return engine
}

func minimalModule() []byte {
	b := wasmtest.New()
	b.AddI64Func("get_node", 0)
	b.AddRunFunc("run", 0)
	return b.Build()
}

func TestEngine_PrecompileAndStats(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig().WithModuleCacheMemoryEntries(2))

	wasm := minimalModule()
	hash := manifest.ContentHash(wasm)
	if err := engine.Precompile(context.Background(), hash, wasm); err != nil {
		t.Fatalf("Precompile failed: %v", err)
	}

	size, capacity := engine.GetCacheStats()
	if size != 1 {
		t.Errorf("expected cache size 1, got %d", size)
	}
	if capacity != 2 {
		t.Errorf("expected cache capacity 2, got %d", capacity)
	}

	// Cached: nil bytes must succeed now.
	if _, err := engine.GetOrCompile(context.Background(), hash, nil); err != nil {
		t.Errorf("expected cache hit with nil bytes, got %v", err)
	}

	engine.Invalidate(context.Background(), hash)
	size, _ = engine.GetCacheStats()
	if size != 0 {
		t.Errorf("expected cache size 0 after invalidation, got %d", size)
	}
}

func TestEngine_PrecompileValidation(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())

	if err := engine.Precompile(context.Background(), "", []byte{1}); err == nil {
		t.Error("expected error for empty content hash")
	}
	if err := engine.Precompile(context.Background(), "abc", nil); err == nil {
		t.Error("expected error for empty wasm bytes")
	}
}

func TestEngine_GetOrCompile_UnknownHashWithoutBytes(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())
	if _, err := engine.GetOrCompile(context.Background(), "deadbeef", nil); err == nil {
		t.Error("expected error when neither cache tier nor bytes can supply the module")
	}
}

func TestEngine_DiskTierSurvivesMemoryEviction(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig().WithModuleCacheMemoryEntries(1).WithModuleCacheDiskDir(dir)
	engine := newTestEngine(t, cfg)

	wasm := minimalModule()
	hash := manifest.ContentHash(wasm)
	if _, err := engine.GetOrCompile(context.Background(), hash, wasm); err != nil {
		t.Fatalf("first compile failed: %v", err)
	}

	// Evict the only in-memory entry by compiling something else.
	other := wasmtest.New()
	other.AddI64Func("get_nodes", 0)
	other.AddRunFunc("run", 0)
	otherBytes := other.Build()
	if _, err := engine.GetOrCompile(context.Background(), manifest.ContentHash(otherBytes), otherBytes); err != nil {
		t.Fatalf("second compile failed: %v", err)
	}

	// Memory miss, disk hit: nil bytes, payload store supplies them.
	if _, err := engine.GetOrCompile(context.Background(), hash, nil); err != nil {
		t.Errorf("expected disk-tier recovery, got %v", err)
	}
}

func TestEngine_GetOrCompile_UnwrapsComponent(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())

	component := wasmtest.WrapComponent(minimalModule())
	if _, err := engine.GetOrCompile(context.Background(), manifest.ContentHash(component), component); err != nil {
		t.Fatalf("expected embedded core module to compile, got %v", err)
	}

	// A component with no embedded core module is rejected, not compiled.
	empty := wasmtest.EmptyComponent()
	if _, err := engine.GetOrCompile(context.Background(), manifest.ContentHash(empty), empty); !errors.Is(err, execution.ErrComponentModelUnsupported) {
		t.Errorf("expected ErrComponentModelUnsupported, got %v", err)
	}
}

func TestEngine_InvalidConfigRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentInstances = -1
	if _, err := NewEngine(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected invalid config to be rejected")
	}
}

func TestEngine_RateLimiterSeam(t *testing.T) {
	limiter := &staticRateLimiter{allow: false}
	engine := newTestEngine(t, DefaultConfig(), WithRateLimiter(limiter))

	allowed, err := engine.RateLimiterAllow(context.Background(), "pkg-1")
	if err != nil {
		t.Fatalf("RateLimiterAllow failed: %v", err)
	}
	if allowed {
		t.Error("expected denial from the configured limiter")
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "pkg-1" {
		t.Errorf("expected the limiter to see key pkg-1, got %v", limiter.keys)
	}

	// No limiter configured means always allowed.
	open := newTestEngine(t, DefaultConfig())
	allowed, err = open.RateLimiterAllow(context.Background(), "pkg-1")
	if err != nil || !allowed {
		t.Errorf("expected default-allow, got %v %v", allowed, err)
	}
}
