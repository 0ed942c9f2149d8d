// Package execution implements the Core-ABI and Component-Model instance
// variants: instantiation, the ABI memory codec, node
// introspection, and run/trap-to-error translation.
package execution

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// Lifecycle manages compiled-module bookkeeping shared by both instance
// variants: compiling (delegated to the engine's cache in practice, but
// available standalone for precompilation/validation paths) and closing.
type Lifecycle struct {
	runtime wazero.Runtime
	logger  *zap.Logger
}

// NewLifecycle creates a Lifecycle bound to runtime.
func NewLifecycle(runtime wazero.Runtime, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{runtime: runtime, logger: logger}
}

// Compile compiles wasmBytes, failing loudly on empty input rather than
// handing wazero a zero-length module.
func (l *Lifecycle) Compile(ctx context.Context, contentHash string, wasmBytes []byte) (wazero.CompiledModule, error) {
	if len(wasmBytes) == 0 {
		return nil, fmt.Errorf("wasm bytes for %s are empty", contentHash)
	}
	compiled, err := l.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module %s: %w", contentHash, err)
	}
	l.logger.Debug("module compiled", zap.String("content_hash", contentHash), zap.Int("size_bytes", len(wasmBytes)))
	return compiled, nil
}

// Close closes a compiled module, logging rather than failing on error since
// callers are typically in a cleanup path already handling a primary error.
func (l *Lifecycle) Close(ctx context.Context, contentHash string, module wazero.CompiledModule) {
	if module == nil {
		return
	}
	if err := module.Close(ctx); err != nil {
		l.logger.Warn("failed to close compiled module", zap.String("content_hash", contentHash), zap.Error(err))
	}
}
