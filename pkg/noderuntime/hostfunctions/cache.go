package hostfunctions

import (
	"context"
	"errors"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// hCacheGet implements cache_get(key_ptr, key_len) -> i64.
func hCacheGet(ctx context.Context, mod api.Module, state *HostState, keyPtr, keyLen uint32) uint64 {
	if !state.Has(manifest.CapCacheRead) {
		return packErr(ErrCodeCapabilityDenied)
	}
	key, ok := readArg(mod, keyPtr, keyLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Cache == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	value, found, err := state.Backends.Cache.Get(ctx, string(key))
	if err != nil && !errors.Is(err, ErrNotFound) {
		state.Logger.Error("cache_get failed", zap.Error(err), zap.String("key", string(key)))
		return packErr(ErrCodeUpstreamFailure)
	}
	if !found {
		return packErr(ErrCodeNotFound)
	}
	return writeResult(ctx, mod, state, value)
}

// hCacheSet implements cache_set(key, value, ttl_seconds) -> i64. ttl_seconds
// of 0 means "no expiry".
func hCacheSet(ctx context.Context, mod api.Module, state *HostState, keyPtr, keyLen, valPtr, valLen uint32, ttlSeconds int64) uint64 {
	if !state.Has(manifest.CapCacheWrite) {
		return packErr(ErrCodeCapabilityDenied)
	}
	key, ok := readArg(mod, keyPtr, keyLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	value, ok := readArg(mod, valPtr, valLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Cache == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if err := state.Backends.Cache.Set(ctx, string(key), value, ttl); err != nil {
		state.Logger.Error("cache_set failed", zap.Error(err), zap.String("key", string(key)))
		return packErr(ErrCodeUpstreamFailure)
	}
	return packOK(0, 0)
}
