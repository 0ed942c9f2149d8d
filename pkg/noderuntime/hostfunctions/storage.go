package hostfunctions

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// hStorageRead implements storage_read(scope_ptr, scope_len, key_ptr, key_len) -> i64.
func hStorageRead(ctx context.Context, mod api.Module, state *HostState, scopePtr, scopeLen, keyPtr, keyLen uint32) uint64 {
	if !state.Has(manifest.CapStorageRead) {
		return packErr(ErrCodeCapabilityDenied)
	}
	scope, ok := readArg(mod, scopePtr, scopeLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	key, ok := readArg(mod, keyPtr, keyLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Storage == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	value, err := state.Backends.Storage.Read(ctx, StorageScope(scope), string(key))
	if errors.Is(err, ErrNotFound) {
		return packErr(ErrCodeNotFound)
	}
	if err != nil {
		state.Logger.Error("storage_read failed", zap.Error(err), zap.String("key", string(key)))
		return packErr(ErrCodeUpstreamFailure)
	}
	return writeResult(ctx, mod, state, value)
}

// hStorageWrite implements storage_write(scope, key, value) -> i64.
func hStorageWrite(ctx context.Context, mod api.Module, state *HostState, scopePtr, scopeLen, keyPtr, keyLen, valPtr, valLen uint32) uint64 {
	if !state.Has(manifest.CapStorageWrite) {
		return packErr(ErrCodeCapabilityDenied)
	}
	scope, ok := readArg(mod, scopePtr, scopeLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	key, ok := readArg(mod, keyPtr, keyLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	value, ok := readArg(mod, valPtr, valLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Storage == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	if err := state.Backends.Storage.Write(ctx, StorageScope(scope), string(key), value); err != nil {
		state.Logger.Error("storage_write failed", zap.Error(err), zap.String("key", string(key)))
		return packErr(ErrCodeUpstreamFailure)
	}
	return packOK(0, 0)
}

// hStorageDelete implements storage_delete(scope, key) -> i64.
func hStorageDelete(ctx context.Context, mod api.Module, state *HostState, scopePtr, scopeLen, keyPtr, keyLen uint32) uint64 {
	if !state.Has(manifest.CapStorageWrite) {
		return packErr(ErrCodeCapabilityDenied)
	}
	scope, ok := readArg(mod, scopePtr, scopeLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	key, ok := readArg(mod, keyPtr, keyLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Storage == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	if err := state.Backends.Storage.Delete(ctx, StorageScope(scope), string(key)); err != nil {
		state.Logger.Error("storage_delete failed", zap.Error(err), zap.String("key", string(key)))
		return packErr(ErrCodeUpstreamFailure)
	}
	return packOK(0, 0)
}

// hStorageList implements storage_list(scope, prefix) -> i64, returning a
// JSON array of matching keys in lexicographic order.
func hStorageList(ctx context.Context, mod api.Module, state *HostState, scopePtr, scopeLen, prefixPtr, prefixLen uint32) uint64 {
	if !state.Has(manifest.CapStorageRead) {
		return packErr(ErrCodeCapabilityDenied)
	}
	scope, ok := readArg(mod, scopePtr, scopeLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	prefix, ok := readArg(mod, prefixPtr, prefixLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Storage == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	keys, err := state.Backends.Storage.List(ctx, StorageScope(scope), string(prefix))
	if err != nil {
		state.Logger.Error("storage_list failed", zap.Error(err), zap.String("prefix", string(prefix)))
		return packErr(ErrCodeUpstreamFailure)
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return packErr(ErrCodeHostInternal)
	}
	return writeResult(ctx, mod, state, data)
}
