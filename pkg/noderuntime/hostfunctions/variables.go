package hostfunctions

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// hVarGet implements var_get(name_ptr, name_len) -> i64, reading a variable
// scoped to the enclosing flow's current run.
func hVarGet(ctx context.Context, mod api.Module, state *HostState, namePtr, nameLen uint32) uint64 {
	if !state.Has(manifest.CapVariablesRead) {
		return packErr(ErrCodeCapabilityDenied)
	}
	name, ok := readArg(mod, namePtr, nameLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Variables == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	value, found, err := state.Backends.Variables.Get(ctx, state.RunID, string(name))
	if err != nil && !errors.Is(err, ErrNotFound) {
		state.Logger.Error("var_get failed", zap.Error(err), zap.String("name", string(name)))
		return packErr(ErrCodeUpstreamFailure)
	}
	if !found {
		return packErr(ErrCodeNotFound)
	}
	return writeResult(ctx, mod, state, value)
}

// hVarSet implements var_set(name_ptr, name_len, value_ptr, value_len) -> i64.
func hVarSet(ctx context.Context, mod api.Module, state *HostState, namePtr, nameLen, valPtr, valLen uint32) uint64 {
	if !state.Has(manifest.CapVariablesWrite) {
		return packErr(ErrCodeCapabilityDenied)
	}
	name, ok := readArg(mod, namePtr, nameLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	value, ok := readArg(mod, valPtr, valLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Variables == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	if err := state.Backends.Variables.Set(ctx, state.RunID, string(name), value); err != nil {
		state.Logger.Error("var_set failed", zap.Error(err), zap.String("name", string(name)))
		return packErr(ErrCodeUpstreamFailure)
	}
	return packOK(0, 0)
}
