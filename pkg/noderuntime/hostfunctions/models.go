package hostfunctions

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// hModelInvoke implements model_invoke(model_id, input) -> i64. The host
// enforces a per-instance invocation allowance via state.modelLimiter before
// dispatching to the configured ModelInvoker; the allowance does not vary by
// tier.
func hModelInvoke(ctx context.Context, mod api.Module, state *HostState, modelIDPtr, modelIDLen, inputPtr, inputLen uint32) uint64 {
	if !state.Has(manifest.CapModels) {
		return packErr(ErrCodeCapabilityDenied)
	}
	modelID, ok := readArg(mod, modelIDPtr, modelIDLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	input, ok := readArg(mod, inputPtr, inputLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.modelLimiter != nil && !state.modelLimiter.Allow() {
		return packErr(ErrCodeQuotaExceeded)
	}
	if state.Backends.Models == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	output, err := state.Backends.Models.Invoke(ctx, string(modelID), input)
	if err != nil {
		state.Logger.Error("model_invoke failed", zap.Error(err), zap.String("model_id", string(modelID)))
		return packErr(ErrCodeUpstreamFailure)
	}
	return writeResult(ctx, mod, state, output)
}
