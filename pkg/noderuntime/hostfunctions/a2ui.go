package hostfunctions

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

type a2uiRequest struct {
	Op          string          `json:"op"`
	ComponentID string          `json:"component_id"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// hA2UIApply implements a2ui_apply(request_ptr, request_len) -> i64, the
// single entry point for the a2ui_* surface operations (add, remove, and
// update component, set data); the operation itself is
// named in the request's "op" field rather than by a separate export per
// verb, keeping the linker's import table fixed regardless of which
// operations a given guest language binding exposes.
func hA2UIApply(ctx context.Context, mod api.Module, state *HostState, reqPtr, reqLen uint32) uint64 {
	if !state.Has(manifest.CapA2UI) {
		return packErr(ErrCodeCapabilityDenied)
	}
	raw, ok := readArg(mod, reqPtr, reqLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	var req a2uiRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.A2UI == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	err := state.Backends.A2UI.Apply(ctx, state.RunID, A2UIOperation{
		Op:          req.Op,
		ComponentID: req.ComponentID,
		Data:        req.Data,
	})
	if err != nil {
		state.Logger.Error("a2ui_apply failed", zap.Error(err), zap.String("op", req.Op))
		return packErr(ErrCodeUpstreamFailure)
	}
	return packOK(0, 0)
}
