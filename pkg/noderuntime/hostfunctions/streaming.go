package hostfunctions

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// hStreamEmit implements stream_emit(event_type, payload) -> i64. Emission is
// best-effort: the streaming layer applies its own tail-drop backpressure
//, so a full channel is not reported back to the guest as an
// error — only a missing Stream backend or state.StreamState==false is.
func hStreamEmit(ctx context.Context, mod api.Module, state *HostState, eventTypePtr, eventTypeLen, payloadPtr, payloadLen uint32) uint64 {
	if !state.Has(manifest.CapStreaming) {
		return packErr(ErrCodeCapabilityDenied)
	}
	if !state.StreamState {
		return packErr(ErrCodeInvalidArgument)
	}
	eventType, ok := readArg(mod, eventTypePtr, eventTypeLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	payload, ok := readArg(mod, payloadPtr, payloadLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.Stream == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	state.Backends.Stream.Emit(StreamEvent{
		RunID:     state.RunID,
		EventType: string(eventType),
		Payload:   payload,
	})
	return packOK(0, 0)
}
