package hostfunctions

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// Error codes returned in the high-bit-set i64 convention.
const (
	ErrCodeInvalidArgument  = 1
	ErrCodeCapabilityDenied = 2
	ErrCodeNotFound         = 3
	ErrCodeQuotaExceeded    = 4
	ErrCodeUpstreamFailure  = 5
	ErrCodeHostInternal     = 6
)

// packOK encodes a successful ptr/len result.
func packOK(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// packErr encodes an error code as a high-bit-set (negative) i64.
func packErr(code uint32) uint64 {
	return uint64(-int64(code))
}

// readArg reads a (ptr,len) argument pair from guest memory.
func readArg(mod api.Module, ptr, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	return mod.Memory().Read(ptr, length)
}

// writeResult allocates len(data) bytes in guest memory via state's
// allocator, writes data, and packs the result. Returns packErr(HostInternal)
// if allocation or the write fails.
func writeResult(ctx context.Context, mod api.Module, state *HostState, data []byte) uint64 {
	if len(data) == 0 {
		return packOK(0, 0)
	}
	if state.Allocator == nil {
		return packErr(ErrCodeHostInternal)
	}
	ptr, err := state.Allocator.Alloc(ctx, mod, uint32(len(data)))
	if err != nil {
		state.Logger.Warn("host function failed to allocate guest memory for result")
		return packErr(ErrCodeHostInternal)
	}
	if !mod.Memory().Write(ptr, data) {
		return packErr(ErrCodeHostInternal)
	}
	return packOK(ptr, uint32(len(data)))
}
