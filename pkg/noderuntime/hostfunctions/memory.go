package hostfunctions

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// hHostAlloc implements host_alloc(len) -> i32, used when the guest must
// receive host-produced buffers larger than the single-return convention
// permits. It is always permitted.
func hHostAlloc(ctx context.Context, mod api.Module, state *HostState, length uint32) uint32 {
	if state.Allocator == nil {
		return 0
	}
	ptr, err := state.Allocator.Alloc(ctx, mod, length)
	if err != nil {
		return 0
	}
	return ptr
}

// hHostFree implements host_free(ptr, len) -> (). It is a no-op unless the
// guest exports both alloc and dealloc: without alloc the bump allocator
// backs state.Allocator and frees nothing, and without dealloc the export
// allocator skips the call.
func hHostFree(ctx context.Context, mod api.Module, state *HostState, ptr, length uint32) {
	if freer, ok := state.Allocator.(interface {
		Free(ctx context.Context, mod api.Module, ptr, length uint32)
	}); ok {
		freer.Free(ctx, mod, ptr, length)
	}
}
