package hostfunctions

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// hostModuleName is the single import module name every guest uses for the
// host-function surface.
const hostModuleName = "flow_like"

// Build registers the full capability-gated host-function surface under the
// "flow_like" module, once per Engine runtime. Per-call state travels
// through the context each invocation's store is instantiated with (see
// context.go), not through per-instance re-registration.
func Build(ctx context.Context, runtime wazero.Runtime) (api.Closer, error) {
	return runtime.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().WithFunc(wrapLog).Export("log").
		NewFunctionBuilder().WithFunc(wrapStorageRead).Export("storage_read").
		NewFunctionBuilder().WithFunc(wrapStorageWrite).Export("storage_write").
		NewFunctionBuilder().WithFunc(wrapStorageDelete).Export("storage_delete").
		NewFunctionBuilder().WithFunc(wrapStorageList).Export("storage_list").
		NewFunctionBuilder().WithFunc(wrapHTTPRequest).Export("http_request").
		NewFunctionBuilder().WithFunc(wrapVarGet).Export("var_get").
		NewFunctionBuilder().WithFunc(wrapVarSet).Export("var_set").
		NewFunctionBuilder().WithFunc(wrapCacheGet).Export("cache_get").
		NewFunctionBuilder().WithFunc(wrapCacheSet).Export("cache_set").
		NewFunctionBuilder().WithFunc(wrapOAuthToken).Export("oauth_token").
		NewFunctionBuilder().WithFunc(wrapStreamEmit).Export("stream_emit").
		NewFunctionBuilder().WithFunc(wrapA2UIApply).Export("a2ui_apply").
		NewFunctionBuilder().WithFunc(wrapModelInvoke).Export("model_invoke").
		NewFunctionBuilder().WithFunc(wrapHostAlloc).Export("host_alloc").
		NewFunctionBuilder().WithFunc(wrapHostFree).Export("host_free").
		Instantiate(ctx)
}

func wrapLog(ctx context.Context, mod api.Module, level, msgPtr, msgLen uint32) {
	hLog(ctx, mod, StateFromContext(ctx), level, msgPtr, msgLen)
}

func wrapStorageRead(ctx context.Context, mod api.Module, scopePtr, scopeLen, keyPtr, keyLen uint32) uint64 {
	return hStorageRead(ctx, mod, StateFromContext(ctx), scopePtr, scopeLen, keyPtr, keyLen)
}

func wrapStorageWrite(ctx context.Context, mod api.Module, scopePtr, scopeLen, keyPtr, keyLen, valPtr, valLen uint32) uint64 {
	return hStorageWrite(ctx, mod, StateFromContext(ctx), scopePtr, scopeLen, keyPtr, keyLen, valPtr, valLen)
}

func wrapStorageDelete(ctx context.Context, mod api.Module, scopePtr, scopeLen, keyPtr, keyLen uint32) uint64 {
	return hStorageDelete(ctx, mod, StateFromContext(ctx), scopePtr, scopeLen, keyPtr, keyLen)
}

func wrapStorageList(ctx context.Context, mod api.Module, scopePtr, scopeLen, prefixPtr, prefixLen uint32) uint64 {
	return hStorageList(ctx, mod, StateFromContext(ctx), scopePtr, scopeLen, prefixPtr, prefixLen)
}

func wrapHTTPRequest(ctx context.Context, mod api.Module, methodPtr, methodLen, urlPtr, urlLen, headersPtr, headersLen, bodyPtr, bodyLen uint32) uint64 {
	return hHTTPRequest(ctx, mod, StateFromContext(ctx), methodPtr, methodLen, urlPtr, urlLen, headersPtr, headersLen, bodyPtr, bodyLen)
}

func wrapVarGet(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint64 {
	return hVarGet(ctx, mod, StateFromContext(ctx), namePtr, nameLen)
}

func wrapVarSet(ctx context.Context, mod api.Module, namePtr, nameLen, valPtr, valLen uint32) uint64 {
	return hVarSet(ctx, mod, StateFromContext(ctx), namePtr, nameLen, valPtr, valLen)
}

func wrapCacheGet(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
	return hCacheGet(ctx, mod, StateFromContext(ctx), keyPtr, keyLen)
}

func wrapCacheSet(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen uint32, ttlSeconds int64) uint64 {
	return hCacheSet(ctx, mod, StateFromContext(ctx), keyPtr, keyLen, valPtr, valLen, ttlSeconds)
}

func wrapOAuthToken(ctx context.Context, mod api.Module, providerPtr, providerLen uint32) uint64 {
	return hOAuthToken(ctx, mod, StateFromContext(ctx), providerPtr, providerLen)
}

func wrapStreamEmit(ctx context.Context, mod api.Module, eventTypePtr, eventTypeLen, payloadPtr, payloadLen uint32) uint64 {
	return hStreamEmit(ctx, mod, StateFromContext(ctx), eventTypePtr, eventTypeLen, payloadPtr, payloadLen)
}

func wrapA2UIApply(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
	return hA2UIApply(ctx, mod, StateFromContext(ctx), reqPtr, reqLen)
}

func wrapModelInvoke(ctx context.Context, mod api.Module, modelIDPtr, modelIDLen, inputPtr, inputLen uint32) uint64 {
	return hModelInvoke(ctx, mod, StateFromContext(ctx), modelIDPtr, modelIDLen, inputPtr, inputLen)
}

func wrapHostAlloc(ctx context.Context, mod api.Module, length uint32) uint32 {
	return hHostAlloc(ctx, mod, StateFromContext(ctx), length)
}

func wrapHostFree(ctx context.Context, mod api.Module, ptr, length uint32) {
	hHostFree(ctx, mod, StateFromContext(ctx), ptr, length)
}
