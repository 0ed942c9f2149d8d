package hostfunctions

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// hOAuthToken implements oauth_token(provider_ptr, provider_len) -> i64,
// returning a short-lived token honouring the package's declared scopes
//. Scope enforcement against the manifest's oauth_scopes
// happened at load time (manifest.Validate); this call only checks the
// OAUTH capability bit.
func hOAuthToken(ctx context.Context, mod api.Module, state *HostState, providerPtr, providerLen uint32) uint64 {
	if !state.Has(manifest.CapOAuth) {
		return packErr(ErrCodeCapabilityDenied)
	}
	provider, ok := readArg(mod, providerPtr, providerLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Backends.OAuth == nil {
		return packErr(ErrCodeUpstreamFailure)
	}
	token, err := state.Backends.OAuth.Token(ctx, string(provider))
	if err != nil {
		state.Logger.Error("oauth_token failed", zap.Error(err), zap.String("provider", string(provider)))
		return packErr(ErrCodeUpstreamFailure)
	}
	return writeResult(ctx, mod, state, []byte(token))
}
