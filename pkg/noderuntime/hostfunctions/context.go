package hostfunctions

import "context"

type stateContextKey struct{}

// ContextWithState attaches state to ctx so host function closures — shared
// across every instance's imports — can recover the caller's own HostState
// without instance-specific registration.
func ContextWithState(ctx context.Context, state *HostState) context.Context {
	return context.WithValue(ctx, stateContextKey{}, state)
}

// StateFromContext recovers the HostState attached by ContextWithState. It
// panics if none is present: every host call runs inside an instance's
// store context, so a missing state is a wiring bug, not a guest input.
func StateFromContext(ctx context.Context) *HostState {
	state, ok := ctx.Value(stateContextKey{}).(*HostState)
	if !ok {
		panic("hostfunctions: no HostState in context")
	}
	return state
}
