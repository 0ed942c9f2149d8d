// Package hostfunctions implements the capability-gated host-function
// surface guests import under the "flow_like" module name.
// Every exported host call performs, in order: capability check, argument
// decoding from guest linear memory, side effect, result encoding.
package hostfunctions

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// ErrNotFound is returned by storage/cache/variable backends for a missing key.
var ErrNotFound = errors.New("not found")

// StorageScope names one of the storage partitions a package may touch
//.
type StorageScope string

const (
	ScopeNodeGlobal StorageScope = "node_global"
	ScopeNodeUser   StorageScope = "node_user"
	ScopeUserGlobal StorageScope = "user_global"
	ScopeApp        StorageScope = "app"
	ScopeUpload     StorageScope = "upload"
	ScopeCache      StorageScope = "cache"
)

// StorageBackend is the durable key/value store behind storage_* host calls.
// A host application wires in its own implementation (file system, object
// store, database); this runtime only defines the seam.
type StorageBackend interface {
	Read(ctx context.Context, scope StorageScope, key string) ([]byte, error)
	Write(ctx context.Context, scope StorageScope, key string, value []byte) error
	Delete(ctx context.Context, scope StorageScope, key string) error
	List(ctx context.Context, scope StorageScope, prefix string) ([]string, error)
}

// VariableStore backs var_get/var_set, isolated per run.
type VariableStore interface {
	Get(ctx context.Context, runID, name string) ([]byte, bool, error)
	Set(ctx context.Context, runID, name string, value []byte) error
}

// CacheStore backs cache_get/cache_set: key-local, best-effort, no
// cross-instance ordering guarantees.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// OAuthProvider issues short-lived tokens for oauth_token.
type OAuthProvider interface {
	Token(ctx context.Context, provider string) (string, error)
}

// ModelInvoker dispatches model_invoke calls to a model provider;
// the per-instance allowance itself is enforced here via a rate.Limiter, not by
// the invoker.
type ModelInvoker interface {
	Invoke(ctx context.Context, modelID string, input []byte) ([]byte, error)
}

// StreamEvent is one event emitted through stream_emit or by the runtime
// itself (e.g. StreamingDegraded), forwarded to the streaming package.
type StreamEvent struct {
	RunID     string
	EventType string
	Payload   []byte
}

// StreamEmitter forwards StreamEvents into the per-run ordered event channel
//. Implementations must never block the guest for long; they are
// expected to apply their own backpressure policy internally.
type StreamEmitter interface {
	Emit(event StreamEvent)
}

// A2UIOperation is a single mutation of the current UI surface.
type A2UIOperation struct {
	Op         string // add_component | remove_component | update_component | set_data
	ComponentID string
	Data       []byte
}

// A2UISurface applies A2UIOperations against the flow's current UI surface.
type A2UISurface interface {
	Apply(ctx context.Context, runID string, op A2UIOperation) error
}

// Allocator lets host functions write host-produced buffers back into guest
// memory using whichever allocation strategy the instance was seeded with
// (exported alloc, or the bump-allocator fallback).
type Allocator interface {
	Alloc(ctx context.Context, mod api.Module, size uint32) (uint32, error)
}

// LogEntry is one captured log line from the guest or from host functions
// acting on its behalf.
type LogEntry struct {
	Level   string
	Message string
}

// Backends bundles the external collaborators a host application wires in.
// Every field is optional; a nil backend makes its capability's host calls
// fail with UpstreamFailure even if the capability bit is set, which lets an
// engine enable a capability class without yet having a real backend.
type Backends struct {
	Storage   StorageBackend
	Variables VariableStore
	Cache     CacheStore
	OAuth     OAuthProvider
	Models    ModelInvoker
	Stream    StreamEmitter
	A2UI      A2UISurface
	HTTPClient *http.Client
}

// HostState is the per-instance scratchpad host functions operate on. One
// HostState is created per Instance, is reachable only through the store
// context that owns it, and is never shared across invocations.
type HostState struct {
	Security *manifest.SecurityConfig
	Backends Backends
	Logger   *zap.Logger

	RunID       string
	NodeID      string
	NodeName    string
	AppID       string
	BoardID     string
	UserID      string
	StreamState bool

	Allocator Allocator

	modelLimiter *rate.Limiter

	mu   sync.Mutex
	logs []LogEntry
}

// NewHostState builds a fresh HostState for one Instance activation.
func NewHostState(security *manifest.SecurityConfig, backends Backends, logger *zap.Logger, modelsPerMinute int) *HostState {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if modelsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(modelsPerMinute)/60.0), modelsPerMinute)
	}
	return &HostState{
		Security:     security,
		Backends:     backends,
		Logger:       logger,
		modelLimiter: limiter,
	}
}

// Has reports whether the instance carries cap.
func (s *HostState) Has(cap manifest.Capability) bool {
	return s.Security != nil && s.Security.Capabilities.Has(cap)
}

// AppendLog captures one log line for later retrieval by the orchestrator.
func (s *HostState) AppendLog(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogEntry{Level: level, Message: message})
}

// Logs returns a copy of the captured log lines.
func (s *HostState) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}
