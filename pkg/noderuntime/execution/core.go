package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/hostfunctions"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// exportAllocator uses the guest's own alloc/dealloc exports.
type exportAllocator struct {
	alloc  api.Function
	dealloc api.Function
}

func (a *exportAllocator) Alloc(ctx context.Context, mod api.Module, size uint32) (uint32, error) {
	results, err := a.alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("guest alloc(%d) failed: %w", size, err)
	}
	return uint32(results[0]), nil
}

func (a *exportAllocator) Free(ctx context.Context, mod api.Module, ptr, length uint32) {
	if a.dealloc == nil {
		return
	}
	_, _ = a.dealloc.Call(ctx, uint64(ptr), uint64(length))
}

// bumpAllocator is the fallback used when the guest does not export alloc
// (whether or not it exports dealloc): anchored at the end of initial
// memory, capped by the configured memory limit, never freed per-buffer.
type bumpAllocator struct {
	cursor uint32
	limit  uint32 // memory_limit in bytes, as a page-aligned ceiling
}

func newBumpAllocator(mod api.Module, memoryLimit uint64) *bumpAllocator {
	const maxUint32 = ^uint32(0)
	limit := memoryLimit
	if limit > uint64(maxUint32) {
		limit = uint64(maxUint32)
	}
	return &bumpAllocator{
		cursor: mod.Memory().Size(),
		limit:  uint32(limit),
	}
}

func (a *bumpAllocator) Alloc(ctx context.Context, mod api.Module, size uint32) (uint32, error) {
	ptr := a.cursor
	needed := ptr + size
	if needed < ptr || needed > a.limit {
		return 0, fmt.Errorf("bump allocator exhausted: requested %d bytes past cursor %d, limit %d", size, ptr, a.limit)
	}
	if needed > mod.Memory().Size() {
		const pageSize = 65536
		deltaPages := (needed - mod.Memory().Size() + pageSize - 1) / pageSize
		if _, ok := mod.Memory().Grow(deltaPages); !ok {
			return 0, fmt.Errorf("failed to grow guest memory by %d pages", deltaPages)
		}
	}
	a.cursor = needed
	return ptr, nil
}

// Free is a no-op: the bump allocator has no per-buffer free.
func (a *bumpAllocator) Free(context.Context, api.Module, uint32, uint32) {}

// Instance is a single Core-ABI activation of a module, never shared across
// invocations.
type Instance struct {
	module   api.Module
	security *manifest.SecurityConfig
	state    *hostfunctions.HostState
	logger   *zap.Logger

	runExport      api.Function
	getNodeExport  api.Function
	getNodesExport api.Function
	abiVersionExport api.Function

	fuelRemaining atomic.Int64
}

// InstantiateCoreOptions bundles what NewCoreInstance needs beyond the
// compiled module itself.
type InstantiateCoreOptions struct {
	Runtime   wazero.Runtime
	Compiled  wazero.CompiledModule
	Security  *manifest.SecurityConfig
	Backends  hostfunctions.Backends
	Logger    *zap.Logger

	RunID, NodeID, NodeName, AppID, BoardID, UserID string
	StreamState bool
	ModelsRateLimitPerMinute int
}

// NewCoreInstance activates a compiled core module: build HostState,
// instantiate, run _initialize then _start if present, look up and cache
// the required and optional exports, seed the allocator record.
func NewCoreInstance(ctx context.Context, opts InstantiateCoreOptions) (*Instance, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	state := hostfunctions.NewHostState(opts.Security, opts.Backends, logger, opts.ModelsRateLimitPerMinute)
	state.RunID, state.NodeID, state.NodeName = opts.RunID, opts.NodeID, opts.NodeName
	state.AppID, state.BoardID, state.UserID = opts.AppID, opts.BoardID, opts.UserID
	state.StreamState = opts.StreamState

	storeCtx := hostfunctions.ContextWithState(ctx, state)

	moduleConfig := wazero.NewModuleConfig().
		WithName(uuid.New().String()).
		WithStartFunctions() // we drive _initialize/_start explicitly below

	mod, err := opts.Runtime.InstantiateModule(storeCtx, opts.Compiled, moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	// WASI reactor and command semantics: _initialize before _start,
	// calling only whichever exports are present.
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(storeCtx); err != nil {
			_ = mod.Close(storeCtx)
			return nil, fmt.Errorf("_initialize trapped: %w", err)
		}
	}
	if startFn := mod.ExportedFunction("_start"); startFn != nil {
		if _, err := startFn.Call(storeCtx); err != nil {
			_ = mod.Close(storeCtx)
			return nil, fmt.Errorf("_start trapped: %w", err)
		}
	}

	if mod.ExportedMemory("memory") == nil {
		_ = mod.Close(storeCtx)
		return nil, fmt.Errorf("module does not export memory")
	}

	getNode := mod.ExportedFunction("get_node")
	getNodes := mod.ExportedFunction("get_nodes")
	if getNode == nil && getNodes == nil {
		_ = mod.Close(storeCtx)
		return nil, fmt.Errorf("module exports neither get_node nor get_nodes")
	}

	runFn := mod.ExportedFunction("run")
	if runFn == nil {
		_ = mod.Close(storeCtx)
		return nil, fmt.Errorf("module does not export run")
	}

	allocFn := mod.ExportedFunction("alloc")
	deallocFn := mod.ExportedFunction("dealloc")
	if allocFn != nil {
		state.Allocator = &exportAllocator{alloc: allocFn, dealloc: deallocFn}
	} else {
		state.Allocator = newBumpAllocator(mod, opts.Security.Limits.MemoryLimit)
	}

	inst := &Instance{
		module:           mod,
		security:         opts.Security,
		state:            state,
		logger:           logger,
		runExport:        runFn,
		getNodeExport:    getNode,
		getNodesExport:   getNodes,
		abiVersionExport: mod.ExportedFunction("get_abi_version"),
	}
	inst.fuelRemaining.Store(int64(opts.Security.Limits.FuelLimit))

	if inst.abiVersionExport != nil {
		results, err := inst.abiVersionExport.Call(storeCtx)
		if err != nil {
			_ = mod.Close(storeCtx)
			return nil, fmt.Errorf("get_abi_version trapped: %w", err)
		}
		if int32(results[0]) != 1 {
			_ = mod.Close(storeCtx)
			return nil, &AbiVersionMismatchError{Got: int32(results[0])}
		}
	}

	return inst, nil
}

// AbiVersionMismatchError mirrors noderuntime.AbiVersionMismatchError at the
// execution-package boundary.
type AbiVersionMismatchError struct{ Got int32 }

func (e *AbiVersionMismatchError) Error() string {
	return fmt.Sprintf("abi version mismatch: got %d, want 1", e.Got)
}

// Close releases the instance's store and all its linear memory, tables, and
// open handles.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// Logs returns the log lines captured during this instance's lifetime.
func (i *Instance) Logs() []hostfunctions.LogEntry { return i.state.Logs() }

// GetNodeDefinitions calls get_nodes if present, else get_node, and decodes
// the JSON result. The guest
// buffer is never deallocated since it may reference a module-owned
// singleton.
func (i *Instance) GetNodeDefinitions(ctx context.Context) ([]NodeDefinitionWire, error) {
	var (
		fn       api.Function
		exportName string
		multi    bool
	)
	if i.getNodesExport != nil {
		fn, exportName, multi = i.getNodesExport, "get_nodes", true
	} else {
		fn, exportName, multi = i.getNodeExport, "get_node", false
	}

	results, err := fn.Call(ctx)
	if err != nil {
		return nil, classifyTrap(exportName, err)
	}
	data, ok := i.readPackedResult(results[0])
	if !ok {
		return nil, &InvalidEncodingError{Export: exportName, Detail: "packed result referenced out-of-bounds memory"}
	}
	if len(data) == 0 {
		return nil, nil
	}

	if multi {
		var defs []NodeDefinitionWire
		if err := json.Unmarshal(data, &defs); err != nil {
			return nil, &InvalidEncodingError{Export: exportName, Detail: err.Error()}
		}
		return defs, nil
	}

	var def NodeDefinitionWire
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &InvalidEncodingError{Export: exportName, Detail: err.Error()}
	}
	return []NodeDefinitionWire{def}, nil
}

// Run serialises input, writes it into guest memory, calls run(ptr,len),
// and decodes the ExecutionResult. Fuel is a coarse pre-flight budget:
// wazero exposes no instruction-level fuel metering, so a compute-bound
// loop is bounded by the caller's context deadline (the runtime is built
// with CloseOnContextDone), not by fuelRemaining.
func (i *Instance) Run(ctx context.Context, input []byte) (ExecutionResultWire, error) {
	if i.fuelRemaining.Load() <= 0 {
		return ExecutionResultWire{}, &OutOfFuelError{Limit: i.security.Limits.FuelLimit}
	}

	ptr, err := i.state.Allocator.Alloc(ctx, i.module, uint32(len(input)))
	if err != nil {
		return ExecutionResultWire{}, fmt.Errorf("allocate run input: %w", err)
	}
	if len(input) > 0 && !i.module.Memory().Write(ptr, input) {
		return ExecutionResultWire{}, fmt.Errorf("write run input to guest memory")
	}

	results, err := i.runExport.Call(ctx, uint64(ptr), uint64(len(input)))
	if freer, ok := i.state.Allocator.(interface {
		Free(context.Context, api.Module, uint32, uint32)
	}); ok {
		freer.Free(ctx, i.module, ptr, uint32(len(input)))
	}
	if err != nil {
		return ExecutionResultWire{}, classifyTrap("run", err)
	}

	data, ok := i.readPackedResult(results[0])
	if !ok {
		return ExecutionResultWire{}, &InvalidEncodingError{Export: "run", Detail: "packed result referenced out-of-bounds memory"}
	}
	if len(data) == 0 {
		return ExecutionResultWire{}, nil
	}

	var result ExecutionResultWire
	if err := json.Unmarshal(data, &result); err != nil {
		return ExecutionResultWire{}, &InvalidEncodingError{Export: "run", Detail: err.Error()}
	}
	return result, nil
}

// readPackedResult unpacks a returned i64: high bit set means error and
// yields ok=false (callers report it as InvalidEncodingError); otherwise the
// value is a ptr/len pair into guest memory.
func (i *Instance) readPackedResult(x uint64) ([]byte, bool) {
	if x>>63 == 1 {
		return nil, false
	}
	ptr := uint32(x >> 32)
	length := uint32(x)
	if length == 0 {
		return nil, true
	}
	data, ok := i.module.Memory().Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// classifyTrap maps a wazero trap error to the typed error taxonomy by
// inspecting its message.
func classifyTrap(export string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "context canceled") || strings.Contains(msg, "closed"):
		return &TimeoutError{Cause: err}
	case strings.Contains(msg, "out of bounds") || strings.Contains(msg, "memory"):
		return &MemoryAccessError{Export: export, Cause: err}
	case strings.Contains(msg, "unreachable"):
		return &TrapError{Export: export, Kind: "unreachable", Cause: err}
	default:
		return &TrapError{Export: export, Kind: "unknown", Cause: err}
	}
}

// NodeDefinitionWire and ExecutionResultWire mirror noderuntime's wire types
// locally so this package has no import-cycle back to the parent package;
// the orchestrator converts between the two.
type NodeDefinitionWire struct {
	Name         string              `json:"name"`
	FriendlyName string              `json:"friendly_name"`
	Description  string              `json:"description"`
	Category     string              `json:"category"`
	Icon         string              `json:"icon,omitempty"`
	Pins         []PinDefinitionWire `json:"pins"`
	Scores       NodeScoresWire      `json:"scores"`
	LongRunning  bool                `json:"long_running"`
	Docs         string              `json:"docs,omitempty"`
	AbiVersion   int                 `json:"abi_version"`
	Permissions  []string            `json:"permissions,omitempty"`
}

type PinDefinitionWire struct {
	Name         string          `json:"name"`
	FriendlyName string          `json:"friendly_name,omitempty"`
	Description  string          `json:"description,omitempty"`
	Direction    string          `json:"direction"`
	DataType     string          `json:"data_type"`
	ValueType    string          `json:"value_type,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	Default      json.RawMessage `json:"default,omitempty"`
	ValidValues  []string        `json:"valid_values,omitempty"`
	Min          *float64        `json:"min,omitempty"`
	Max          *float64        `json:"max,omitempty"`
}

type NodeScoresWire struct {
	Privacy     uint8 `json:"privacy"`
	Security    uint8 `json:"security"`
	Performance uint8 `json:"performance"`
	Governance  uint8 `json:"governance"`
	Reliability uint8 `json:"reliability"`
	Cost        uint8 `json:"cost"`
}

type ExecutionInputWire struct {
	Inputs      map[string]json.RawMessage `json:"inputs"`
	NodeID      string                     `json:"node_id"`
	RunID       string                     `json:"run_id"`
	AppID       string                     `json:"app_id"`
	BoardID     string                     `json:"board_id"`
	UserID      string                     `json:"user_id"`
	StreamState bool                       `json:"stream_state"`
	LogLevel    uint8                      `json:"log_level"`
	NodeName    string                     `json:"node_name,omitempty"`
}

type ExecutionResultWire struct {
	Outputs      map[string]json.RawMessage `json:"outputs"`
	Error        string                     `json:"error,omitempty"`
	ActivateExec []string                   `json:"activate_exec,omitempty"`
	Pending      bool                       `json:"pending,omitempty"`
}

// EncodeInput serialises v to compact JSON for the run(ptr,len) call.
func EncodeInput(v ExecutionInputWire) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
