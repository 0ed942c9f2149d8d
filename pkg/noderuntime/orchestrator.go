package noderuntime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/execution"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/hostfunctions"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// Orchestrator drives one node invocation end to end: acquire a
// compiled artifact, instantiate a fresh instance bound to the package's
// SecurityConfig, cache NodeDefinitions from get_node(s), run nodes, and
// translate traps into the typed error taxonomy.
type Orchestrator struct {
	engine *Engine
	logger *zap.Logger

	pendingMu sync.Mutex
	pending   map[string]time.Time // runID -> resumption deadline
}

// NewOrchestrator binds an Orchestrator to engine.
func NewOrchestrator(engine *Engine, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{engine: engine, logger: logger, pending: make(map[string]time.Time)}
}

// RunRequest bundles what RunNode needs beyond the package itself.
type RunRequest struct {
	WasmBytes   []byte // nil if the caller knows the module is already compiled/cached
	Security    *manifest.SecurityConfig
	Backends    hostfunctions.Backends
	Input       ExecutionInput
	RateLimitKey string
}

// RunNode executes one invocation of pkg's node named by req.Input.NodeID,
// in order:
//  1. rate limit check
//  2. acquire the compiled artifact (engine cache)
//  3. instantiate a fresh instance bound to req.Security
//  4. cache NodeDefinitions on first load
//  5. run, with the package's timeout tier enforced via context deadline
//  6. translate traps/errors into the typed taxonomy
//  7. log the invocation
func (o *Orchestrator) RunNode(ctx context.Context, pkg *Package, req RunRequest) (ExecutionResult, error) {
	if pkg == nil {
		return ExecutionResult{}, &ValidationError{Field: "pkg", Message: "cannot be nil"}
	}
	if req.Security == nil {
		return ExecutionResult{}, &ValidationError{Field: "req.Security", Message: "cannot be nil"}
	}

	rateLimitKey := req.RateLimitKey
	if rateLimitKey == "" {
		rateLimitKey = pkg.ID
	}
	allowed, err := o.engine.RateLimiterAllow(ctx, rateLimitKey)
	if err != nil {
		o.logger.Warn("rate limiter error", zap.Error(err))
	} else if !allowed {
		return ExecutionResult{}, ErrRateLimited
	}

	startTime := time.Now()
	runID := req.Input.RunID
	if runID == "" {
		runID = uuid.New().String()
		req.Input.RunID = runID
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Security.Limits.Timeout)
	defer cancel()

	compiled, err := o.engine.GetOrCompile(runCtx, pkg.ContentHash, req.WasmBytes)
	if err != nil {
		wrapped := &CompileFailedError{PackageID: pkg.ID, Cause: err}
		o.logInvocation(ctx, pkg, req.Input, startTime, 0, wrapped)
		return ExecutionResult{}, wrapped
	}

	format := execution.FormatCore
	if pkg.Format == FormatComponent {
		format = execution.FormatComponent
	}
	facade, err := execution.NewFacade(runCtx, format,
		execution.InstantiateCoreOptions{
			Runtime:                  o.engine.Runtime(),
			Compiled:                 compiled,
			Security:                 req.Security,
			Backends:                 req.Backends,
			Logger:                   o.logger,
			RunID:                    runID,
			NodeID:                   req.Input.NodeID,
			NodeName:                 req.Input.NodeName,
			AppID:                    req.Input.AppID,
			BoardID:                  req.Input.BoardID,
			UserID:                   req.Input.UserID,
			StreamState:              req.Input.StreamState,
			ModelsRateLimitPerMinute: o.engine.Config().ModelsRateLimitPerMinute,
		},
		execution.InstantiateComponentOptions{
			Runtime:                  o.engine.Runtime(),
			Compiled:                 compiled,
			Security:                 req.Security,
			Backends:                 req.Backends,
			Logger:                   o.logger,
			RunID:                    runID,
			NodeID:                   req.Input.NodeID,
			NodeName:                 req.Input.NodeName,
			AppID:                    req.Input.AppID,
			BoardID:                  req.Input.BoardID,
			UserID:                   req.Input.UserID,
			StreamState:              req.Input.StreamState,
			ModelsRateLimitPerMinute: o.engine.Config().ModelsRateLimitPerMinute,
		},
	)
	if err != nil {
		wrapped := translateInstantiateError(err)
		o.logInvocation(ctx, pkg, req.Input, startTime, 0, wrapped)
		return ExecutionResult{}, wrapped
	}
	defer func() {
		if cerr := facade.Close(context.Background()); cerr != nil {
			o.logger.Warn("failed to close instance", zap.String("package_id", pkg.ID), zap.Error(cerr))
		}
	}()

	// Cache NodeDefinitions on first load.
	if len(pkg.NodeDefs) == 0 {
		defs, err := facade.GetNodeDefinitions(runCtx)
		if err != nil {
			wrapped := translateExecuteError(err)
			if te, ok := wrapped.(*TimeoutError); ok {
				te.DurationMS = req.Security.Limits.Timeout.Milliseconds()
			}
			o.logInvocation(ctx, pkg, req.Input, startTime, 0, wrapped)
			return ExecutionResult{}, wrapped
		}
		pkg.NodeDefs = make([]NodeDefinition, len(defs))
		for i, d := range defs {
			pkg.NodeDefs[i] = fromWireNodeDefinition(d)
		}
	}

	encoded, err := execution.EncodeInput(toWireInput(req.Input))
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("encode execution input: %w", err)
	}

	resultWire, err := facade.Run(runCtx, encoded)
	outputSize := 0
	for _, v := range resultWire.Outputs {
		outputSize += len(v)
	}
	if err != nil {
		wrapped := translateExecuteError(err)
		if te, ok := wrapped.(*TimeoutError); ok {
			te.DurationMS = req.Security.Limits.Timeout.Milliseconds()
		}
		o.logInvocation(ctx, pkg, req.Input, startTime, outputSize, wrapped)
		return ExecutionResult{}, wrapped
	}

	result := fromWireExecutionResult(resultWire)
	if result.Pending {
		o.registerPending(runID, req.Security.Limits.Timeout, o.engine.Config().PendingResumptionMultiplier)
	}

	o.logInvocation(ctx, pkg, req.Input, startTime, outputSize, nil)
	return result, nil
}

// registerPending bounds a pending=true run's resumption window.
func (o *Orchestrator) registerPending(runID string, timeout time.Duration, multiplier int) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	o.pending[runID] = time.Now().Add(timeout * time.Duration(multiplier))
}

// CheckPending reports whether runID is still within its resumption window.
// Returns ErrInstancePending if still open, ErrPendingExpired if the window
// has elapsed, or nil if runID is not tracked as pending at all.
func (o *Orchestrator) CheckPending(runID string) error {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	deadline, ok := o.pending[runID]
	if !ok {
		return nil
	}
	if time.Now().After(deadline) {
		delete(o.pending, runID)
		return ErrPendingExpired
	}
	return ErrInstancePending
}

// ClearPending removes runID from pending tracking, e.g. once resumed.
func (o *Orchestrator) ClearPending(runID string) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	delete(o.pending, runID)
}

func (o *Orchestrator) logInvocation(ctx context.Context, pkg *Package, input ExecutionInput, startTime time.Time, outputSize int, err error) {
	completedAt := time.Now()
	status := "success"
	var errMsg string
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	rec := &InvocationRecord{
		ID:           uuid.New().String(),
		PackageID:    pkg.ID,
		NodeID:       input.NodeID,
		RunID:        input.RunID,
		InputSize:    len(input.Inputs),
		OutputSize:   outputSize,
		StartedAt:    startTime,
		CompletedAt:  completedAt,
		DurationMS:   completedAt.Sub(startTime).Milliseconds(),
		Status:       status,
		ErrorMessage: errMsg,
	}
	o.engine.LogInvocation(ctx, rec)
}

// -----------------------------------------------------------------------------
// Wire <-> public type conversion
// -----------------------------------------------------------------------------

func toWireInput(in ExecutionInput) execution.ExecutionInputWire {
	return execution.ExecutionInputWire{
		Inputs:      in.Inputs,
		NodeID:      in.NodeID,
		RunID:       in.RunID,
		AppID:       in.AppID,
		BoardID:     in.BoardID,
		UserID:      in.UserID,
		StreamState: in.StreamState,
		LogLevel:    in.LogLevel,
		NodeName:    in.NodeName,
	}
}

func fromWireExecutionResult(w execution.ExecutionResultWire) ExecutionResult {
	return ExecutionResult{
		Outputs:      w.Outputs,
		Error:        w.Error,
		ActivateExec: w.ActivateExec,
		Pending:      w.Pending,
	}
}

func fromWireNodeDefinition(w execution.NodeDefinitionWire) NodeDefinition {
	pins := make([]PinDefinition, len(w.Pins))
	for i, p := range w.Pins {
		pins[i] = PinDefinition{
			Name:         p.Name,
			FriendlyName: p.FriendlyName,
			Description:  p.Description,
			Direction:    PinDirection(p.Direction),
			DataType:     p.DataType,
			ValueType:    p.ValueType,
			Schema:       p.Schema,
			Default:      p.Default,
			ValidValues:  p.ValidValues,
			Min:          p.Min,
			Max:          p.Max,
		}
	}
	return NodeDefinition{
		Name:         w.Name,
		FriendlyName: w.FriendlyName,
		Description:  w.Description,
		Category:     w.Category,
		Icon:         w.Icon,
		Pins:         pins,
		Scores:       NodeScores(w.Scores),
		LongRunning:  w.LongRunning,
		Docs:         w.Docs,
		AbiVersion:   w.AbiVersion,
		Permissions:  w.Permissions,
	}
}

// translateInstantiateError maps an execution-package instantiation failure
// to the public taxonomy.
func translateInstantiateError(err error) error {
	switch e := err.(type) {
	case *execution.AbiVersionMismatchError:
		return &AbiVersionMismatchError{Got: e.Got}
	default:
		return &LinkError{Cause: err}
	}
}

// translateExecuteError maps an execution-package run failure to the public
// taxonomy.
func translateExecuteError(err error) error {
	switch e := err.(type) {
	case *execution.OutOfFuelError:
		return &OutOfFuelError{Limit: e.Limit}
	case *execution.TimeoutError:
		return &TimeoutError{DurationMS: 0}
	case *execution.MemoryAccessError:
		return &MemoryAccessError{Detail: e.Error()}
	case *execution.TrapError:
		return &TrapError{Kind: e.Kind, Cause: e.Cause}
	case *execution.InvalidEncodingError:
		return &InvalidEncodingError{Export: e.Export, Cause: fmt.Errorf("%s", e.Detail)}
	default:
		return err
	}
}
