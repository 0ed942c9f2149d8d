package noderuntime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/internal/wasmtest"
	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

const echoNodeJSON = `{"name":"echo","friendly_name":"Echo","description":"","category":"util","pins":[],"scores":{"privacy":0,"security":0,"performance":0,"governance":0,"reliability":0,"cost":0},"long_running":false,"abi_version":1}`

const twoNodesJSON = `[{"name":"a","friendly_name":"A","description":"","category":"util","pins":[],"scores":{"privacy":0,"security":0,"performance":0,"governance":0,"reliability":0,"cost":0},"long_running":false,"abi_version":1},{"name":"b","friendly_name":"B","description":"","category":"util","pins":[],"scores":{"privacy":0,"security":0,"performance":0,"governance":0,"reliability":0,"cost":0},"long_running":false,"abi_version":1}]`

func echoModule() []byte {
	resultJSON := `{"outputs":{"echo":"hi"},"activate_exec":["out"]}`
	b := wasmtest.New()
	b.AddI64Func("get_node", wasmtest.PackPtrLen(16, uint32(len(echoNodeJSON))))
	b.AddRunFunc("run", wasmtest.PackPtrLen(4096, uint32(len(resultJSON))))
	b.AddData(16, []byte(echoNodeJSON))
	b.AddData(4096, []byte(resultJSON))
	return b.Build()
}

func testPackage(wasm []byte) *Package {
	return &Package{
		ID:          "com.example.echo",
		Version:     "1.0.0",
		Format:      FormatCore,
		ContentHash: manifest.ContentHash(wasm),
		LoadedAt:    time.Now(),
	}
}

func testSecurity() *manifest.SecurityConfig {
	return &manifest.SecurityConfig{
		Limits: manifest.Limits{
			MemoryLimit: 16 * 1024 * 1024,
			FuelLimit:   manifest.DefaultFuelLimit,
			Timeout:     5 * time.Second,
		},
		Capabilities: manifest.Capabilities(0).With(manifest.CapLogging),
	}
}

func TestOrchestrator_RunNode_Echo(t *testing.T) {
	logger := &recordingInvocationLogger{}
	engine := newTestEngine(t, DefaultConfig(), WithInvocationLogger(logger))
	orch := NewOrchestrator(engine, nil)

	wasm := echoModule()
	pkg := testPackage(wasm)

	result, err := orch.RunNode(context.Background(), pkg, RunRequest{
		WasmBytes: wasm,
		Security:  testSecurity(),
		Input: ExecutionInput{
			NodeID: "echo",
			Inputs: map[string]json.RawMessage{"text": json.RawMessage(`"hi"`)},
		},
	})
	if err != nil {
		t.Fatalf("RunNode failed: %v", err)
	}

	if string(result.Outputs["echo"]) != `"hi"` {
		t.Errorf("expected echo output \"hi\", got %s", result.Outputs["echo"])
	}
	if len(result.ActivateExec) != 1 || result.ActivateExec[0] != "out" {
		t.Errorf("expected activation [out], got %v", result.ActivateExec)
	}

	// NodeDefinitions were fetched once and cached on the package.
	if len(pkg.NodeDefs) != 1 || pkg.NodeDefs[0].Name != "echo" {
		t.Errorf("expected cached echo definition, got %+v", pkg.NodeDefs)
	}

	records := logger.captured()
	if len(records) != 1 {
		t.Fatalf("expected 1 invocation record, got %d", len(records))
	}
	if records[0].Status != "success" || records[0].PackageID != "com.example.echo" {
		t.Errorf("unexpected record: %+v", records[0])
	}
	if records[0].RunID == "" {
		t.Error("expected a generated run id on the record")
	}
}

func TestOrchestrator_RunNode_MultiNodeRouting(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())
	orch := NewOrchestrator(engine, nil)

	b := wasmtest.New()
	b.AddI64Func("get_nodes", wasmtest.PackPtrLen(16, uint32(len(twoNodesJSON))))
	b.AddRunFunc("run", 0)
	b.AddData(16, []byte(twoNodesJSON))
	wasm := b.Build()
	pkg := testPackage(wasm)

	result, err := orch.RunNode(context.Background(), pkg, RunRequest{
		WasmBytes: wasm,
		Security:  testSecurity(),
		Input:     ExecutionInput{NodeID: "b-id", NodeName: "b"},
	})
	if err != nil {
		t.Fatalf("RunNode failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("expected empty result, got %+v", result)
	}

	if len(pkg.NodeDefs) != 2 || pkg.NodeDefs[0].Name != "a" || pkg.NodeDefs[1].Name != "b" {
		t.Errorf("expected cached definitions [a b], got %+v", pkg.NodeDefs)
	}
}

func TestOrchestrator_RunNode_ComponentPackage(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())
	orch := NewOrchestrator(engine, nil)

	// The same echo guest, shipped as a component: the engine unwraps the
	// embedded core module and the result matches the core rendition.
	wasm := wasmtest.WrapComponent(echoModule())
	pkg := testPackage(wasm)
	pkg.Format = FormatComponent

	result, err := orch.RunNode(context.Background(), pkg, RunRequest{
		WasmBytes: wasm,
		Security:  testSecurity(),
		Input:     ExecutionInput{NodeID: "echo"},
	})
	if err != nil {
		t.Fatalf("RunNode failed: %v", err)
	}
	if string(result.Outputs["echo"]) != `"hi"` {
		t.Errorf("expected echo output \"hi\", got %s", result.Outputs["echo"])
	}
	if len(pkg.NodeDefs) != 1 || pkg.NodeDefs[0].Name != "echo" {
		t.Errorf("expected cached echo definition, got %+v", pkg.NodeDefs)
	}
}

func TestOrchestrator_RunNode_RateLimited(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), WithRateLimiter(&staticRateLimiter{allow: false}))
	orch := NewOrchestrator(engine, nil)

	wasm := echoModule()
	_, err := orch.RunNode(context.Background(), testPackage(wasm), RunRequest{
		WasmBytes: wasm,
		Security:  testSecurity(),
		Input:     ExecutionInput{NodeID: "echo"},
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestOrchestrator_RunNode_TrapSurfacesTyped(t *testing.T) {
	logger := &recordingInvocationLogger{}
	engine := newTestEngine(t, DefaultConfig(), WithInvocationLogger(logger))
	orch := NewOrchestrator(engine, nil)

	b := wasmtest.New()
	b.AddI64Func("get_node", wasmtest.PackPtrLen(16, uint32(len(echoNodeJSON))))
	b.AddRunUnreachable("run")
	b.AddData(16, []byte(echoNodeJSON))
	wasm := b.Build()

	_, err := orch.RunNode(context.Background(), testPackage(wasm), RunRequest{
		WasmBytes: wasm,
		Security:  testSecurity(),
		Input:     ExecutionInput{NodeID: "echo"},
	})
	var trap *TrapError
	if !errors.As(err, &trap) {
		t.Fatalf("expected *TrapError, got %T: %v", err, err)
	}
	if trap.Kind != "unreachable" {
		t.Errorf("expected kind unreachable, got %q", trap.Kind)
	}

	records := logger.captured()
	if len(records) != 1 || records[0].Status != "error" {
		t.Errorf("expected one error record, got %+v", records)
	}
}

func TestOrchestrator_RunNode_ValidatesArguments(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())
	orch := NewOrchestrator(engine, nil)

	if _, err := orch.RunNode(context.Background(), nil, RunRequest{Security: testSecurity()}); err == nil {
		t.Error("expected error for nil package")
	}
	if _, err := orch.RunNode(context.Background(), testPackage([]byte{1}), RunRequest{}); err == nil {
		t.Error("expected error for nil security config")
	}
}

func TestOrchestrator_PendingWindow(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())
	orch := NewOrchestrator(engine, nil)

	pendingJSON := `{"pending":true}`
	b := wasmtest.New()
	b.AddI64Func("get_node", wasmtest.PackPtrLen(16, uint32(len(echoNodeJSON))))
	b.AddRunFunc("run", wasmtest.PackPtrLen(4096, uint32(len(pendingJSON))))
	b.AddData(16, []byte(echoNodeJSON))
	b.AddData(4096, []byte(pendingJSON))
	wasm := b.Build()

	result, err := orch.RunNode(context.Background(), testPackage(wasm), RunRequest{
		WasmBytes: wasm,
		Security:  testSecurity(),
		Input:     ExecutionInput{NodeID: "echo", RunID: "run-42"},
	})
	if err != nil {
		t.Fatalf("RunNode failed: %v", err)
	}
	if !result.Pending {
		t.Fatal("expected pending result")
	}

	if err := orch.CheckPending("run-42"); !errors.Is(err, ErrInstancePending) {
		t.Errorf("expected ErrInstancePending inside the window, got %v", err)
	}
	orch.ClearPending("run-42")
	if err := orch.CheckPending("run-42"); err != nil {
		t.Errorf("expected cleared pending to report nil, got %v", err)
	}

	// An untracked run id reports nothing.
	if err := orch.CheckPending("never-seen"); err != nil {
		t.Errorf("expected nil for untracked run, got %v", err)
	}
}
