// Package noderuntime implements the sandboxed WASM node execution engine:
// compilation caching, instance lifecycle, and the execution orchestrator
// that runs untrusted node packages on behalf of a flow engine.
package noderuntime

import (
	"encoding/json"
	"time"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// ModuleFormat identifies which calling convention a loaded WASM binary speaks.
type ModuleFormat int

const (
	// FormatUnknown means the bytes could not be classified.
	FormatUnknown ModuleFormat = iota
	// FormatCore is the raw linear-memory pointer/length ABI.
	FormatCore
	// FormatComponent is the typed Component Model ABI.
	FormatComponent
)

func (f ModuleFormat) String() string {
	switch f {
	case FormatCore:
		return "core"
	case FormatComponent:
		return "component"
	default:
		return "unknown"
	}
}

// coreModuleMagic and componentModuleMagic are the first eight bytes of a
// core WASM module and a Component Model binary, respectively.
var (
	coreModuleMagic      = [8]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	componentModuleMagic = [8]byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
)

// DetectFormat classifies raw bytes as Core, Component, or Unknown.
func DetectFormat(bytes []byte) ModuleFormat {
	if len(bytes) < 8 {
		return FormatUnknown
	}
	var head [8]byte
	copy(head[:], bytes[:8])
	switch head {
	case coreModuleMagic:
		return FormatCore
	case componentModuleMagic:
		return FormatComponent
	default:
		return FormatUnknown
	}
}

// PinDirection is the direction of a node's pin. The wire values are the
// capitalised "Input"/"Output" the SDKs emit.
type PinDirection string

const (
	PinDirectionInput  PinDirection = "Input"
	PinDirectionOutput PinDirection = "Output"
)

// PinDefinition describes one input or output slot on a node.
type PinDefinition struct {
	Name         string          `json:"name"`
	FriendlyName string          `json:"friendly_name,omitempty"`
	Description  string          `json:"description,omitempty"`
	Direction    PinDirection    `json:"direction"`
	DataType     string          `json:"data_type"`
	ValueType    string          `json:"value_type,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty"`
	Default      json.RawMessage `json:"default,omitempty"`
	ValidValues  []string        `json:"valid_values,omitempty"`
	Min          *float64        `json:"min,omitempty"`
	Max          *float64        `json:"max,omitempty"`
}

// NodeDefinition is what a guest module declares about one of its nodes via
// get_node/get_nodes.
type NodeDefinition struct {
	Name         string          `json:"name"`
	FriendlyName string          `json:"friendly_name"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Icon         string          `json:"icon,omitempty"`
	Pins         []PinDefinition `json:"pins"`
	Scores       NodeScores      `json:"scores"`
	LongRunning  bool            `json:"long_running"`
	Docs         string          `json:"docs,omitempty"`
	AbiVersion   int             `json:"abi_version"`
	Permissions  []string        `json:"permissions,omitempty"`
}

// NodeScores carries the quality scores a node may advertise to a catalog;
// the runtime only transports these, it never interprets them.
type NodeScores struct {
	Privacy     uint8 `json:"privacy"`
	Security    uint8 `json:"security"`
	Performance uint8 `json:"performance"`
	Governance  uint8 `json:"governance"`
	Reliability uint8 `json:"reliability"`
	Cost        uint8 `json:"cost"`
}

// ExecutionInput is what the host writes into guest memory before calling run
//.
type ExecutionInput struct {
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

// ExecutionResult is what the guest returns from run.
type ExecutionResult struct {
	Outputs      map[string]json.RawMessage `json:"outputs"`
	Error        string                     `json:"error,omitempty"`
	ActivateExec []string                   `json:"activate_exec,omitempty"`
	Pending      bool                       `json:"pending,omitempty"`
}

// Empty reports whether the result carries no outputs, no error, and no
// activations — the canonical decoding of a zero-length run() return value
//.
func (r *ExecutionResult) Empty() bool {
	return r != nil && len(r.Outputs) == 0 && r.Error == "" && len(r.ActivateExec) == 0 && !r.Pending
}

// Package is a loaded manifest + compiled artifact, identified by a stable id
// and semver.
type Package struct {
	ID       string
	Version  string
	Manifest *manifest.Manifest
	Format   ModuleFormat

	// ContentHash identifies the compiled artifact backing this package in
	// the engine's module cache.
	ContentHash string

	// NodeDefs caches the guest-declared definitions obtained on first load
	//.
	NodeDefs []NodeDefinition

	LoadedAt time.Time
}

// CompiledArtifact is the metadata half of an engine-specific compiled image;
// the opaque compiled module itself lives in the engine's cache, keyed by
// ContentHash, and is never copied between packages.
type CompiledArtifact struct {
	ContentHash string
	Format      ModuleFormat
	SizeBytes   int
}
