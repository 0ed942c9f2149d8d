package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/hostfunctions"
)

// ErrComponentModelUnsupported is returned for component binaries that carry
// no extractable core module. wazero compiles and instantiates core
// WebAssembly modules only; it has no public API for the Component Model's
// typed canonical ABI. Components produced by the supported toolchains
// (componentize-py, componentize-js, cargo-component) embed their compiled
// core module as a core-module section, and the bridge below unwraps and
// drives that module; a component whose logic exists only in
// component-native form cannot be executed.
var ErrComponentModelUnsupported = errors.New("component carries no embedded core module the runtime can execute")

var (
	componentMagic = []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
	coreMagic      = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
)

// ExtractCoreModule unwraps a Component Model binary to the first embedded
// core module. Component binaries use the same section framing as core
// modules (id byte, LEB128 size, payload); a core-module section has id 1
// and its payload is a complete core module.
func ExtractCoreModule(component []byte) ([]byte, error) {
	if !bytes.HasPrefix(component, componentMagic) {
		return nil, fmt.Errorf("not a component binary")
	}
	rest := component[len(componentMagic):]
	for len(rest) > 0 {
		id := rest[0]
		rest = rest[1:]
		size, n := uleb128(rest)
		if n == 0 || size > uint64(len(rest)-n) {
			return nil, fmt.Errorf("truncated component section %d", id)
		}
		payload := rest[n : uint64(n)+size]
		rest = rest[uint64(n)+size:]
		if id == 1 && bytes.HasPrefix(payload, coreMagic) {
			return payload, nil
		}
	}
	return nil, ErrComponentModelUnsupported
}

// uleb128 decodes an unsigned LEB128 value, returning it and the number of
// bytes consumed (0 on malformed input).
func uleb128(data []byte) (uint64, int) {
	var value uint64
	var shift uint
	for i, b := range data {
		if i == 10 {
			return 0, 0
		}
		value |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return value, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// ComponentInstance is the Component Model variant of Instance. It drives
// the component's embedded core module through the same exports, so a node
// shipped as a component behaves identically to its core rendition;
// differences are confined to envelope unwrapping and trap translation.
type ComponentInstance struct {
	inner  *Instance
	logger *zap.Logger
}

// InstantiateComponentOptions mirrors InstantiateCoreOptions. The Compiled
// module is the component's embedded core module, unwrapped via
// ExtractCoreModule before compilation.
type InstantiateComponentOptions InstantiateCoreOptions

// NewComponentInstance activates a component by instantiating its embedded
// core module.
func NewComponentInstance(ctx context.Context, opts InstantiateComponentOptions) (*ComponentInstance, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inner, err := NewCoreInstance(ctx, InstantiateCoreOptions(opts))
	if err != nil {
		return nil, err
	}
	return &ComponentInstance{inner: inner, logger: logger}, nil
}

func (c *ComponentInstance) GetNodeDefinitions(ctx context.Context) ([]NodeDefinitionWire, error) {
	return c.inner.GetNodeDefinitions(ctx)
}

func (c *ComponentInstance) Run(ctx context.Context, input []byte) (ExecutionResultWire, error) {
	return c.inner.Run(ctx, input)
}

func (c *ComponentInstance) Logs() []hostfunctions.LogEntry { return c.inner.Logs() }

func (c *ComponentInstance) Close(ctx context.Context) error { return c.inner.Close(ctx) }
