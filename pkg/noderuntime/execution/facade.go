package execution

import (
	"context"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/hostfunctions"
)

// Format distinguishes Core ABI from Component Model packages. It mirrors
// noderuntime.ModuleFormat locally (see the wire-type comment on core.go) so
// this package has no import-cycle back to its parent.
type Format int

const (
	FormatCore Format = iota
	FormatComponent
)

// Facade is a thin sum type over the two instance variants: the caller
// instantiates a package without caring whether it is Core ABI or Component
// Model, and calls GetNodeDefinitions/Run/Close uniformly. Exactly one of
// core/component is non-nil.
type Facade struct {
	core      *Instance
	component *ComponentInstance
}

// NewFacade instantiates the variant matching format and wraps it.
func NewFacade(ctx context.Context, format Format, core InstantiateCoreOptions, component InstantiateComponentOptions) (*Facade, error) {
	switch format {
	case FormatComponent:
		inst, err := NewComponentInstance(ctx, component)
		if err != nil {
			return nil, err
		}
		return &Facade{component: inst}, nil
	default:
		inst, err := NewCoreInstance(ctx, core)
		if err != nil {
			return nil, err
		}
		return &Facade{core: inst}, nil
	}
}

func (f *Facade) GetNodeDefinitions(ctx context.Context) ([]NodeDefinitionWire, error) {
	if f.core != nil {
		return f.core.GetNodeDefinitions(ctx)
	}
	return f.component.GetNodeDefinitions(ctx)
}

func (f *Facade) Run(ctx context.Context, input []byte) (ExecutionResultWire, error) {
	if f.core != nil {
		return f.core.Run(ctx, input)
	}
	return f.component.Run(ctx, input)
}

func (f *Facade) Logs() []hostfunctions.LogEntry {
	if f.core != nil {
		return f.core.Logs()
	}
	return f.component.Logs()
}

func (f *Facade) Close(ctx context.Context) error {
	if f.core != nil {
		return f.core.Close(ctx)
	}
	return f.component.Close(ctx)
}
