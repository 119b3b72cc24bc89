package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xscopehub/modelmcp/internal/tools"
	"github.com/xscopehub/modelmcp/internal/types"
)

// ErrDuplicateTool is returned when two tools share a name.
var ErrDuplicateTool = errors.New("duplicate tool")

// ErrDuplicateModel is returned by Rebuild when two descriptors share a name.
var ErrDuplicateModel = errors.New("duplicate model")

// Sink receives materialized tools.
type Sink interface {
	AddTool(tool types.Tool) error
}

// Generator turns a descriptor into its tool family.
type Generator interface {
	Generate(desc types.ModelDescriptor) ([]types.Tool, error)
}

// ToolSet is an immutable-once-published collection of tools.
type ToolSet struct {
	tools map[string]types.Tool
	order []string
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]types.Tool)}
}

// AddTool installs a tool, rejecting duplicate names.
func (s *ToolSet) AddTool(tool types.Tool) error {
	name := tool.Descriptor.Name
	if _, ok := s.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	s.tools[name] = tool
	s.order = append(s.order, name)
	return nil
}

// Tool looks up a tool by name.
func (s *ToolSet) Tool(name string) (types.Tool, bool) {
	if s == nil {
		return types.Tool{}, false
	}
	t, ok := s.tools[name]
	return t, ok
}

// List returns tool descriptors in registration order.
func (s *ToolSet) List() []types.ToolDescriptor {
	if s == nil {
		return []types.ToolDescriptor{}
	}
	out := make([]types.ToolDescriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name].Descriptor)
	}
	return out
}

// Names returns tool names in registration order.
func (s *ToolSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Len returns the number of tools.
func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Observer is notified after every successful rebuild.
type Observer func(models, tools int)

// Registry keeps the exposed model descriptors and the published tool set.
type Registry struct {
	mu        sync.Mutex
	generator Generator
	models    []types.ModelDescriptor
	current   atomic.Pointer[ToolSet]
	logger    *slog.Logger
	observers []Observer
}

// New creates an empty registry. The published tool set starts empty.
func New(generator Generator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{generator: generator, logger: logger}
	r.current.Store(NewToolSet())
	return r
}

// OnRebuild registers an observer called after each published rebuild.
func (r *Registry) OnRebuild(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Register appends a descriptor. Names are not deduplicated here.
func (r *Registry) Register(desc types.ModelDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, desc)
}

// Clear forgets every registered descriptor. The published set is untouched
// until the next Rebuild.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = nil
}

// IsRegistered reports whether a model with that name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Models returns a copy of the registered descriptors.
func (r *Registry) Models() []types.ModelDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ModelDescriptor(nil), r.models...)
}

// Materialize generates the tools of every registered descriptor into sink.
func (r *Registry) Materialize(sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.materialize(sink)
}

func (r *Registry) materialize(sink Sink) error {
	for _, desc := range r.models {
		generated, err := r.generator.Generate(desc)
		if err != nil {
			return fmt.Errorf("generate %s: %w", desc.Name, err)
		}
		for _, tool := range generated {
			if err := sink.AddTool(tool); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rebuild replaces the registered descriptors and publishes a fresh tool set.
// On failure the previously published set stays in place.
func (r *Registry) Rebuild(descs []types.ModelDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if seen[d.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, d.Name)
		}
		seen[d.Name] = true
	}

	previous := r.models
	r.models = append([]types.ModelDescriptor(nil), descs...)
	set := NewToolSet()
	if err := r.materialize(set); err != nil {
		r.models = previous
		return err
	}
	r.current.Store(set)

	r.logger.Info("registry rebuilt", "models", len(r.models), "tools", set.Names())
	for _, fn := range r.observers {
		fn(len(r.models), set.Len())
	}
	return nil
}

// Tools returns the currently published tool set.
func (r *Registry) Tools() *ToolSet {
	return r.current.Load()
}

var _ Generator = (*tools.Factory)(nil)
