// Package tools synthesizes the CRUD tool family for a model descriptor.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/xscopehub/modelmcp/internal/schema"
	"github.com/xscopehub/modelmcp/internal/store"
	"github.com/xscopehub/modelmcp/internal/types"
)

// Factory builds tools whose handlers run against a backend.
type Factory struct {
	backend store.Backend
}

// NewFactory creates a factory bound to backend.
func NewFactory(backend store.Backend) *Factory {
	return &Factory{backend: backend}
}

// Generate returns list and get tools for desc, plus create, update and
// delete unless the model is read-only. Output is deterministic for a given
// descriptor.
func (f *Factory) Generate(desc types.ModelDescriptor) ([]types.Tool, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	repo, err := f.backend.Repository(desc)
	if err != nil {
		return nil, fmt.Errorf("repository for %s: %w", desc.Name, err)
	}

	m := model{desc: desc, repo: repo, attrs: desc.AttributeNames()}
	tools := []types.Tool{m.listTool(), m.getTool()}
	if !desc.ReadOnly {
		tools = append(tools, m.createTool(), m.updateTool(), m.deleteTool())
	}
	return tools, nil
}

// Descriptors returns only the tool descriptors Generate would produce.
func Descriptors(desc types.ModelDescriptor) ([]types.ToolDescriptor, error) {
	tools, err := NewFactory(nopBackend{}).Generate(desc)
	if err != nil {
		return nil, err
	}
	out := make([]types.ToolDescriptor, len(tools))
	for i, t := range tools {
		out[i] = t.Descriptor
	}
	return out, nil
}

type model struct {
	desc  types.ModelDescriptor
	repo  store.Repository
	attrs []string
}

func objectSchema(props map[string]types.Property, required []string) types.InputSchema {
	if props == nil {
		props = map[string]types.Property{}
	}
	if required == nil {
		required = []string{}
	}
	return types.InputSchema{Type: "object", Properties: props, Required: required}
}

func (m model) idProperty() types.Property {
	return types.Property{Type: schema.Integer, Description: m.desc.DisplayName() + " ID"}
}

func (m model) writableProperties() (map[string]types.Property, []string) {
	props := make(map[string]types.Property)
	var names []string
	for _, a := range m.desc.WritableAttributes() {
		props[a.Name] = types.Property{Type: schema.MapType(a.Type), Description: types.Humanize(a.Name)}
		names = append(names, a.Name)
	}
	return props, names
}

func (m model) listTool() types.Tool {
	plural := m.desc.PluralName()
	return types.Tool{
		Descriptor: types.ToolDescriptor{
			Name:        "list_" + plural,
			Description: "List all " + plural,
			InputSchema: objectSchema(nil, nil),
		},
		Func: func(ctx context.Context, _ map[string]any) (types.ToolResult, error) {
			records, err := m.repo.List(ctx)
			if err != nil {
				return types.ToolResult{}, err
			}
			items := make([]Projection, 0, len(records))
			for _, rec := range records {
				items = append(items, Project(rec, m.attrs))
			}
			text, err := prettyJSON(items)
			if err != nil {
				return types.ToolResult{}, err
			}
			return types.TextResult(text), nil
		},
	}
}

func (m model) getTool() types.Tool {
	name := m.desc.Singular()
	return types.Tool{
		Descriptor: types.ToolDescriptor{
			Name:        "get_" + name,
			Description: "Get a specific " + name + " by ID",
			InputSchema: objectSchema(map[string]types.Property{types.IDAttribute: m.idProperty()}, []string{types.IDAttribute}),
		},
		Func: func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
			rec, res, err := m.find(ctx, args)
			if rec == nil {
				return res, err
			}
			return m.recordResult("", Project(rec, m.attrs))
		},
	}
}

func (m model) createTool() types.Tool {
	name := m.desc.Singular()
	props, required := m.writableProperties()
	return types.Tool{
		Descriptor: types.ToolDescriptor{
			Name:        "create_" + name,
			Description: "Create a new " + name,
			InputSchema: objectSchema(props, required),
		},
		Func: func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
			rec, err := m.repo.Create(ctx, m.writableSubset(args))
			if err != nil {
				if store.IsValidation(err) {
					return types.ErrorResult(types.ErrorCodeValidation, fmt.Sprintf("Failed to create %s: %s", name, err.Error())), nil
				}
				return types.ToolResult{}, err
			}
			return m.recordResult(m.desc.DisplayName()+" created successfully:\n", Project(rec, m.attrs))
		},
	}
}

func (m model) updateTool() types.Tool {
	name := m.desc.Singular()
	props, _ := m.writableProperties()
	props[types.IDAttribute] = m.idProperty()
	return types.Tool{
		Descriptor: types.ToolDescriptor{
			Name:        "update_" + name,
			Description: "Update an existing " + name,
			InputSchema: objectSchema(props, []string{types.IDAttribute}),
		},
		Func: func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
			rec, res, err := m.find(ctx, args)
			if rec == nil {
				return res, err
			}
			updated, err := m.repo.Update(ctx, rec.ID(), m.writableSubset(args))
			switch {
			case errors.Is(err, store.ErrNotFound):
				return m.notFound(args[types.IDAttribute]), nil
			case store.IsValidation(err):
				return types.ErrorResult(types.ErrorCodeValidation, fmt.Sprintf("Failed to update %s: %s", name, err.Error())), nil
			case err != nil:
				return types.ToolResult{}, err
			}
			return m.recordResult(m.desc.DisplayName()+" updated successfully:\n", Project(updated, m.attrs))
		},
	}
}

func (m model) deleteTool() types.Tool {
	name := m.desc.Singular()
	return types.Tool{
		Descriptor: types.ToolDescriptor{
			Name:        "delete_" + name,
			Description: "Delete a " + name,
			InputSchema: objectSchema(map[string]types.Property{types.IDAttribute: m.idProperty()}, []string{types.IDAttribute}),
		},
		Func: func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
			rec, res, err := m.find(ctx, args)
			if rec == nil {
				return res, err
			}
			if err := m.repo.Delete(ctx, rec.ID()); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return m.notFound(args[types.IDAttribute]), nil
				}
				return types.ToolResult{}, err
			}
			return types.TextResult(fmt.Sprintf("%s deleted successfully (ID: %d)", m.desc.DisplayName(), rec.ID())), nil
		},
	}
}

// find loads the record named by args["id"]. When the record is nil the
// returned result and error are what the handler should return.
func (m model) find(ctx context.Context, args map[string]any) (store.Record, types.ToolResult, error) {
	raw := args[types.IDAttribute]
	id, ok := store.ParseID(raw)
	if !ok {
		return nil, m.notFound(raw), nil
	}
	rec, err := m.repo.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, m.notFound(raw), nil
	}
	if err != nil {
		return nil, types.ToolResult{}, err
	}
	return rec, types.ToolResult{}, nil
}

func (m model) notFound(id any) types.ToolResult {
	return types.ErrorResult(types.ErrorCodeNotFound, fmt.Sprintf("%s not found with ID: %v", m.desc.DisplayName(), id))
}

func (m model) writableSubset(args map[string]any) map[string]any {
	out := make(map[string]any)
	for _, a := range m.desc.WritableAttributes() {
		if v, ok := args[a.Name]; ok {
			out[a.Name] = v
		}
	}
	return out
}

func (m model) recordResult(prefix string, p Projection) (types.ToolResult, error) {
	text, err := prettyJSON(p)
	if err != nil {
		return types.ToolResult{}, err
	}
	res := types.TextResult(prefix + text)
	res.StructuredContent = p
	return res, nil
}

// nopBackend lets Descriptors run Generate without a store.
type nopBackend struct{}

func (nopBackend) Repository(types.ModelDescriptor) (store.Repository, error) { return nil, nil }
func (nopBackend) Close() error                                               { return nil }
