// Package manifest loads the declaration of which models are exposed as MCP
// tools.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xscopehub/modelmcp/internal/types"
)

// Manifest lists the exposed models. JSON documents are accepted as well,
// being valid YAML.
type Manifest struct {
	Models []Model `yaml:"models"`
}

// Model is the file form of a types.ModelDescriptor.
type Model struct {
	Name       string      `yaml:"name"`
	Plural     string      `yaml:"plural"`
	Table      string      `yaml:"table"`
	Attributes []Attribute `yaml:"attributes"`
	Writable   []string    `yaml:"writable"`
	ReadOnly   bool        `yaml:"read_only"`
}

// Attribute accepts either a bare name or a {name, type, nullable} mapping.
type Attribute struct {
	types.Attribute
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Attribute) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		a.Name = node.Value
		return nil
	}
	var full struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Nullable bool   `yaml:"nullable"`
	}
	if err := node.Decode(&full); err != nil {
		return err
	}
	a.Attribute = types.Attribute{Name: full.Name, Type: types.AttributeType(full.Type), Nullable: full.Nullable}
	return nil
}

// Load reads a manifest from disk.
func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a manifest document.
func Parse(raw []byte) (Manifest, error) {
	var mf Manifest
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return mf, nil
}

// Descriptors converts the manifest into validated model descriptors. A model
// without attributes exposes id plus its writable attributes.
func (m Manifest) Descriptors() ([]types.ModelDescriptor, error) {
	out := make([]types.ModelDescriptor, 0, len(m.Models))
	for _, model := range m.Models {
		desc := types.ModelDescriptor{
			Name:     model.Name,
			Plural:   model.Plural,
			Table:    model.Table,
			Writable: model.Writable,
			ReadOnly: model.ReadOnly,
		}
		for _, a := range model.Attributes {
			desc.Attributes = append(desc.Attributes, a.Attribute)
		}
		if len(desc.Attributes) == 0 {
			desc.Attributes = append(desc.Attributes, types.Attribute{Name: types.IDAttribute, Type: types.TypeInteger})
			for _, w := range model.Writable {
				if !types.IsProtected(w) {
					desc.Attributes = append(desc.Attributes, types.Attribute{Name: w, Type: types.TypeString})
				}
			}
		}
		if err := desc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// LoadDescriptors reads path and returns its model descriptors.
func LoadDescriptors(path string) ([]types.ModelDescriptor, error) {
	mf, err := Load(path)
	if err != nil {
		return nil, err
	}
	return mf.Descriptors()
}
