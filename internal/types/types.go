package types

import (
	"context"
	"fmt"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

// AttributeType is a backend column type.
type AttributeType string

const (
	TypeInteger  AttributeType = "integer"
	TypeBigint   AttributeType = "bigint"
	TypeFloat    AttributeType = "float"
	TypeDecimal  AttributeType = "decimal"
	TypeBoolean  AttributeType = "boolean"
	TypeDate     AttributeType = "date"
	TypeDatetime AttributeType = "datetime"
	TypeTime     AttributeType = "time"
	TypeString   AttributeType = "string"
	TypeText     AttributeType = "text"
)

// IDAttribute is the identity attribute every model carries.
const IDAttribute = "id"

// Attribute describes one exposed column of a model.
type Attribute struct {
	Name     string        `json:"name" yaml:"name"`
	Type     AttributeType `json:"type" yaml:"type"`
	Nullable bool          `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

// ModelDescriptor declares a backend entity type and what of it is exposed.
type ModelDescriptor struct {
	Name       string      `json:"name" yaml:"name"`
	Plural     string      `json:"plural,omitempty" yaml:"plural,omitempty"`
	Table      string      `json:"table,omitempty" yaml:"table,omitempty"`
	Attributes []Attribute `json:"attributes" yaml:"attributes"`
	Writable   []string    `json:"writable,omitempty" yaml:"writable,omitempty"`
	ReadOnly   bool        `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// IsProtected reports whether an attribute can never be written by a client.
func IsProtected(name string) bool {
	switch name {
	case IDAttribute, "created_at", "updated_at":
		return true
	}
	return false
}

// Singular returns the snake_case singular model name, e.g. "line_item".
func (d ModelDescriptor) Singular() string {
	return strcase.ToSnake(d.Name)
}

// PluralName returns the snake_case plural model name, e.g. "line_items".
func (d ModelDescriptor) PluralName() string {
	if d.Plural != "" {
		return strcase.ToSnake(d.Plural)
	}
	return inflection.Plural(d.Singular())
}

// TableName returns the storage table for SQL backends.
func (d ModelDescriptor) TableName() string {
	if d.Table != "" {
		return d.Table
	}
	return d.PluralName()
}

// DisplayName returns the CamelCase model name used in messages.
func (d ModelDescriptor) DisplayName() string {
	return strcase.ToCamel(d.Singular())
}

// AttributeNames returns exposed attribute names in declaration order.
func (d ModelDescriptor) AttributeNames() []string {
	names := make([]string, 0, len(d.Attributes))
	for _, a := range d.Attributes {
		names = append(names, a.Name)
	}
	return names
}

// Attribute looks up an exposed attribute by name.
func (d ModelDescriptor) Attribute(name string) (Attribute, bool) {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// WritableAttributes returns the writable subset in declaration order. When
// Writable is empty every unprotected attribute is writable.
func (d ModelDescriptor) WritableAttributes() []Attribute {
	allowed := make(map[string]bool, len(d.Writable))
	for _, w := range d.Writable {
		allowed[w] = true
	}
	out := make([]Attribute, 0, len(d.Attributes))
	for _, a := range d.Attributes {
		if IsProtected(a.Name) {
			continue
		}
		if len(d.Writable) > 0 && !allowed[a.Name] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Validate checks the descriptor is usable for tool generation.
func (d ModelDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("model name required")
	}
	seen := make(map[string]bool, len(d.Attributes))
	for _, a := range d.Attributes {
		if a.Name == "" {
			return fmt.Errorf("model %s: attribute name required", d.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("model %s: duplicate attribute %s", d.Name, a.Name)
		}
		seen[a.Name] = true
	}
	for _, w := range d.Writable {
		if !seen[w] {
			return fmt.Errorf("model %s: writable attribute %s is not exposed", d.Name, w)
		}
	}
	return nil
}

// Property is a single JSON-schema property.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// InputSchema describes the parameters a tool accepts.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// ToolDescriptor describes a tool callable via the MCP server.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// ToolFunc represents the implementation of an MCP tool call. A returned error
// is a failure outside the tool's control; business failures are reported in
// the ToolResult.
type ToolFunc func(ctx context.Context, arguments map[string]any) (ToolResult, error)

// Tool pairs a descriptor with its implementation.
type Tool struct {
	Descriptor ToolDescriptor
	Func       ToolFunc
}

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Error codes carried in ToolResult metadata.
const (
	ErrorCodeNotFound   = "not_found"
	ErrorCodeValidation = "validation_failed"
)

// ToolResult encapsulates tool execution output.
type ToolResult struct {
	Content           []Content      `json:"content"`
	IsError           bool           `json:"isError"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	Meta              map[string]any `json:"_meta,omitempty"`
}

// TextResult builds a successful single-block result.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult builds a tool-level failure carrying a machine-readable code.
func ErrorResult(code, text string) ToolResult {
	return ToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
		Meta:    map[string]any{"error_code": code},
	}
}

// ErrorCode returns the machine-readable failure code, if any.
func (r ToolResult) ErrorCode() string {
	if r.Meta == nil {
		return ""
	}
	code, _ := r.Meta["error_code"].(string)
	return code
}

// Humanize turns an attribute name into a label, e.g. "unit_price" -> "Unit price".
func Humanize(name string) string {
	name = strings.TrimSuffix(name, "_id")
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
