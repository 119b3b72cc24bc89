// Package schema maps backend column types onto JSON-schema primitives.
package schema

import (
	"strings"

	"github.com/xscopehub/modelmcp/internal/types"
)

// JSON-schema primitive types.
const (
	Integer = "integer"
	Number  = "number"
	Boolean = "boolean"
	String  = "string"
)

// MapType returns the JSON-schema type for a backend attribute type. Unknown
// types map to "string".
func MapType(t types.AttributeType) string {
	switch types.AttributeType(strings.ToLower(string(t))) {
	case types.TypeInteger, types.TypeBigint:
		return Integer
	case types.TypeFloat, types.TypeDecimal:
		return Number
	case types.TypeBoolean:
		return Boolean
	default:
		return String
	}
}
