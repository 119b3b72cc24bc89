package schema

import (
	"testing"

	"github.com/xscopehub/modelmcp/internal/types"
)

func TestMapType(t *testing.T) {
	cases := map[types.AttributeType]string{
		types.TypeInteger:  "integer",
		types.TypeBigint:   "integer",
		types.TypeFloat:    "number",
		types.TypeDecimal:  "number",
		types.TypeBoolean:  "boolean",
		types.TypeDate:     "string",
		types.TypeDatetime: "string",
		types.TypeTime:     "string",
		types.TypeString:   "string",
		types.TypeText:     "string",
		"BIGINT":           "integer",
		"jsonb":            "string",
		"":                 "string",
	}
	for in, want := range cases {
		if got := MapType(in); got != want {
			t.Fatalf("MapType(%q) = %q, want %q", in, got, want)
		}
	}
}
