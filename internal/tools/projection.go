package tools

import (
	"bytes"
	"encoding/json"

	"github.com/xscopehub/modelmcp/internal/store"
)

// Projection is a record restricted to the exposed attributes. It marshals as
// a JSON object whose keys follow attribute declaration order.
type Projection struct {
	keys   []string
	values map[string]any
}

// Project restricts rec to attrs.
func Project(rec store.Record, attrs []string) Projection {
	p := Projection{keys: attrs, values: make(map[string]any, len(attrs))}
	for _, a := range attrs {
		p.values[a] = rec[a]
	}
	return p
}

// Get returns the projected value of an attribute.
func (p Projection) Get(key string) any {
	return p.values[key]
}

// MarshalJSON implements json.Marshaler.
func (p Projection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func prettyJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
