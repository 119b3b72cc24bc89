package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xscopehub/modelmcp/internal/types"
)

// Coerce casts the writable attributes in attrs to their declared types. With
// partial set, absent attributes are left alone; otherwise they are treated as
// null. Unknown keys are dropped.
func Coerce(desc types.ModelDescriptor, attrs map[string]any, partial bool) (map[string]any, error) {
	out := make(map[string]any, len(attrs))
	var problems []string
	for _, attr := range desc.WritableAttributes() {
		raw, present := attrs[attr.Name]
		if !present && partial {
			continue
		}
		label := types.Humanize(attr.Name)
		if raw == nil {
			if !attr.Nullable {
				problems = append(problems, label+" can't be blank")
				continue
			}
			out[attr.Name] = nil
			continue
		}
		v, err := coerceValue(attr.Type, raw)
		if err != nil {
			problems = append(problems, label+" "+err.Error())
			continue
		}
		out[attr.Name] = v
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return out, nil
}

func coerceValue(t types.AttributeType, raw any) (any, error) {
	switch types.AttributeType(strings.ToLower(string(t))) {
	case types.TypeInteger, types.TypeBigint:
		n, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("must be an integer")
		}
		return n, nil
	case types.TypeFloat, types.TypeDecimal:
		f, ok := toFloat64(raw)
		if !ok {
			return nil, fmt.Errorf("is not a number")
		}
		return f, nil
	case types.TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("must be true or false")
			}
			return b, nil
		}
		return nil, fmt.Errorf("must be true or false")
	case types.TypeDate:
		return parseTemporal(raw, "is not a valid date", "2006-01-02")
	case types.TypeDatetime:
		return parseTemporal(raw, "is not a valid datetime", time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05")
	case types.TypeTime:
		return parseTemporal(raw, "is not a valid time", "15:04:05", "15:04")
	default:
		switch raw.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("must be a scalar value")
		}
		return raw, nil
	}
}

func parseTemporal(raw any, msg string, layouts ...string) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%s", msg)
	}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%s", msg)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range.
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return toInt64(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ParseID converts a decoded JSON value into a record identity.
func ParseID(v any) (int64, bool) {
	return toInt64(v)
}
