// Package deform converts domain values into bus-safe primitive form prior
// to serialization by a transport's codec — the step the glossary calls
// "deform". It narrows a handful of common non-primitive Go types (time,
// byte slices, errors) down to the strings/numbers/maps/slices every codec
// in this module (see the codec package) already knows how to encode.
package deform

import (
	"encoding/base64"
	"time"
)

// ToBus recursively deforms v: time.Time becomes an RFC3339 string, []byte
// becomes base64, error becomes its message string, and maps/slices are
// walked so nested values are deformed too. Everything else passes through
// unchanged — the codec is responsible for primitives it already handles.
func ToBus(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(t)
	case error:
		return t.Error()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = ToBus(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = ToBus(val)
		}
		return out
	default:
		return v
	}
}

// KwargsToBus applies ToBus to every value in a kwargs map, returning a new
// map (the input is not mutated).
func KwargsToBus(kwargs map[string]any) map[string]any {
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = ToBus(v)
	}
	return out
}
