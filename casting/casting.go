// Package casting coerces RPC kwargs into the types an operation declares,
// when an API's CastValues config opts into it. It generalizes the
// teacher's reflect.New(ArgType)+json.Unmarshal approach (server/service.go)
// from a single positional args struct to the named-kwargs model used
// throughout this module.
package casting

import (
	"fmt"
	"reflect"
)

// ToSignature returns a copy of kwargs with each value converted to the
// type declared for its name in paramTypes. Names absent from paramTypes
// pass through unchanged. A value that cannot be converted to its declared
// type produces an error naming the offending parameter. When paramTypes
// is empty, kwargs itself is returned rather than a copy.
func ToSignature(kwargs map[string]any, paramTypes map[string]reflect.Type) (map[string]any, error) {
	if len(paramTypes) == 0 {
		return kwargs, nil
	}
	out := make(map[string]any, len(kwargs))
	for name, value := range kwargs {
		want, ok := paramTypes[name]
		if !ok {
			out[name] = value
			continue
		}
		cast, err := castValue(value, want)
		if err != nil {
			return nil, fmt.Errorf("casting: parameter %q: %w", name, err)
		}
		out[name] = cast
	}
	return out, nil
}

func castValue(value any, want reflect.Type) (any, error) {
	if value == nil {
		return nil, nil
	}
	v := reflect.ValueOf(value)
	if v.Type() == want {
		return value, nil
	}
	if v.Type().AssignableTo(want) {
		return v.Convert(want).Interface(), nil
	}
	if v.Type().ConvertibleTo(want) {
		switch want.Kind() {
		case reflect.String, reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return v.Convert(want).Interface(), nil
		}
	}
	return nil, fmt.Errorf("cannot cast %s to %s", v.Type(), want)
}
