package pyexec

import (
	"fmt"

	"go.starlark.net/starlark"
)

// toStarlark converts a caller-supplied Go value into a Starlark value for
// injection into the sandbox namespace. Only JSON-shaped values are
// accepted; the context mapping crosses an HTTP/task-queue boundary in
// practice, so anything else is a caller bug worth reporting.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		elems := make([]starlark.Value, 0, len(val))
		for _, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, e := range val {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported context value type %T", v)
	}
}

// fromStarlark converts a Starlark value back into a plain, JSON-shaped
// Go value for the result object. Values with no plain representation
// (functions, modules) degrade to their string form.
func fromStarlark(v starlark.Value) any {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(val)
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i
		}
		return val.String()
	case starlark.Float:
		return float64(val)
	case starlark.String:
		return string(val)
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			out = append(out, fromStarlark(val.Index(i)))
		}
		return out
	case starlark.Tuple:
		out := make([]any, 0, len(val))
		for _, e := range val {
			out = append(out, fromStarlark(e))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key := fromStarlark(item[0])
			ks, ok := key.(string)
			if !ok {
				ks = fmt.Sprintf("%v", key)
			}
			out[ks] = fromStarlark(item[1])
		}
		return out
	case *starlark.Set:
		out := make([]any, 0, val.Len())
		iter := val.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			out = append(out, fromStarlark(elem))
		}
		return out
	default:
		return v.String()
	}
}
