package snapshot

import (
	"fmt"
	"math"
	"strconv"
)

// Values streamed from the engine arrive as the Bolt driver decodes them:
// int64, float64, string, bool and []any. These helpers coerce them to the
// column types, rejecting anything else.

func asFloat(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1.0, nil
		}
		return 0.0, nil
	}
	return nil, fmt.Errorf("want number, got %T", v)
}

func asInt(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("want integer, got %v", x)
		}
		return int64(x), nil
	}
	return nil, fmt.Errorf("want integer, got %T", v)
}

func asFloats(v any) ([]float64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		return x, nil
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, err := asFloat(e)
			if err != nil || f == nil {
				return nil, fmt.Errorf("element %d: want number, got %T", i, e)
			}
			out[i] = f.(float64)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want list of numbers, got %T", v)
}

func asInts(v any) ([]int64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []int64:
		return x, nil
	case int64:
		return []int64{x}, nil
	case []any:
		out := make([]int64, len(x))
		for i, e := range x {
			n, err := asInt(e)
			if err != nil || n == nil {
				return nil, fmt.Errorf("element %d: want integer, got %T", i, e)
			}
			out[i] = n.(int64)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want list of integers, got %T", v)
}

func asStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: want string, got %T", i, e)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("want list of strings, got %T", v)
}

// stableID renders a database identifier as a string.
func stableID(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case nil:
		return "", fmt.Errorf("identifier is missing")
	}
	return "", fmt.Errorf("identifier of type %T", v)
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []float64, []int64:
		return true
	}
	return false
}
