package rpc

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// buildArgs converts the raw JSON positional params into reflect.Values
// matching method's actual parameter types, so the declared-type tag
// validated in step 6 need only be the coarse wire type (spec.md §3).
func buildArgs(method reflect.Value, params []json.RawMessage) ([]reflect.Value, error) {
	numIn := method.Type().NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := method.Type().In(i)
		if i >= len(params) {
			args[i] = reflect.Zero(paramType)
			continue
		}

		v, err := convertOne(params[i], paramType)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

func convertOne(raw json.RawMessage, paramType reflect.Type) (reflect.Value, error) {
	dest := reflect.New(paramType)
	if err := json.Unmarshal(raw, dest.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("decode as %s: %w", paramType, err)
	}
	return dest.Elem(), nil
}
