package hostsvc

import (
	"fmt"
	"reflect"
	"strings"
)

// reflectMethods builds the bound-method table and Descriptor set for impl,
// excluding methods promoted from embedded fields (spec.md §4.B: "exclude
// inherited").
func reflectMethods(impl any) (map[string]reflect.Value, map[string]Descriptor, error) {
	if impl == nil {
		return nil, nil, fmt.Errorf("nil implementation")
	}

	t := reflect.TypeOf(impl)
	v := reflect.ValueOf(impl)
	promoted := promotedMethodNames(t)

	methods := make(map[string]reflect.Value)
	descriptors := make(map[string]Descriptor)

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if promoted[m.Name] {
			continue
		}

		desc, err := describeMethod(m.Name, v.Method(i).Type())
		if err != nil {
			return nil, nil, fmt.Errorf("reflect method %s: %w", m.Name, err)
		}

		methods[m.Name] = v.Method(i)
		descriptors[m.Name] = desc
	}

	return methods, descriptors, nil
}

// promotedMethodNames returns the set of method names reachable only via an
// anonymous (embedded) field of t, not declared directly on t itself.
func promotedMethodNames(t reflect.Type) map[string]bool {
	promoted := make(map[string]bool)
	structType := t
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return promoted
	}

	for i := 0; i < structType.NumField(); i++ {
		f := structType.Field(i)
		if !f.Anonymous {
			continue
		}
		embedded := f.Type
		for j := 0; j < embedded.NumMethod(); j++ {
			promoted[embedded.Method(j).Name] = true
		}
		if embedded.Kind() == reflect.Ptr {
			for j := 0; j < embedded.Elem().NumMethod(); j++ {
				promoted[embedded.Elem().Method(j).Name] = true
			}
		} else if embedded.Kind() != reflect.Interface {
			ptr := reflect.PointerTo(embedded)
			for j := 0; j < ptr.NumMethod(); j++ {
				promoted[ptr.Method(j).Name] = true
			}
		}
	}
	return promoted
}

// describeMethod builds a Descriptor from a bound method's reflect.Type
// (receiver already stripped, since fn came from Value.Method).
func describeMethod(name string, fn reflect.Type) (Descriptor, error) {
	params := make([]Param, 0, fn.NumIn())
	for i := 0; i < fn.NumIn(); i++ {
		tag, err := primitiveTag(fn.In(i))
		if err != nil {
			return Descriptor{}, fmt.Errorf("parameter %d: %w", i, err)
		}
		params = append(params, Param{
			Name:     fmt.Sprintf("arg%d", i),
			Type:     tag,
			Required: true,
		})
	}
	return Descriptor{Name: name, Params: params}, nil
}

// primitiveTag maps a Go parameter type to the wire type tag used for
// dispatch-time validation (spec.md §4.F step 6).
func primitiveTag(t reflect.Type) (string, error) {
	switch t.Kind() {
	case reflect.String:
		return "string", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int", nil
	case reflect.Float32, reflect.Float64:
		return "float", nil
	case reflect.Bool:
		return "bool", nil
	case reflect.Interface:
		return "mixed", nil
	default:
		return "", fmt.Errorf("unsupported parameter kind %s", t.Kind())
	}
}

// sanitize derives the name-safe fragment of a registry identifier by
// removing every character outside [A-Za-z0-9_-] (spec.md §3).
func sanitize(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// safeName is the wire-advertised service identifier (spec.md §4.B).
func safeName(k string) string {
	return "SERVICE@@" + sanitize(k)
}
