package rpc

import (
	"encoding/json"
	"fmt"

	"nacoshost/internal/hostsvc"
)

// decodeParams requires params to be a JSON array (spec.md §9: an
// object-shaped params is rejected, not interpreted as named arguments).
func decodeParams(raw json.RawMessage) ([]json.RawMessage, *RPCError) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: "params must be an ordered list"}
	}
	return list, nil
}

// validateParams checks count and per-position primitive type against desc,
// returning a descriptive -32602 error on the first mismatch.
func validateParams(params []json.RawMessage, desc hostsvc.Descriptor) *RPCError {
	required := 0
	for _, p := range desc.Params {
		if p.Required {
			required++
		}
	}
	if len(params) < required {
		return &RPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("expected at least %d parameter(s), got %d", required, len(params)),
		}
	}

	for i, p := range desc.Params {
		if i >= len(params) {
			break
		}
		if !jsonPrimitiveMatches(params[i], p.Type) {
			return &RPCError{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("parameter %q (position %d): expected type %q", p.Name, i, p.Type),
			}
		}
	}
	return nil
}

// jsonPrimitiveMatches reports whether the raw JSON token's shape is
// compatible with the declared type tag. "mixed" matches anything.
func jsonPrimitiveMatches(raw json.RawMessage, tag string) bool {
	trimmed := trimJSONWhitespace(raw)
	if len(trimmed) == 0 {
		return false
	}

	switch tag {
	case "mixed":
		return true
	case "string":
		return trimmed[0] == '"'
	case "bool":
		return string(trimmed) == "true" || string(trimmed) == "false"
	case "int", "float":
		c := trimmed[0]
		return c == '-' || (c >= '0' && c <= '9')
	default:
		return false
	}
}

func trimJSONWhitespace(raw json.RawMessage) []byte {
	start := 0
	for start < len(raw) {
		switch raw[start] {
		case ' ', '\t', '\n', '\r':
			start++
			continue
		}
		break
	}
	return raw[start:]
}
