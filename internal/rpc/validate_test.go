package rpc

import (
	"encoding/json"
	"testing"

	"nacoshost/internal/hostsvc"
)

func TestDecodeParams_RejectsObjectShape(t *testing.T) {
	_, err := decodeParams(json.RawMessage(`{"a":1}`))
	if err == nil || err.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params for object, got %v", err)
	}
}

func TestDecodeParams_AcceptsArray(t *testing.T) {
	params, err := decodeParams(json.RawMessage(`["a", 1, true]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params) != 3 {
		t.Fatalf("len(params) = %d, want 3", len(params))
	}
}

func TestDecodeParams_EmptyRawIsNilParams(t *testing.T) {
	params, err := decodeParams(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params != nil {
		t.Errorf("expected nil params, got %v", params)
	}
}

func TestJSONPrimitiveMatches(t *testing.T) {
	cases := []struct {
		raw  string
		tag  string
		want bool
	}{
		{`"hello"`, "string", true},
		{`42`, "string", false},
		{`42`, "int", true},
		{`-3`, "int", true},
		{`3.14`, "float", true},
		{`true`, "bool", true},
		{`false`, "bool", true},
		{`"true"`, "bool", false},
		{`"anything"`, "mixed", true},
		{`42`, "mixed", true},
	}
	for _, tc := range cases {
		if got := jsonPrimitiveMatches(json.RawMessage(tc.raw), tc.tag); got != tc.want {
			t.Errorf("jsonPrimitiveMatches(%s, %q) = %v, want %v", tc.raw, tc.tag, got, tc.want)
		}
	}
}

func TestValidateParams_InsufficientCount(t *testing.T) {
	desc := hostsvc.Descriptor{Params: []hostsvc.Param{
		{Name: "a", Type: "string", Required: true},
		{Name: "b", Type: "int", Required: true},
	}}
	err := validateParams([]json.RawMessage{json.RawMessage(`"x"`)}, desc)
	if err == nil || err.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params for missing required arg, got %v", err)
	}
}

func TestValidateParams_TypeMismatchNamesParameter(t *testing.T) {
	desc := hostsvc.Descriptor{Params: []hostsvc.Param{
		{Name: "arg0", Type: "int", Required: true},
	}}
	err := validateParams([]json.RawMessage{json.RawMessage(`"not a number"`)}, desc)
	if err == nil || err.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %v", err)
	}
	if err.Message == "" {
		t.Error("expected a descriptive message naming the parameter")
	}
}
