// Package hostsvc builds the ServiceEntry registry from configured service
// implementations: reflects each implementation's directly-declared public
// methods into Descriptors, derives the safe registry name, and registers
// every enabled entry with the registry adapter (spec.md §4.B).
package hostsvc

import (
	"reflect"
	"unicode"
)

// Param describes one positional parameter of a reflected method.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "string", "int", "float", "bool", or "mixed"
	Required bool   `json:"required"`
}

// Descriptor is the reflected shape of one callable method.
type Descriptor struct {
	Name   string  `json:"-"`
	Params []Param `json:"params"`
}

// ServiceEntry is one enabled service, ready for dispatch and registration.
type ServiceEntry struct {
	Key       string // the config key, e.g. "demo"
	SafeName  string // "SERVICE@@"+sanitize(Key) form used on the wire
	Namespace string
	Weight    float64
	Impl      any

	methods     map[string]reflect.Value // methodName -> bound method value
	descriptors map[string]Descriptor
	contract    map[string]string // funcName -> real methodName alias
}

// Descriptors returns the reflected method descriptors, used to build the
// advertised serviceMetadata payload (spec.md §6).
func (e *ServiceEntry) Descriptors() map[string]Descriptor {
	return e.descriptors
}

// ResolveMethod resolves funcName through the contract alias table, then
// looks up the bound method. Go exports methods as PascalCase, but the wire
// protocol calls them lower-camel (spec.md §8 scenario 1: "demo.add" reaches
// the Add method); a literal match is tried first so an explicit contract
// alias always wins, falling back to the exported-name form otherwise.
// Returns (zero Value, false) if neither resolves.
func (e *ServiceEntry) ResolveMethod(funcName string) (reflect.Value, Descriptor, bool) {
	methodName := funcName
	if alias, ok := e.contract[funcName]; ok && alias != "" {
		methodName = alias
	}

	if m, ok := e.methods[methodName]; ok {
		return m, e.descriptors[methodName], true
	}

	if exported := exportedName(methodName); exported != methodName {
		if m, ok := e.methods[exported]; ok {
			return m, e.descriptors[exported], true
		}
	}

	return reflect.Value{}, Descriptor{}, false
}

// exportedName upper-cases the first rune, turning a lower-camel wire name
// like "add" into the Go-exported "Add".
func exportedName(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
