package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ParamSpec declares one parameter of a command.
type ParamSpec struct {
	Name     string
	Optional bool
	// Default documents the remote side's default. It is never sent;
	// leaving an optional parameter unset lets the remote default apply.
	Default string
}

// CommandSpec declares a command and its ordered parameter list.
type CommandSpec struct {
	Domain string
	Name   string
	Params []ParamSpec
}

// Method returns "Domain.name".
func (s CommandSpec) Method() string {
	return JoinMethod(s.Domain, s.Name)
}

// Required returns a required parameter spec.
func Required(name string) ParamSpec {
	return ParamSpec{Name: name}
}

// Optional returns an optional parameter spec with a documented default.
func Optional(name, documentedDefault string) ParamSpec {
	return ParamSpec{Name: name, Optional: true, Default: documentedDefault}
}

// Bind orders named values by the declared parameter list. Unset or nil
// optional values are omitted; unset required values and undeclared
// names are errors.
func (s CommandSpec) Bind(named map[string]any) (Params, error) {
	declared := make(map[string]struct{}, len(s.Params))
	for _, p := range s.Params {
		declared[p.Name] = struct{}{}
	}

	var unknown []string
	for name := range named {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s %v", ErrUnknownParam, s.Method(), unknown)
	}

	out := make(Params, 0, len(named))
	for _, p := range s.Params {
		v, ok := named[p.Name]
		if !ok || unset(v) {
			if !p.Optional {
				return nil, fmt.Errorf("%w: %s.%s", ErrMissingParam, s.Method(), p.Name)
			}
			continue
		}
		out = append(out, Param{Name: p.Name, Value: v})
	}
	return out, nil
}

// unset reports whether v is nil, including a typed nil pointer, map,
// slice or interface.
func unset(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Catalog is a method-keyed table of command declarations.
type Catalog struct {
	mu       sync.RWMutex
	commands map[string]CommandSpec
}

// NewCatalog returns a catalog holding specs.
func NewCatalog(specs ...CommandSpec) *Catalog {
	c := &Catalog{commands: make(map[string]CommandSpec)}
	c.Register(specs...)
	return c
}

// Register adds or replaces command declarations.
func (c *Catalog) Register(specs ...CommandSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range specs {
		c.commands[s.Method()] = s
	}
}

// Lookup finds a declaration by "Domain.method".
func (c *Catalog) Lookup(method string) (CommandSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.commands[method]
	return s, ok
}

// Len returns the number of declared commands.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.commands)
}

// Param is one named parameter value.
type Param struct {
	Name  string
	Value any
}

// Params is an ordered parameter list. It marshals to a JSON object whose
// keys appear in list order.
type Params []Param

// MarshalJSON writes the params as an ordered JSON object.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(param.Value)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", param.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
