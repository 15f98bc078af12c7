// Package bash recovers variable and function declarations from Bash
// sources, renders them back into source form, and runs scripts through an
// embedded shell interpreter.
package bash

import (
	"fmt"
	"sort"
)

// ScriptError is returned when a shell script is malformed or fails to
// evaluate. It carries the underlying interpreter diagnostic.
type ScriptError struct {
	Message string
	Err     error
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Value is the value of a Bash variable, either a scalar string or an
// indexed array with possibly missing entries.
type Value struct {
	indexed bool
	str     string
	list    []*string
}

// ScalarValue creates a scalar string value.
func ScalarValue(s string) Value {
	return Value{str: s}
}

// IndexedValue creates an indexed array value.
func IndexedValue(entries ...*string) Value {
	if entries == nil {
		entries = []*string{}
	}
	return Value{indexed: true, list: entries}
}

// IndexedValueOf creates an indexed array value from plain strings.
func IndexedValueOf(entries ...string) Value {
	list := make([]*string, len(entries))
	for i := range entries {
		entry := entries[i]
		list[i] = &entry
	}
	return Value{indexed: true, list: list}
}

// IsIndexed reports whether the value is an indexed array.
func (v Value) IsIndexed() bool {
	return v.indexed
}

// Str returns the scalar payload. Only meaningful when !IsIndexed().
func (v Value) Str() string {
	return v.str
}

// List returns the array payload. Only meaningful when IsIndexed().
func (v Value) List() []*string {
	return v.list
}

// Strings returns the array payload with missing entries mapped to "".
func (v Value) Strings() []string {
	result := make([]string, len(v.list))
	for i, entry := range v.list {
		if entry != nil {
			result[i] = *entry
		}
	}
	return result
}

// Variables maps variable names to their values, preserving declaration
// order.
type Variables struct {
	names  []string
	values map[string]Value
}

// NewVariables creates an empty variable map.
func NewVariables() *Variables {
	return &Variables{values: map[string]Value{}}
}

// Names returns the variable names in declaration order.
func (v *Variables) Names() []string {
	return append([]string(nil), v.names...)
}

// Len returns the number of variables.
func (v *Variables) Len() int {
	return len(v.names)
}

// Has reports whether a variable is declared.
func (v *Variables) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// Get returns the value of a variable.
func (v *Variables) Get(name string) (Value, bool) {
	value, ok := v.values[name]
	return value, ok
}

// Set declares a variable or replaces its value, keeping its original
// position when it already exists.
func (v *Variables) Set(name string, value Value) {
	if _, ok := v.values[name]; !ok {
		v.names = append(v.names, name)
	}
	v.values[name] = value
}

// Pop removes a variable and returns its value.
func (v *Variables) Pop(name string) (Value, bool) {
	value, ok := v.values[name]
	if !ok {
		return Value{}, false
	}

	delete(v.values, name)
	v.remove(name)
	return value, true
}

// Delete removes a variable.
func (v *Variables) Delete(name string) {
	if _, ok := v.values[name]; !ok {
		return
	}
	delete(v.values, name)
	v.remove(name)
}

func (v *Variables) remove(name string) {
	for i, n := range v.names {
		if n == name {
			v.names = append(v.names[:i], v.names[i+1:]...)
			return
		}
	}
}

// Clone returns an independent copy of the variable map.
func (v *Variables) Clone() *Variables {
	clone := &Variables{
		names:  append([]string(nil), v.names...),
		values: make(map[string]Value, len(v.values)),
	}
	for name, value := range v.values {
		clone.values[name] = value
	}
	return clone
}

// Merge declares every variable of other on top of v, appending new names
// in other's declaration order.
func (v *Variables) Merge(other *Variables) {
	for _, name := range other.names {
		v.Set(name, other.values[name])
	}
}

// Functions maps function names to their raw body text, preserving
// declaration order.
type Functions struct {
	names  []string
	bodies map[string]string
}

// NewFunctions creates an empty function map.
func NewFunctions() *Functions {
	return &Functions{bodies: map[string]string{}}
}

// Names returns the function names in declaration order.
func (f *Functions) Names() []string {
	return append([]string(nil), f.names...)
}

// Len returns the number of functions.
func (f *Functions) Len() int {
	return len(f.names)
}

// Has reports whether a function is declared.
func (f *Functions) Has(name string) bool {
	_, ok := f.bodies[name]
	return ok
}

// Get returns the body of a function.
func (f *Functions) Get(name string) (string, bool) {
	body, ok := f.bodies[name]
	return body, ok
}

// Set declares a function or replaces its body, keeping its original
// position when it already exists.
func (f *Functions) Set(name, body string) {
	if _, ok := f.bodies[name]; !ok {
		f.names = append(f.names, name)
	}
	f.bodies[name] = body
}

// Pop removes a function and returns its body, or "" when absent.
func (f *Functions) Pop(name string) (string, bool) {
	body, ok := f.bodies[name]
	if !ok {
		return "", false
	}

	delete(f.bodies, name)
	for i, n := range f.names {
		if n == name {
			f.names = append(f.names[:i], f.names[i+1:]...)
			break
		}
	}
	return body, true
}

// Clone returns an independent copy of the function map.
func (f *Functions) Clone() *Functions {
	clone := &Functions{
		names:  append([]string(nil), f.names...),
		bodies: make(map[string]string, len(f.bodies)),
	}
	for name, body := range f.bodies {
		clone.bodies[name] = body
	}
	return clone
}

// Merge declares every function of other on top of f.
func (f *Functions) Merge(other *Functions) {
	for _, name := range other.names {
		f.Set(name, other.bodies[name])
	}
}

func sortedNames(names []string) []string {
	result := append([]string(nil), names...)
	sort.Strings(result)
	return result
}
