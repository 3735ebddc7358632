package ee

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Node is a single value in an Earth Engine computation graph. Nodes are
// immutable once built; the same node may appear in several places in a
// graph and is serialized into the value pool exactly once.
type Node interface {
	isNode()
}

type constNode struct {
	value interface{}
}

type invokeNode struct {
	function string
	args     map[string]Node
}

type funcDefNode struct {
	argNames []string
	body     Node
}

type argRefNode struct {
	name string
}

func (constNode) isNode()   {}
func (invokeNode) isNode()  {}
func (funcDefNode) isNode() {}
func (argRefNode) isNode()  {}

// Const wraps a JSON-encodable constant (number, string, bool, slice, map).
func Const(v interface{}) Node {
	return constNode{value: v}
}

// Number wraps a numeric constant.
func Number(v float64) Node {
	return constNode{value: v}
}

// String wraps a string constant.
func String(s string) Node {
	return constNode{value: s}
}

// StringList wraps a list-of-strings constant (band selectors, palettes).
func StringList(items []string) Node {
	list := make([]interface{}, len(items))
	for i, s := range items {
		list[i] = s
	}
	return constNode{value: list}
}

// Invoke builds a function invocation node calling a named server-side
// algorithm with named arguments.
func Invoke(function string, args map[string]Node) Node {
	return invokeNode{function: function, args: args}
}

// ArgRef references a named argument of the enclosing function definition.
func ArgRef(name string) Node {
	return argRefNode{name: name}
}

// Lambda builds an anonymous server-side function, used for algorithms
// mapped over a collection. The build callback receives one ArgRef per
// argument name and returns the function body.
func Lambda(argNames []string, build func(args ...Node) Node) Node {
	refs := make([]Node, len(argNames))
	for i, name := range argNames {
		refs[i] = argRefNode{name: name}
	}
	return funcDefNode{argNames: argNames, body: build(refs...)}
}

// Expression is the wire form of a computation graph: a pool of values keyed
// by reference plus the reference of the result value. This matches the
// Earth Engine v1 API Expression message.
type Expression struct {
	Values map[string]json.RawMessage `json:"values"`
	Result string                     `json:"result"`
}

// Serialize flattens a node graph into an Expression. Invocations and
// function definitions are pooled and deduplicated; constants and argument
// references are inlined at their point of use.
func Serialize(root Node) (*Expression, error) {
	s := &serializer{
		values: make(map[string]json.RawMessage),
		refs:   make(map[string]string),
	}

	resultRef, err := s.pool(root)
	if err != nil {
		return nil, err
	}

	return &Expression{Values: s.values, Result: resultRef}, nil
}

type serializer struct {
	values map[string]json.RawMessage
	refs   map[string]string // canonical encoding -> pool reference
	next   int
}

// pool encodes a node and guarantees it lives in the value pool, returning
// its reference.
func (s *serializer) pool(n Node) (string, error) {
	enc, err := s.encode(n, true)
	if err != nil {
		return "", err
	}

	if ref, ok := s.refs[string(enc)]; ok {
		return ref, nil
	}

	ref := strconv.Itoa(s.next)
	s.next++
	s.values[ref] = enc
	s.refs[string(enc)] = ref
	return ref, nil
}

// encode produces the ValueNode JSON for a node. When topLevel is false,
// invocations and function definitions are replaced by a valueReference
// into the pool so shared subgraphs are emitted once.
func (s *serializer) encode(n Node, topLevel bool) (json.RawMessage, error) {
	switch v := n.(type) {
	case constNode:
		inner, err := json.Marshal(v.value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode constant: %w", err)
		}
		return json.Marshal(map[string]json.RawMessage{"constantValue": inner})

	case argRefNode:
		return json.Marshal(map[string]string{"argumentReference": v.name})

	case invokeNode:
		if !topLevel {
			ref, err := s.pool(n)
			if err != nil {
				return nil, err
			}
			return json.Marshal(map[string]string{"valueReference": ref})
		}

		args := make(map[string]json.RawMessage, len(v.args))
		// Deterministic argument order keeps serialization stable for tests
		// and for pool deduplication.
		names := make([]string, 0, len(v.args))
		for name := range v.args {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			enc, err := s.encode(v.args[name], false)
			if err != nil {
				return nil, err
			}
			args[name] = enc
		}

		return json.Marshal(map[string]interface{}{
			"functionInvocationValue": map[string]interface{}{
				"functionName": v.function,
				"arguments":    args,
			},
		})

	case funcDefNode:
		if !topLevel {
			ref, err := s.pool(n)
			if err != nil {
				return nil, err
			}
			return json.Marshal(map[string]string{"valueReference": ref})
		}

		bodyRef, err := s.pool(v.body)
		if err != nil {
			return nil, err
		}

		return json.Marshal(map[string]interface{}{
			"functionDefinitionValue": map[string]interface{}{
				"argumentNames": v.argNames,
				"body":          bodyRef,
			},
		})

	default:
		return nil, fmt.Errorf("unknown node type %T", n)
	}
}

// Polygon builds a geometry node from a closed linear ring of lon/lat pairs.
func Polygon(ring [][2]float64) Node {
	coords := make([]interface{}, len(ring))
	for i, pt := range ring {
		coords[i] = []interface{}{pt[0], pt[1]}
	}
	return Invoke("GeometryConstructors.Polygon", map[string]Node{
		"coordinates": Const([]interface{}{coords}),
		"geodesic":    Const(false),
	})
}
