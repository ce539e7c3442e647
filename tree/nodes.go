// Package tree is a small source-tree model used to exercise the protocol:
// files of calls, identifiers and literals whose type references are
// shared across the tree.
package tree

import "github.com/teranos/treesync/rpc"

// Node kinds.
const (
	KindFile    rpc.Kind = "File"
	KindCall    rpc.Kind = "Call"
	KindIdent   rpc.Kind = "Ident"
	KindLiteral rpc.Kind = "Literal"
	KindTypeRef rpc.Kind = "TypeRef"
	KindMarker  rpc.Kind = "Marker"
)

// Expr is any node that can appear in a file body or argument list.
type Expr interface {
	rpc.Node
	expr()
}

// File is the root object. Its path is its identity in the ledger.
type File struct {
	Path     string
	Language string
	Imports  []string
	Body     []Expr
	Markers  []*Marker
}

func (*File) Kind() rpc.Kind { return KindFile }

// IntrinsicID implements ledger.Identified.
func (f *File) IntrinsicID() string { return f.Path }

// Call is a function call expression.
type Call struct {
	Callee *Ident
	Args   []Expr
	Type   *TypeRef
}

func (*Call) Kind() rpc.Kind { return KindCall }
func (*Call) expr()          {}

// Ident is a name reference.
type Ident struct {
	Name string
	Type *TypeRef
}

func (*Ident) Kind() rpc.Kind { return KindIdent }
func (*Ident) expr()          {}

// Literal is a constant in source form.
type Literal struct {
	Value string
	Type  *TypeRef
}

func (*Literal) Kind() rpc.Kind { return KindLiteral }
func (*Literal) expr()          {}

// TypeRef names a type. Type refs are interned, so every mention of the
// same type is one pointer and travels once per session.
type TypeRef struct {
	Name   string
	Params []*TypeRef
}

func (*TypeRef) Kind() rpc.Kind   { return KindTypeRef }
func (*TypeRef) Shareable() bool  { return true }
func (t *TypeRef) String() string { return typeName(t) }

func typeName(t *TypeRef) string {
	if t == nil {
		return ""
	}
	if len(t.Params) == 0 {
		return t.Name
	}
	s := t.Name + "["
	for i, p := range t.Params {
		if i > 0 {
			s += ","
		}
		s += typeName(p)
	}
	return s + "]"
}

// Marker is a diagnostic attached to a file.
type Marker struct {
	Line     int
	Severity string
	Message  string
}

func (*Marker) Kind() rpc.Kind { return KindMarker }

// Walk visits n and every node below it in codec field order. Returning
// false from fn skips the node's children.
func Walk(n rpc.Node, fn func(rpc.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *File:
		for _, e := range n.Body {
			Walk(e, fn)
		}
		for _, m := range n.Markers {
			Walk(m, fn)
		}
	case *Call:
		if n.Callee != nil {
			Walk(n.Callee, fn)
		}
		for _, a := range n.Args {
			Walk(a, fn)
		}
		if n.Type != nil {
			Walk(n.Type, fn)
		}
	case *Ident:
		if n.Type != nil {
			Walk(n.Type, fn)
		}
	case *Literal:
		if n.Type != nil {
			Walk(n.Type, fn)
		}
	case *TypeRef:
		for _, p := range n.Params {
			Walk(p, fn)
		}
	}
}

// Count returns the number of nodes under n, n included. Shared type refs
// are counted once per mention.
func Count(n rpc.Node) int {
	c := 0
	Walk(n, func(rpc.Node) bool {
		c++
		return true
	})
	return c
}
