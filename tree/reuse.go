package tree

import (
	"slices"
	"strconv"
	"strings"
)

// exprPool holds a previous version's expressions by structural key. Each
// entry is handed out once, so two equal statements map onto two distinct
// previous statements.
type exprPool map[string][]Expr

func newExprPool(prev *File) exprPool {
	p := make(exprPool)
	for _, e := range prev.Body {
		p.add(e)
	}
	return p
}

func (p exprPool) add(e Expr) {
	k := exprKey(e)
	p[k] = append(p[k], e)
	if c, ok := e.(*Call); ok {
		if c.Callee != nil {
			p.add(c.Callee)
		}
		for _, a := range c.Args {
			p.add(a)
		}
	}
}

func (p exprPool) take(k string) (Expr, bool) {
	prev := p[k]
	if len(prev) == 0 {
		return nil, false
	}
	p[k] = prev[1:]
	return prev[0], true
}

// canonical returns the previous expression equal to e, or e with as many
// of its children as possible swapped for previous ones.
func (p exprPool) canonical(e Expr) Expr {
	if prev, ok := p.take(exprKey(e)); ok {
		return prev
	}
	c, ok := e.(*Call)
	if !ok {
		return e
	}
	if c.Callee != nil {
		if prev, ok := p.take(exprKey(c.Callee)); ok {
			c.Callee = prev.(*Ident)
		}
	}
	for i, a := range c.Args {
		c.Args[i] = p.canonical(a)
	}
	return c
}

func exprKey(e Expr) string {
	var b strings.Builder
	writeExprKey(&b, e)
	return b.String()
}

func writeExprKey(b *strings.Builder, e Expr) {
	switch e := e.(type) {
	case *Call:
		b.WriteString("call(")
		if e.Callee != nil {
			writeExprKey(b, e.Callee)
		}
		b.WriteString(":" + typeName(e.Type))
		for _, a := range e.Args {
			b.WriteString(",")
			writeExprKey(b, a)
		}
		b.WriteString(")")
	case *Ident:
		b.WriteString("ident(" + strconv.Quote(e.Name) + ":" + typeName(e.Type) + ")")
	case *Literal:
		b.WriteString("lit(" + strconv.Quote(e.Value) + ":" + typeName(e.Type) + ")")
	}
}

// reuse rewrites f to share every unchanged part of prev. When nothing
// changed prev itself is returned, so a diff against it is a single
// NO_CHANGE.
func reuse(f, prev *File) *File {
	same := f.Path == prev.Path && f.Language == prev.Language

	if slices.Equal(f.Imports, prev.Imports) {
		f.Imports = prev.Imports
	} else {
		same = false
	}

	pool := newExprPool(prev)
	bodySame := len(f.Body) == len(prev.Body)
	for i, e := range f.Body {
		f.Body[i] = pool.canonical(e)
		if bodySame && f.Body[i] != prev.Body[i] {
			bodySame = false
		}
	}
	if bodySame {
		f.Body = prev.Body
	} else {
		same = false
	}

	markers := make(map[Marker][]*Marker, len(prev.Markers))
	for _, m := range prev.Markers {
		markers[*m] = append(markers[*m], m)
	}
	markersSame := len(f.Markers) == len(prev.Markers)
	for i, m := range f.Markers {
		if pm := markers[*m]; len(pm) > 0 {
			f.Markers[i] = pm[0]
			markers[*m] = pm[1:]
		}
		if markersSame && f.Markers[i] != prev.Markers[i] {
			markersSame = false
		}
	}
	if markersSame {
		f.Markers = prev.Markers
	} else {
		same = false
	}

	if same {
		return prev
	}
	return f
}
