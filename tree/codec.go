package tree

import (
	"github.com/teranos/treesync/rpc"
)

// Register binds every tree codec to registry.
func Register(registry *rpc.Registry) *rpc.Registry {
	registry.Register(KindFile, fileCodec{})
	registry.Register(KindCall, callCodec{})
	registry.Register(KindIdent, identCodec{})
	registry.Register(KindLiteral, literalCodec{})
	registry.Register(KindTypeRef, typeRefCodec{})
	registry.Register(KindMarker, markerCodec{})
	return registry
}

// NewRegistry returns a registry with the tree codecs.
func NewRegistry() *rpc.Registry {
	return Register(rpc.NewRegistry())
}

func markerKey(m *Marker) any {
	return struct {
		Line    int
		Message string
	}{m.Line, m.Message}
}

type fileCodec struct{}

func (fileCodec) Send(q *rpc.SendQueue, n rpc.Node) error {
	f := n.(*File)
	if err := rpc.SendField(q, f, func(f *File) string { return f.Path }); err != nil {
		return err
	}
	if err := rpc.SendField(q, f, func(f *File) string { return f.Language }); err != nil {
		return err
	}
	if err := rpc.SendListField(q, f, func(f *File) []string { return f.Imports }, nil); err != nil {
		return err
	}
	if err := rpc.SendListField(q, f, func(f *File) []Expr { return f.Body }, nil); err != nil {
		return err
	}
	return rpc.SendListField(q, f, func(f *File) []*Marker { return f.Markers }, markerKey)
}

func (fileCodec) Receive(q *rpc.ReceiveQueue, before rpc.Node) (rpc.Node, error) {
	b, _ := before.(*File)
	out := &File{}
	var err error
	if out.Path, err = rpc.ReceiveField(q, b, func(f *File) string { return f.Path }); err != nil {
		return nil, err
	}
	if out.Language, err = rpc.ReceiveField(q, b, func(f *File) string { return f.Language }); err != nil {
		return nil, err
	}
	if out.Imports, err = rpc.ReceiveListField(q, b, func(f *File) []string { return f.Imports }); err != nil {
		return nil, err
	}
	if out.Body, err = rpc.ReceiveListField(q, b, func(f *File) []Expr { return f.Body }); err != nil {
		return nil, err
	}
	if out.Markers, err = rpc.ReceiveListField(q, b, func(f *File) []*Marker { return f.Markers }); err != nil {
		return nil, err
	}
	return out, nil
}

type callCodec struct{}

func (callCodec) Send(q *rpc.SendQueue, n rpc.Node) error {
	c := n.(*Call)
	if err := rpc.SendField(q, c, func(c *Call) *Ident { return c.Callee }); err != nil {
		return err
	}
	if err := rpc.SendListField(q, c, func(c *Call) []Expr { return c.Args }, nil); err != nil {
		return err
	}
	return rpc.SendField(q, c, func(c *Call) *TypeRef { return c.Type })
}

func (callCodec) Receive(q *rpc.ReceiveQueue, before rpc.Node) (rpc.Node, error) {
	b, _ := before.(*Call)
	out := &Call{}
	var err error
	if out.Callee, err = rpc.ReceiveField(q, b, func(c *Call) *Ident { return c.Callee }); err != nil {
		return nil, err
	}
	if out.Args, err = rpc.ReceiveListField(q, b, func(c *Call) []Expr { return c.Args }); err != nil {
		return nil, err
	}
	if out.Type, err = rpc.ReceiveField(q, b, func(c *Call) *TypeRef { return c.Type }); err != nil {
		return nil, err
	}
	return out, nil
}

type identCodec struct{}

func (identCodec) Send(q *rpc.SendQueue, n rpc.Node) error {
	id := n.(*Ident)
	if err := rpc.SendField(q, id, func(i *Ident) string { return i.Name }); err != nil {
		return err
	}
	return rpc.SendField(q, id, func(i *Ident) *TypeRef { return i.Type })
}

func (identCodec) Receive(q *rpc.ReceiveQueue, before rpc.Node) (rpc.Node, error) {
	b, _ := before.(*Ident)
	out := &Ident{}
	var err error
	if out.Name, err = rpc.ReceiveField(q, b, func(i *Ident) string { return i.Name }); err != nil {
		return nil, err
	}
	if out.Type, err = rpc.ReceiveField(q, b, func(i *Ident) *TypeRef { return i.Type }); err != nil {
		return nil, err
	}
	return out, nil
}

type literalCodec struct{}

func (literalCodec) Send(q *rpc.SendQueue, n rpc.Node) error {
	l := n.(*Literal)
	if err := rpc.SendField(q, l, func(l *Literal) string { return l.Value }); err != nil {
		return err
	}
	return rpc.SendField(q, l, func(l *Literal) *TypeRef { return l.Type })
}

func (literalCodec) Receive(q *rpc.ReceiveQueue, before rpc.Node) (rpc.Node, error) {
	b, _ := before.(*Literal)
	out := &Literal{}
	var err error
	if out.Value, err = rpc.ReceiveField(q, b, func(l *Literal) string { return l.Value }); err != nil {
		return nil, err
	}
	if out.Type, err = rpc.ReceiveField(q, b, func(l *Literal) *TypeRef { return l.Type }); err != nil {
		return nil, err
	}
	return out, nil
}

type typeRefCodec struct{}

func (typeRefCodec) Send(q *rpc.SendQueue, n rpc.Node) error {
	t := n.(*TypeRef)
	if err := rpc.SendField(q, t, func(t *TypeRef) string { return t.Name }); err != nil {
		return err
	}
	return rpc.SendListField(q, t, func(t *TypeRef) []*TypeRef { return t.Params }, nil)
}

func (typeRefCodec) Receive(q *rpc.ReceiveQueue, before rpc.Node) (rpc.Node, error) {
	b, _ := before.(*TypeRef)
	out := &TypeRef{}
	var err error
	if out.Name, err = rpc.ReceiveField(q, b, func(t *TypeRef) string { return t.Name }); err != nil {
		return nil, err
	}
	if out.Params, err = rpc.ReceiveListField(q, b, func(t *TypeRef) []*TypeRef { return t.Params }); err != nil {
		return nil, err
	}
	return out, nil
}

type markerCodec struct{}

func (markerCodec) Send(q *rpc.SendQueue, n rpc.Node) error {
	m := n.(*Marker)
	if err := rpc.SendField(q, m, func(m *Marker) int { return m.Line }); err != nil {
		return err
	}
	if err := rpc.SendField(q, m, func(m *Marker) string { return m.Severity }); err != nil {
		return err
	}
	return rpc.SendField(q, m, func(m *Marker) string { return m.Message })
}

func (markerCodec) Receive(q *rpc.ReceiveQueue, before rpc.Node) (rpc.Node, error) {
	b, _ := before.(*Marker)
	out := &Marker{}
	var err error
	if out.Line, err = rpc.ReceiveField(q, b, func(m *Marker) int { return m.Line }); err != nil {
		return nil, err
	}
	if out.Severity, err = rpc.ReceiveField(q, b, func(m *Marker) string { return m.Severity }); err != nil {
		return nil, err
	}
	if out.Message, err = rpc.ReceiveField(q, b, func(m *Marker) string { return m.Message }); err != nil {
		return nil, err
	}
	return out, nil
}
