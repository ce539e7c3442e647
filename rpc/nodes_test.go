package rpc

const (
	kindLeaf   Kind = "Leaf"
	kindShared Kind = "Shared"
	kindBox    Kind = "Box"
)

type leaf struct {
	ID   string
	Text string
}

func (*leaf) Kind() Kind { return kindLeaf }

type shared struct {
	Name string
}

func (*shared) Kind() Kind      { return kindShared }
func (*shared) Shareable() bool { return true }

type box struct {
	Name  string
	Size  int
	Items []*leaf
	Tags  []string
	Types []*shared
}

func (*box) Kind() Kind { return kindBox }

type leafCodec struct{}

func (leafCodec) Send(q *SendQueue, after Node) error {
	l := after.(*leaf)
	if err := SendField(q, l, func(l *leaf) string { return l.ID }); err != nil {
		return err
	}
	return SendField(q, l, func(l *leaf) string { return l.Text })
}

func (leafCodec) Receive(q *ReceiveQueue, before Node) (Node, error) {
	b, _ := before.(*leaf)
	out := &leaf{}
	var err error
	if out.ID, err = ReceiveField(q, b, func(l *leaf) string { return l.ID }); err != nil {
		return nil, err
	}
	if out.Text, err = ReceiveField(q, b, func(l *leaf) string { return l.Text }); err != nil {
		return nil, err
	}
	return out, nil
}

type sharedCodec struct{}

func (sharedCodec) Send(q *SendQueue, after Node) error {
	return SendField(q, after.(*shared), func(s *shared) string { return s.Name })
}

func (sharedCodec) Receive(q *ReceiveQueue, before Node) (Node, error) {
	b, _ := before.(*shared)
	name, err := ReceiveField(q, b, func(s *shared) string { return s.Name })
	if err != nil {
		return nil, err
	}
	return &shared{Name: name}, nil
}

type boxCodec struct{}

func leafID(l *leaf) any { return l.ID }

func (boxCodec) Send(q *SendQueue, after Node) error {
	b := after.(*box)
	if err := SendField(q, b, func(b *box) string { return b.Name }); err != nil {
		return err
	}
	if err := SendField(q, b, func(b *box) int { return b.Size }); err != nil {
		return err
	}
	if err := SendListField(q, b, func(b *box) []*leaf { return b.Items }, leafID); err != nil {
		return err
	}
	if err := SendListField(q, b, func(b *box) []string { return b.Tags }, nil); err != nil {
		return err
	}
	return SendListField(q, b, func(b *box) []*shared { return b.Types }, nil)
}

func (boxCodec) Receive(q *ReceiveQueue, before Node) (Node, error) {
	b, _ := before.(*box)
	out := &box{}
	var err error
	if out.Name, err = ReceiveField(q, b, func(b *box) string { return b.Name }); err != nil {
		return nil, err
	}
	if out.Size, err = ReceiveField(q, b, func(b *box) int { return b.Size }); err != nil {
		return nil, err
	}
	if out.Items, err = ReceiveListField(q, b, func(b *box) []*leaf { return b.Items }); err != nil {
		return nil, err
	}
	if out.Tags, err = ReceiveListField(q, b, func(b *box) []string { return b.Tags }); err != nil {
		return nil, err
	}
	if out.Types, err = ReceiveListField(q, b, func(b *box) []*shared { return b.Types }); err != nil {
		return nil, err
	}
	return out, nil
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(kindLeaf, leafCodec{})
	r.Register(kindShared, sharedCodec{})
	r.Register(kindBox, boxCodec{})
	return r
}
