package rpc

import (
	"sort"
	"sync"
)

// Node is a value with a registered shape. The Kind selects the Codec that
// walks its fields.
type Node interface {
	Kind() Kind
}

// Shareable marks nodes whose identity survives the wire: a second
// occurrence of the same pointer in a session is sent as a back-reference.
// Shareable nodes must be pointers (or otherwise comparable).
type Shareable interface {
	Node
	Shareable() bool
}

// Codec encodes and decodes one Kind. Send and Receive must visit the same
// fields in the same order; that order is what keeps both streams aligned.
//
// Send diffs after against q's current baseline (see SendField).
// Receive builds a new value from the decoded fields; before is the
// baseline value of the same Kind, or nil for a freshly added node.
type Codec interface {
	Send(q *SendQueue, after Node) error
	Receive(q *ReceiveQueue, before Node) (Node, error)
}

// Registry maps kinds to codecs.
type Registry struct {
	mu     sync.RWMutex
	codecs map[Kind]Codec
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Kind]Codec)}
}

// Register binds a codec to a kind, replacing any previous binding.
func (r *Registry) Register(kind Kind, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[kind] = codec
}

// ForType returns the codec registered for kind.
func (r *Registry) ForType(kind Kind) (Codec, bool) {
	if r == nil || kind == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[kind]
	return c, ok
}

// ForInstance returns the codec for v's kind. Values that are not Nodes
// have no codec and travel inline.
func (r *Registry) ForInstance(v any) (Codec, bool) {
	n, ok := v.(Node)
	if !ok || isNil(v) {
		return nil, false
	}
	return r.ForType(n.Kind())
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.codecs))
	for k := range r.codecs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// kindOf returns v's kind, or "" for inline values.
func kindOf(v any) Kind {
	if n, ok := v.(Node); ok && !isNil(v) {
		return n.Kind()
	}
	return ""
}
