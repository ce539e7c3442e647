// Package rpc implements the incremental object-graph diff protocol.
//
// A sender walks an "after" value against the "before" value both peers
// agreed on last time and emits a flat, pre-order sequence of Ops. The
// receiver replays the same walk against its copy of "before" and rebuilds
// "after". Field order is fixed per Kind by the registered Codec:
//
//	sender                           receiver
//	Send(after, before)        ──►   Receive(before)
//	  CHANGE                           CHANGE → codec.Receive
//	    field 1: NO_CHANGE               field 1 = before.field1
//	    field 2: ADD{value}              field 2 = value
//	    list:    CHANGE [2,0,-1]         list rebuilt from positions
//	END_OF_OBJECT
//
// Shared substructure is deduplicated through a RefTable on the sending
// side and RemoteRefs on the receiving side.
package rpc

// State is the edit applied at one position of the stream.
type State string

const (
	// NoChange means identity-equal to the baseline; nothing follows.
	NoChange State = "NO_CHANGE"
	// Add introduces a value that the baseline does not have.
	Add State = "ADD"
	// Delete removes a value the baseline had.
	Delete State = "DELETE"
	// Change replaces the baseline value, recursing into substructure.
	Change State = "CHANGE"
	// EndOfObject terminates one object's stream.
	EndOfObject State = "END_OF_OBJECT"
)

// Kind discriminates node shapes; each Kind maps to one Codec.
type Kind string

// Op is the wire unit of the protocol.
type Op struct {
	State     State  `json:"state" msgpack:"s"`
	ValueType Kind   `json:"valueType,omitempty" msgpack:"t,omitempty"`
	Value     any    `json:"value,omitempty" msgpack:"v,omitempty"`
	Ref       *int   `json:"ref,omitempty" msgpack:"r,omitempty"`
	Trace     string `json:"trace,omitempty" msgpack:"tr,omitempty"`
}

// IsBackReference reports whether op only points at a previously shared value.
func (op Op) IsBackReference() bool {
	return op.State == Add && op.Ref != nil && op.ValueType == "" && op.Value == nil
}

// GetObjectRequest asks a peer for the next batch of one object's stream.
type GetObjectRequest struct {
	ID string `json:"id"`

	// SourceContext is an opaque hint from the requester (e.g. the source
	// file type); carried for logging and codec selection by embedders.
	SourceContext string `json:"sourceContext,omitempty"`

	// Baseline is the token of the snapshot the requester will diff against.
	// Empty means the requester has no usable baseline.
	Baseline string `json:"baseline,omitempty"`

	// Batch is the zero-based index of the requested batch. Zero starts a
	// new transfer; anything else continues the pending one.
	Batch int `json:"batch"`

	// ResetRefs tells the sender the requester lost its remote reference
	// table, so no back-reference to an earlier transfer may be emitted.
	ResetRefs bool `json:"resetRefs,omitempty"`
}

// GetRefRequest asks a peer for the full value behind one ref id.
type GetRefRequest struct {
	Ref int `json:"ref"`
}

func intPtr(i int) *int {
	return &i
}
