package rpc

import gosync "sync"

// RemoteRefs is the receiver-side reference table: ref ids the peer has
// defined in this session. It is unbounded; dropping it is done with Clear
// and announced to the peer (GetObjectRequest.ResetRefs) so the peer stops
// emitting back-references into it.
type RemoteRefs struct {
	mu   gosync.RWMutex
	refs map[int]any
}

// NewRemoteRefs creates an empty receiver-side table.
func NewRemoteRefs() *RemoteRefs {
	return &RemoteRefs{refs: make(map[int]any)}
}

// Get returns the value registered under ref.
func (r *RemoteRefs) Get(ref int) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.refs[ref]
	return v, ok
}

// Has reports whether ref is known.
func (r *RemoteRefs) Has(ref int) bool {
	_, ok := r.Get(ref)
	return ok
}

// Set registers v under ref, replacing an older definition.
func (r *RemoteRefs) Set(ref int, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[ref] = v
}

// Len returns the number of known refs.
func (r *RemoteRefs) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.refs)
}

// Clear forgets every ref.
func (r *RemoteRefs) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = make(map[int]any)
}
