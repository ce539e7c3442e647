package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/teranos/treesync/ledger"
	"github.com/teranos/treesync/session"
	"github.com/teranos/treesync/version"
)

// objectResponse describes one published object
type objectResponse struct {
	ID       string    `json:"id"`
	Version  string    `json:"version"`
	Kind     string    `json:"kind,omitempty"`
	StoredAt time.Time `json:"stored_at"`
	Versions []string  `json:"versions,omitempty"`
}

// sessionResponse describes one connected peer
type sessionResponse struct {
	Remote string        `json:"remote"`
	Peer   string        `json:"peer,omitempty"`
	Since  time.Time     `json:"since"`
	Stats  session.Stats `json:"stats"`
}

func toObject(e ledger.Entry) objectResponse {
	return objectResponse{
		ID:       e.ObjectID,
		Version:  e.Version,
		Kind:     string(e.Kind),
		StoredAt: e.StoredAt,
	}
}

// HandleObjects lists every object with its current version.
// GET /api/objects
func (s *Server) HandleObjects(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	entries := s.ledger.Objects()
	out := make([]objectResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toObject(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

// HandleObject returns one object's current version and version history.
// GET /api/objects/{id}
func (s *Server) HandleObject(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id := pathTail(r.URL.Path, "/api/objects/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing object id")
		return
	}

	entry, err := s.ledger.Lookup(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	versions, err := s.ledger.Versions(entry.ObjectID)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := toObject(entry)
	out.Versions = versions
	writeJSON(w, http.StatusOK, out)
}

// HandleSessions lists connected peers with their session counters.
// GET /api/sessions
func (s *Server) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	s.mu.Lock()
	out := make([]sessionResponse, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, sessionResponse{
			Remote: c.remote,
			Peer:   c.endpoint.Remote().Name,
			Since:  c.since,
			Stats:  c.session.Stats(),
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth reports liveness, build information and the node kinds
// this server can encode.
// GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	peers := len(s.conns)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"name":    s.name,
		"objects": len(s.ledger.Objects()),
		"peers":   peers,
		"kinds":   s.registry.Kinds(),
		"version": version.Get(),
	})
}
