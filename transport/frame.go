// Package transport carries session calls between two peers over one
// bidirectional JSON connection.
//
// Either side may call the other at any time. Every frame carries the id
// of the call it belongs to; replies are marked so the two sides' id
// spaces never collide.
package transport

import (
	"encoding/json"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/treesync/errors"
)

// ProtocolVersion is the version this build speaks.
const ProtocolVersion = "1.0.0"

// CompatibleVersions is the semver range of peer protocol versions this
// build talks to.
const CompatibleVersions = "^1"

// Conn abstracts the websocket connection for testability.
// *websocket.Conn implements it; tests use a channel pair.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Method names a remote call.
type Method string

const (
	MethodHello     Method = "hello"
	MethodGetObject Method = "get_object"
	MethodGetRef    Method = "get_ref"
)

// Frame is the envelope for every message on the connection.
type Frame struct {
	ID     uint64          `json:"id"`
	Reply  bool            `json:"reply,omitempty"`
	Method Method          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Hello identifies a peer during the handshake.
type Hello struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CheckVersion reports whether a peer speaking version can be served.
func CheckVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(errors.ErrIncompatiblePeer, "unparseable protocol version %q", version)
	}
	c, err := semver.NewConstraint(CompatibleVersions)
	if err != nil {
		return errors.Wrap(err, "invalid compatibility constraint")
	}
	if !c.Check(v) {
		return errors.WithHintf(
			errors.Wrapf(errors.ErrIncompatiblePeer, "peer speaks protocol %s, want %s", v, CompatibleVersions),
			"upgrade the older peer to a treesync build speaking %s", CompatibleVersions)
	}
	return nil
}
