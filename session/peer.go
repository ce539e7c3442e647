package session

import (
	"context"

	"github.com/teranos/treesync/rpc"
)

// Peer is the remote side of a session as seen by the fetching side.
// transport.Endpoint implements it over a websocket.
type Peer interface {
	GetObject(ctx context.Context, req rpc.GetObjectRequest) ([]rpc.Op, error)
	GetRef(ctx context.Context, req rpc.GetRefRequest) ([]rpc.Op, error)
}

// Handler answers a peer's calls. *Session implements it.
type Handler interface {
	HandleGetObject(ctx context.Context, req rpc.GetObjectRequest) ([]rpc.Op, error)
	HandleGetRef(ctx context.Context, req rpc.GetRefRequest) ([]rpc.Op, error)
}

// Direct connects a Peer straight to a Handler in the same process.
type Direct struct {
	Handler Handler
}

func (d Direct) GetObject(ctx context.Context, req rpc.GetObjectRequest) ([]rpc.Op, error) {
	return d.Handler.HandleGetObject(ctx, req)
}

func (d Direct) GetRef(ctx context.Context, req rpc.GetRefRequest) ([]rpc.Op, error) {
	return d.Handler.HandleGetRef(ctx, req)
}
