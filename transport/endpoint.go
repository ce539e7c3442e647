package transport

import (
	"context"
	"encoding/json"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/rpc"
	"github.com/teranos/treesync/session"
)

// ErrClosed is returned by calls on a closed endpoint.
var ErrClosed = errors.New("transport closed")

// Options configures an Endpoint.
type Options struct {
	// Name is sent to the peer in the handshake.
	Name   string
	Logger *zap.SugaredLogger
}

// Endpoint is one side of a connection. It implements session.Peer for
// outgoing calls and dispatches incoming calls to a session.Handler.
type Endpoint struct {
	conn    Conn
	handler session.Handler
	name    string
	logger  *zap.SugaredLogger

	writeMu gosync.Mutex

	mu      gosync.Mutex
	nextID  uint64
	pending map[uint64]chan Frame
	remote  Hello
	err     error

	done      chan struct{}
	closeOnce gosync.Once
}

var _ session.Peer = (*Endpoint)(nil)

// New creates an endpoint on conn. Call Start to begin reading.
func New(conn Conn, handler session.Handler, opts Options) *Endpoint {
	if opts.Logger == nil {
		opts.Logger = logger.Logger
	}
	return &Endpoint{
		conn:    conn,
		handler: handler,
		name:    opts.Name,
		logger:  opts.Logger.Named("transport"),
		pending: make(map[uint64]chan Frame),
		done:    make(chan struct{}),
	}
}

// Start runs the read loop in the background.
func (e *Endpoint) Start() {
	go e.readLoop()
}

// Done is closed when the connection ends.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that ended the connection, or nil after Close.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Remote returns the peer's hello, from either direction of the handshake.
func (e *Endpoint) Remote() Hello {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Close ends the connection and fails every call in flight.
func (e *Endpoint) Close() error {
	e.shutdown(nil)
	return e.conn.Close()
}

func (e *Endpoint) shutdown(err error) {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(e.done)
	})
}

// Handshake sends our hello and checks the peer's answer. Both sides call
// it; each also answers the other's hello from the read loop.
func (e *Endpoint) Handshake(ctx context.Context) (Hello, error) {
	var remote Hello
	err := e.call(ctx, MethodHello, Hello{Name: e.name, Version: ProtocolVersion}, &remote)
	if err != nil {
		return Hello{}, errors.Wrap(err, "handshake failed")
	}
	if err := CheckVersion(remote.Version); err != nil {
		return Hello{}, err
	}
	e.mu.Lock()
	e.remote = remote
	e.mu.Unlock()

	e.logger.Infow("Peer connected",
		logger.FieldPeer, remote.Name,
		logger.FieldVersion, remote.Version,
	)
	return remote, nil
}

// GetObject requests one batch of an object from the peer.
func (e *Endpoint) GetObject(ctx context.Context, req rpc.GetObjectRequest) ([]rpc.Op, error) {
	var ops []rpc.Op
	if err := e.call(ctx, MethodGetObject, req, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// GetRef requests the full definition of a shared value from the peer.
func (e *Endpoint) GetRef(ctx context.Context, req rpc.GetRefRequest) ([]rpc.Op, error) {
	var ops []rpc.Op
	if err := e.call(ctx, MethodGetRef, req, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (e *Endpoint) call(ctx context.Context, method Method, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s params", method)
	}

	reply := make(chan Frame, 1)
	e.mu.Lock()
	if e.isDone() {
		e.mu.Unlock()
		return ErrClosed
	}
	e.nextID++
	id := e.nextID
	e.pending[id] = reply
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	start := time.Now()
	if err := e.write(Frame{ID: id, Method: method, Params: raw}); err != nil {
		return errors.Wrapf(err, "failed to send %s", method)
	}

	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s cancelled", method)
	case <-e.done:
		if err := e.Err(); err != nil {
			return errors.Wrapf(ErrClosed, "%s: %v", method, err)
		}
		return ErrClosed
	case f := <-reply:
		e.logger.Debugw("Call complete",
			logger.FieldMethod, method,
			logger.FieldRequestID, id,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
		if f.Error != "" {
			return errors.FromCode(f.Code, f.Error)
		}
		if result == nil || len(f.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(f.Result, result); err != nil {
			return errors.Wrapf(err, "failed to decode %s result", method)
		}
		return nil
	}
}

func (e *Endpoint) isDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// write serializes frames; the connection allows one writer at a time.
func (e *Endpoint) write(f Frame) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(f)
}

func (e *Endpoint) readLoop() {
	for {
		var f Frame
		if err := e.conn.ReadJSON(&f); err != nil {
			if !e.isDone() {
				e.logger.Debugw("Connection ended", logger.FieldError, err)
			}
			e.shutdown(err)
			return
		}

		if f.Reply {
			e.mu.Lock()
			reply, ok := e.pending[f.ID]
			e.mu.Unlock()
			if !ok {
				e.logger.Debugw("Reply to unknown call", logger.FieldRequestID, f.ID)
				continue
			}
			reply <- f
			continue
		}

		go e.dispatch(f)
	}
}

// dispatch answers one incoming call.
func (e *Endpoint) dispatch(f Frame) {
	result, err := e.handle(f)

	out := Frame{ID: f.ID, Reply: true}
	if err == nil {
		out.Result, err = json.Marshal(result)
	}
	if err != nil {
		out.Error = err.Error()
		out.Code = errors.Code(err)
		e.logger.Debugw("Call failed",
			logger.FieldMethod, f.Method,
			logger.FieldRequestID, f.ID,
			logger.FieldErrorCode, out.Code,
			logger.FieldError, err,
		)
	}
	if err := e.write(out); err != nil {
		e.logger.Debugw("Failed to send reply",
			logger.FieldMethod, f.Method,
			logger.FieldError, err,
		)
	}
}

func (e *Endpoint) handle(f Frame) (any, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-e.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	switch f.Method {
	case MethodHello:
		var h Hello
		if err := json.Unmarshal(f.Params, &h); err != nil {
			return nil, errors.NewInvalidRequestError("malformed hello: %v", err)
		}
		if err := CheckVersion(h.Version); err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.remote = h
		e.mu.Unlock()
		return Hello{Name: e.name, Version: ProtocolVersion}, nil

	case MethodGetObject:
		if e.handler == nil {
			return nil, errors.NewNotFoundError("peer serves no objects")
		}
		var req rpc.GetObjectRequest
		if err := json.Unmarshal(f.Params, &req); err != nil {
			return nil, errors.NewInvalidRequestError("malformed %s params: %v", f.Method, err)
		}
		return e.handler.HandleGetObject(ctx, req)

	case MethodGetRef:
		if e.handler == nil {
			return nil, errors.NewNotFoundError("peer serves no refs")
		}
		var req rpc.GetRefRequest
		if err := json.Unmarshal(f.Params, &req); err != nil {
			return nil, errors.NewInvalidRequestError("malformed %s params: %v", f.Method, err)
		}
		return e.handler.HandleGetRef(ctx, req)

	default:
		return nil, errors.NewInvalidRequestError("unknown method %q", f.Method)
	}
}
