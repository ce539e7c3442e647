// Package server exposes a ledger to peers: every websocket connection on
// /ws/sync gets its own session sharing the process ledger and registry.
package server

import (
	"context"
	"net"
	"net/http"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/ledger"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/rpc"
	"github.com/teranos/treesync/session"
	"github.com/teranos/treesync/transport"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Name is advertised to connecting peers.
	Name     string
	Registry *rpc.Registry
	Ledger   *ledger.Ledger

	// Session is the template for per-connection sessions.
	Session        session.Options
	AllowedOrigins []string

	Logger *zap.SugaredLogger
}

// conn is one connected peer.
type conn struct {
	session  *session.Session
	endpoint *transport.Endpoint
	remote   string
	since    time.Time
}

// Server serves the sync endpoint and a small read-only HTTP API.
type Server struct {
	name     string
	registry *rpc.Registry
	ledger   *ledger.Ledger
	template session.Options
	logger   *zap.SugaredLogger

	mu      gosync.Mutex
	origins []string
	conns   map[*session.Session]*conn
	wg      gosync.WaitGroup
}

// New creates a server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Logger
	}
	return &Server{
		name:     opts.Name,
		registry: opts.Registry,
		ledger:   opts.Ledger,
		template: opts.Session,
		logger:   opts.Logger.Named("server"),
		origins:  opts.AllowedOrigins,
		conns:    make(map[*session.Session]*conn),
	}
}

// SetAllowedOrigins replaces the websocket origin allow-list for new connections.
func (s *Server) SetAllowedOrigins(origins []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origins = origins
}

func (s *Server) allowedOrigins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origins
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(transport.SyncPath, s.HandleSyncWebSocket)
	mux.HandleFunc("/api/objects", s.HandleObjects)
	mux.HandleFunc("/api/objects/", s.HandleObject)
	mux.HandleFunc("/api/sessions", s.HandleSessions)
	mux.HandleFunc("/health", s.HandleHealth)
	return mux
}

// Serve accepts connections on l until ctx is cancelled, then drains.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(l)
	}()
	s.logger.Infow("Server ready", logger.FieldAddress, l.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	s.logger.Infow("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	// Hijacked websocket connections are not closed by Shutdown.
	s.closeAll()
	s.wg.Wait()
	if err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, l)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.endpoint.Close()
	}
}

// newSession builds a per-connection session from the template.
func (s *Server) newSession(peerName string) *session.Session {
	opts := s.template
	opts.Name = peerName
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	return session.New(s.registry, s.ledger, nil, opts)
}

// HandleSyncWebSocket accepts one peer connection and serves it until the
// peer disconnects.
func (s *Server) HandleSyncWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := transport.Upgrader(s.allowedOrigins())
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Sync websocket upgrade failed",
			logger.FieldAddress, r.RemoteAddr,
			logger.FieldError, err,
		)
		return
	}

	sess := s.newSession(r.RemoteAddr)
	ep := transport.New(ws, sess, transport.Options{Name: s.name, Logger: s.logger})
	// A peer disconnect only ends the read loop; the hijacked socket is ours to close.
	defer ep.Close()
	sess.SetPeer(ep)

	c := &conn{session: sess, endpoint: ep, remote: r.RemoteAddr, since: time.Now()}
	s.mu.Lock()
	s.conns[sess] = c
	s.mu.Unlock()
	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Infow("Peer connected", logger.FieldAddress, r.RemoteAddr)
	ep.Start()
	<-ep.Done()

	s.mu.Lock()
	delete(s.conns, sess)
	s.mu.Unlock()

	stats := sess.Stats()
	s.logger.Infow("Peer disconnected",
		logger.FieldAddress, r.RemoteAddr,
		logger.FieldPeer, ep.Remote().Name,
		"served", stats.Served,
		"fetched", stats.Fetched,
		"ops_sent", stats.OpsSent,
		logger.FieldDurationMS, time.Since(c.since).Milliseconds(),
	)
}

// Connect dials a peer, performs the handshake and returns a session
// fetching from it. l may be nil for a fetch-only session.
func Connect(ctx context.Context, addr string, registry *rpc.Registry, l *ledger.Ledger, name string, opts session.Options) (*session.Session, *transport.Endpoint, error) {
	ws, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, nil, err
	}

	sess := session.New(registry, l, nil, opts)
	ep := transport.New(ws, sess, transport.Options{Name: name, Logger: opts.Logger})
	sess.SetPeer(ep)
	ep.Start()

	if _, err := ep.Handshake(ctx); err != nil {
		ep.Close()
		return nil, nil, err
	}
	return sess, ep, nil
}
