package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/danmuck/vcsrpc/internal/config"
	"github.com/danmuck/vcsrpc/internal/observability"
	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/session"
	"github.com/danmuck/vcsrpc/internal/transport"
)

// Server accepts RPC connections and runs one session per connection.
type Server struct {
	cfg      config.ServerConfig
	registry *session.Registry
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	log      zerolog.Logger

	active  atomic.Int64
	connsMu sync.Mutex
	conns   map[io.Closer]struct{}
}

// New builds a server whose registry holds the built-ins, the demo
// operations and tables, in that order.
func New(cfg config.ServerConfig, tables ...session.Table) *Server {
	limit := rate.Inf
	if cfg.AcceptRate > 0 {
		limit = rate.Limit(cfg.AcceptRate)
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = 1
	}
	s := &Server{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.Logger.With().Str("node", cfg.Name).Logger(),
		conns:   make(map[io.Closer]struct{}),
	}
	s.registry = session.NewRegistry(append([]session.Table{DemoTable(cfg.Root)}, tables...)...)
	s.registry.SetErrorHandler(s.onError)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.Transport.RecvBufferSize,
		WriteBufferSize: cfg.Transport.SendBufferSize,
	}
	return s
}

func (s *Server) Registry() *session.Registry { return s.registry }

// Active reports the number of sessions currently dispatching.
func (s *Server) Active() int64 { return s.active.Load() }

// Run listens on the configured addresses and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 2)
	running := 0

	if addr := strings.TrimSpace(s.cfg.Listen); addr != "" {
		ln, err := transport.Listen(addr, s.cfg.Security)
		if err != nil {
			return err
		}
		s.log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.Security.TLS.Enabled).Msg("rpc listening")
		running++
		go func() { errs <- s.Serve(ctx, ln) }()
	}
	if addr := strings.TrimSpace(s.cfg.HTTPListen); addr != "" {
		hs := &http.Server{Addr: addr, Handler: s.routes(ctx), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
			// Shutdown leaves hijacked websocket connections open.
			s.closeAllConns()
		}()
		s.log.Info().Str("addr", addr).Msg("http listening")
		running++
		go func() {
			err := hs.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errs <- err
		}()
	}

	var first error
	for i := 0; i < running; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Serve accepts connections on ln until ctx ends. Accepts are throttled by
// the configured rate.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	stopped, exited := make(chan struct{}), make(chan struct{})
	defer func() {
		close(stopped)
		<-exited
	}()
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			s.closeAllConns()
			_ = ln.Close()
		case <-stopped:
		}
	}()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(raw)
		go s.handleConn(ctx, raw)
	}
}

func (s *Server) options(ctx context.Context) transport.Options {
	opts := s.cfg.Transport
	opts.Alive = transport.AliveFromContext(ctx)
	return opts
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	defer s.untrackConn(raw)
	remote := raw.RemoteAddr().String()
	conn, err := transport.Accept(ctx, raw, s.options(ctx))
	if err != nil {
		s.log.Warn().Str("remote", remote).Err(err).Msg("accept failed")
		return
	}
	s.runSession(ctx, conn, "tcp", remote)
}

// runSession dispatches one connection to completion and closes it.
func (s *Server) runSession(ctx context.Context, t transport.Transport, kind, remote string) {
	ctx, span := observability.StartConnSpan(ctx, s.cfg.Name, kind, remote)
	defer span.End()
	defer observability.SessionStarted(s.cfg.Name)()

	active := s.active.Add(1)
	logger := s.log.With().Str("remote", remote).Str("transport", kind).Logger()
	logger.Info().Int64("active", active).Msg("session connected")

	cfg := s.cfg.Session
	cfg.Name = remote
	cfg.Logger = &logger
	cfg.Observer = observability.NewSessionObserver(ctx, s.cfg.Name, s.registry.Names())
	sess := session.New(t, s.registry, cfg)
	if s.cfg.Compress {
		if err := sess.StartCompression(); err != nil {
			logger.Warn().Err(err).Msg("start compression failed")
		}
	}
	sess.Dispatch(session.Complete)

	st := sess.Status()
	if err := sess.Close(); err != nil {
		logger.Debug().Err(err).Msg("close")
	}
	remaining := s.active.Add(-1)
	event := logger.Info()
	if st.RecvErr != nil && !errors.Is(st.RecvErr, protocol.ErrConnectionClosed) {
		event = logger.Warn().Err(st.RecvErr)
	}
	event.Bool("released", sess.Released()).Int64("active", remaining).Msg("session disconnected")
}

// onError reports operations nothing handled. Demo commands report their
// own failures before releasing, so those are only logged here.
func (s *Server) onError(sess *session.Session, op string, err error) {
	logger := sess.Logger()
	logger.Warn().Str("op", op).Err(err).Msg("operation failed")
	if errors.Is(err, protocol.ErrUnregisteredOperation) && !sess.Dropped() {
		reportError(sess, err)
		_ = sess.Release()
	}
}

func (s *Server) trackConn(c io.Closer) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrackConn(c io.Closer) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}
