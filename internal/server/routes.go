package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/vcsrpc/internal/observability"
	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/transport"
)

// HTTPHandler serves health, metrics and the websocket RPC endpoint.
// Websocket sessions run until their peer leaves; Run ends them on shutdown.
func (s *Server) HTTPHandler() http.Handler {
	return s.routes(context.Background())
}

// routes builds the router; websocket sessions are cancelled when ctx ends.
func (s *Server) routes(ctx context.Context) http.Handler {
	observability.RegisterMetrics()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"service":  s.cfg.Name,
			"protocol": protocol.ProtocolVersion,
			"sessions": s.Active(),
		})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/rpc", func(w http.ResponseWriter, r *http.Request) {
		s.serveWebSocket(ctx, w, r)
	})
	return r
}

func (s *Server) serveWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("websocket upgrade failed")
		return
	}
	stream := transport.NewWebSocketStream(ws)
	s.trackConn(stream)
	defer s.untrackConn(stream)

	conn := transport.NewConn(stream, transport.WebSocketOptions(s.options(ctx)))
	s.runSession(ctx, conn, "ws", r.RemoteAddr)
}
