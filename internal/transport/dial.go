package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedScheme = errors.New("transport: unsupported address scheme")

// Dial connects to target and wraps the stream in a Conn. Targets are
// host:port, tcp://host:port, ws://host/path or wss://host/path. Failed
// attempts are retried with backoff until MaxAttempts or ctx ends.
func Dial(ctx context.Context, target string, opts Options, sec SecurityConfig, backoff BackoffConfig) (*Conn, error) {
	tlsCfg, err := sec.ClientTLS()
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		conn, err := dialOnce(ctx, target, opts, tlsCfg)
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, ErrUnsupportedScheme) {
			return nil, err
		}
		if backoff.MaxAttempts > 0 && attempt >= backoff.MaxAttempts {
			return nil, fmt.Errorf("transport: dial %s after %d attempts: %w", target, attempt, err)
		}
		delay := NextBackoffDelay(backoff, attempt, rng)
		log.Warn().Str("target", target).Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func dialOnce(ctx context.Context, target string, opts Options, tlsCfg *tls.Config) (*Conn, error) {
	switch {
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		dialer := *websocket.DefaultDialer
		dialer.TLSClientConfig = tlsCfg
		ws, _, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			return nil, err
		}
		return NewConn(NewWebSocketStream(ws), WebSocketOptions(opts)), nil
	case strings.Contains(target, "://") && !strings.HasPrefix(target, "tcp://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, target)
	}

	addr := strings.TrimPrefix(target, "tcp://")
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return NewConn(raw, opts), nil
	}
	cfg := tlsCfg.Clone()
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	tc := tls.Client(raw, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return NewConn(tc, opts), nil
}

// Listen opens a tcp listener, wrapped in TLS when sec enables it.
func Listen(addr string, sec SecurityConfig) (net.Listener, error) {
	tlsCfg, err := sec.ServerTLS()
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return ln, nil
	}
	return tls.NewListener(ln, tlsCfg), nil
}

// Accept wraps a connection taken from a Listen listener. A TLS handshake is
// completed first so poll deadlines never interrupt it.
func Accept(ctx context.Context, raw net.Conn, opts Options) (*Conn, error) {
	if tc, ok := raw.(*tls.Conn); ok {
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("transport: tls handshake: %w", err)
		}
	}
	return NewConn(raw, opts), nil
}
