package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/vcsrpc/internal/config"
	"github.com/danmuck/vcsrpc/internal/protocol/session"
	"github.com/danmuck/vcsrpc/internal/testutil/testlog"
	"github.com/danmuck/vcsrpc/internal/testutil/tlstest"
	"github.com/danmuck/vcsrpc/internal/transport"
)

func testConfig(root string) config.ServerConfig {
	cfg := config.DefaultServerConfig()
	cfg.Name = "vcsrpcd-test"
	cfg.Root = root
	cfg.AcceptRate = 0
	cfg.Transport.MaxWait = 10 * time.Second
	return cfg
}

func startTCP(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0", srv.cfg.Security)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("serve did not stop")
		}
	})
	return "tcp://" + ln.Addr().String()
}

type client struct {
	sess  *session.Session
	state *ClientState
	conn  *transport.Conn
	out   *bytes.Buffer
}

func dialClient(t *testing.T, target string) *client {
	t.Helper()
	return dialSecure(t, target, transport.SecurityConfig{})
}

func dialSecure(t *testing.T, target string, sec transport.SecurityConfig) *client {
	t.Helper()
	opts := transport.DefaultOptions()
	opts.MaxWait = 10 * time.Second
	conn, err := transport.Dial(context.Background(), target, opts, sec, transport.BackoffConfig{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("dial %s: %v", target, err)
	}
	out := &bytes.Buffer{}
	state := NewClientState(out)
	sess := session.New(conn, session.NewRegistry(state.Table()), session.DefaultConfig())
	t.Cleanup(func() {
		_ = sess.ReleaseFinal()
		_ = sess.Close()
	})
	return &client{sess: sess, state: state, conn: conn, out: out}
}

func TestFetchStreamsFileOverTCP(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	content := make([]byte, 300*1024+17)
	rand.New(rand.NewSource(5)).Read(content)
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.c"), content, 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	c := dialClient(t, startTCP(t, New(testConfig(root))))
	c.state.Target = filepath.Join(t.TempDir(), "main.c")
	c.sess.SetVar("path", "src/main.c")
	if err := c.state.Run(c.sess, "fetch"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, err := os.ReadFile(c.state.Target)
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if !bytes.Equal(got, content) || c.state.Written != int64(len(content)) {
		t.Fatalf("fetched %d bytes (written %d), want %d", len(got), c.state.Written, len(content))
	}
	if st := c.sess.Stats(); st.FwdRecv != 0 || st.RevRecv != 0 {
		t.Fatalf("client left flow state outstanding: %+v", st)
	}
}

func TestFetchErrorsAreReportedAndSessionContinues(t *testing.T) {
	testlog.Start(t)
	c := dialClient(t, startTCP(t, New(testConfig(t.TempDir()))))

	c.sess.SetVar("path", "../outside.txt")
	err := c.state.Run(c.sess, "fetch")
	if err == nil || !strings.Contains(err.Error(), "invalid path") {
		t.Fatalf("fetch outside root = %v", err)
	}

	c.sess.SetVar("path", "missing.txt")
	err = c.state.Run(c.sess, "fetch")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("fetch missing file = %v", err)
	}

	err = c.state.Run(c.sess, "nope")
	if err == nil || !strings.Contains(err.Error(), "unregistered operation") {
		t.Fatalf("unknown op = %v", err)
	}

	c.sess.SetVar("message", "still here")
	if err := c.state.Run(c.sess, "echo"); err != nil {
		t.Fatalf("echo after errors: %v", err)
	}
	if !strings.Contains(c.out.String(), "still here") {
		t.Fatalf("echo output = %q", c.out.String())
	}
}

func TestEchoOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	certs := tlstest.Loopback(t, t.TempDir())
	cfg := testConfig(t.TempDir())
	cfg.Compress = true
	cfg.Security = transport.SecurityConfig{
		Mode: transport.SecurityModeProduction,
		TLS:  transport.TLSConfig{Enabled: true, Mutual: true, CertFile: certs.ServerCert, KeyFile: certs.ServerKey, CAFile: certs.CA},
	}

	c := dialSecure(t, startTCP(t, New(cfg)), transport.SecurityConfig{
		Mode: transport.SecurityModeProduction,
		TLS:  transport.TLSConfig{Enabled: true, Mutual: true, CertFile: certs.ClientCert, KeyFile: certs.ClientKey, CAFile: certs.CA},
	})
	c.sess.SetVar("message", "over tls")
	if err := c.state.Run(c.sess, "echo"); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if !strings.Contains(c.out.String(), "over tls") {
		t.Fatalf("echo output = %q", c.out.String())
	}
	if !c.conn.RecvCompressed() {
		t.Fatalf("server did not start compression")
	}
}

func TestEchoOverWebSocketWithCompression(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig(t.TempDir()))
	ts := httptest.NewServer(srv.HTTPHandler())
	t.Cleanup(ts.Close)

	c := dialClient(t, "ws://"+strings.TrimPrefix(ts.URL, "http://")+"/rpc")
	if err := c.state.Run(c.sess, "compress"); err != nil {
		t.Fatalf("compress: %v", err)
	}
	c.sess.SetVar("who", "websocket")
	c.sess.AddArg([]byte("first-arg"))
	if err := c.state.Run(c.sess, "echo"); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if c.state.Last == nil || c.state.Last.GetString("who") != "websocket" {
		t.Fatalf("echoed vars = %+v", c.state.Last)
	}
	if args := c.state.Last.Args(); len(args) != 1 || string(args[0]) != "first-arg" {
		t.Fatalf("echoed args = %q", args)
	}
	if !c.conn.SendCompressed() || !c.conn.RecvCompressed() {
		t.Fatalf("client link not compressed: send=%v recv=%v", c.conn.SendCompressed(), c.conn.RecvCompressed())
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig(t.TempDir()))
	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	var health map[string]any
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("healthz status=%d body=%v err=%v", resp.StatusCode, health, err)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "vcsrpc_http_requests_total") {
		t.Fatalf("metrics status=%d missing request counter", resp.StatusCode)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig(t.TempDir()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Active() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Active() != 1 {
		t.Fatalf("active sessions = %d", srv.Active())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
	for srv.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Active() != 0 {
		t.Fatalf("session still active after shutdown")
	}
}

func TestWebSocketSessionsEndOnShutdown(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig(t.TempDir()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewServer(srv.routes(ctx))
	t.Cleanup(ts.Close)

	opts := transport.DefaultOptions()
	conn, err := transport.Dial(context.Background(), "ws://"+strings.TrimPrefix(ts.URL, "http://")+"/rpc", opts, transport.SecurityConfig{}, transport.BackoffConfig{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Active() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Active() != 1 {
		t.Fatalf("active sessions = %d", srv.Active())
	}

	cancel()
	deadline = time.Now().Add(3 * time.Second)
	for srv.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Active() != 0 {
		t.Fatalf("websocket session still active after shutdown")
	}
}

type failingListener struct{ err error }

func (l failingListener) Accept() (net.Conn, error) { return nil, l.err }
func (l failingListener) Close() error              { return nil }
func (l failingListener) Addr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

type closeFlag struct{ closed atomic.Bool }

func (c *closeFlag) Close() error { c.closed.Store(true); return nil }

func TestServeAcceptErrorStopsShutdownWatcher(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig(t.TempDir()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("accept failed")
	if err := srv.Serve(ctx, failingListener{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("serve = %v, want %v", err, boom)
	}

	other := &closeFlag{}
	srv.trackConn(other)
	defer srv.untrackConn(other)
	cancel()
	time.Sleep(100 * time.Millisecond)
	if other.closed.Load() {
		t.Fatalf("a returned Serve still reacted to cancellation")
	}
}
