package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/vcsrpc/internal/testutil/testlog"
	"github.com/danmuck/vcsrpc/internal/testutil/tlstest"
)

func TestValidateClientProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := SecurityConfig{Mode: SecurityModeProduction}
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateClient(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestValidateClientMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := SecurityConfig{}
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClient(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerRejectsUnknownMode(t *testing.T) {
	testlog.Start(t)
	cfg := SecurityConfig{Mode: "staging"}
	if err := cfg.ValidateServer(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
	cfg.Mode = " Development "
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("expected normalized development mode, got %v", err)
	}
}

func TestDialListenMutualTLS(t *testing.T) {
	testlog.Start(t)
	certs := tlstest.Loopback(t, t.TempDir())

	serverSec := SecurityConfig{
		Mode: SecurityModeProduction,
		TLS:  TLSConfig{Enabled: true, Mutual: true, CertFile: certs.ServerCert, KeyFile: certs.ServerKey, CAFile: certs.CA},
	}
	clientSec := SecurityConfig{
		Mode: SecurityModeProduction,
		TLS:  TLSConfig{Enabled: true, Mutual: true, CertFile: certs.ClientCert, KeyFile: certs.ClientKey, CAFile: certs.CA},
	}

	ln, err := Listen("127.0.0.1:0", serverSec)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			got <- "accept: " + err.Error()
			return
		}
		c, err := Accept(context.Background(), raw, DefaultOptions())
		if err != nil {
			got <- err.Error()
			return
		}
		defer c.Close()
		buf := make([]byte, 5)
		n, err := c.Receive(buf)
		if err != nil {
			got <- "receive: " + err.Error()
			return
		}
		got <- string(buf[:n])
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	backoff := DefaultBackoff()
	backoff.MaxAttempts = 1
	c, err := Dial(ctx, ln.Addr().String(), DefaultOptions(), clientSec, backoff)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if msg := <-got; msg != "hello" {
		t.Fatalf("unexpected server read: %q", msg)
	}
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	testlog.Start(t)
	_, err := Dial(context.Background(), "udp://127.0.0.1:1", DefaultOptions(), SecurityConfig{}, DefaultBackoff())
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}
