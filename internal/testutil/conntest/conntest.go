package conntest

import (
	"net"
	"testing"
)

// Pair returns the two ends of a loopback tcp connection. Both are closed at
// test cleanup.
func Pair(t testing.TB) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		accepted <- result{c, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	res := <-accepted
	if res.err != nil {
		client.Close()
		t.Fatalf("accept: %v", res.err)
	}
	t.Cleanup(func() {
		client.Close()
		res.conn.Close()
	})
	return client, res.conn
}
