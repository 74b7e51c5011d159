package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/session"
)

// Client-side operation names the demo commands invoke.
const (
	OpClientMessage   = "client-Message"
	OpClientOpenFile  = "client-OpenFile"
	OpClientWriteFile = "client-WriteFile"
	OpClientCloseFile = "client-CloseFile"
)

// VarSeverity marks a client-Message as an error when set to "error".
const VarSeverity = "severity"

const fetchChunk = 32 * 1024

var ErrInvalidPath = errors.New("server: invalid path")

// DemoTable returns the server commands: echo, fetch and compress. Each
// command reports its failure to the client and always ends with release.
func DemoTable(root string) session.Table {
	d := demo{root: root}
	return session.Table{
		{Name: "echo", Handler: command(d.echo)},
		{Name: "fetch", Handler: command(d.fetch)},
		{Name: "compress", Handler: command(d.compress)},
	}
}

type demo struct {
	root string
}

func command(h session.Handler) session.Handler {
	return func(s *session.Session) error {
		err := h(s)
		if err != nil && !s.Dropped() {
			reportError(s, err)
		}
		if ferr := s.FlushDuplex(); err == nil {
			err = ferr
		}
		if rerr := s.Release(); err == nil {
			err = rerr
		}
		return err
	}
}

func reportError(s *session.Session, err error) {
	s.SendVars().Clear()
	s.SetVar(protocol.VarMessage, err.Error())
	s.SetVar(VarSeverity, "error")
	_ = s.Invoke(OpClientMessage)
}

// echo sends every received variable and argument back in a client-Message.
func (d demo) echo(s *session.Session) error {
	for _, r := range s.RecvVars().Records() {
		if r.Name == protocol.VarFunc {
			continue
		}
		s.SetVarBytes(r.Name, r.Value)
	}
	if !s.RecvVars().Has(protocol.VarMessage) {
		s.SetVar(protocol.VarMessage, "echo")
	}
	return s.Invoke(OpClientMessage)
}

func (d demo) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(d.root, clean), nil
}

// fetch streams the file named by path to the client in metered chunks.
func (d demo) fetch(s *session.Session) error {
	rel := s.GetVar(protocol.VarPath)
	path, err := d.resolve(rel)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fs.ErrNotExist
		}
		return fmt.Errorf("fetch %s: %w", rel, err)
	}
	defer f.Close()

	handle := "fetch-1"
	s.SetVar(protocol.VarHandle, handle)
	s.SetVar(protocol.VarPath, rel)
	if err := s.InvokeDuplex(OpClientOpenFile); err != nil {
		return err
	}
	buf := make([]byte, fetchChunk)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			s.SetVar(protocol.VarHandle, handle)
			s.SetVarBytes(protocol.VarData, buf[:n])
			if err := s.InvokeDuplex(OpClientWriteFile); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("fetch %s: %w", rel, rerr)
		}
	}
	s.SetVar(protocol.VarHandle, handle)
	return s.InvokeDuplex(OpClientCloseFile)
}

func (d demo) compress(s *session.Session) error {
	return s.StartCompression()
}
