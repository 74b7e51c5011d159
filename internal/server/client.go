package server

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/session"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
)

// ClientState is the client end of the demo commands. It is driven by one
// session goroutine.
type ClientState struct {
	// Out receives client-Message text, and file data when Target is empty.
	Out io.Writer
	// Target is the local file client-OpenFile creates.
	Target string

	// Last holds the variables of the most recent client-Message.
	Last *wire.VarSet
	// Err is the last error the server reported.
	Err     error
	Written int64

	file   io.Writer
	closer io.Closer
}

func NewClientState(out io.Writer) *ClientState {
	if out == nil {
		out = io.Discard
	}
	return &ClientState{Out: out}
}

// Table returns the client-side operations.
func (c *ClientState) Table() session.Table {
	return session.Table{
		{Name: OpClientMessage, Handler: c.message},
		{Name: OpClientOpenFile, Handler: c.openFile},
		{Name: OpClientWriteFile, Handler: c.writeFile},
		{Name: OpClientCloseFile, Handler: c.closeFile},
	}
}

// Run invokes op with the session's current send variables and dispatches
// until the server releases the session.
func (c *ClientState) Run(s *session.Session, op string) error {
	c.Err = nil
	if err := s.Invoke(op); err != nil {
		return err
	}
	s.Dispatch(session.Complete)
	if !s.Released() {
		if err := s.Err(); err != nil {
			return err
		}
		return protocol.ErrConnectionClosed
	}
	return c.Err
}

func (c *ClientState) message(s *session.Session) error {
	c.Last = s.RecvVars().Clone()
	msg := s.GetVar(protocol.VarMessage)
	if s.GetVar(VarSeverity) == "error" {
		c.Err = errors.New(msg)
		return nil
	}
	_, err := fmt.Fprintln(c.Out, msg)
	return err
}

func (c *ClientState) openFile(s *session.Session) error {
	if c.closer != nil {
		return fmt.Errorf("client: file already open for handle %q", s.GetVar(protocol.VarHandle))
	}
	c.Written = 0
	if c.Target == "" {
		c.file = c.Out
		return nil
	}
	f, err := os.Create(c.Target)
	if err != nil {
		return err
	}
	c.file, c.closer = f, f
	return nil
}

func (c *ClientState) writeFile(s *session.Session) error {
	if c.file == nil {
		return fmt.Errorf("client: write to unopened handle %q", s.GetVar(protocol.VarHandle))
	}
	data, _ := s.GetVarBytes(protocol.VarData)
	n, err := c.file.Write(data)
	c.Written += int64(n)
	return err
}

func (c *ClientState) closeFile(s *session.Session) error {
	c.file = nil
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}
