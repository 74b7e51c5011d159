package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
)

// Kind is the expected shape of a variable's value.
type Kind uint8

const (
	KindBytes Kind = iota
	KindInt
)

type Requirement struct {
	Name     string
	Kind     Kind
	Required bool
}

type ValidationError struct {
	Op     string
	Var    string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Var == "" {
		return fmt.Sprintf("schema: op=%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("schema: op=%s var=%s: %s", e.Op, e.Var, e.Reason)
}

// Unwrap classifies every schema violation as a malformed message.
func (e ValidationError) Unwrap() error { return protocol.ErrMalformedMessage }

var requirements = map[string][]Requirement{
	protocol.OpProtocol: {
		{protocol.VarProto, KindInt, false},
		{protocol.VarSndbuf, KindInt, false},
		{protocol.VarRcvbuf, KindInt, false},
	},
	protocol.OpFlush1: {
		{protocol.VarHimark, KindInt, true},
		{protocol.VarFseq, KindInt, true},
		{protocol.VarRseq, KindInt, true},
	},
	protocol.OpFlush2: {
		{protocol.VarFseq, KindInt, true},
		{protocol.VarRseq, KindInt, true},
	},
}

// Known reports whether op has declared requirements.
func Known(op string) bool {
	_, ok := requirements[op]
	return ok
}

// Validate enforces required variables and value kinds for op. Operations
// without declared requirements and undeclared variables are accepted.
func Validate(op string, vars *wire.VarSet) error {
	reqs, ok := requirements[op]
	if !ok {
		return nil
	}
	for _, req := range reqs {
		if !vars.Has(req.Name) {
			if !req.Required {
				continue
			}
			log.Debug().Str("op", op).Str("var", req.Name).Msg("schema: missing required variable")
			return ValidationError{Op: op, Var: req.Name, Reason: "missing required variable"}
		}
		if req.Kind == KindInt {
			n, ok := vars.GetInt(req.Name)
			if !ok {
				log.Debug().Str("op", op).Str("var", req.Name).Msg("schema: not an integer")
				return ValidationError{Op: op, Var: req.Name, Reason: "not an integer"}
			}
			if n < 0 {
				return ValidationError{Op: op, Var: req.Name, Reason: "negative value"}
			}
		}
	}
	return nil
}
