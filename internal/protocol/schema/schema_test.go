package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
	"github.com/danmuck/vcsrpc/internal/testutil/testlog"
)

func TestValidateFlush1RequiredVars(t *testing.T) {
	testlog.Start(t)
	vs := wire.NewVarSet()
	vs.SetInt(protocol.VarHimark, 2000)
	vs.SetInt(protocol.VarFseq, 812)
	vs.SetInt(protocol.VarRseq, 0)
	if err := Validate(protocol.OpFlush1, vs); err != nil {
		t.Fatalf("validate flush1: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	vs := wire.NewVarSet()
	vs.SetInt(protocol.VarFseq, 10)
	err := Validate(protocol.OpFlush2, vs)
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Var != protocol.VarRseq || ve.Reason != "missing required variable" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
	if !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("schema errors must classify as malformed")
	}
}

func TestValidateRejectsNonInteger(t *testing.T) {
	testlog.Start(t)
	vs := wire.NewVarSet()
	vs.SetString(protocol.VarFseq, "twelve")
	vs.SetInt(protocol.VarRseq, 0)
	err := Validate(protocol.OpFlush2, vs)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Var != protocol.VarFseq || ve.Reason != "not an integer" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOptionalAndUnknown(t *testing.T) {
	testlog.Start(t)
	vs := wire.NewVarSet()
	vs.SetString("client", "alpha")
	if err := Validate(protocol.OpProtocol, vs); err != nil {
		t.Fatalf("optional vars may be absent: %v", err)
	}
	vs.SetString(protocol.VarSndbuf, "big")
	if err := Validate(protocol.OpProtocol, vs); err == nil {
		t.Fatalf("present optional vars are still type checked")
	}
	if Known("myop") {
		t.Fatalf("application ops have no schema")
	}
	if err := Validate("myop", vs); err != nil {
		t.Fatalf("unknown ops pass: %v", err)
	}
}
