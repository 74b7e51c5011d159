package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/vcsrpc/internal/protocol"
)

func TestEncodeDecodeRoundTripKeepsNamedAndPositional(t *testing.T) {
	in := NewVarSet()
	in.SetString("func", "myop")
	in.SetString("client", "alpha")
	in.AddArg([]byte("first"))
	in.Set("data", []byte{0x00, 0x01, 0x00, 0xFF})
	in.AddArg([]byte{})
	in.AddArg([]byte("third\x00with-nul"))

	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, name := range []string{"func", "client", "data"} {
		want, _ := in.Get(name)
		got, ok := out.Get(name)
		if !ok || !bytes.Equal(got, want) {
			t.Fatalf("var %q mismatch: got=%q want=%q", name, got, want)
		}
	}
	if out.NumArgs() != 3 {
		t.Fatalf("expected 3 args, got %d", out.NumArgs())
	}
	for i, want := range in.Args() {
		got, _ := out.Arg(i)
		if !bytes.Equal(got, want) {
			t.Fatalf("arg %d mismatch: got=%q want=%q", i, got, want)
		}
	}
}

func TestEncodeRecordLayout(t *testing.T) {
	vs := NewVarSet()
	vs.SetString("ab", "xyz")
	vs.AddArg([]byte("q"))
	b, err := Encode(vs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{
		'a', 'b', 0, 3, 0, 0, 0, 'x', 'y', 'z', 0,
		0, 1, 0, 0, 0, 'q', 0,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("layout mismatch:\n got=%v\nwant=%v", b, want)
	}
}

func TestLengthIsLittleEndianByByte(t *testing.T) {
	var b [LengthLen]byte
	PutLength(b[:], 0x01020304)
	if b != [4]byte{0x04, 0x03, 0x02, 0x01} {
		t.Fatalf("unexpected bytes: %v", b)
	}
	if Length(b[:]) != 0x01020304 {
		t.Fatalf("unexpected length: %#x", Length(b[:]))
	}
}

func TestDecodeDuplicateNameLastWriteWins(t *testing.T) {
	var b []byte
	b = AppendRecord(b, "k", []byte("one"))
	b = AppendRecord(b, "k", []byte("two"))
	vs, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := vs.GetString("k"); got != "two" {
		t.Fatalf("expected last write to win, got %q", got)
	}
	if len(vs.Names()) != 1 {
		t.Fatalf("expected one named var, got %v", vs.Names())
	}
}

func TestDecodeMalformedIsDeterministic(t *testing.T) {
	good := AppendRecord(nil, "func", []byte("op"))

	cases := map[string][]byte{
		"unterminated name": []byte("func"),
		"short length":      append([]byte("func\x00"), 2, 0),
		"value overrun":     good[:len(good)-2],
		"missing trailer":   append(append([]byte{}, good[:len(good)-1]...), 'x'),
	}
	for name, payload := range cases {
		if _, err := Decode(payload); !errors.Is(err, protocol.ErrMalformedMessage) {
			t.Fatalf("%s: expected ErrMalformedMessage, got %v", name, err)
		}
	}
}

func TestEncodeRejectsNameWithNul(t *testing.T) {
	vs := NewVarSet()
	vs.SetString("bad\x00name", "v")
	if _, err := Encode(vs); !errors.Is(err, protocol.ErrInvalidVarName) {
		t.Fatalf("expected ErrInvalidVarName, got %v", err)
	}
}

func TestVarSetSetReplacesInPlaceAndClear(t *testing.T) {
	vs := NewVarSet()
	vs.SetInt("a", 1)
	vs.SetString("b", "x")
	vs.SetInt("a", 42)
	if names := vs.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected order: %v", names)
	}
	if n, ok := vs.GetInt("a"); !ok || n != 42 {
		t.Fatalf("unexpected a=%d ok=%v", n, ok)
	}
	vs.Clear()
	if vs.Len() != 0 || vs.Has("a") || vs.NumArgs() != 0 {
		t.Fatalf("clear left state behind: %+v", vs.Records())
	}
}
