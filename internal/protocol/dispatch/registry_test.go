package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"testing"
)

type fakeSession struct {
	calls []string
}

func record(tag string) Handler[*fakeSession] {
	return func(s *fakeSession) error {
		s.calls = append(s.calls, tag)
		return nil
	}
}

func TestFindPrefersMostRecentTable(t *testing.T) {
	r := NewRegistry(Table[*fakeSession]{
		{Name: "open", Handler: record("builtin-open")},
		{Name: "close", Handler: record("builtin-close")},
	})
	r.Add(Table[*fakeSession]{{Name: "open", Handler: record("user-open")}})

	s := &fakeSession{}
	for _, name := range []string{"open", "close"} {
		h, ok := r.Find(name)
		if !ok {
			t.Fatalf("missing handler for %q", name)
		}
		if err := h(s); err != nil {
			t.Fatalf("handler %q: %v", name, err)
		}
	}
	if len(s.calls) != 2 || s.calls[0] != "user-open" || s.calls[1] != "builtin-close" {
		t.Fatalf("unexpected dispatch order: %v", s.calls)
	}
}

func TestFindIsExactMatch(t *testing.T) {
	r := NewRegistry(Table[*fakeSession]{{Name: "open", Handler: record("open")}})
	if _, ok := r.Find("Open"); ok {
		t.Fatalf("lookup must be case sensitive")
	}
	if _, ok := r.Find("ope"); ok {
		t.Fatalf("lookup must not match prefixes")
	}
}

func TestLookupFallsBackToCatchAll(t *testing.T) {
	r := NewRegistry[*fakeSession]()
	if _, ok := r.Lookup("anything"); ok {
		t.Fatalf("empty registry should not resolve")
	}
	r.SetFallback(record("fallback"))
	h, ok := r.Lookup("anything")
	if !ok {
		t.Fatalf("expected fallback")
	}
	s := &fakeSession{}
	_ = h(s)
	if len(s.calls) != 1 || s.calls[0] != "fallback" {
		t.Fatalf("unexpected calls: %v", s.calls)
	}
	if _, ok := r.Find("anything"); ok {
		t.Fatalf("Find must not consult the fallback")
	}
}

func TestFirstEntryWithinTableWins(t *testing.T) {
	r := NewRegistry(Table[*fakeSession]{
		{Name: "dup", Handler: record("first")},
		{Name: "dup", Handler: record("second")},
		{Name: "nil", Handler: nil},
	})
	s := &fakeSession{}
	h, _ := r.Find("dup")
	_ = h(s)
	if s.calls[0] != "first" {
		t.Fatalf("expected first entry, got %v", s.calls)
	}
	if _, ok := r.Find("nil"); ok {
		t.Fatalf("nil handlers must not register")
	}
	names := r.Names()
	sort.Strings(names)
	if len(names) != 1 || names[0] != "dup" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestFatalWrapping(t *testing.T) {
	base := errors.New("checksum mismatch")
	err := fmt.Errorf("client-WriteFile: %w", Fatal(base))
	if !IsFatal(err) {
		t.Fatalf("expected fatal through wrapping")
	}
	if !errors.Is(err, base) {
		t.Fatalf("fatal must unwrap to its cause")
	}
	if IsFatal(base) || Fatal(nil) != nil {
		t.Fatalf("plain errors are not fatal")
	}
}

func TestErrorHandlerRoundTrip(t *testing.T) {
	r := NewRegistry[*fakeSession]()
	if r.ErrorHandler() != nil {
		t.Fatalf("expected no error handler")
	}
	var gotOp string
	r.SetErrorHandler(func(s *fakeSession, op string, err error) { gotOp = op })
	r.ErrorHandler()(&fakeSession{}, "myop", errors.New("boom"))
	if gotOp != "myop" {
		t.Fatalf("unexpected op: %q", gotOp)
	}
}
