package engineerr

import (
	"errors"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(LockHeld, "profile busy", errors.New("flock: resource busy"))
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected errors.Is to match on Kind")
	}
	if errors.Is(err, ErrSdUnavailable) {
		t.Fatalf("expected no match for a different Kind")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IoErrorAt("/sd/notes/x.crdtlog", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to expose cause")
	}
}

func TestErrorStringsIncludeContext(t *testing.T) {
	err := CorruptAt("/sd/snap.snapshot", "bad magic")
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
	verr := ValidationOf("name", "must not be empty")
	if got := verr.Error(); got == "" {
		t.Fatalf("expected non-empty validation error string")
	}
}
