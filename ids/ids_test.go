package ids

import (
	"testing"

	"github.com/google/uuid"
)

func toLegacy(id ID) string {
	return uuid.UUID(id).String()
}

func TestRoundTripCompact(t *testing.T) {
	id := New()
	s := id.String()
	if len(s) != 22 {
		t.Fatalf("expected 22-char compact id, got %d chars: %q", len(s), s)
	}
	parsed, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.Equal(id) {
		t.Fatalf("round trip mismatch: %v != %v", parsed, id)
	}
}

func TestParseHyphenatedLegacyForm(t *testing.T) {
	id := New()
	compact := id.String()

	// Construct the 36-char hyphenated form by parsing then re-rendering
	// through uuid.UUID's own String, mirroring how an old client would
	// have emitted it.
	legacy := toLegacy(id)
	parsed, err := Parse(legacy)
	if err != nil {
		t.Fatalf("Parse(legacy): %v", err)
	}
	if !parsed.Equal(id) {
		t.Fatalf("legacy round trip mismatch: got %v want %v (compact %s)", parsed, id, compact)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-an-id"); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestFastIDsAreUnique(t *testing.T) {
	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		id := NewFast()
		if seen[id] {
			t.Fatalf("duplicate fast id generated: %v", id)
		}
		seen[id] = true
	}
}

func TestFolderTreeSentinelNeverEqualsRandomID(t *testing.T) {
	for i := 0; i < 100; i++ {
		if New().Equal(FolderTreeSentinel) {
			t.Fatalf("random id collided with folder tree sentinel")
		}
	}
}
