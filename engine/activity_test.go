package engine

import (
	"strings"
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

func TestActivityLoggerAppendsNewLinePerDocument(t *testing.T) {
	fs := fsadapter.NewMemory()
	al := NewActivityLogger(fs, DefaultConfig())
	profile, instance := ids.New(), ids.New()
	docA, docB := ids.New(), ids.New()

	if err := al.RecordChange("sd", profile, instance, docA, 1, 1000); err != nil {
		t.Fatalf("RecordChange: %v", err)
	}
	if err := al.RecordChange("sd", profile, instance, docB, 1, 1001); err != nil {
		t.Fatalf("RecordChange: %v", err)
	}

	data, err := fs.ReadFile("sd/" + activityLogPath(profile, instance))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	entries := ParseActivityLog(data)
	if len(entries) != 2 {
		t.Fatalf("expected 2 lines, got %d: %+v", len(entries), entries)
	}
	if entries[0].DocumentID != docA || entries[1].DocumentID != docB {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestActivityLoggerLastLineReplace(t *testing.T) {
	fs := fsadapter.NewMemory()
	al := NewActivityLogger(fs, DefaultConfig())
	profile, instance := ids.New(), ids.New()
	doc := ids.New()

	for seq := uint64(1); seq <= 5; seq++ {
		if err := al.RecordChange("sd", profile, instance, doc, seq, 1000+int64(seq)); err != nil {
			t.Fatalf("RecordChange(%d): %v", seq, err)
		}
	}

	data, _ := fs.ReadFile("sd/" + activityLogPath(profile, instance))
	entries := ParseActivityLog(data)
	if len(entries) != 1 {
		t.Fatalf("expected a single collapsed line for a typing burst, got %d: %+v", len(entries), entries)
	}
	if entries[0].Sequence != 5 {
		t.Fatalf("expected the collapsed line to carry the latest sequence 5, got %d", entries[0].Sequence)
	}
}

func TestActivityLoggerResumesCollapseAfterInterveningDocument(t *testing.T) {
	fs := fsadapter.NewMemory()
	al := NewActivityLogger(fs, DefaultConfig())
	profile, instance := ids.New(), ids.New()
	docA, docB := ids.New(), ids.New()

	al.RecordChange("sd", profile, instance, docA, 1, 1000)
	al.RecordChange("sd", profile, instance, docA, 2, 1001)
	al.RecordChange("sd", profile, instance, docB, 1, 1002)
	al.RecordChange("sd", profile, instance, docA, 3, 1003)

	data, _ := fs.ReadFile("sd/" + activityLogPath(profile, instance))
	entries := ParseActivityLog(data)
	if len(entries) != 3 {
		t.Fatalf("expected 3 lines (A collapsed, B, A again), got %d: %+v", len(entries), entries)
	}
	if entries[0].DocumentID != docA || entries[0].Sequence != 2 {
		t.Fatalf("expected first line to be the collapsed A@2, got %+v", entries[0])
	}
	if entries[1].DocumentID != docB {
		t.Fatalf("expected second line to be B, got %+v", entries[1])
	}
	if entries[2].DocumentID != docA || entries[2].Sequence != 3 {
		t.Fatalf("expected third line to be a fresh A@3, got %+v", entries[2])
	}
}

func TestActivityLoggerRotatesAtLineCountThreshold(t *testing.T) {
	fs := fsadapter.NewMemory()
	al := NewActivityLogger(fs, DefaultConfig())
	profile, instance := ids.New(), ids.New()

	for i := 0; i < 1100; i++ {
		al.RecordChange("sd", profile, instance, ids.New(), 1, int64(i))
	}

	data, _ := fs.ReadFile("sd/" + activityLogPath(profile, instance))
	entries := ParseActivityLog(data)
	if len(entries) > 1000 {
		t.Fatalf("expected rotation to cap the log at 1000 lines, got %d", len(entries))
	}
}

func TestParseActivityLogSkipsMalformedTrailingFragment(t *testing.T) {
	doc, profile := ids.New(), ids.New()
	good := formatActivityLine(doc, profile, 7)
	data := []byte(good + strings.TrimSuffix(doc.String(), "A") + "|garbage")
	entries := ParseActivityLog(data)
	if len(entries) != 1 || entries[0].Sequence != 7 {
		t.Fatalf("expected exactly the well-formed line to parse, got %+v", entries)
	}
}
