package engine

import (
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

type memDeletionStore struct {
	deleted map[ids.ID]int64
}

func newMemDeletionStore() *memDeletionStore {
	return &memDeletionStore{deleted: make(map[ids.ID]int64)}
}
func (m *memDeletionStore) MarkDeleted(docID ids.ID, nowMillis int64) error {
	m.deleted[docID] = nowMillis
	return nil
}

func TestDeletionLoggerAppendsOneLinePerTombstone(t *testing.T) {
	fs := fsadapter.NewMemory()
	dl := NewDeletionLogger(fs, DefaultConfig())
	profile, instance := ids.New(), ids.New()
	docA, docB := ids.New(), ids.New()

	if err := dl.RecordDeletion("sd", profile, instance, docA, 4, 1000); err != nil {
		t.Fatalf("RecordDeletion: %v", err)
	}
	if err := dl.RecordDeletion("sd", profile, instance, docB, 9, 1001); err != nil {
		t.Fatalf("RecordDeletion: %v", err)
	}

	data, err := fs.ReadFile("sd/" + deletionLogPath(profile, instance))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	entries := ParseActivityLog(data)
	if len(entries) != 2 {
		t.Fatalf("expected 2 tombstone lines, got %d: %+v", len(entries), entries)
	}
	if entries[0].DocumentID != docA || entries[0].Sequence != 4 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].DocumentID != docB || entries[1].Sequence != 9 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestDeletionLoggerDoesNotCollapseRepeatedDeletes(t *testing.T) {
	fs := fsadapter.NewMemory()
	dl := NewDeletionLogger(fs, DefaultConfig())
	profile, instance := ids.New(), ids.New()
	doc := ids.New()

	dl.RecordDeletion("sd", profile, instance, doc, 1, 1000)
	dl.RecordDeletion("sd", profile, instance, doc, 2, 1001)

	data, _ := fs.ReadFile("sd/" + deletionLogPath(profile, instance))
	entries := ParseActivityLog(data)
	if len(entries) != 2 {
		t.Fatalf("expected both tombstone lines to be kept distinct, got %d: %+v", len(entries), entries)
	}
}

func TestDeletionSyncAppliesForeignTombstoneAndResumesFromWatermark(t *testing.T) {
	fs := fsadapter.NewMemory()
	profileA, instanceA := ids.New(), ids.New()
	profileB, instanceB := ids.New(), ids.New()
	sdID, note := ids.New(), ids.New()

	seqMgr := NewSequenceManager(fs, newMemSequenceStore())
	store := NewDocumentStore(fs, DefaultConfig(), setCRDT{}, setCRDT{}, seqMgr, nil, nil, profileA, instanceA)
	store.Load(sdID, "sd", DocNote, note)

	dl := NewDeletionLogger(fs, DefaultConfig())
	if err := dl.RecordDeletion("sd", profileB, instanceB, note, 1, 2000); err != nil {
		t.Fatalf("RecordDeletion: %v", err)
	}

	offsets := newMemOffsetStore()
	deletions := newMemDeletionStore()
	sync := NewDeletionSync(fs, store, offsets, deletions, instanceA)
	if err := sync.Poll(sdID, "sd", 2500); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, ok := deletions.deleted[note]; !ok {
		t.Fatalf("expected note to be recorded as deleted")
	}

	// A second poll with nothing new appended must not reprocess the
	// same tombstone (the watermark should have advanced past it).
	deletions2 := newMemDeletionStore()
	sync2 := NewDeletionSync(fs, store, offsets, deletions2, instanceA)
	if err := sync2.Poll(sdID, "sd", 2600); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(deletions2.deleted) != 0 {
		t.Fatalf("expected the already-seen tombstone to be skipped, got %+v", deletions2.deleted)
	}
}

func TestDeletionSyncIgnoresOwnFeed(t *testing.T) {
	fs := fsadapter.NewMemory()
	profile, instance := ids.New(), ids.New()
	sdID, note := ids.New(), ids.New()

	seqMgr := NewSequenceManager(fs, newMemSequenceStore())
	store := NewDocumentStore(fs, DefaultConfig(), setCRDT{}, setCRDT{}, seqMgr, nil, nil, profile, instance)

	dl := NewDeletionLogger(fs, DefaultConfig())
	dl.RecordDeletion("sd", profile, instance, note, 1, 1000)

	deletions := newMemDeletionStore()
	sync := NewDeletionSync(fs, store, nil, deletions, instance)
	if err := sync.Poll(sdID, "sd", 1500); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(deletions.deleted) != 0 {
		t.Fatalf("expected the instance's own deletion feed to be skipped")
	}
}
