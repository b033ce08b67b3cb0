package engine

import (
	"path"
	"testing"
	"time"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

type memStaleStore struct {
	marked  map[ids.ID]ids.ID
	cleared []ids.ID
}

func newMemStaleStore() *memStaleStore {
	return &memStaleStore{marked: make(map[ids.ID]ids.ID)}
}
func (m *memStaleStore) MarkStale(docID, instanceID ids.ID) error {
	m.marked[docID] = instanceID
	return nil
}
func (m *memStaleStore) ClearStaleForNote(docID ids.ID) error {
	m.cleared = append(m.cleared, docID)
	delete(m.marked, docID)
	return nil
}

type memOffsetStore struct {
	data map[string]int64
}

func newMemOffsetStore() *memOffsetStore { return &memOffsetStore{data: make(map[string]int64)} }
func (m *memOffsetStore) LoadActivityOffset(sdID ids.ID, name string) (int64, bool, error) {
	v, ok := m.data[sdID.String()+"/"+name]
	return v, ok, nil
}
func (m *memOffsetStore) SaveActivityOffset(sdID ids.ID, name string, offset int64) error {
	m.data[sdID.String()+"/"+name] = offset
	return nil
}

func writeForeignActivityLine(t *testing.T, fs fsadapter.FS, sdRoot string, profileID, instanceID, docID ids.ID, seq uint64) {
	t.Helper()
	p := path.Join(sdRoot, activityLogPath(profileID, instanceID))
	existing, _ := fs.ReadFile(p)
	data := append(existing, []byte(formatActivityLine(docID, profileID, seq))...)
	if err := fs.WriteFileAtomic(p, data, 0640); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
}

func TestActivitySyncReloadsAfterForeignWrite(t *testing.T) {
	fs := fsadapter.NewMemory()
	profileA, instanceA := ids.New(), ids.New()
	profileB, instanceB := ids.New(), ids.New()
	sdID, note := ids.New(), ids.New()

	seqMgr := NewSequenceManager(fs, newMemSequenceStore())
	store := NewDocumentStore(fs, DefaultConfig(), setCRDT{}, setCRDT{}, seqMgr, nil, nil, profileA, instanceA)

	h, err := store.Load(sdID, "sd", DocNote, note)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Simulate instance B writing 3 updates directly to disk (as if
	// from another machine sharing this storage directory).
	w, err := OpenLogWriter(fs, "sd", DocNote, note, profileB, instanceB, 10*1024*1024, 1000)
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	w.Append(1, []byte("x"), 1001)
	w.Append(2, []byte("y"), 1002)
	w.Append(3, []byte("z"), 1003)
	w.Close()
	writeForeignActivityLine(t, fs, "sd", profileB, instanceB, note, 3)

	stale := newMemStaleStore()
	sync := NewActivitySync(fs, DefaultConfig(), store, newMemOffsetStore(), stale, profileA, instanceA)
	if err := sync.Poll(sdID, "sd"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	vc, ok := store.Peek(sdID, DocNote, note)
	if !ok {
		t.Fatalf("expected the document to still be loaded")
	}
	if vc[instanceB].Sequence != 3 {
		t.Fatalf("expected reload to pick up instance B's 3 records, vc=%+v", vc)
	}
	if len(stale.marked) != 0 {
		t.Fatalf("expected no stale marks when the data is actually present, got %+v", stale.marked)
	}

	elems := sortedElems(h.entry.doc)
	if len(elems) != 3 {
		t.Fatalf("expected the reloaded doc to contain B's 3 elements, got %v", elems)
	}
}

func TestActivitySyncMarksStaleWhenDataIsMissing(t *testing.T) {
	fs := fsadapter.NewMemory()
	profileA, instanceA := ids.New(), ids.New()
	profileB, instanceB := ids.New(), ids.New()
	sdID, note := ids.New(), ids.New()

	seqMgr := NewSequenceManager(fs, newMemSequenceStore())
	store := NewDocumentStore(fs, DefaultConfig(), setCRDT{}, setCRDT{}, seqMgr, nil, nil, profileA, instanceA)
	store.Load(sdID, "sd", DocNote, note)

	// B's activity log claims sequence 500 but no log/pack file backs
	// it up: a large gap with nothing on disk must be flagged stale,
	// not silently reloaded into an incomplete state.
	writeForeignActivityLine(t, fs, "sd", profileB, instanceB, note, 500)

	cfg := DefaultConfig()
	cfg.StaleGapThreshold = 1
	stale := newMemStaleStore()
	sync := NewActivitySync(fs, cfg, store, newMemOffsetStore(), stale, profileA, instanceA)
	if err := sync.Poll(sdID, "sd"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if stale.marked[note] != instanceB {
		t.Fatalf("expected note to be marked stale against instance B, got %+v", stale.marked)
	}
}

func TestActivitySyncIgnoresOwnActivityFile(t *testing.T) {
	fs := fsadapter.NewMemory()
	profileA, instanceA := ids.New(), ids.New()
	sdID, note := ids.New(), ids.New()

	seqMgr := NewSequenceManager(fs, newMemSequenceStore())
	activity := NewActivityLogger(fs, DefaultConfig())
	store := NewDocumentStore(fs, DefaultConfig(), setCRDT{}, setCRDT{}, seqMgr, activity, nil, profileA, instanceA)

	h, _ := store.Load(sdID, "sd", DocNote, note)
	if err := store.ApplyLocalUpdate(h, []byte("own"), 1000); err != nil {
		t.Fatalf("ApplyLocalUpdate: %v", err)
	}

	sync := NewActivitySync(fs, DefaultConfig(), store, nil, nil, profileA, instanceA)
	if err := sync.Poll(sdID, "sd"); err != nil {
		t.Fatalf("Poll should skip the instance's own activity file without error: %v", err)
	}
}

func TestActivitySyncCleanupOrphanLogs(t *testing.T) {
	fs := fsadapter.NewMemory()
	profile, instance := ids.New(), ids.New()
	sdID := ids.New()

	p := path.Join("sd", activityLogPath(profile, instance))
	fs.WriteFileAtomic(p, []byte("stale content"), 0640)

	now := time.Now()
	fs.SetModTime(p, now.Add(-8*24*time.Hour))

	seqMgr := NewSequenceManager(fs, newMemSequenceStore())
	store := NewDocumentStore(fs, DefaultConfig(), setCRDT{}, setCRDT{}, seqMgr, nil, nil, ids.New(), ids.New())
	sync := NewActivitySync(fs, DefaultConfig(), store, nil, nil, ids.New(), ids.New())

	// 8 days after the file's backdated mtime, well past the 7-day
	// default retention.
	if err := sync.CleanupOrphanLogs("sd", now.UnixMilli()); err != nil {
		t.Fatalf("CleanupOrphanLogs: %v", err)
	}

	if _, err := fs.ReadFile(p); err == nil {
		t.Fatalf("expected the orphaned activity log to have been removed")
	}
	_ = sdID
}
