package engine

import (
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

type memSequenceStore struct {
	data map[SequenceKey]SequenceState
}

func newMemSequenceStore() *memSequenceStore {
	return &memSequenceStore{data: make(map[SequenceKey]SequenceState)}
}

func (s *memSequenceStore) LoadSequenceState(key SequenceKey) (SequenceState, bool, error) {
	st, ok := s.data[key]
	return st, ok, nil
}

func (s *memSequenceStore) SaveSequenceState(key SequenceKey, state SequenceState) error {
	s.data[key] = state
	return nil
}

func TestSequenceManagerAllocatesGapFreeSequences(t *testing.T) {
	fs := fsadapter.NewMemory()
	store := newMemSequenceStore()
	sm := NewSequenceManager(fs, store)

	key := SequenceKey{SDID: ids.New(), DocumentID: ids.New(), InstanceID: ids.New()}
	for i := uint64(1); i <= 5; i++ {
		seq, err := sm.Allocate("sd", key, DocNote)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if seq != i {
			t.Fatalf("expected sequence %d, got %d", i, seq)
		}
		if err := sm.Advance(key, "file.crdtlog", int64(i*10)); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
}

func TestSequenceManagerFastPathTrustsFreshDB(t *testing.T) {
	fs := fsadapter.NewMemory()
	store := newMemSequenceStore()
	key := SequenceKey{SDID: ids.New(), DocumentID: ids.New(), InstanceID: ids.New()}

	fs.WriteFileAtomic("sd/notes/"+key.DocumentID.String()+"/logs/stamp.crdtlog", make([]byte, 100), 0640)
	store.SaveSequenceState(key, SequenceState{CurrentSequence: 77, CurrentFile: "stamp.crdtlog", CurrentOffset: 50})

	sm := NewSequenceManager(fs, store)
	cur, err := sm.Current("sd", key, DocNote)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur != 77 {
		t.Fatalf("expected fast path to trust persisted sequence 77, got %d", cur)
	}
}

func TestSequenceManagerRescansOnStaleDB(t *testing.T) {
	fs := fsadapter.NewMemory()
	store := newMemSequenceStore()
	profile, instance, note := ids.New(), ids.New(), ids.New()
	key := SequenceKey{SDID: ids.New(), DocumentID: note, InstanceID: instance}

	// Write real records directly via a LogWriter so rescan has
	// something authoritative to find.
	w, err := OpenLogWriter(fs, "sd", DocNote, note, profile, instance, 10*1024*1024, 1000)
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	w.Append(1, []byte("a"), 1001)
	w.Append(2, []byte("b"), 1002)
	w.Append(3, []byte("c"), 1003)
	w.Close()

	// Persisted state claims a file that doesn't exist: the fast path
	// must reject it and fall back to a rescan.
	store.SaveSequenceState(key, SequenceState{CurrentSequence: 999, CurrentFile: "phantom.crdtlog", CurrentOffset: 12345})

	sm := NewSequenceManager(fs, store)
	cur, err := sm.Current("sd", key, DocNote)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur != 3 {
		t.Fatalf("expected rescan to find sequence 3, got %d", cur)
	}
}

func TestSequenceManagerRescanStopsAtGap(t *testing.T) {
	fs := fsadapter.NewMemory()
	store := newMemSequenceStore()
	profile, instance, note := ids.New(), ids.New(), ids.New()
	key := SequenceKey{SDID: ids.New(), DocumentID: note, InstanceID: instance}

	w, _ := OpenLogWriter(fs, "sd", DocNote, note, profile, instance, 10*1024*1024, 1000)
	w.Append(1, []byte("a"), 1001)
	w.Append(2, []byte("b"), 1002)
	w.Append(4, []byte("d"), 1004) // simulated hole: sequence 3 missing
	w.Close()

	sm := NewSequenceManager(fs, store)
	cur, err := sm.Current("sd", key, DocNote)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur != 2 {
		t.Fatalf("expected rescan to stop at the contiguous prefix (2), got %d", cur)
	}
}
