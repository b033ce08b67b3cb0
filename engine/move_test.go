package engine

import (
	"path"
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

type memMoveStore struct {
	rows    map[string]MoveRecord // keyed by NoteID.String()
	byMove  map[string]string     // moveID -> noteID key
	rebound map[string]ids.ID     // noteID -> dstSDID
}

func newMemMoveStore() *memMoveStore {
	return &memMoveStore{
		rows:    make(map[string]MoveRecord),
		byMove:  make(map[string]string),
		rebound: make(map[string]ids.ID),
	}
}

func (s *memMoveStore) CreateMove(rec MoveRecord) (MoveRecord, bool, error) {
	key := rec.NoteID.String()
	if existing, ok := s.rows[key]; ok {
		return existing, false, nil
	}
	s.rows[key] = rec
	s.byMove[rec.MoveID.String()] = key
	return rec, true, nil
}

func (s *memMoveStore) LoadMoveByNote(noteID ids.ID) (MoveRecord, bool, error) {
	rec, ok := s.rows[noteID.String()]
	return rec, ok, nil
}

func (s *memMoveStore) LoadMove(moveID ids.ID) (MoveRecord, bool, error) {
	key, ok := s.byMove[moveID.String()]
	if !ok {
		return MoveRecord{}, false, nil
	}
	rec, ok := s.rows[key]
	return rec, ok, nil
}

func (s *memMoveStore) UpdateMoveState(moveID ids.ID, state MoveState, nowMillis int64) error {
	key := s.byMove[moveID.String()]
	rec := s.rows[key]
	rec.State = state
	rec.UpdatedAtMillis = nowMillis
	s.rows[key] = rec
	return nil
}

func (s *memMoveStore) TakeOverMove(moveID ids.ID, newOwner, priorOwner ids.ID, nowMillis int64) (bool, error) {
	key := s.byMove[moveID.String()]
	rec, ok := s.rows[key]
	if !ok || !rec.OwnerInstanceID.Equal(priorOwner) {
		return false, nil
	}
	rec.OwnerInstanceID = newOwner
	rec.UpdatedAtMillis = nowMillis
	s.rows[key] = rec
	return true, nil
}

func (s *memMoveStore) DeleteMove(moveID ids.ID) error {
	key, ok := s.byMove[moveID.String()]
	if !ok {
		return nil
	}
	delete(s.rows, key)
	delete(s.byMove, moveID.String())
	return nil
}

func (s *memMoveStore) RebindNoteSD(noteID, dstSDID ids.ID) error {
	s.rebound[noteID.String()] = dstSDID
	return nil
}

func TestMoveDriveToCompletionCopiesFilesAndCleansSource(t *testing.T) {
	fs := fsadapter.NewMemory()
	note := ids.New()
	srcSD, dstSD := "sd-src", "sd-dst"
	profile, instance := ids.New(), ids.New()

	w, err := OpenLogWriter(fs, srcSD, DocNote, note, profile, instance, 10*1024*1024, 1000)
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	w.Append(1, []byte("hello"), 1000)
	w.Close()

	store := newMemMoveStore()
	deletion := NewDeletionLogger(fs, DefaultConfig())
	mgr := NewMoveManager(fs, DefaultConfig(), store, deletion, instance)

	moveID := ids.New()
	rec, err := mgr.InitiateMove(moveID, note, ids.New(), ids.New(), 5000)
	if err != nil {
		t.Fatalf("InitiateMove: %v", err)
	}
	if rec.State != MoveInitiated {
		t.Fatalf("expected a fresh move to start at initiated, got %q", rec.State)
	}

	final, err := mgr.DriveToCompletion(rec, DocNote, srcSD, dstSD, 6000, nil)
	if err != nil {
		t.Fatalf("DriveToCompletion: %v", err)
	}
	if final.State != MoveCompleted {
		t.Fatalf("expected the move to finish completed, got %q", final.State)
	}
	if _, ok, _ := store.LoadMove(moveID); ok {
		t.Fatalf("expected the move row to be removed once completed")
	}

	dstLogDir := path.Join(dstSD, logsDir(DocNote, note))
	entries, err := fs.ListDir(dstLogDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly 1 copied log file at the destination, got %v err=%v", entries, err)
	}

	srcLogDir := path.Join(srcSD, logsDir(DocNote, note))
	srcEntries, _ := fs.ListDir(srcLogDir)
	if len(srcEntries) != 0 {
		t.Fatalf("expected the source note's files to be removed after cleaning, got %v", srcEntries)
	}

	if got := store.rebound[note.String()]; !got.Equal(rec.DstSDID) {
		t.Fatalf("expected RebindNoteSD to be called with the move's destination SD, got %v want %v", got, rec.DstSDID)
	}
}

func TestMoveInitiateDefersToExistingRow(t *testing.T) {
	fs := fsadapter.NewMemory()
	note := ids.New()
	store := newMemMoveStore()
	mgr := NewMoveManager(fs, DefaultConfig(), store, nil, ids.New())

	firstID := ids.New()
	first, err := mgr.InitiateMove(firstID, note, ids.New(), ids.New(), 1000)
	if err != nil {
		t.Fatalf("first InitiateMove: %v", err)
	}

	secondID := ids.New()
	second, err := mgr.InitiateMove(secondID, note, ids.New(), ids.New(), 2000)
	if err != nil {
		t.Fatalf("second InitiateMove: %v", err)
	}
	if !second.MoveID.Equal(first.MoveID) {
		t.Fatalf("expected the second initiator to defer to the first move, got a distinct move id")
	}
}

func TestMoveRollbackOnlyAllowedBeforeDBUpdated(t *testing.T) {
	fs := fsadapter.NewMemory()
	note := ids.New()
	store := newMemMoveStore()
	mgr := NewMoveManager(fs, DefaultConfig(), store, nil, ids.New())

	moveID := ids.New()
	rec, _ := mgr.InitiateMove(moveID, note, ids.New(), ids.New(), 1000)
	rec, err := mgr.Advance(rec, DocNote, "src", "dst", "", 1000) // -> copying
	if err != nil {
		t.Fatalf("Advance to copying: %v", err)
	}

	if err := mgr.Rollback(rec, DocNote, "dst"); err != nil {
		t.Fatalf("expected rollback to succeed from a pre-db_updated state: %v", err)
	}
	if _, ok, _ := store.LoadMove(moveID); ok {
		t.Fatalf("expected the row to be removed after rollback")
	}

	// Once past db_updated, rollback must refuse.
	rec2, _ := mgr.InitiateMove(ids.New(), ids.New(), ids.New(), ids.New(), 1000)
	rec2.State = MoveDBUpdated
	if err := mgr.Rollback(rec2, DocNote, "dst"); err == nil {
		t.Fatalf("expected rollback to refuse once db_updated has run")
	}
}

func TestMoveTakeOverRespectsStaleThreshold(t *testing.T) {
	fs := fsadapter.NewMemory()
	note := ids.New()
	store := newMemMoveStore()
	owner := ids.New()
	cfg := DefaultConfig()
	cfg.MoveOwnerStaleSeconds = 300
	mgr := NewMoveManager(fs, cfg, store, nil, owner)

	moveID := ids.New()
	rec, _ := mgr.InitiateMove(moveID, note, ids.New(), ids.New(), 0)

	newOwner := ids.New()
	ok, err := mgr.TakeOver(rec, newOwner, 100000, 100000+60000) // only 60s elapsed
	if err != nil {
		t.Fatalf("TakeOver: %v", err)
	}
	if ok {
		t.Fatalf("expected takeover to be refused before the stale threshold elapses")
	}

	ok, err = mgr.TakeOver(rec, newOwner, 100000, 100000+400000) // 400s elapsed
	if err != nil {
		t.Fatalf("TakeOver: %v", err)
	}
	if !ok {
		t.Fatalf("expected takeover to succeed once the owner has been stale long enough")
	}
	updated, _, _ := store.LoadMove(moveID)
	if !updated.OwnerInstanceID.Equal(newOwner) {
		t.Fatalf("expected ownership to transfer to the new instance, got %v", updated.OwnerInstanceID)
	}
}
