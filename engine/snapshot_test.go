package engine

import (
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

func TestSnapshotRoundTrip(t *testing.T) {
	fs := fsadapter.NewMemory()
	note := ids.New()
	instance := ids.New()

	snap := Snapshot{
		TotalChanges: 42,
		InstanceID:   instance,
		VectorClock: VectorClock{
			instance: {InstanceID: instance, Sequence: 42, Offset: 1000, Filename: "x.crdtlog"},
		},
		State: []byte("encoded-document-state"),
	}
	name, err := WriteSnapshot(fs, "sd", DocNote, note, snap)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	data, err := fs.ReadFile("sd/notes/" + note.String() + "/snapshots/" + name)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got, complete, err := decodeSnapshot(data)
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}
	if !complete {
		t.Fatalf("expected status=complete")
	}
	if string(got.State) != "encoded-document-state" {
		t.Fatalf("state mismatch: %q", got.State)
	}
	entry := got.VectorClock[instance]
	if entry.Sequence != 42 || entry.Filename != "x.crdtlog" {
		t.Fatalf("vector clock entry mismatch: %+v", entry)
	}
}

func TestSelectSnapshotPicksHighestTotalChanges(t *testing.T) {
	fs := fsadapter.NewMemory()
	note := ids.New()
	i1, i2 := ids.New(), ids.New()

	WriteSnapshot(fs, "sd", DocNote, note, Snapshot{TotalChanges: 10, InstanceID: i1, VectorClock: VectorClock{}, State: []byte("old")})
	WriteSnapshot(fs, "sd", DocNote, note, Snapshot{TotalChanges: 50, InstanceID: i2, VectorClock: VectorClock{}, State: []byte("new")})

	snap, _, ok, err := SelectSnapshot(fs, "sd", DocNote, note)
	if err != nil || !ok {
		t.Fatalf("SelectSnapshot: ok=%v err=%v", ok, err)
	}
	if string(snap.State) != "new" {
		t.Fatalf("expected the highest-totalChanges snapshot, got %q", snap.State)
	}
}

func TestSelectSnapshotSkipsIncompleteAndFallsBack(t *testing.T) {
	fs := fsadapter.NewMemory()
	note := ids.New()
	i1, i2 := ids.New(), ids.New()

	WriteSnapshot(fs, "sd", DocNote, note, Snapshot{TotalChanges: 10, InstanceID: i1, VectorClock: VectorClock{}, State: []byte("good")})
	name, err := WriteSnapshot(fs, "sd", DocNote, note, Snapshot{TotalChanges: 99, InstanceID: i2, VectorClock: VectorClock{}, State: []byte("half-written")})
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	// Corrupt the newer snapshot back to status=writing, simulating a
	// crash between the two fsyncs in the two-phase write.
	p := "sd/notes/" + note.String() + "/snapshots/" + name
	data, _ := fs.ReadFile(p)
	data[5] = snapshotStatusWriting
	fs.WriteFileAtomic(p, data, 0640)

	snap, _, ok, err := SelectSnapshot(fs, "sd", DocNote, note)
	if err != nil || !ok {
		t.Fatalf("SelectSnapshot: ok=%v err=%v", ok, err)
	}
	if string(snap.State) != "good" {
		t.Fatalf("expected fallback to the older complete snapshot, got %q", snap.State)
	}
}

func TestSelectSnapshotNoneExist(t *testing.T) {
	fs := fsadapter.NewMemory()
	_, _, ok, err := SelectSnapshot(fs, "sd", DocNote, ids.New())
	if err != nil {
		t.Fatalf("SelectSnapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false when no snapshots exist")
	}
}
