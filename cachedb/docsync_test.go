package cachedb

import (
	"testing"

	"github.com/inkwell/noteengine/engine"
	"github.com/inkwell/noteengine/ids"
)

func TestDocSyncStateRoundTripNote(t *testing.T) {
	db := openTestDB(t)
	sdID, noteID, instID := testID(1), testID(2), testID(3)

	if err := db.UpsertStorageDir(sdID, "sd1", "/sd1", 1000, true); err != nil {
		t.Fatalf("UpsertStorageDir: %v", err)
	}
	if err := db.UpsertNote(Note{ID: noteID, SDID: sdID, Title: "hi", CreatedAt: 1, ModifiedAt: 1}, "hi body"); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	if _, ok, err := db.LoadDocSyncState(sdID, noteID, engine.DocNote); err != nil || ok {
		t.Fatalf("expected no state yet, got ok=%v err=%v", ok, err)
	}

	vc := engine.VectorClock{
		instID: engine.VectorClockEntry{InstanceID: instID, Sequence: 5, Offset: 100, Filename: "0001.crdtlog"},
	}
	state := engine.DocSyncState{VectorClock: vc}
	if err := db.SaveDocSyncState(sdID, noteID, engine.DocNote, state); err != nil {
		t.Fatalf("SaveDocSyncState: %v", err)
	}

	got, ok, err := db.LoadDocSyncState(sdID, noteID, engine.DocNote)
	if err != nil || !ok {
		t.Fatalf("LoadDocSyncState: ok=%v err=%v", ok, err)
	}
	if got.TotalChanges != 5 {
		t.Fatalf("expected derived TotalChanges=5, got %d", got.TotalChanges)
	}
	entry, ok := got.VectorClock[instID]
	if !ok || entry.Sequence != 5 || entry.Filename != "0001.crdtlog" {
		t.Fatalf("unexpected vector clock entry: %+v ok=%v", entry, ok)
	}
}

func TestDocSyncStateRoundTripFolderTree(t *testing.T) {
	db := openTestDB(t)
	sdID, instID := testID(1), testID(2)

	vc := engine.VectorClock{
		instID: engine.VectorClockEntry{InstanceID: instID, Sequence: 3},
	}
	if err := db.SaveDocSyncState(sdID, sdID, engine.DocFolderTree, engine.DocSyncState{VectorClock: vc}); err != nil {
		t.Fatalf("SaveDocSyncState: %v", err)
	}

	got, ok, err := db.LoadDocSyncState(sdID, ids.Zero, engine.DocFolderTree)
	if err != nil || !ok {
		t.Fatalf("LoadDocSyncState: ok=%v err=%v", ok, err)
	}
	if got.TotalChanges != 3 {
		t.Fatalf("expected TotalChanges=3, got %d", got.TotalChanges)
	}
}
