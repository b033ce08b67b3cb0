package cachedb

import (
	"testing"

	"github.com/inkwell/noteengine/engine"
)

func TestSequenceStateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	key := engine.SequenceKey{SDID: testID(1), DocumentID: testID(2), InstanceID: testID(3)}

	if _, ok, err := db.LoadSequenceState(key); err != nil || ok {
		t.Fatalf("expected no state yet, got ok=%v err=%v", ok, err)
	}

	state := engine.SequenceState{CurrentSequence: 7, CurrentFile: "0001.crdtlog", CurrentOffset: 512}
	if err := db.SaveSequenceState(key, state); err != nil {
		t.Fatalf("SaveSequenceState: %v", err)
	}

	got, ok, err := db.LoadSequenceState(key)
	if err != nil || !ok {
		t.Fatalf("LoadSequenceState: ok=%v err=%v", ok, err)
	}
	if got != state {
		t.Fatalf("got %+v, want %+v", got, state)
	}

	state.CurrentSequence = 8
	if err := db.SaveSequenceState(key, state); err != nil {
		t.Fatalf("SaveSequenceState overwrite: %v", err)
	}
	got, _, _ = db.LoadSequenceState(key)
	if got.CurrentSequence != 8 {
		t.Fatalf("expected overwrite to stick, got %+v", got)
	}
}
