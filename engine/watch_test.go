package engine

import (
	"path"
	"testing"
	"time"

	"github.com/inkwell/noteengine/fsadapter"
)

func waitTrigger(t *testing.T, ch <-chan struct{}, timeout time.Duration) bool {
	t.Helper()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestSDWatcherCoalescesBurstIntoSingleTrigger(t *testing.T) {
	fs := fsadapter.NewMemory()
	w, err := NewSDWatcher(fs, "sd", 20*time.Millisecond, 0, nil)
	if err != nil {
		t.Fatalf("NewSDWatcher: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		fs.WriteFileAtomic(path.Join("sd", "activity", "a.log"), []byte{byte(i)}, 0640)
	}

	if !waitTrigger(t, w.Changed(), 200*time.Millisecond) {
		t.Fatalf("expected a trigger after the debounce window following a write burst")
	}
	if waitTrigger(t, w.Changed(), 60*time.Millisecond) {
		t.Fatalf("expected the burst to coalesce into exactly one trigger, got a second")
	}
}

func TestSDWatcherFiltersOwnWrites(t *testing.T) {
	fs := fsadapter.NewMemory()
	ownPath := path.Join("sd", "notes", "n1", "logs", "own.crdtlog")
	isOwn := func(p string) bool { return p == ownPath }

	w, err := NewSDWatcher(fs, "sd", 10*time.Millisecond, 0, isOwn)
	if err != nil {
		t.Fatalf("NewSDWatcher: %v", err)
	}
	defer w.Close()

	fs.WriteFileAtomic(ownPath, []byte("x"), 0640)
	if waitTrigger(t, w.Changed(), 100*time.Millisecond) {
		t.Fatalf("expected no trigger for this instance's own write")
	}

	fs.WriteFileAtomic(path.Join("sd", "notes", "n2", "logs", "foreign.crdtlog"), []byte("y"), 0640)
	if !waitTrigger(t, w.Changed(), 100*time.Millisecond) {
		t.Fatalf("expected a trigger for a foreign write")
	}
}

func TestSDWatcherPollFallbackFiresWithoutNativeEvents(t *testing.T) {
	fs := fsadapter.NewMemory()
	w, err := NewSDWatcher(fs, "sd", 10*time.Millisecond, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewSDWatcher: %v", err)
	}
	defer w.Close()

	// No writes at all: the mandatory poll fallback must still fire.
	if !waitTrigger(t, w.Changed(), 200*time.Millisecond) {
		t.Fatalf("expected the polling fallback to trigger even with no native events")
	}
}
