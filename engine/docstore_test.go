package engine

import (
	"sort"
	"strings"
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// setDoc is a minimal grow-only-set CRDT test double: each update is an
// opaque element added to a set, order-independent and idempotent,
// which is all docstore.go's replay logic actually depends on.
type setDoc struct {
	elems map[string]bool
}

func newSetDoc() *setDoc { return &setDoc{elems: make(map[string]bool)} }

func (d *setDoc) ApplyUpdate(update []byte) error {
	d.elems[string(update)] = true
	return nil
}

func (d *setDoc) EncodeState() []byte {
	keys := make([]string, 0, len(d.elems))
	for k := range d.elems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return []byte(strings.Join(keys, "\x00"))
}

func (d *setDoc) EncodeDiff(prev []byte) []byte { return d.EncodeState() }

type setCRDT struct{}

func (setCRDT) NewDoc() Doc { return newSetDoc() }
func (setCRDT) LoadDoc(state []byte) (Doc, error) {
	d := newSetDoc()
	if len(state) > 0 {
		for _, k := range strings.Split(string(state), "\x00") {
			d.elems[k] = true
		}
	}
	return d, nil
}

func sortedElems(d Doc) []string {
	sd := d.(*setDoc)
	keys := make([]string, 0, len(sd.elems))
	for k := range sd.elems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newTestStore(fs fsadapter.FS) (*DocumentStore, ids.ID, ids.ID) {
	profile, instance := ids.New(), ids.New()
	seqMgr := NewSequenceManager(fs, newMemSequenceStore())
	store := NewDocumentStore(fs, DefaultConfig(), setCRDT{}, setCRDT{}, seqMgr, nil, nil, profile, instance)
	return store, profile, instance
}

func TestDocumentStoreLoadApplyAndReload(t *testing.T) {
	fs := fsadapter.NewMemory()
	store, _, _ := newTestStore(fs)
	sdID, note := ids.New(), ids.New()

	h, err := store.Load(sdID, "sd", DocNote, note)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i, v := range []string{"a", "b", "c"} {
		if err := store.ApplyLocalUpdate(h, []byte(v), 1000+int64(i)); err != nil {
			t.Fatalf("ApplyLocalUpdate(%s): %v", v, err)
		}
	}

	meta := h.GetMetadata()
	if meta.TotalChanges != 3 {
		t.Fatalf("expected 3 total changes, got %d", meta.TotalChanges)
	}

	store.Unload(h)

	h2, err := store.Load(sdID, "sd", DocNote, note)
	if err != nil {
		t.Fatalf("reload Load: %v", err)
	}
	got := sortedElems(h2.entry.doc)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected replay to recover all 3 elements, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("element %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestDocumentStoreLoadIncrementsRefCount(t *testing.T) {
	fs := fsadapter.NewMemory()
	store, _, _ := newTestStore(fs)
	sdID, note := ids.New(), ids.New()

	h1, _ := store.Load(sdID, "sd", DocNote, note)
	h2, _ := store.Load(sdID, "sd", DocNote, note)
	if h1.entry != h2.entry {
		t.Fatalf("expected the second Load to return the same entry")
	}
	if h1.entry.refCount != 2 {
		t.Fatalf("expected refCount 2, got %d", h1.entry.refCount)
	}

	store.Unload(h1)
	if store.registry.Get(h1.entry.key) == nil {
		t.Fatalf("entry should remain registered while refCount > 0")
	}
	store.Unload(h2)
	if store.registry.Get(h1.entry.key) != nil {
		t.Fatalf("entry should be removed once refCount reaches 0")
	}
}

func TestDocumentStoreApplyRemoteUpdateDoesNotBumpOwnVectorClock(t *testing.T) {
	fs := fsadapter.NewMemory()
	store, _, instance := newTestStore(fs)
	sdID, note := ids.New(), ids.New()

	h, _ := store.Load(sdID, "sd", DocNote, note)
	if err := store.ApplyRemoteUpdate(h, []byte("remote-1"), ids.New()); err != nil {
		t.Fatalf("ApplyRemoteUpdate: %v", err)
	}
	meta := h.GetMetadata()
	if entry, ok := meta.VectorClock[instance]; ok && entry.Sequence != 0 {
		t.Fatalf("remote update must not advance the local instance's own vector clock entry")
	}
	if !sort.StringsAreSorted(sortedElems(h.entry.doc)) {
		t.Fatalf("unexpected element ordering")
	}
}

func TestDocumentStoreCheckLogExists(t *testing.T) {
	fs := fsadapter.NewMemory()
	store, profile, instance := newTestStore(fs)
	sdID, note := ids.New(), ids.New()

	h, _ := store.Load(sdID, "sd", DocNote, note)
	store.ApplyLocalUpdate(h, []byte("x"), 1000)
	store.ApplyLocalUpdate(h, []byte("y"), 1001)

	ok, err := store.CheckLogExists("sd", DocNote, note, instance, 2)
	if err != nil {
		t.Fatalf("CheckLogExists: %v", err)
	}
	if !ok {
		t.Fatalf("expected sequence 2 to be found on disk")
	}

	ok, err = store.CheckLogExists("sd", DocNote, note, instance, 99)
	if err != nil {
		t.Fatalf("CheckLogExists: %v", err)
	}
	if ok {
		t.Fatalf("expected sequence 99 to be absent")
	}

	// A different instance that never wrote anything must report absent.
	ok, _ = store.CheckLogExists("sd", DocNote, note, profile, 1)
	if ok {
		t.Fatalf("expected an unrelated instance id to find nothing")
	}
}

func TestDocumentStoreSubscribeReceivesLocalUpdates(t *testing.T) {
	fs := fsadapter.NewMemory()
	store, _, _ := newTestStore(fs)
	sdID, note := ids.New(), ids.New()

	h, _ := store.Load(sdID, "sd", DocNote, note)
	ch := h.Subscribe()

	if err := store.ApplyLocalUpdate(h, []byte("hello"), 1000); err != nil {
		t.Fatalf("ApplyLocalUpdate: %v", err)
	}

	select {
	case ev := <-ch:
		if string(ev.Update) != "hello" {
			t.Fatalf("expected update %q, got %q", "hello", ev.Update)
		}
		if !ev.Origin.IsZero() {
			t.Fatalf("expected a zero origin for a local update")
		}
	default:
		t.Fatalf("expected a buffered event to be ready")
	}
}
