/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package engine

import (
	"path"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
	NonLockingReadMap "github.com/launix-de/NonLockingReadMap"
)

// ActivityAppender is the C7 side of apply_local_update: writing the
// one-line activity-feed entry that lets other instances discover this
// change without a directory scan. Kept as an interface so docstore.go
// never has to know about file rotation or the last-line-replace
// optimization.
type ActivityAppender interface {
	RecordChange(sdRoot string, profileID, instanceID, docID ids.ID, sequence uint64, nowMillis int64) error
}

// DocSyncState is the derived (non-authoritative) cache of a document's
// replay result, persisted so the UI/search layers never need to run
// cold-load themselves (spec.md §4.6 step 4).
type DocSyncState struct {
	TotalChanges uint64
	VectorClock  VectorClock
}

// DocSyncStore persists DocSyncState into the cache database's
// note_sync_state/folder_sync_state tables (spec.md §4.12). A nil
// store is valid: docstore still functions correctly from on-disk
// replay alone, it just can't offer the cache DB a fast path.
type DocSyncStore interface {
	LoadDocSyncState(sdID, docID ids.ID, kind DocKind) (DocSyncState, bool, error)
	SaveDocSyncState(sdID, docID ids.ID, kind DocKind, state DocSyncState) error
}

// UpdateEvent is broadcast to a handle's subscribers whenever the
// document changes, locally or remotely (spec.md §6.2 "subscribe").
type UpdateEvent struct {
	DocumentID ids.ID
	Update     []byte
	// Origin is the zero ID for a local update, or the producing
	// instance's ID for a remote one.
	Origin ids.ID
}

// docEntry is the registry's element type. It satisfies
// NonLockingReadMap's KeyGetter so the loaded-document table can be
// read without locking; every mutable field is guarded by mu instead
// of being replaced through the map (the map only ever holds one
// *docEntry per key for the handle's lifetime).
type docEntry struct {
	key string

	sdID       ids.ID
	sdRoot     string
	kind       DocKind
	docID      ids.ID
	profileID  ids.ID
	instanceID ids.ID

	mu                   sync.Mutex
	doc                  Doc
	vc                   VectorClock
	totalChanges         uint64
	updatesSinceSnapshot int
	logWriter            *LogWriter
	refCount             int32
	subs                 []chan UpdateEvent
}

func (e *docEntry) GetKey() string    { return e.key }
func (e *docEntry) ComputeSize() uint { return uint(len(e.doc.EncodeState())) + 64 }

func registryKey(sdID ids.ID, kind DocKind, docID ids.ID) string {
	return sdID.String() + "|" + string(rune('0'+kind)) + "|" + docID.String()
}

// Handle is an opaque, reference-counted reference to a loaded
// document, returned by DocumentStore.Load (spec.md §4.6, §6.2).
type Handle struct {
	entry *docEntry
}

// Metadata summarizes a handle's replay state for diagnostics and the
// UI layer's get_metadata call.
type Metadata struct {
	DocumentID   ids.ID
	TotalChanges uint64
	VectorClock  VectorClock
	RefCount     int32
}

// DocumentStore is the Document Storage Manager (C6): it owns the
// authoritative in-memory CRDT doc for every loaded document, mediates
// local and remote writes, and drives cold-load from
// snapshot+pack+log replay (spec.md §4.6).
type DocumentStore struct {
	fs         fsadapter.FS
	cfg        Config
	crdt       CRDT
	loader     DocLoader
	seqMgr     *SequenceManager
	activity   ActivityAppender
	syncStore  DocSyncStore
	instanceID ids.ID
	profileID  ids.ID

	registry NonLockingReadMap.NonLockingReadMap[docEntry, string]

	loadMu  sync.Mutex
	loading map[string][]chan struct{}
}

// NewDocumentStore wires the registry's dependencies. activity and
// syncStore may be nil in tests that only exercise replay/apply
// semantics directly against the filesystem.
func NewDocumentStore(fs fsadapter.FS, cfg Config, crdt CRDT, loader DocLoader, seqMgr *SequenceManager, activity ActivityAppender, syncStore DocSyncStore, profileID, instanceID ids.ID) *DocumentStore {
	return &DocumentStore{
		fs:         fs,
		cfg:        cfg,
		crdt:       crdt,
		loader:     loader,
		seqMgr:     seqMgr,
		activity:   activity,
		syncStore:  syncStore,
		profileID:  profileID,
		instanceID: instanceID,
		registry:   NonLockingReadMap.New[docEntry, string](),
		loading:    make(map[string][]chan struct{}),
	}
}

// Load opens a document, replaying it from disk on first access and
// incrementing the handle's reference count on every subsequent call
// (spec.md §4.6 "load"). sdID is the storage directory's durable
// identifier (assigned by the cache DB, C12); sdRoot is its current
// filesystem path.
func (s *DocumentStore) Load(sdID ids.ID, sdRoot string, kind DocKind, docID ids.ID) (*Handle, error) {
	key := registryKey(sdID, kind, docID)

	for {
		if e := s.registry.Get(key); e != nil {
			atomic.AddInt32(&e.refCount, 1)
			return &Handle{entry: e}, nil
		}

		s.loadMu.Lock()
		if waiters, inFlight := s.loading[key]; inFlight {
			done := make(chan struct{})
			s.loading[key] = append(waiters, done)
			s.loadMu.Unlock()
			<-done
			continue
		}
		s.loading[key] = nil
		s.loadMu.Unlock()

		e, err := s.coldLoad(sdID, sdRoot, kind, docID)
		s.finishLoading(key)
		if err != nil {
			return nil, err
		}
		e.refCount = 1
		if prior := s.registry.Set(e); prior != nil {
			// Lost a race against a concurrent first-loader; fall back
			// to the entry that won and discard our replay.
			atomic.AddInt32(&prior.refCount, 1)
			return &Handle{entry: prior}, nil
		}
		return &Handle{entry: e}, nil
	}
}

func (s *DocumentStore) finishLoading(key string) {
	s.loadMu.Lock()
	waiters := s.loading[key]
	delete(s.loading, key)
	s.loadMu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// coldLoad implements spec.md §4.6's four-step replay: snapshot,
// packs, logs, then persist the derived state.
func (s *DocumentStore) coldLoad(sdID ids.ID, sdRoot string, kind DocKind, docID ids.ID) (*docEntry, error) {
	var doc Doc
	vc := VectorClock{}
	var totalChanges uint64

	snap, _, ok, err := SelectSnapshot(s.fs, sdRoot, kind, docID)
	if err != nil {
		return nil, err
	}
	if ok {
		doc, err = s.loader.LoadDoc(snap.State)
		if err != nil {
			return nil, engineerr.CorruptAt(docRoot(kind, docID), err.Error())
		}
		vc = snap.VectorClock.Clone()
		totalChanges = snap.TotalChanges
	} else {
		doc = s.crdt.NewDoc()
	}

	if err := s.replayPacks(sdRoot, kind, docID, doc, vc); err != nil {
		return nil, err
	}
	if err := s.replayLogs(sdRoot, kind, docID, doc, vc); err != nil {
		return nil, err
	}

	e := &docEntry{
		key:          registryKey(sdID, kind, docID),
		sdID:         sdID,
		sdRoot:       sdRoot,
		kind:         kind,
		docID:        docID,
		profileID:    s.profileID,
		instanceID:   s.instanceID,
		doc:          doc,
		vc:           vc,
		totalChanges: totalChanges,
	}

	s.persistSyncState(e)
	return e, nil
}

// replayPacks applies every packed update whose sequence exceeds the
// current vector clock entry for its owning instance.
func (s *DocumentStore) replayPacks(sdRoot string, kind DocKind, docID ids.ID, doc Doc, vc VectorClock) error {
	dir := path.Join(sdRoot, packsDir(kind, docID))
	entries, err := s.fs.ListDir(dir)
	if err != nil {
		return nil // no packs directory yet is not an error
	}
	type packFile struct {
		parsed parsedPackName
		name   string
	}
	var packs []packFile
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		p, err := parsePackFileName(e.Name)
		if err != nil {
			continue
		}
		packs = append(packs, packFile{parsed: p, name: e.Name})
	}
	sort.Slice(packs, func(i, j int) bool { return packs[i].parsed.StartSeq < packs[j].parsed.StartSeq })

	for _, p := range packs {
		have := vc[p.parsed.InstanceID].Sequence
		if p.parsed.EndSeq <= have {
			continue // fully covered already
		}
		data, err := s.fs.ReadFile(path.Join(dir, p.name))
		if err != nil {
			return engineerr.IoErrorAt(path.Join(dir, p.name), err)
		}
		records, _, _ := ReadAllRecords(data)
		for _, r := range records {
			if r.Sequence <= have {
				continue
			}
			if err := doc.ApplyUpdate(r.Update); err != nil {
				return engineerr.CorruptAt(path.Join(dir, p.name), err.Error())
			}
			have = r.Sequence
		}
		entry := vc[p.parsed.InstanceID]
		entry.InstanceID = p.parsed.InstanceID
		entry.Sequence = have
		vc[p.parsed.InstanceID] = entry
	}
	return nil
}

// replayLogs streams every log file's records in creation order per
// instance, applying anything newer than the vector clock.
func (s *DocumentStore) replayLogs(sdRoot string, kind DocKind, docID ids.ID, doc Doc, vc VectorClock) error {
	dir := path.Join(sdRoot, logsDir(kind, docID))
	parsed, names, err := listLogFiles(s.fs, dir)
	if err != nil {
		return nil
	}
	for i, p := range parsed {
		have := vc[p.InstanceID].Sequence
		data, err := s.fs.ReadFile(path.Join(dir, names[i]))
		if err != nil {
			return engineerr.IoErrorAt(path.Join(dir, names[i]), err)
		}
		records, _, _ := ReadAllRecords(data)
		for _, r := range records {
			if r.Sequence <= have {
				continue
			}
			if err := doc.ApplyUpdate(r.Update); err != nil {
				return engineerr.CorruptAt(path.Join(dir, names[i]), err.Error())
			}
			have = r.Sequence
		}
		lastFile := names[i]
		lastOffset := int64(len(data))
		entry := vc[p.InstanceID]
		entry.InstanceID = p.InstanceID
		entry.Sequence = have
		entry.Filename = lastFile
		entry.Offset = lastOffset
		vc[p.InstanceID] = entry
	}
	return nil
}

// persistSyncState is called either from coldLoad (before e is
// published to the registry, so nothing else can be touching it) or
// from Unload (which already holds e.mu) — never acquire e.mu here.
func (s *DocumentStore) persistSyncState(e *docEntry) {
	if s.syncStore == nil {
		return
	}
	st := DocSyncState{TotalChanges: e.totalChanges, VectorClock: e.vc.Clone()}
	_ = s.syncStore.SaveDocSyncState(e.sdID, e.docID, e.kind, st)
}

// Unload decrements a handle's reference count, tearing down the
// in-memory document and flushing its derived sync state once no
// references remain (spec.md §4.6 "unload").
func (s *DocumentStore) Unload(h *Handle) {
	e := h.entry
	if atomic.AddInt32(&e.refCount, -1) > 0 {
		return
	}
	s.registry.Remove(e.key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logWriter != nil {
		e.logWriter.Close()
	}
	s.persistSyncState(e)
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

// Subscribe registers a channel that receives every future local or
// remote update applied to this handle's document.
func (h *Handle) Subscribe() <-chan UpdateEvent {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	ch := make(chan UpdateEvent, 16)
	h.entry.subs = append(h.entry.subs, ch)
	return ch
}

// GetMetadata reports the handle's current replay state.
func (h *Handle) GetMetadata() Metadata {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return Metadata{
		DocumentID:   h.entry.docID,
		TotalChanges: h.entry.totalChanges,
		VectorClock:  h.entry.vc.Clone(),
		RefCount:     atomic.LoadInt32(&h.entry.refCount),
	}
}

func (e *docEntry) broadcast(ev UpdateEvent) {
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default: // a slow subscriber never blocks the write path
		}
	}
}

func (e *docEntry) ensureLogWriter(s *DocumentStore, nowMillis int64) (*LogWriter, error) {
	if e.logWriter != nil {
		return e.logWriter, nil
	}
	w, err := OpenLogWriter(s.fs, e.sdRoot, e.kind, e.docID, e.profileID, e.instanceID, s.cfg.LogRotationBytes, nowMillis)
	if err != nil {
		return nil, err
	}
	e.logWriter = w
	return w, nil
}

// ApplyLocalUpdate stamps update with a freshly allocated sequence
// number, appends it to this instance's log (fsyncing before
// returning), records the activity-feed line, and broadcasts to
// subscribers (spec.md §4.6 "apply_local_update", §4.6 "Local write
// path"). The activity line is written only after the CRDT record is
// durable, so remote readers never observe an activity entry for an
// invisible record.
func (s *DocumentStore) ApplyLocalUpdate(h *Handle, update []byte, nowMillis int64) error {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()

	key := SequenceKey{SDID: e.sdID, DocumentID: e.docID, InstanceID: e.instanceID}
	seq, err := s.seqMgr.Allocate(e.sdRoot, key, e.kind)
	if err != nil {
		return err
	}

	w, err := e.ensureLogWriter(s, nowMillis)
	if err != nil {
		return err
	}
	rotated, err := w.Append(seq, update, nowMillis)
	if err != nil {
		return err
	}
	if err := s.seqMgr.Advance(key, w.CurrentFile(), w.CurrentOffset()); err != nil {
		return err
	}

	if err := e.doc.ApplyUpdate(update); err != nil {
		return engineerr.CorruptAt(e.docID.String(), err.Error())
	}
	entry := e.vc[e.instanceID]
	entry.InstanceID = e.instanceID
	entry.Sequence = seq
	entry.Filename = w.CurrentFile()
	entry.Offset = w.CurrentOffset()
	e.vc[e.instanceID] = entry
	e.totalChanges++
	e.updatesSinceSnapshot++

	if s.activity != nil {
		if err := s.activity.RecordChange(e.sdRoot, e.profileID, e.instanceID, e.docID, seq, nowMillis); err != nil {
			return err
		}
	}

	if rotated {
		// A log rotation always earns a fresh snapshot: the next
		// Snapshotter.MaybeSnapshot call sees the trigger as reached.
		if e.updatesSinceSnapshot < s.cfg.SnapshotUpdatesTrigger {
			e.updatesSinceSnapshot = s.cfg.SnapshotUpdatesTrigger
		}
	}
	e.broadcast(UpdateEvent{DocumentID: e.docID, Update: update})
	return nil
}

// ApplyRemoteUpdate applies an update produced by another instance
// without re-stamping a sequence number; the vector clock is left
// untouched, so the caller is responsible for tracking origin's
// vector-clock bookkeeping separately.
func (s *DocumentStore) ApplyRemoteUpdate(h *Handle, update []byte, origin ids.ID) error {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.doc.ApplyUpdate(update); err != nil {
		return engineerr.CorruptAt(e.docID.String(), err.Error())
	}
	e.broadcast(UpdateEvent{DocumentID: e.docID, Update: update, Origin: origin})
	return nil
}

// ReloadNote re-derives a handle's state from disk in place (spec.md
// §4.6 "reload_note"). Activity sync does not go through a handle; it
// calls ReloadIfLoaded after detecting a foreign change.
func (s *DocumentStore) ReloadNote(h *Handle) error {
	return s.reloadEntry(h.entry)
}

// ReloadIfLoaded re-derives a document's state from disk only if some
// caller already holds it open; an unopened document already picks up
// every on-disk write the next time it's cold-loaded, so there is
// nothing to do here.
func (s *DocumentStore) ReloadIfLoaded(sdID ids.ID, kind DocKind, docID ids.ID) error {
	if e := s.registry.Get(registryKey(sdID, kind, docID)); e != nil {
		return s.reloadEntry(e)
	}
	return nil
}

// Peek reports a loaded document's current vector clock without
// affecting its reference count, or ok=false if it isn't loaded.
func (s *DocumentStore) Peek(sdID ids.ID, kind DocKind, docID ids.ID) (vc VectorClock, ok bool) {
	e := s.registry.Get(registryKey(sdID, kind, docID))
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vc.Clone(), true
}

func (s *DocumentStore) reloadEntry(e *docEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh, err := s.coldLoad(e.sdID, e.sdRoot, e.kind, e.docID)
	if err != nil {
		return err
	}
	e.doc = fresh.doc
	e.vc = fresh.vc
	e.totalChanges = fresh.totalChanges
	e.broadcast(UpdateEvent{DocumentID: e.docID})
	return nil
}

// CheckLogExists reports whether a record at exactly sequence has
// actually been written to disk by instanceID, distinguishing a truly
// stale peer from one whose activity entry simply hasn't replicated
// to this filesystem view yet (spec.md §4.8's stale-gap check).
func (s *DocumentStore) CheckLogExists(sdRoot string, kind DocKind, docID, instanceID ids.ID, seq uint64) (bool, error) {
	packDir := path.Join(sdRoot, packsDir(kind, docID))
	if entries, err := s.fs.ListDir(packDir); err == nil {
		for _, e := range entries {
			p, err := parsePackFileName(e.Name)
			if err != nil || p.InstanceID != instanceID {
				continue
			}
			if seq >= p.StartSeq && seq <= p.EndSeq {
				return true, nil
			}
		}
	}

	dir := path.Join(sdRoot, logsDir(kind, docID))
	parsed, names, err := listLogFiles(s.fs, dir)
	if err != nil {
		return false, nil
	}
	for i, p := range parsed {
		if p.InstanceID != instanceID {
			continue
		}
		data, err := s.fs.ReadFile(path.Join(dir, names[i]))
		if err != nil {
			continue
		}
		records, _, _ := ReadAllRecords(data)
		for _, r := range records {
			if r.Sequence == seq {
				return true, nil
			}
		}
	}
	return false, nil
}
