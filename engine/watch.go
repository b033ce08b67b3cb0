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
	"strings"
	"sync"
	"time"

	"github.com/inkwell/noteengine/fsadapter"
)

// SDWatcher is C13: one watcher per storage directory. It turns raw,
// possibly bursty fsadapter.Event notifications into a single
// debounced trigger that tells the caller "something in this SD may
// have changed, worth running a reconciliation pass" — Activity Sync,
// Deletion Sync, and a loaded document's staleness check all already
// know how to diff against their own watermarks, so the watcher's only
// job is to wake them sooner than the mandatory poll interval would.
//
// Grounded on the teacher's own wake-channel scheduling shape in
// scm/scheduler.go (a size-1 buffered channel, non-blocking send,
// single consumer loop) adapted from a timer-heap of scheduled
// callbacks to a debounce-then-fallback-poll trigger.
type SDWatcher struct {
	fs           fsadapter.FS
	sdRoot       string
	debounce     time.Duration
	pollInterval time.Duration
	isOwnWrite   func(p string) bool

	events      <-chan fsadapter.Event
	cancelWatch func()

	triggers chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewSDWatcher starts watching sdRoot (recursively, via fsadapter.FS's
// Watch) and begins the mandatory polling fallback immediately,
// regardless of whether native events ever arrive — some
// cloud-synced filesystems never signal appends reliably (spec.md
// §4.13). isOwnWrite, given an event's path, reports whether this
// instance produced it; such events are dropped so a write doesn't
// re-trigger a sync pass over data this instance already knows about.
func NewSDWatcher(fs fsadapter.FS, sdRoot string, debounce, pollInterval time.Duration, isOwnWrite func(p string) bool) (*SDWatcher, error) {
	events, cancel, err := fs.Watch(sdRoot)
	if err != nil {
		return nil, err
	}
	w := &SDWatcher{
		fs:           fs,
		sdRoot:       sdRoot,
		debounce:     debounce,
		pollInterval: pollInterval,
		isOwnWrite:   isOwnWrite,
		events:       events,
		cancelWatch:  cancel,
		triggers:     make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	w.wg.Add(1)
	go w.watchLoop()
	if pollInterval > 0 {
		w.wg.Add(1)
		go w.pollLoop()
	}
	return w, nil
}

// Changed delivers one value whenever a debounced burst of changes (or
// a fallback poll tick) completes. A caller that's still processing a
// prior trigger never backs up the channel: triggers collapse, they
// don't queue, since the only information carried is "go look again."
func (w *SDWatcher) Changed() <-chan struct{} { return w.triggers }

// Close stops both loops and the underlying native watch. Safe to call
// once; a second call would panic on the closed stop channel, which is
// the same contract fsadapter.FS.Watch's own cancel func has.
func (w *SDWatcher) Close() {
	close(w.stop)
	w.cancelWatch()
	w.wg.Wait()
}

func (w *SDWatcher) watchLoop() {
	defer w.wg.Done()
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				return
			}
			if w.isOwnWrite != nil && w.isOwnWrite(ev.Path) {
				continue
			}
			if !relevantPath(ev.Path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			w.fire()
			timer = nil
			timerC = nil
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *SDWatcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.fire()
		case <-w.stop:
			return
		}
	}
}

func (w *SDWatcher) fire() {
	select {
	case w.triggers <- struct{}{}:
	default:
	}
}

// relevantPath filters out noise that WriteFileAtomic's
// write-to-temp-then-rename dance generates (the temp file's own
// create/write events, which are never meaningful on their own — only
// the rename that lands the real name is).
func relevantPath(p string) bool {
	return !strings.HasPrefix(path.Base(p), ".tmp-")
}
