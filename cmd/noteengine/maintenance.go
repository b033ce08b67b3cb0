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
package main

import (
	"fmt"
	"time"

	"github.com/inkwell/noteengine/diagnostics"
	"github.com/inkwell/noteengine/engine"
)

// startMaintenance runs the C8/C9/C10 background jobs (activity sync,
// deletion sync, pack, GC, orphan-log cleanup) on a fixed interval,
// the same ticker-driven shape engine.SDWatcher uses for its own
// polling loop. It returns a stop function the caller runs at
// shutdown.
func (s *session) startMaintenance() (stop func()) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.runMaintenanceOnce()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func (s *session) runMaintenanceOnce() {
	now := time.Now().UnixMilli()

	if err := s.activity.Poll(s.sdID, s.sdRoot); err != nil {
		fmt.Println("activity sync:", err)
	}
	if err := s.deletion.Poll(s.sdID, s.sdRoot, now); err != nil {
		fmt.Println("deletion sync:", err)
	}

	notes, err := s.db.ListAllNotes(s.sdID)
	if err != nil {
		fmt.Println("maintenance: list notes:", err)
		return
	}
	for _, n := range notes {
		if err := s.packer.PackDocument(s.sdRoot, engine.DocNote, n.ID, now); err != nil {
			fmt.Println("pack", n.ID.String(), err)
		}
		if err := s.gc.Collect(s.sdRoot, engine.DocNote, n.ID, now); err != nil {
			fmt.Println("gc", n.ID.String(), err)
		}
	}

	if removed, err := diagnostics.CleanupOrphanActivityLogs(s.activity, s.fs, s.sdRoot, now); err != nil {
		fmt.Println("orphan log cleanup:", err)
	} else if removed > 0 {
		fmt.Printf("cleaned up %d orphaned activity logs\n", removed)
	}
}
