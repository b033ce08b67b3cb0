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
/*
	noteengine - local-first CRDT note storage and sync engine

	A REPL over one profile's notes: create, edit, search, pin,
	delete, back up, restore and diagnose a Storage Directory from the
	terminal. One profile is exactly one directory on disk; this is
	not a multi-user server.
*/
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"

	"github.com/inkwell/noteengine/backup"
	"github.com/inkwell/noteengine/cachedb"
	"github.com/inkwell/noteengine/engine"
	"github.com/inkwell/noteengine/ids"
)

const (
	newprompt    = "\033[32m>\033[0m "
	resultprompt = "\033[31m=\033[0m "
)

func main() {
	root := flag.String("profile", "./noteengine-profile", "profile root directory")
	flag.Parse()

	fmt.Print(`noteengine Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	sess, err := openSession(*root)
	if err != nil {
		fmt.Println("failed to open profile:", err)
		return
	}
	stopMaintenance := sess.startMaintenance()
	onexit.Register(func() { stopMaintenance(); sess.close() })
	defer sess.close()
	defer stopMaintenance()

	repl(sess)
}

func repl(sess *session) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".noteengine-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Println("type 'help' for a list of commands")

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("error:", r)
				}
			}()
			var b bytes.Buffer
			dispatch(sess, line, &b)
			fmt.Print(resultprompt)
			fmt.Println(b.String())
		}()
	}
}

func dispatch(sess *session, line string, out io.Writer) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Fprint(out, `commands:
  new <title> <text...>       create a note
  edit <note-id> <text...>    replace a note's body
  show <note-id>              print a note's title and body
  list                        list notes in this storage directory
  search <query>              full-text search
  pin <note-id>                toggle a note's pinned flag
  rm <note-id>                  soft-delete a note
  doctor                       run a diagnostics pass and print the report
  backup <dest-file>           write a backup bundle
  restore <bundle-file> [new]  restore a bundle (original SD id, or a fresh one with "new")
  lock-status                   report the profile lock this process holds`)
	case "new":
		requireArgs(args, 2, "new <title> <text...>")
		cmdNew(sess, args[0], strings.Join(args[1:], " "), out)
	case "edit":
		requireArgs(args, 2, "edit <note-id> <text...>")
		cmdEdit(sess, args[0], strings.Join(args[1:], " "), out)
	case "show":
		requireArgs(args, 1, "show <note-id>")
		cmdShow(sess, args[0], out)
	case "list":
		cmdList(sess, out)
	case "search":
		requireArgs(args, 1, "search <query>")
		cmdSearch(sess, strings.Join(args, " "), out)
	case "pin":
		requireArgs(args, 1, "pin <note-id>")
		cmdPin(sess, args[0], out)
	case "rm":
		requireArgs(args, 1, "rm <note-id>")
		cmdRemove(sess, args[0], out)
	case "doctor":
		cmdDoctor(sess, out)
	case "backup":
		requireArgs(args, 1, "backup <dest-file>")
		cmdBackup(sess, args[0], out)
	case "restore":
		requireArgs(args, 1, "restore <bundle-file> [new]")
		mode := backup.ModeOriginal
		if len(args) > 1 && args[1] == "new" {
			mode = backup.ModeNew
		}
		cmdRestore(sess, args[0], mode, out)
	case "lock-status":
		fmt.Fprintf(out, "profile %s is locked by this process", sess.root)
	default:
		panic("unknown command: " + cmd + " (try 'help')")
	}
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		panic("usage: " + usage)
	}
}

func cmdNew(sess *session, title, text string, out io.Writer) {
	now := time.Now().UnixMilli()
	noteID := ids.New()
	h, err := sess.docs.Load(sess.sdID, sess.sdRoot, engine.DocNote, noteID)
	must(err)
	defer sess.docs.Unload(h)

	must(sess.docs.ApplyLocalUpdate(h, encodeUpdate(text, now), now))
	if _, err := sess.snap.MaybeSnapshot(sess.docs, h, now); err != nil {
		must(err)
	}

	must(sess.db.UpsertNote(cachedb.Note{
		ID: noteID, SDID: sess.sdID, Title: title, CreatedAt: now, ModifiedAt: now,
	}, text))

	fmt.Fprintf(out, "created %s", noteID.String())
}

func cmdEdit(sess *session, noteIDStr, text string, out io.Writer) {
	noteID, err := ids.Parse(noteIDStr)
	must(err)
	now := time.Now().UnixMilli()

	h, err := sess.docs.Load(sess.sdID, sess.sdRoot, engine.DocNote, noteID)
	must(err)
	defer sess.docs.Unload(h)

	must(sess.docs.ApplyLocalUpdate(h, encodeUpdate(text, now), now))
	if _, err := sess.snap.MaybeSnapshot(sess.docs, h, now); err != nil {
		must(err)
	}

	notes, err := sess.db.ListAllNotes(sess.sdID)
	must(err)
	for _, n := range notes {
		if n.ID == noteID {
			n.ModifiedAt = now
			must(sess.db.UpsertNote(n, text))
			break
		}
	}

	fmt.Fprintf(out, "updated %s", noteID.String())
}

func cmdShow(sess *session, noteIDStr string, out io.Writer) {
	noteID, err := ids.Parse(noteIDStr)
	must(err)

	notes, err := sess.db.ListAllNotes(sess.sdID)
	must(err)
	var found *cachedb.Note
	for i := range notes {
		if notes[i].ID == noteID {
			found = &notes[i]
			break
		}
	}
	if found == nil {
		panic("no such note: " + noteIDStr)
	}
	body, err := sess.db.GetNoteBody(noteID)
	must(err)
	fmt.Fprintf(out, "%s\n%s", found.Title, body)
}

func cmdList(sess *session, out io.Writer) {
	notes, err := sess.db.ListAllNotes(sess.sdID)
	must(err)
	for _, n := range notes {
		pin := ""
		if n.Pinned {
			pin = " *"
		}
		fmt.Fprintf(out, "%s  %s%s\n", n.ID.String(), n.Title, pin)
	}
}

func cmdSearch(sess *session, query string, out io.Writer) {
	matches, err := sess.db.SearchNotes(sess.sdID, query)
	must(err)
	for _, id := range matches {
		fmt.Fprintln(out, id.String())
	}
}

func cmdPin(sess *session, noteIDStr string, out io.Writer) {
	noteID, err := ids.Parse(noteIDStr)
	must(err)
	notes, err := sess.db.ListAllNotes(sess.sdID)
	must(err)
	for _, n := range notes {
		if n.ID == noteID {
			must(sess.db.SetPinned(noteID, !n.Pinned))
			fmt.Fprintf(out, "pinned=%v", !n.Pinned)
			return
		}
	}
	panic("no such note: " + noteIDStr)
}

func cmdRemove(sess *session, noteIDStr string, out io.Writer) {
	noteID, err := ids.Parse(noteIDStr)
	must(err)
	now := time.Now().UnixMilli()

	h, err := sess.docs.Load(sess.sdID, sess.sdRoot, engine.DocNote, noteID)
	must(err)
	vc, _ := sess.docs.Peek(sess.sdID, engine.DocNote, noteID)
	sess.docs.Unload(h)

	seq := vc[sess.instanceID].Sequence
	must(sess.delLogger.RecordDeletion(sess.sdRoot, sess.profileID, sess.instanceID, noteID, seq, now))
	must(sess.db.SoftDeleteNote(noteID, now))

	fmt.Fprintf(out, "deleted %s", noteID.String())
}

func cmdDoctor(sess *session, out io.Writer) {
	roots := map[ids.ID]string{sess.sdID: sess.sdRoot}
	report, err := sess.diag.Run(roots, time.Now().UnixMilli())
	must(err)
	fmt.Fprintf(out, "orphans: folders=%d notes=%d tags=%d unused_tags=%d\n",
		report.Orphans.OrphanedFolders, report.Orphans.OrphanedNotes, report.Orphans.OrphanedTags, report.Orphans.UnusedTags)
	fmt.Fprintf(out, "missing logs: %d\n", len(report.MissingLogs))
	fmt.Fprintf(out, "stale notes: %d\n", len(report.StaleNotes))
	fmt.Fprintf(out, "stuck moves: %d\n", len(report.StuckMoves))
	fmt.Fprintf(out, "duplicate notes: %d\n", len(report.DuplicateNotes))
	if report.MigrationLockStale {
		fmt.Fprintf(out, "migration lock stale (%ds old) - clearing\n", report.MigrationLockAgeSec)
		must(sess.diag.ClearStaleMigrationLock())
	}
}

func cmdBackup(sess *session, destPath string, out io.Writer) {
	m, err := sess.createBackup(destPath)
	must(err)
	fmt.Fprintf(out, "wrote %s (%d bytes, %d files)", destPath, m.TotalBytes, len(m.Files))
}

func cmdRestore(sess *session, bundlePath string, mode backup.Mode, out io.Writer) {
	res, err := sess.restoreBackup(bundlePath, mode)
	must(err)
	fmt.Fprintf(out, "restored sd %s from %s", res.SDID.String(), bundlePath)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
