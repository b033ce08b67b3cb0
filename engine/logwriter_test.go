package engine

import (
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

func TestLogWriterAppendAndReadBack(t *testing.T) {
	fs := fsadapter.NewMemory()
	profile, instance, note := ids.New(), ids.New(), ids.New()

	w, err := OpenLogWriter(fs, "sd", DocNote, note, profile, instance, 10*1024*1024, 1000)
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		if _, err := w.Append(i, []byte{byte(i)}, 1000+int64(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := fs.ReadFile("sd/notes/" + note.String() + "/logs/" + w.fileName)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	records, unfinalized, truncatedAt := ReadAllRecords(data)
	if unfinalized {
		t.Fatalf("expected a cleanly-closed (sentinel-terminated) log")
	}
	if truncatedAt != -1 {
		t.Fatalf("expected no truncation, got offset %d", truncatedAt)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Sequence != uint64(i+1) {
			t.Fatalf("record %d: expected sequence %d, got %d", i, i+1, r.Sequence)
		}
	}
}

func TestLogWriterRotatesPastMaxBytes(t *testing.T) {
	fs := fsadapter.NewMemory()
	profile, instance, note := ids.New(), ids.New(), ids.New()

	// A tiny max size forces rotation after a couple of records.
	w, err := OpenLogWriter(fs, "sd", DocNote, note, profile, instance, 40, 1000)
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	for i := uint64(1); i <= 10; i++ {
		if _, err := w.Append(i, []byte("payload"), 1000+int64(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	w.Close()

	dir := "sd/notes/" + note.String() + "/logs"
	entries, err := fs.ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to produce multiple log files, got %d", len(entries))
	}

	// All 10 records must be readable across the rotated files, with
	// no file cut short by a truncated tail.
	var all []Record
	for _, e := range entries {
		data, _ := fs.ReadFile(dir + "/" + e.Name)
		recs, unfinalized, truncatedAt := ReadAllRecords(data)
		all = append(all, recs...)
		_ = unfinalized
		if truncatedAt != -1 {
			t.Fatalf("file %s: unexpected truncation", e.Name)
		}
	}
	if len(all) != 10 {
		t.Fatalf("expected 10 total records across rotated files, got %d", len(all))
	}
}

func TestLogWriterRecoversFromTruncatedTail(t *testing.T) {
	fs := fsadapter.NewMemory()
	profile, instance, note := ids.New(), ids.New(), ids.New()

	w, err := OpenLogWriter(fs, "sd", DocNote, note, profile, instance, 10*1024*1024, 1000)
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	_, _ = w.Append(1, []byte("aaa"), 1001)
	_, _ = w.Append(2, []byte("bbb"), 1002)
	fileName := w.fileName
	logPath := "sd/notes/" + note.String() + "/logs/" + fileName
	// Do not call Close: simulate a crash with no sentinel written.

	// Simulate a crash mid-append: chop off the last few bytes of the
	// file so the trailing record is torn.
	data, _ := fs.ReadFile(logPath)
	torn := data[:len(data)-2]
	fs.WriteFileAtomic(logPath, torn, 0640)

	w2, err := OpenLogWriter(fs, "sd", DocNote, note, profile, instance, 10*1024*1024, 2000)
	if err != nil {
		t.Fatalf("reopen OpenLogWriter: %v", err)
	}
	if w2.fileName != fileName {
		t.Fatalf("expected reopen to resume the same file, got new file %s", w2.fileName)
	}
	if _, err := w2.Append(3, []byte("ccc"), 2001); err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	w2.Close()

	final, _ := fs.ReadFile(logPath)
	records, unfinalized, truncatedAt := ReadAllRecords(final)
	if unfinalized {
		t.Fatalf("expected final file to be cleanly closed")
	}
	if truncatedAt != -1 {
		t.Fatalf("expected no truncation in final read, got %d", truncatedAt)
	}
	if len(records) != 2 {
		t.Fatalf("expected exactly the surviving record 1 plus the new record 3, got %d: %+v", len(records), records)
	}
	if records[0].Sequence != 1 || records[1].Sequence != 3 {
		t.Fatalf("unexpected sequences: %+v", records)
	}
}

func TestLogWriterRotationTimestampMonotonic(t *testing.T) {
	fs := fsadapter.NewMemory()
	profile, instance, note := ids.New(), ids.New(), ids.New()

	w, err := OpenLogWriter(fs, "sd", DocNote, note, profile, instance, 20, 5000)
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	// nowMillis supplied to each Append never advances, but rotation
	// must still produce a strictly increasing creation timestamp.
	for i := uint64(1); i <= 6; i++ {
		if _, err := w.Append(i, []byte("xx"), 5000); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	w.Close()

	dir := "sd/notes/" + note.String() + "/logs"
	entries, _ := fs.ListDir(dir)
	seen := make(map[int64]bool)
	for _, e := range entries {
		parsed, err := parseLogFileName(e.Name)
		if err != nil {
			t.Fatalf("parseLogFileName(%s): %v", e.Name, err)
		}
		if seen[parsed.CreationMillis] {
			t.Fatalf("duplicate creation timestamp %d across rotated files", parsed.CreationMillis)
		}
		seen[parsed.CreationMillis] = true
	}
}
