package backup

import (
	"bytes"
	"testing"

	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

func seedSD(t *testing.T, fs fsadapter.FS, root string) {
	t.Helper()
	files := map[string]string{
		"notes/abc/logs/0001.crdtlog":  "log contents one",
		"notes/abc/snapshots/s1.snap":  "snapshot contents",
		"folders/logs/0001.crdtlog":    "folder log contents",
	}
	for rel, content := range files {
		if err := fs.WriteFileAtomic(root+"/"+rel, []byte(content), 0o600); err != nil {
			t.Fatalf("seed %s: %v", rel, err)
		}
	}
}

func TestCreateBackupThenRestoreOriginalIsByteIdentical(t *testing.T) {
	fs := fsadapter.NewMemory()
	seedSD(t, fs, "sd1")

	sdID := ids.New()
	instID := ids.New()
	var buf bytes.Buffer
	man, err := CreateBackup(fs, "sd1", sdID, "My Notes", instID, 5000, &buf)
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if len(man.Files) != 3 {
		t.Fatalf("expected 3 files in manifest, got %d: %v", len(man.Files), man.Files)
	}

	fs2 := fsadapter.NewMemory()
	result, err := Restore(fs2, bytes.NewReader(buf.Bytes()), "restored", ModeOriginal, ids.Zero)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.SDID != sdID {
		t.Fatalf("expected ModeOriginal to preserve sd id, got %v", result.SDID)
	}

	for _, rel := range man.Files {
		orig, err := fs.ReadFile("sd1/" + rel)
		if err != nil {
			t.Fatalf("read original %s: %v", rel, err)
		}
		restored, err := fs2.ReadFile("restored/" + rel)
		if err != nil {
			t.Fatalf("read restored %s: %v", rel, err)
		}
		if !bytes.Equal(orig, restored) {
			t.Fatalf("content mismatch for %s: %q vs %q", rel, orig, restored)
		}
	}
}

func TestRestoreModeNewUsesSuppliedSDID(t *testing.T) {
	fs := fsadapter.NewMemory()
	seedSD(t, fs, "sd1")

	var buf bytes.Buffer
	if _, err := CreateBackup(fs, "sd1", ids.New(), "My Notes", ids.New(), 1000, &buf); err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	fs2 := fsadapter.NewMemory()
	newID := ids.New()
	result, err := Restore(fs2, bytes.NewReader(buf.Bytes()), "restored", ModeNew, newID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.SDID != newID {
		t.Fatalf("expected ModeNew to use the supplied id, got %v want %v", result.SDID, newID)
	}
}

func TestRestoreRejectsBundleMissingManifest(t *testing.T) {
	fs := fsadapter.NewMemory()
	// An empty bundle: not even a gzip header, so no tar/manifest at all.
	var buf bytes.Buffer
	if _, err := Restore(fs, bytes.NewReader(buf.Bytes()), "restored", ModeOriginal, ids.Zero); err == nil {
		t.Fatalf("expected Restore to reject an empty/invalid bundle")
	}
}

func TestCreateBackupAtomicWritesRestorableFile(t *testing.T) {
	fs := fsadapter.NewMemory()
	seedSD(t, fs, "sd1")

	_, err := CreateBackupAtomic(fs, "sd1", "backups/b1.tar.gz", ids.New(), "My Notes", ids.New(), 1000)
	if err != nil {
		t.Fatalf("CreateBackupAtomic: %v", err)
	}
	data, err := fs.ReadFile("backups/b1.tar.gz")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty backup bundle")
	}

	fs2 := fsadapter.NewMemory()
	if _, err := Restore(fs2, bytes.NewReader(data), "restored", ModeOriginal, ids.Zero); err != nil {
		t.Fatalf("Restore from atomic bundle: %v", err)
	}
}
