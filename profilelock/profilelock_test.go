package profilelock

import "testing"

func TestTryAcquireThenSecondCallerBlocked(t *testing.T) {
	dir := t.TempDir()

	l1, held, err := TryAcquire(dir)
	if err != nil || !held {
		t.Fatalf("first TryAcquire: held=%v err=%v", held, err)
	}

	l2, held2, err := TryAcquire(dir)
	if err != nil {
		t.Fatalf("second TryAcquire: %v", err)
	}
	if held2 {
		t.Fatalf("expected second caller to find the lock already held")
	}
	if l2 != nil {
		t.Fatalf("expected nil Lock when not held")
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l3, held3, err := TryAcquire(dir)
	if err != nil || !held3 {
		t.Fatalf("third TryAcquire after release: held=%v err=%v", held3, err)
	}
	defer l3.Release()
}

func TestHeldByOtherReflectsLockState(t *testing.T) {
	dir := t.TempDir()

	held, err := HeldByOther(dir)
	if err != nil {
		t.Fatalf("HeldByOther before any lock: %v", err)
	}
	if held {
		t.Fatalf("expected no lock held yet")
	}

	l, ok, err := TryAcquire(dir)
	if err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}
	defer l.Release()

	held, err = HeldByOther(dir)
	if err != nil {
		t.Fatalf("HeldByOther while held: %v", err)
	}
	if !held {
		t.Fatalf("expected HeldByOther to report true while another caller holds the lock")
	}
}

func TestReleaseOnNilLockIsNoop(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("Release on nil Lock: %v", err)
	}
}
