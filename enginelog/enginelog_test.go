package enginelog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)
	l.Debugf("should not appear")
	l.Infof("also should not appear")
	l.Warnf("this one should appear")
	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("expected debug/info to be filtered: %q", out)
	}
	if !strings.Contains(out, "this one should appear") {
		t.Fatalf("expected warn line present: %q", out)
	}
}

func TestWithMergesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug).With(Fields{"component": "gc"})
	l.Infof("tick")
	if !strings.Contains(buf.String(), "component=gc") {
		t.Fatalf("expected fields in output: %q", buf.String())
	}
}
