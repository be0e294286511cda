package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"gotorrent/internal/logging"
)

func TestBracketedTags(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)

	logging.Infof("hello %d", 1)
	logging.Warnf("careful")
	logging.Errorf("boom")

	out := buf.String()
	if !strings.Contains(out, "[INFO] hello 1") {
		t.Fatalf("missing INFO line: %s", out)
	}
	if !strings.Contains(out, "[FAIL] careful") {
		t.Fatalf("missing FAIL line: %s", out)
	}
	if !strings.Contains(out, "[ERROR] boom") {
		t.Fatalf("missing ERROR line: %s", out)
	}
}

func TestDebugfGatedByFlag(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	logging.SetDebugEnabled(false)
	logging.Debugf("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output with debug disabled, got %q", buf.String())
	}

	logging.SetDebugEnabled(true)
	logging.Debugf("should appear")
	if !strings.Contains(buf.String(), "[DEBUG] should appear") {
		t.Fatalf("missing DEBUG line: %s", buf.String())
	}
	logging.SetDebugEnabled(false)
}
