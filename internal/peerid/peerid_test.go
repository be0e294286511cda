package peerid_test

import (
	"testing"

	"gotorrent/internal/peerid"
)

func TestGenerateKeepsPrefixAndLength(t *testing.T) {
	id := peerid.Generate("-PY0001-")
	if len(id) != 20 {
		t.Fatalf("len(id) = %d, want 20", len(id))
	}
	if string(id[:8]) != "-PY0001-" {
		t.Fatalf("prefix = %q, want -PY0001-", id[:8])
	}
}

func TestGenerateSuffixesDiffer(t *testing.T) {
	a := peerid.Generate("-PY0001-")
	b := peerid.Generate("-PY0001-")
	if a == b {
		t.Fatalf("expected two generated peer-ids to differ in their random suffix")
	}
}
