package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"gotorrent/internal/config"
)

func TestDefaults(t *testing.T) {
	d := config.Defaults()
	if d.Port != 6881 || d.MaxPeers != 50 || d.PipelineDepth != 5 {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if d.PeerIDPrefix != "-PY0001-" {
		t.Fatalf("peer id prefix = %q, want -PY0001-", d.PeerIDPrefix)
	}
}

func TestLoadFileOverlaysOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opts.yaml")
	if err := os.WriteFile(path, []byte("max_peers: 10\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := config.LoadFile(path, config.Defaults())
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.MaxPeers != 10 {
		t.Fatalf("max_peers = %d, want 10", loaded.MaxPeers)
	}
	if loaded.Port != 6881 {
		t.Fatalf("port should keep default, got %d", loaded.Port)
	}
}

func TestTimeoutHelpers(t *testing.T) {
	o := config.Options{IdleTimeoutS: 120, BlockTimeoutS: 60}
	if o.IdleTimeout().Seconds() != 120 {
		t.Fatalf("IdleTimeout = %v", o.IdleTimeout())
	}
	if o.BlockTimeout().Seconds() != 60 {
		t.Fatalf("BlockTimeout = %v", o.BlockTimeout())
	}
}
