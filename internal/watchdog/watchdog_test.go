package watchdog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sweeney/bonsai-node/internal/logger"
)

func TestDeviceKickAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := Open(path, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d.Kick()
	d.Kick()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	d.Kick() // after close: no-op

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "kkV" {
		t.Errorf("device writes: got %q, want %q", data, "kkV")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing"), logger.Nop()); err == nil {
		t.Error("expected error for missing device")
	}
}

func TestCounter(t *testing.T) {
	var c Counter
	var k Kicker = &c
	k.Kick()
	k.Kick()
	if c.Kicks() != 2 {
		t.Errorf("kicks: got %d", c.Kicks())
	}
	Nop{}.Kick()
}
