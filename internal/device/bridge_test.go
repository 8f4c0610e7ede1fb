package device

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/config"
	"cbmbridge/internal/proto"
	"cbmbridge/internal/provider"
	"cbmbridge/internal/server"
)

// bridge connects a device to a real host serving a temporary directory.
func bridge(t *testing.T) (*Device, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Drives = map[string]string{"0": "fs:" + root}
	cfg.DeviceOptions = nil
	s := server.New(cfg, provider.OptionsFromConfig(cfg, root))

	dev, host := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, host) }()
	t.Cleanup(func() {
		cancel()
		dev.Close()
		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				t.Errorf("Serve: %s", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("Serve did not return")
		}
		s.Close()
	})
	return New(dev, Options{Timeout: 5 * time.Second}), root
}

func readAll(t *testing.T, d *Device, sa byte) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		b, last, err := d.Read(sa)
		if err != nil {
			t.Fatalf("Read(%d): %s", sa, err)
		}
		sb.Write(b)
		if last {
			return sb.String()
		}
	}
	t.Fatalf("Read(%d) never ended", sa)
	return ""
}

func TestBridgeFiles(t *testing.T) {
	d, root := bridge(t)
	d.Status()

	if err := d.Open(2, "HELLO,S,W"); err != nil {
		t.Fatalf("open for write: %s", err)
	}
	body := strings.Repeat("HELLO WORLD ", 50)
	if err := d.Write(2, []byte(body), true); err != nil {
		t.Fatalf("write: %s", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "HELLO.SEQ"))
	if err != nil || string(got) != body {
		t.Fatalf("host file %q, %v", got, err)
	}

	if err := d.Open(3, "HELLO,S,R"); err != nil {
		t.Fatalf("open for read: %s", err)
	}
	if s := readAll(t, d, 3); s != body {
		t.Fatalf("read back %d bytes", len(s))
	}
	if err := d.Close(3); err != nil {
		t.Fatalf("close: %s", err)
	}

	if err := d.Open(4, "MISSING"); cbmerr.CodeOf(err) != cbmerr.FileNotFound {
		t.Fatalf("open missing: %v", err)
	}
	if s := d.Status(); s != cbmerr.StatusLine(cbmerr.FileNotFound, 0, 0) {
		t.Fatalf("status %q", s)
	}

	entries, err := d.ReadDir("")
	if err != nil {
		t.Fatalf("ReadDir: %s", err)
	}
	if len(entries) != 3 || entries[0].Mode != proto.ModeNAM || string(entries[1].Name) != "HELLO" ||
		entries[2].Mode != proto.ModeFRE {
		t.Fatalf("listing %v", ListingLines(entries))
	}

	if err := d.Command("S:HEL*"); err != nil {
		t.Fatalf("scratch: %s", err)
	}
	if s := d.Status(); s != cbmerr.StatusLine(cbmerr.FilesScratched, 1, 0) {
		t.Fatalf("scratch status %q", s)
	}
	if _, err := os.Stat(filepath.Join(root, "HELLO.SEQ")); !os.IsNotExist(err) {
		t.Fatalf("file survived scratch: %v", err)
	}
}

func TestBridgeDirectories(t *testing.T) {
	d, root := bridge(t)
	for _, c := range []string{"MD:SUB", "CD:SUB"} {
		if err := d.Command(c); err != nil {
			t.Fatalf("%s: %s", c, err)
		}
	}
	if err := d.Open(1, "INNER"); err != nil {
		t.Fatalf("save: %s", err)
	}
	if err := d.Write(1, []byte{0x01, 0x08, 0x00}, true); err != nil {
		t.Fatalf("save data: %s", err)
	}
	if _, err := os.Stat(filepath.Join(root, "SUB", "INNER.PRG")); err != nil {
		t.Fatalf("%s", err)
	}
	if err := d.Command("CD:_"); err != nil {
		t.Fatalf("cd up: %s", err)
	}
	if err := d.Command("RD:SUB"); cbmerr.CodeOf(err) != cbmerr.DirNotEmpty {
		t.Fatalf("rmdir non-empty: %v", err)
	}
}

func TestBridgeRelative(t *testing.T) {
	type TestCase struct {
		name string
		open string
	}
	tests := []TestCase{
		{"two length bytes", "DATA,L,\x0a\x00"},
		// OPEN 3,8,3,"DATA,L,"+CHR$(10)
		{"one length byte", "DATA,L,\x0a"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, root := bridge(t)
			if err := d.Open(3, tc.open); err != nil {
				t.Fatalf("open: %s", err)
			}
			pos := fmt.Sprintf("P%c\x02\x00\x01", 96+3)
			if err := d.Command(pos); err != nil {
				t.Fatalf("position: %s", err)
			}
			if err := d.Write(3, []byte("ABC"), false); err != nil {
				t.Fatalf("write: %s", err)
			}
			if err := d.Command(pos); err != nil {
				t.Fatalf("position: %s", err)
			}
			b, _, err := d.Read(3)
			if err != nil || !strings.HasPrefix(string(b), "ABC") {
				t.Fatalf("record 2: %q %v", b, err)
			}
			if err := d.Write(3, []byte("0123456789AB"), false); cbmerr.CodeOf(err) != cbmerr.OverflowInRecord {
				t.Fatalf("overlong record: %v", err)
			}
			if err := d.Close(3); err != nil {
				t.Fatalf("close: %s", err)
			}
			if fi, err := os.Stat(filepath.Join(root, "DATA.REL")); err != nil || fi.Size() < 20 {
				t.Fatalf("relative file: %v %v", fi, err)
			}
		})
	}
}

func TestBridgeMisc(t *testing.T) {
	d, _ := bridge(t)
	if err := d.SetCharset("PETSCII"); err != nil {
		t.Fatalf("charset: %s", err)
	}
	if err := d.Log("device started"); err != nil {
		t.Fatalf("log: %s", err)
	}
	if err := d.Command("T-RI"); err != nil {
		t.Fatalf("time: %s", err)
	}
	if s := d.Status(); len(s) != len("2026-10-16T14:30:00 FRI") || s[4] != '-' || s[10] != 'T' {
		t.Fatalf("time %q", s)
	}
	if err := d.Command("XW+"); err != nil {
		t.Fatalf("option: %s", err)
	}
	if err := d.Command("B-A 0 18 0"); cbmerr.CodeOf(err) != cbmerr.NoPermission {
		t.Fatalf("block on host directory: %v", err)
	}
	if _, _, err := d.Read(9); cbmerr.CodeOf(err) != cbmerr.FileNotOpen {
		t.Fatalf("read unopened: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %s", err)
	}
	if s := d.Status(); !strings.HasPrefix(s, "73,") {
		t.Fatalf("status after reset %q", s)
	}
	if err := d.Command("I"); err != nil {
		t.Fatalf("initialize after reset: %s", err)
	}
}
