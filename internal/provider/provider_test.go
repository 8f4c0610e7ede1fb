package provider

import (
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"cbmbridge/internal/cbmerr"
)

func TestSchemes(t *testing.T) {
	got := strings.Join(Schemes(), ",")
	if got != "9p,d64,d71,d81,fs" {
		t.Fatalf("schemes %s", got)
	}
}

func TestNewFromSpec(t *testing.T) {
	dir := t.TempDir()

	p, err := New("fs:"+dir, Options{})
	if err != nil {
		t.Fatalf("%s", err)
	}
	if _, ok := p.(*HostFS); !ok {
		t.Fatalf("fs spec gave %T", p)
	}

	// A bare path is a host directory.
	p, err = New(dir, Options{})
	if err != nil {
		t.Fatalf("%s", err)
	}
	if _, ok := p.(Formatter); !ok {
		t.Fatalf("host directories support NEW")
	}
	if _, ok := p.(BlockDevice); ok {
		t.Fatalf("host directories have no blocks")
	}

	p, err = New("d64:"+filepath.Join(dir, "none.d64"), Options{})
	if err != nil {
		t.Fatalf("%s", err)
	}
	if _, ok := p.(BlockDevice); !ok {
		t.Fatalf("d64 should support BLOCK")
	}
	if _, ok := p.(Refresher); !ok {
		t.Fatalf("d64 should refresh")
	}

	// Relative specs resolve against BaseDir.
	p, err = New("fs:sub", Options{BaseDir: dir})
	if err != nil {
		t.Fatalf("%s", err)
	}
	if got := p.(*HostFS).Root(); got != filepath.Join(dir, "sub") {
		t.Fatalf("root %s", got)
	}

	if _, err := New("", Options{}); err == nil {
		t.Fatalf("empty spec accepted")
	}
}

func TestModeWrites(t *testing.T) {
	type TestCase struct {
		mode   Mode
		writes bool
		name   string
	}
	tests := []TestCase{
		{ModeRead, false, "read"},
		{ModeWrite, true, "write"},
		{ModeOverwrite, true, "overwrite"},
		{ModeAppend, true, "append"},
		{ModeReadWrite, true, "readwrite"},
	}
	for _, test := range tests {
		if test.mode.Writes() != test.writes || test.mode.String() != test.name {
			t.Fatalf("%v: writes=%v name=%s", test.mode, test.mode.Writes(), test.mode.String())
		}
	}
}

func TestDialString(t *testing.T) {
	type TestCase struct {
		in      string
		network string
		addr    string
	}
	tests := []TestCase{
		{"tcp!fileserver!564", "tcp", "fileserver:564"},
		{"tcp!10.0.0.1!9999", "tcp", "10.0.0.1:9999"},
		{"tcp!fileserver", "tcp", "fileserver:564"},
		{"unix!/tmp/ns.glenda/acme", "unix", "/tmp/ns.glenda/acme"},
		{"localhost:5640", "tcp", "localhost:5640"},
		{"localhost", "tcp", "localhost:564"},
	}
	for _, test := range tests {
		n, a := dialString(test.in)
		if n != test.network || a != test.addr {
			t.Fatalf("%s: got %s %s", test.in, n, a)
		}
	}
}

func TestNineError(t *testing.T) {
	type TestCase struct {
		msg  string
		code cbmerr.Code
	}
	tests := []TestCase{
		{"file does not exist", cbmerr.FileNotFound},
		{"'foo' not found", cbmerr.FileNotFound},
		{"file already exists", cbmerr.FileExists},
		{"directory not empty", cbmerr.DirNotEmpty},
		{"permission denied", cbmerr.NoPermission},
		{"read-only file system", cbmerr.WriteProtect},
		{"is a directory", cbmerr.FileTypeMismatch},
		{"file name too long", cbmerr.NameTooLong},
		{"no space left on device", cbmerr.DiskFull},
		{"i/o on hungup channel", cbmerr.Fault},
	}
	for _, test := range tests {
		if code := cbmerr.CodeOf(nineError(errors.New(test.msg))); code != test.code {
			t.Fatalf("%q: got %s, want %s", test.msg, code, test.code)
		}
	}
	if nineError(nil) != nil {
		t.Fatalf("nil error mapped")
	}
}

func TestDial9PRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %s", err)
	}
	addr := l.Addr().String()
	l.Close()

	if _, err := New("9p:"+addr, Options{}); cbmerr.CodeOf(err) != cbmerr.DriveNotReady {
		t.Fatalf("got %v", err)
	}
}
