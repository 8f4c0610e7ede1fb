package cbmerr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStatusLine(t *testing.T) {
	type TestCase struct {
		code   Code
		track  byte
		sector byte
		want   string
	}

	tests := []TestCase{
		{OK, 0, 0, "00, OK,00,00"},
		{FilesScratched, 3, 0, "01,FILES SCRATCHED,03,00"},
		{FileNotFound, 0, 0, "39,FILE NOT FOUND,00,00"},
		{IllegalTS, 36, 1, "66,ILLEGAL TRACK OR SECTOR,36,01"},
		{SyntaxNoName, 0, 0, "34,SYNTAX ERROR,00,00"},
		{Code(200), 0, 0, "200,FAULT,00,00"},
	}

	for _, test := range tests {
		got := StatusLine(test.code, test.track, test.sector)
		if got != test.want {
			t.Fatalf("StatusLine(%d): got %q, want %q", test.code, got, test.want)
		}
	}
}

func TestSyntaxRefinements(t *testing.T) {
	for c := SyntaxUnknown; c <= SyntaxNoName; c++ {
		if !c.IsSyntax() {
			t.Fatalf("%s should be a syntax code", c)
		}
		if c.Message() != "SYNTAX ERROR" {
			t.Fatalf("%s prints %q", c, c.Message())
		}
	}
	if FileNotFound.IsSyntax() {
		t.Fatalf("FILE_NOT_FOUND is not a syntax code")
	}
}

func TestFailed(t *testing.T) {
	for _, c := range []Code{OK, FilesScratched} {
		if c.Failed() {
			t.Fatalf("%s is not a failure", c)
		}
	}
	for _, c := range []Code{SyntaxUnknown, FileNotFound, DOSVersion} {
		if !c.Failed() {
			t.Fatalf("%s is a failure", c)
		}
	}
}

func TestDOSVersionMessage(t *testing.T) {
	m := DOSVersion.Message()
	if !strings.HasPrefix(m, "CBMBRIDGE V") {
		t.Fatalf("unexpected version message %q", m)
	}
	if m != strings.ToUpper(m) {
		t.Fatalf("version message must be upper case, got %q", m)
	}
}

func TestCodeOf(t *testing.T) {
	dir := t.TempDir()

	_, errMissing := os.Open(filepath.Join(dir, "missing"))

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %s", err)
	}
	errExists := os.Mkdir(file, 0o755)

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("setup: %s", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "x"), nil, 0o644); err != nil {
		t.Fatalf("setup: %s", err)
	}
	errNotEmpty := os.Remove(sub)

	type TestCase struct {
		name string
		err  error
		want Code
	}

	tests := []TestCase{
		{"nil", nil, OK},
		{"cbm error", New(DiskFull), DiskFull},
		{"wrapped cbm error", fmt.Errorf("ctx: %w", WithTS(NoBlock, 18, 1)), NoBlock},
		{"enoent", errMissing, FileNotFound},
		{"eexist", errExists, FileExists},
		{"enotempty", errNotEmpty, DirNotEmpty},
		{"fs sentinel", fs.ErrPermission, NoPermission},
		{"plain error", errors.New("boom"), Fault},
	}

	for _, test := range tests {
		if got := CodeOf(test.err); got != test.want {
			t.Fatalf("%s: got %s, want %s", test.name, got, test.want)
		}
	}
}

func TestTSOf(t *testing.T) {
	tr, se := TSOf(fmt.Errorf("x: %w", WithTS(NoBlock, 17, 4)))
	if tr != 17 || se != 4 {
		t.Fatalf("got %d/%d", tr, se)
	}
	tr, se = TSOf(errors.New("other"))
	if tr != 0 || se != 0 {
		t.Fatalf("got %d/%d for plain error", tr, se)
	}
}

func TestFromFAT(t *testing.T) {
	if FromFAT(FatNoFile) != FileNotFound {
		t.Fatalf("FR_NO_FILE")
	}
	if FromFAT(FatWriteProtected) != WriteProtect {
		t.Fatalf("FR_WRITE_PROTECTED")
	}
	if FromFAT(FatResult(99)) != Fault {
		t.Fatalf("unknown result must be FAULT")
	}
}

func TestErrorString(t *testing.T) {
	e := Wrap(FileExists, errors.New("target.prg"))
	if e.Error() != "63,FILE EXISTS,00,00: target.prg" {
		t.Fatalf("got %q", e.Error())
	}
	if !errors.Is(e, e.Err) {
		t.Fatalf("Unwrap broken")
	}
}
