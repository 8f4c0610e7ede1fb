package nameinfo

import (
	"bytes"
	"errors"
	"testing"

	"cbmbridge/internal/cbmerr"
)

func TestAppendPacketLayout(t *testing.T) {
	type TestCase struct {
		input string
		hint  ParseHint
		want  []byte
	}

	tests := []TestCase{
		{"0:FOO", 0, []byte("\x00FOO\x00\x00")},
		{"@0:HELLO,P,W", HintLoad, []byte("\x00HELLO\x00T=P\x00")},
		{"FOO,L,\x00\x01", 0, []byte("\xffFOO\x00T=L256\x00")},
		{"ftp:A", 0, []byte("\xfeftp:A\x00\x00")},
		{":A", 0, []byte("\xfdA\x00\x00")},
		{"R0:NEW=OLD", HintCommand, []byte("\x00NEW\x00\x00\x00OLD\x00")},
		{"C1:T=0:A,B", HintCommand, []byte("\x01T\x00\x00\x00A\x00\x01B\x00")},
	}

	for _, test := range tests {
		ni, _ := parseString(test.input, test.hint, 8)
		got := AppendPacket(nil, ni)
		if !bytes.Equal(got, test.want) {
			t.Fatalf("%q: got %q, want %q", test.input, got, test.want)
		}
	}
}

func TestAssembleInPlace(t *testing.T) {
	inputs := []struct {
		s    string
		hint ParseHint
	}{
		{"@0:HELLO,P,W", HintLoad},
		{"R0:NEW=OLD", HintCommand},
		{"COPY0:MERGED=0:A,0:B,1:C", HintCommand},
		{"D0=1", HintCommand},
		{"FOO,L,\x00\x01", HintLoad},
		{"ftp:DIR/FILE,S,R", 0},
	}

	for _, in := range inputs {
		ni, _ := parseString(in.s, in.hint, 16)
		want := AppendPacket(nil, ni)

		buf := make([]byte, len(in.s)+16)
		copy(buf, in.s)
		ni2 := &NameInfo{}
		Parse(buf, len(in.s), in.hint, ni2)
		n, err := AssembleInPlace(buf, ni2)
		if err != nil {
			t.Fatalf("%q: %s", in.s, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("%q: in place %q, want %q", in.s, buf[:n], want)
		}
	}
}

func TestAssembleInPlaceOverflow(t *testing.T) {
	// "FOO" needs five packet bytes plus two option bytes but brings three
	buf := []byte("FOO")
	ni := &NameInfo{}
	Parse(buf, 3, 0, ni)
	if _, err := AssembleInPlace(buf, ni); !errors.Is(err, ErrPacketOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestAssembleInPlaceNoHeadroom(t *testing.T) {
	s := "0:HELLO,P,W"
	buf := []byte(s)
	ni := &NameInfo{}
	Parse(buf, len(s), 0, ni)
	n, err := AssembleInPlace(buf, ni)
	if err != nil {
		t.Fatalf("%s", err)
	}
	if !bytes.Equal(buf[:n], []byte("\x00HELLO\x00T=P\x00")) {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestParsePacketErrors(t *testing.T) {
	type TestCase struct {
		name    string
		payload []byte
	}

	tests := []TestCase{
		{"empty", nil},
		{"one byte", []byte{0}},
		{"no terminator", []byte("\x00FOO")},
		{"unterminated options", []byte("\x00FOO\x00T=P")},
		{"dangling source", []byte("\x00FOO\x00\x00\x01")},
		{"five sources", []byte("\x00T\x00\x00\x00A\x00\x00B\x00\x00C\x00\x00D\x00\x00E\x00")},
	}

	for _, test := range tests {
		ni := &NameInfo{}
		err := ParsePacket(CmdCopy, test.payload, ni)
		if err == nil {
			t.Fatalf("%s: expected an error", test.name)
		}
		if cbmerr.CodeOf(err) != cbmerr.Fault {
			t.Fatalf("%s: got %s", test.name, cbmerr.CodeOf(err))
		}
	}
}

func TestParsePacketTargetOnly(t *testing.T) {
	ni := &NameInfo{}
	if err := ParsePacket(CmdNone, []byte("\x03X\x00"), ni); err != nil {
		t.Fatalf("%s", err)
	}
	if ni.Target.Drive != 3 || string(ni.Target.Name) != "X" {
		t.Fatalf("got %s", ni)
	}
}

func TestParsePacketUnknownOptions(t *testing.T) {
	ni := &NameInfo{}
	if err := ParsePacket(CmdNone, []byte("\x00X\x00Z=9,T=S,junk\x00"), ni); err != nil {
		t.Fatalf("%s", err)
	}
	if ni.Pars.FileType != FileTypeSEQ {
		t.Fatalf("got %s", ni)
	}
}

func TestRecordLengthRoundTrip(t *testing.T) {
	buf := make([]byte, 0, 32)
	for n := 1; n <= 0xFFFF; n++ {
		ni := &NameInfo{}
		ni.Reset()
		ni.Target = DriveAndName{Drive: 0, Name: []byte("REL")}
		ni.Pars = OpenPars{FileType: FileTypeREL, RecordLen: uint16(n)}
		ni.Access = AccessRW

		buf = AppendPacket(buf[:0], ni)
		back := &NameInfo{}
		if err := ParsePacket(CmdNone, buf, back); err != nil {
			t.Fatalf("reclen %d: %s", n, err)
		}
		if back.Pars.RecordLen != uint16(n) || !back.SameWire(ni) {
			t.Fatalf("reclen %d: got %s", n, back)
		}
	}
}

func TestSentinelRoundTrip(t *testing.T) {
	for _, drive := range []byte{DriveUnused, DriveUndefined, DriveLast, 0, 9} {
		ni := &NameInfo{}
		ni.Reset()
		ni.Cmd = CmdRename
		ni.Target = DriveAndName{Drive: drive, Name: []byte("NEW")}
		if drive == DriveUndefined {
			ni.Target.DriveName = []byte("net")
		}
		ni.Sources[0] = ni.Target
		ni.Sources[0].Name = []byte("OLD")
		ni.NumSources = 1

		back := &NameInfo{}
		if err := ParsePacket(CmdRename, AppendPacket(nil, ni), back); err != nil {
			t.Fatalf("drive %#x: %s", drive, err)
		}
		if !back.SameWire(ni) {
			t.Fatalf("drive %#x: got %s, want %s", drive, back, ni)
		}
	}
}
