package proto

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
)

// The opcodes that carry commands double as nameinfo command values.
func TestCommandValuesMatchOpcodes(t *testing.T) {
	pairs := map[nameinfo.Command]Opcode{
		nameinfo.CmdOverwrite:  OpOpenOW,
		nameinfo.CmdDir:        OpOpenDR,
		nameinfo.CmdRename:     OpMove,
		nameinfo.CmdScratch:    OpDelete,
		nameinfo.CmdNew:        OpFormat,
		nameinfo.CmdValidate:   OpChkdsk,
		nameinfo.CmdRmdir:      OpRmdir,
		nameinfo.CmdMkdir:      OpMkdir,
		nameinfo.CmdCD:         OpChdir,
		nameinfo.CmdAssign:     OpAssign,
		nameinfo.CmdBlock:      OpBlock,
		nameinfo.CmdTime:       OpGetDatim,
		nameinfo.CmdPosition:   OpPosition,
		nameinfo.CmdCopy:       OpCopy,
		nameinfo.CmdDuplicate:  OpDuplicate,
		nameinfo.CmdInitialize: OpInitialize,
	}
	for cmd, op := range pairs {
		if byte(cmd) != byte(op) {
			t.Fatalf("%s = %d but %s = %d", cmd, cmd, op, op)
		}
	}
	for _, cmd := range []nameinfo.Command{nameinfo.CmdUX, nameinfo.CmdExt, nameinfo.CmdSyntax} {
		if _, ok := CommandOpcode(cmd); ok {
			t.Fatalf("%s must stay on the device", cmd)
		}
	}
}

func TestOpenOpcode(t *testing.T) {
	type TestCase struct {
		cmd    nameinfo.Command
		access nameinfo.Access
		sa     byte
		want   Opcode
	}

	tests := []TestCase{
		{nameinfo.CmdDir, nameinfo.AccessNone, 0, OpOpenDR},
		{nameinfo.CmdOverwrite, nameinfo.AccessWrite, 1, OpOpenOW},
		{nameinfo.CmdNone, nameinfo.AccessRead, 2, OpOpenRD},
		{nameinfo.CmdNone, nameinfo.AccessWrite, 2, OpOpenWR},
		{nameinfo.CmdNone, nameinfo.AccessAppend, 2, OpOpenAP},
		{nameinfo.CmdNone, nameinfo.AccessRW, 2, OpOpenRW},
		{nameinfo.CmdNone, nameinfo.AccessNone, 0, OpOpenRD},
		{nameinfo.CmdNone, nameinfo.AccessNone, 1, OpOpenWR},
		{nameinfo.CmdNone, nameinfo.AccessNone, 5, OpOpenRD},
	}

	for _, test := range tests {
		got := OpenOpcode(test.cmd, test.access, test.sa)
		if got != test.want {
			t.Fatalf("%s/%c/%d: got %s, want %s", test.cmd, test.access, test.sa, got, test.want)
		}
		cmd, _, ok := OpenKind(got)
		if !ok || cmd != test.cmd {
			t.Fatalf("OpenKind(%s) = %s", got, cmd)
		}
	}
	if _, _, ok := OpenKind(OpRead); ok {
		t.Fatalf("READ is not an open")
	}
}

func TestHasNamePacket(t *testing.T) {
	for _, op := range []Opcode{OpOpenRD, OpOpenDR, OpMove, OpAssign, OpCopy, OpInitialize} {
		if !op.HasNamePacket() {
			t.Fatalf("%s carries a name packet", op)
		}
	}
	for _, op := range []Opcode{OpRead, OpSetOpt, OpBlock, OpPosition, OpCharset, OpTerm} {
		if op.HasNamePacket() {
			t.Fatalf("%s does not carry a name packet", op)
		}
	}
}

func TestChannelStates(t *testing.T) {
	type step struct {
		req   Opcode
		reply Opcode
		code  cbmerr.Code
		want  ChannelState
	}

	// open, read two chunks, keep reading after EOF, close
	read := []step{
		{OpOpenRD, OpReply, cbmerr.OK, StateOpen},
		{OpRead, OpData, cbmerr.OK, StateOpen},
		{OpRead, OpDataEOF, cbmerr.OK, StateDraining},
		{OpRead, OpDataEOF, cbmerr.OK, StateDraining},
		{OpClose, OpReply, cbmerr.OK, StateClosed},
		{OpClose, OpReply, cbmerr.OK, StateClosed},
	}
	write := []step{
		{OpOpenWR, OpReply, cbmerr.OK, StateOpen},
		{OpWrite, OpReply, cbmerr.OK, StateOpen},
		{OpWriteEOF, OpReply, cbmerr.OK, StateClosed},
	}
	failed := []step{
		{OpOpenRD, OpReply, cbmerr.FileNotFound, StateClosed},
	}

	for _, steps := range [][]step{read, write, failed} {
		s := StateClosed
		for _, st := range steps {
			next, err := s.Request(st.req)
			if err != nil {
				t.Fatalf("%s in %s: %s", st.req, s, err)
			}
			s = next.Reply(st.req, st.reply, st.code)
			if s != st.want {
				t.Fatalf("%s -> %s: got %s, want %s", st.req, st.reply, s, st.want)
			}
		}
	}
}

func TestChannelStateErrors(t *testing.T) {
	if _, err := StateClosed.Request(OpRead); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("READ on closed channel: %v", err)
	}
	if _, err := StateClosed.Request(OpWrite); cbmerr.CodeOf(err) != cbmerr.FileNotOpen {
		t.Fatalf("WRITE on closed channel: %v", err)
	}
	_, err := StateOpening.Request(OpRead)
	if !errors.Is(err, ErrProtocol) || cbmerr.CodeOf(err) != cbmerr.Fault {
		t.Fatalf("READ while opening: %v", err)
	}
	if s, err := StateOpen.Request(OpOpenRD); err != nil || s != StateOpening {
		t.Fatalf("reopen: %s %v", s, err)
	}
	if s, _ := StateDraining.Request(OpReset); s != StateClosed {
		t.Fatalf("reset: %s", s)
	}
}

func TestDirEntry(t *testing.T) {
	when := time.Date(2026, 10, 16, 14, 30, 5, 0, time.UTC)
	e := DirEntry{
		Size: 1234,
		Attr: AttrLocked | 2,
		Date: DateTimeFromTime(when),
		Mode: ModeFIL,
		Name: []byte("GAME"),
	}
	b := e.AppendTo(nil)
	want := []byte{0xD2, 0x04, 0, 0, 0x42, 126, 10, 16, 14, 30, 5, 0, 'G', 'A', 'M', 'E', 0}
	if !bytes.Equal(b, want) {
		t.Fatalf("got % x", b)
	}

	back, err := DecodeDirEntry(b)
	if err != nil {
		t.Fatalf("%s", err)
	}
	if back.Size != 1234 || back.FileType() != 2 || back.Mode != ModeFIL || string(back.Name) != "GAME" {
		t.Fatalf("got %+v", back)
	}
	if !back.Date.Time(time.UTC).Equal(when) {
		t.Fatalf("date %v", back.Date.Time(time.UTC))
	}

	if _, err := DecodeDirEntry(b[:12]); err == nil {
		t.Fatalf("short record accepted")
	}
	if _, err := DecodeDirEntry(b[:len(b)-1]); err == nil {
		t.Fatalf("unterminated name accepted")
	}
}

func TestDirEntryLongName(t *testing.T) {
	e := DirEntry{Name: bytes.Repeat([]byte("X"), 400)}
	if n := len(e.AppendTo(nil)); n != MaxPayload {
		t.Fatalf("record is %d bytes", n)
	}
}

func TestDecoder(t *testing.T) {
	d := NewDecoder([]byte{1, 0x34, 0x12, 'h', 'i', 0, 9, 9})
	v, _ := d.ReadU8()
	w, _ := d.ReadU16()
	s, err := d.ReadCString()
	if v != 1 || w != 0x1234 || string(s) != "hi" || err != nil {
		t.Fatalf("got %d %x %q %v", v, w, s, err)
	}
	if rest := d.Rest(); !bytes.Equal(rest, []byte{9, 9}) {
		t.Fatalf("rest % x", rest)
	}
	if _, err := d.ReadU8(); err == nil {
		t.Fatalf("read past end")
	}

	e := NewEncoder(8)
	e.WriteU32(0x01020304)
	if err := e.WriteCString("a\x00b"); err == nil {
		t.Fatalf("zero byte accepted")
	}
	if !bytes.Equal(e.Bytes(), []byte{4, 3, 2, 1}) {
		t.Fatalf("got % x", e.Bytes())
	}
}
