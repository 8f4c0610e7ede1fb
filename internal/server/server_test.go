package server

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/config"
	"cbmbridge/internal/diskimage"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
	"cbmbridge/internal/provider"
)

type testHost struct {
	t    *testing.T
	s    *Server
	out  bytes.Buffer
	root string
}

// newTestHost serves drive 0 from a temporary directory. extra adds more
// drive specs, resolved relative to that directory.
func newTestHost(t *testing.T, extra map[string]string) *testHost {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Drives = map[string]string{"0": "fs:" + root}
	for k, v := range extra {
		cfg.Drives[k] = v
	}
	h := &testHost{t: t, root: root}
	h.s = New(cfg, provider.OptionsFromConfig(cfg, root))
	h.s.w = proto.NewWriter(&h.out)
	h.s.now = func() time.Time { return time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { h.s.Close() })
	return h
}

// do runs one request and returns every frame the server sent.
func (h *testHost) do(f proto.Frame) []proto.Frame {
	h.t.Helper()
	if err := h.s.handle(f); err != nil {
		h.t.Fatalf("handle %s: %s", f, err)
	}
	r := proto.NewReader(bytes.NewReader(h.out.Bytes()))
	var out []proto.Frame
	for {
		g, err := r.ReadFrame()
		if err != nil {
			break
		}
		g.Payload = append([]byte(nil), g.Payload...)
		out = append(out, g)
	}
	h.out.Reset()
	return out
}

func (h *testHost) one(f proto.Frame) proto.Frame {
	h.t.Helper()
	got := h.do(f)
	if len(got) != 1 {
		h.t.Fatalf("%s: got %d frames, want 1", f, len(got))
	}
	return got[0]
}

func (h *testHost) open(ch, sa byte, text string) cbmerr.Code {
	h.t.Helper()
	buf := make([]byte, 256)
	copy(buf, text)
	var ni nameinfo.NameInfo
	hint := nameinfo.ParseHint(0)
	if sa == 0 {
		hint = nameinfo.HintLoad
	}
	nameinfo.Parse(buf, len(text), hint, &ni)
	op := proto.OpenOpcode(ni.Cmd, ni.Access, sa)
	return h.one(proto.Frame{Op: op, Channel: ch, Payload: nameinfo.AppendPacket(nil, &ni)}).Code()
}

func (h *testHost) command(text string) proto.Frame {
	h.t.Helper()
	buf := make([]byte, 256)
	copy(buf, text)
	var ni nameinfo.NameInfo
	nameinfo.Parse(buf, len(text), nameinfo.HintCommand, &ni)
	op, ok := proto.CommandOpcode(ni.Cmd)
	if !ok {
		h.t.Fatalf("%q is not a host command", text)
	}
	return h.one(proto.Frame{Op: op, Channel: proto.ChanCommand, Payload: nameinfo.AppendPacket(nil, &ni)})
}

func (h *testHost) write(ch byte, data string, eof bool) cbmerr.Code {
	h.t.Helper()
	op := proto.OpWrite
	if eof {
		op = proto.OpWriteEOF
	}
	return h.one(proto.Frame{Op: op, Channel: ch, Payload: []byte(data)}).Code()
}

// readAll reads until DATA_EOF and returns the chunks.
func (h *testHost) readAll(ch byte) [][]byte {
	h.t.Helper()
	var chunks [][]byte
	for i := 0; i < 100; i++ {
		f := h.one(proto.Frame{Op: proto.OpRead, Channel: ch})
		switch f.Op {
		case proto.OpData:
			chunks = append(chunks, f.Payload)
		case proto.OpDataEOF:
			return append(chunks, f.Payload)
		default:
			h.t.Fatalf("read ch %d: %s code %d", ch, f, f.Code())
		}
	}
	h.t.Fatalf("read ch %d: no end of file", ch)
	return nil
}

func (h *testHost) file(name string) string {
	h.t.Helper()
	b, err := os.ReadFile(filepath.Join(h.root, name))
	if err != nil {
		h.t.Fatalf("%s", err)
	}
	return string(b)
}

func (h *testHost) put(name, data string) {
	h.t.Helper()
	p := filepath.Join(h.root, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		h.t.Fatalf("%s", err)
	}
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		h.t.Fatalf("%s", err)
	}
}

func TestWriteThenRead(t *testing.T) {
	h := newTestHost(t, nil)

	if c := h.open(2, 2, "TEST,S,W"); c != cbmerr.OK {
		t.Fatalf("open for write: %d", c)
	}
	if c := h.write(2, "HELLO ", false); c != cbmerr.OK {
		t.Fatalf("write: %d", c)
	}
	if c := h.write(2, "WORLD", true); c != cbmerr.OK {
		t.Fatalf("write eof: %d", c)
	}
	if _, ok := h.s.channels[2]; ok {
		t.Fatalf("channel still open after WRITE_EOF")
	}
	if got := h.file("TEST.SEQ"); got != "HELLO WORLD" {
		t.Fatalf("file holds %q", got)
	}

	if c := h.open(2, 2, "TEST,S,R"); c != cbmerr.OK {
		t.Fatalf("open for read: %d", c)
	}
	chunks := h.readAll(2)
	if len(chunks) != 1 || string(chunks[0]) != "HELLO WORLD" {
		t.Fatalf("read %q", chunks)
	}

	// once drained every READ is an empty DATA_EOF
	f := h.one(proto.Frame{Op: proto.OpRead, Channel: 2})
	if f.Op != proto.OpDataEOF || len(f.Payload) != 0 {
		t.Fatalf("read after end: %s", f)
	}
	if c := h.one(proto.Frame{Op: proto.OpClose, Channel: 2}).Code(); c != cbmerr.OK {
		t.Fatalf("close: %d", c)
	}
	if c := h.one(proto.Frame{Op: proto.OpClose, Channel: 2}).Code(); c != cbmerr.OK {
		t.Fatalf("second close: %d", c)
	}
}

func TestReadChunks(t *testing.T) {
	type TestCase struct {
		size   int
		chunks []int
	}
	tests := []TestCase{
		{0, []int{0}},
		{1, []int{1}},
		{252, []int{252}},
		{253, []int{252, 1}},
		{504, []int{252, 252}},
		{600, []int{252, 252, 96}},
	}
	for _, tc := range tests {
		h := newTestHost(t, nil)
		h.put("BIG.PRG", string(bytes.Repeat([]byte{'x'}, tc.size)))
		if c := h.open(3, 0, "BIG"); c != cbmerr.OK {
			t.Fatalf("size %d: open %d", tc.size, c)
		}
		chunks := h.readAll(3)
		if len(chunks) != len(tc.chunks) {
			t.Fatalf("size %d: %d chunks, want %d", tc.size, len(chunks), len(tc.chunks))
		}
		for i, c := range chunks {
			if len(c) != tc.chunks[i] {
				t.Fatalf("size %d: chunk %d has %d bytes, want %d", tc.size, i, len(c), tc.chunks[i])
			}
		}
	}
}

func TestChannelErrors(t *testing.T) {
	h := newTestHost(t, nil)
	h.put("GAME.PRG", "data")

	type TestCase struct {
		name string
		run  func() cbmerr.Code
		want cbmerr.Code
	}
	tests := []TestCase{
		{"read unopened", func() cbmerr.Code {
			return h.one(proto.Frame{Op: proto.OpRead, Channel: 9}).Code()
		}, cbmerr.FileNotOpen},
		{"write unopened", func() cbmerr.Code { return h.write(9, "x", false) }, cbmerr.FileNotOpen},
		{"missing file", func() cbmerr.Code { return h.open(2, 0, "NOPE") }, cbmerr.FileNotFound},
		{"create existing", func() cbmerr.Code { return h.open(2, 1, "GAME") }, cbmerr.FileExists},
		{"reserved channel", func() cbmerr.Code { return h.open(proto.ChanCmd, 2, "GAME") }, cbmerr.NoChannel},
		{"wildcard load", func() cbmerr.Code { return h.open(4, 0, "G*") }, cbmerr.OK},
		{"write to read channel", func() cbmerr.Code { return h.write(4, "x", false) }, cbmerr.NoPermission},
		{"wrong type", func() cbmerr.Code { return h.open(5, 2, "GAME,S,R") }, cbmerr.FileTypeMismatch},
		{"open directory for write", func() cbmerr.Code {
			h.open(6, 0, "$")
			return h.write(6, "x", false)
		}, cbmerr.NoPermission},
		{"close unopened", func() cbmerr.Code {
			return h.one(proto.Frame{Op: proto.OpClose, Channel: 40}).Code()
		}, cbmerr.OK},
	}
	for _, tc := range tests {
		if got := tc.run(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}

	if f := h.one(proto.Frame{Op: proto.OpReply, Channel: 2}); f.Code() != cbmerr.Fault {
		t.Fatalf("REPLY from device: %s", f)
	}
}

func TestReopenClosesOld(t *testing.T) {
	h := newTestHost(t, nil)
	if c := h.open(2, 1, "ONE"); c != cbmerr.OK {
		t.Fatalf("open: %d", c)
	}
	h.write(2, "first", false)
	if c := h.open(2, 1, "TWO"); c != cbmerr.OK {
		t.Fatalf("reopen: %d", c)
	}
	h.write(2, "second", true)
	if h.file("ONE.PRG") != "first" || h.file("TWO.PRG") != "second" {
		t.Fatalf("files: %q %q", h.file("ONE.PRG"), h.file("TWO.PRG"))
	}
}

func dirEntries(t *testing.T, chunks [][]byte) []proto.DirEntry {
	t.Helper()
	var out []proto.DirEntry
	for _, c := range chunks {
		e, err := proto.DecodeDirEntry(c)
		if err != nil {
			t.Fatalf("%s", err)
		}
		out = append(out, e)
	}
	return out
}

func TestDirectory(t *testing.T) {
	h := newTestHost(t, nil)
	h.put("GAME.PRG", "12345")
	h.put("NOTES.SEQ", "abc")
	h.put("SUB/INNER.PRG", "x")

	type TestCase struct {
		open  string
		names []string
	}
	tests := []TestCase{
		{"$", []string{"GAME", "NOTES", "SUB"}},
		{"$:*=S", []string{"NOTES"}},
		{"$:G*", []string{"GAME"}},
		{"$:SUB/*", []string{"INNER"}},
		{"$:Q*", nil},
	}
	for _, tc := range tests {
		if c := h.open(0, 0, tc.open); c != cbmerr.OK {
			t.Fatalf("%s: open %d", tc.open, c)
		}
		list := dirEntries(t, h.readAll(0))
		if len(list) != len(tc.names)+2 {
			t.Fatalf("%s: %d records, want %d", tc.open, len(list), len(tc.names)+2)
		}
		if list[0].Mode != proto.ModeNAM {
			t.Fatalf("%s: header mode %s", tc.open, list[0].Mode)
		}
		if last := list[len(list)-1]; last.Mode != proto.ModeFRE {
			t.Fatalf("%s: trailer mode %s", tc.open, last.Mode)
		}
		for i, n := range tc.names {
			if string(list[i+1].Name) != n {
				t.Fatalf("%s: entry %d is %q, want %q", tc.open, i, list[i+1].Name, n)
			}
		}
	}

	h.open(0, 0, "$")
	list := dirEntries(t, h.readAll(0))
	if list[1].Size != 5 || list[1].FileType() != nameinfo.TypePRG || list[1].Mode != proto.ModeFIL {
		t.Fatalf("GAME record: %+v", list[1])
	}
	if list[3].Mode != proto.ModeDIR {
		t.Fatalf("SUB record: %+v", list[3])
	}
}

func TestScratch(t *testing.T) {
	h := newTestHost(t, nil)
	h.put("A.PRG", "1")
	h.put("AB.PRG", "2")
	h.put("AC.SEQ", "3")
	h.put("B.SEQ", "4")

	type TestCase struct {
		cmd   string
		count byte
	}
	tests := []TestCase{
		{"S:A*", 3},
		{"S:B,C", 1},
		{"S:NOTHING", 0},
	}
	for _, tc := range tests {
		f := h.command(tc.cmd)
		if f.Code() != cbmerr.FilesScratched || len(f.Payload) != 3 || f.Payload[1] != tc.count {
			t.Fatalf("%s: reply % x", tc.cmd, f.Payload)
		}
	}
	left, _ := os.ReadDir(h.root)
	if len(left) != 0 {
		t.Fatalf("%d files left", len(left))
	}
}

func TestRenameCopyDuplicate(t *testing.T) {
	h := newTestHost(t, map[string]string{"1": "fs:other"})
	if err := os.Mkdir(filepath.Join(h.root, "other"), 0o755); err != nil {
		t.Fatalf("%s", err)
	}
	h.put("GAME.PRG", "12")
	h.put("TEXT.SEQ", "34")

	type TestCase struct {
		cmd  string
		want cbmerr.Code
	}
	tests := []TestCase{
		{"R:NEW=GAME", cbmerr.OK},
		{"R:X=GAME", cbmerr.FileNotFound},
		{"R:TEXT=NEW", cbmerr.FileExists},
		{"C:BOTH=NEW,TEXT", cbmerr.OK},
		{"C:BOTH=NEW", cbmerr.FileExists},
		{"C:X=NOPE", cbmerr.FileNotFound},
		{"D1=0", cbmerr.OK},
		{"D0=0", cbmerr.SyntaxInval},
		{"R1:MOVED=0:TEXT", cbmerr.OK},
	}
	for _, tc := range tests {
		if got := h.command(tc.cmd).Code(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.cmd, got, tc.want)
		}
	}

	if got := h.file("BOTH.PRG"); got != "1234" {
		t.Fatalf("BOTH holds %q", got)
	}
	for _, name := range []string{"other/NEW.PRG", "other/BOTH.PRG", "other/MOVED.SEQ"} {
		h.file(name)
	}
	if _, err := os.Stat(filepath.Join(h.root, "TEXT.SEQ")); !os.IsNotExist(err) {
		t.Fatalf("TEXT.SEQ still there after move")
	}
}

func TestDirectories(t *testing.T) {
	h := newTestHost(t, nil)
	type TestCase struct {
		cmd  string
		want cbmerr.Code
	}
	steps := []TestCase{
		{"MD:SUB", cbmerr.OK},
		{"MD:SUB", cbmerr.FileExists},
		{"CD:SUB", cbmerr.OK},
	}
	for _, tc := range steps {
		if got := h.command(tc.cmd).Code(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.cmd, got, tc.want)
		}
	}
	h.open(2, 1, "INNER")
	h.write(2, "x", true)
	h.file("SUB/INNER.PRG")

	steps = []TestCase{
		{"CD:_", cbmerr.OK},
		{"CD:_", cbmerr.NoPermission},
		{"RD:SUB", cbmerr.DirNotEmpty},
		{"S:SUB/INNER", cbmerr.FilesScratched},
		{"RD:SUB", cbmerr.OK},
		{"CD:SUB", cbmerr.FileNotFound},
	}
	for _, tc := range steps {
		if got := h.command(tc.cmd).Code(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.cmd, got, tc.want)
		}
	}
}

func position(ch byte, rec uint16, pos byte) proto.Frame {
	return proto.Frame{Op: proto.OpPosition, Channel: proto.ChanCommand, Payload: []byte{ch, byte(rec), byte(rec >> 8), pos, 0}}
}

func TestRelativeFile(t *testing.T) {
	h := newTestHost(t, nil)
	if c := h.open(2, 2, "DATA,L,\x0a\x00"); c != cbmerr.OK {
		t.Fatalf("open: %d", c)
	}
	if c := h.one(position(2, 3, 1)).Code(); c != cbmerr.OK {
		t.Fatalf("position: %d", c)
	}
	want := []byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if got := h.file("DATA.REL"); len(got) != 30 || got[:10] != string(want) {
		t.Fatalf("file after position: % x", got)
	}

	if c := h.write(2, "ABC", false); c != cbmerr.OK {
		t.Fatalf("write: %d", c)
	}
	h.one(position(2, 3, 1))
	chunks := h.readAll(2)
	if len(chunks) != 1 || string(chunks[0]) != "ABC\x00\x00\x00\x00\x00\x00\x00" {
		t.Fatalf("record 3: %q", chunks)
	}

	h.one(position(2, 1, 5))
	if c := h.write(2, "0123456789", false); c != cbmerr.OverflowInRecord {
		t.Fatalf("overflow write: %d", c)
	}
	if got := h.file("DATA.REL"); got[4:10] != "012345" || got[10] != 0xFF {
		t.Fatalf("file after overflow: % x", got)
	}

	if c := h.one(position(2, 1, 11)).Code(); c != cbmerr.OverflowInRecord {
		t.Fatalf("byte beyond record: %d", c)
	}
	if c := h.one(position(7, 1, 1)).Code(); c != cbmerr.FileNotOpen {
		t.Fatalf("position closed channel: %d", c)
	}
	h.put("PLAIN.SEQ", "abc")
	h.open(3, 3, "PLAIN,S,R")
	if c := h.one(position(3, 1, 1)).Code(); c != cbmerr.FileTypeMismatch {
		t.Fatalf("position sequential: %d", c)
	}
}

func TestBlock(t *testing.T) {
	h := newTestHost(t, map[string]string{"1": "d64:disk.d64"})
	if err := diskimage.WriteD64(filepath.Join(h.root, "disk.d64"), "BLOCKS", "01"); err != nil {
		t.Fatalf("%s", err)
	}
	if c := h.open(5, 5, "#"); c != cbmerr.OK {
		t.Fatalf("open buffer: %d", c)
	}

	block := func(sub, drive, tr, sec, ch byte) proto.Frame {
		return h.one(proto.Frame{Op: proto.OpBlock, Channel: proto.ChanCommand, Payload: []byte{sub, drive, tr, sec, ch}})
	}
	f := block('R', 1, 18, 0, 5)
	if f.Code() != cbmerr.OK || !bytes.Equal(f.Payload, []byte{0, 18, 0}) {
		t.Fatalf("B-R: % x", f.Payload)
	}
	chunks := h.readAll(5)
	if len(chunks) != 2 || len(chunks[0])+len(chunks[1]) != 256 {
		t.Fatalf("buffer read %d chunks", len(chunks))
	}
	if chunks[0][0] != 18 || chunks[0][1] != 1 {
		t.Fatalf("BAM link %d,%d", chunks[0][0], chunks[0][1])
	}

	type TestCase struct {
		name string
		f    proto.Frame
		want cbmerr.Code
	}
	tests := []TestCase{
		{"illegal sector", block('R', 1, 18, 30, 5), cbmerr.IllegalTS},
		{"write", block('W', 1, 1, 0, 5), cbmerr.OK},
		{"allocate", block('A', 1, 1, 0, 5), cbmerr.OK},
		{"allocate used", block('A', 1, 1, 0, 5), cbmerr.NoBlock},
		{"free", block('F', 1, 1, 0, 5), cbmerr.OK},
		{"host directory", block('R', 0, 18, 0, 5), cbmerr.NoPermission},
		{"no buffer", block('R', 1, 18, 0, 6), cbmerr.FileNotOpen},
		{"unknown", block('Z', 1, 18, 0, 5), cbmerr.SyntaxUnknown},
	}
	for _, tc := range tests {
		if got := tc.f.Code(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestAssign(t *testing.T) {
	h := newTestHost(t, nil)
	if err := os.Mkdir(filepath.Join(h.root, "sub"), 0o755); err != nil {
		t.Fatalf("%s", err)
	}

	type TestCase struct {
		cmd   string
		want  cbmerr.Code
		drive string
		spec  string
	}
	tests := []TestCase{
		{"A1:=FS:sub", cbmerr.OK, "1", "fs:sub"},
		{"A2:=1:", cbmerr.OK, "2", "fs:sub"},
		{"A GAMES:=FS:sub", cbmerr.OK, "GAMES", "fs:sub"},
		{"A3:=BOGUS:x", cbmerr.SyntaxInval, "3", ""},
		{"A1:", cbmerr.OK, "1", ""},
	}
	for _, tc := range tests {
		if got := h.command(tc.cmd).Code(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.cmd, got, tc.want)
		}
		if got := h.s.Drives()[tc.drive]; got != tc.spec {
			t.Fatalf("%s: drive %s is %q, want %q", tc.cmd, tc.drive, got, tc.spec)
		}
	}

	// drive 2 still reaches the directory after drive 1 was unassigned
	if c := h.open(2, 1, "2:NEW"); c != cbmerr.OK {
		t.Fatalf("open on drive 2: %d", c)
	}
	h.write(2, "x", true)
	h.file("sub/NEW.PRG")

	// a named provider lists with its own header mode
	h.open(0, 0, "$GAMES:")
	list := dirEntries(t, h.readAll(0))
	if list[0].Mode != proto.ModeNAS || list[len(list)-1].Mode != proto.ModeFRS {
		t.Fatalf("named listing modes %s %s", list[0].Mode, list[len(list)-1].Mode)
	}
}

func TestMiscRequests(t *testing.T) {
	h := newTestHost(t, nil)

	f := h.one(proto.Frame{Op: proto.OpGetDatim, Channel: proto.ChanCommand})
	if !bytes.Equal(f.Payload, []byte{0, 126, 10, 16, 14, 30, 0}) {
		t.Fatalf("GETDATIM: % x", f.Payload)
	}

	if c := h.one(proto.Frame{Op: proto.OpSetOpt, Channel: proto.ChanSetOpt, Payload: []byte("XW+")}).Code(); c != cbmerr.OK || !h.s.advanced {
		t.Fatalf("XW+: %d advanced=%v", c, h.s.advanced)
	}
	if c := h.one(proto.Frame{Op: proto.OpSetOpt, Channel: proto.ChanSetOpt, Payload: []byte("FOO")}).Code(); c != cbmerr.SyntaxUnknown {
		t.Fatalf("bad option: %d", c)
	}
	if c := h.one(proto.Frame{Op: proto.OpCharset, Channel: proto.ChanCmd, Payload: []byte("ASCII\x00")}).Code(); c != cbmerr.OK || h.s.charset != "ASCII" {
		t.Fatalf("charset: %d %q", c, h.s.charset)
	}
	if got := h.do(proto.Frame{Op: proto.OpTerm, Channel: proto.ChanTerm, Payload: []byte("hello\r")}); len(got) != 0 {
		t.Fatalf("TERM answered with %d frames", len(got))
	}

	type TestCase struct {
		cmd  string
		want cbmerr.Code
	}
	tests := []TestCase{
		{"V", cbmerr.OK},
		{"I", cbmerr.OK},
		{"N:FRESH,01", cbmerr.OK},
		{"V5:", cbmerr.DriveNotReady},
	}
	for _, tc := range tests {
		if got := h.command(tc.cmd).Code(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.cmd, got, tc.want)
		}
	}

	h.open(2, 1, "OPEN")
	got := h.do(proto.Frame{Op: proto.OpReset, Channel: proto.ChanCommand})
	if len(got) != 1 || got[0].Op != proto.OpReset {
		t.Fatalf("RESET answered %v", got)
	}
	if len(h.s.channels) != 0 || h.s.advanced {
		t.Fatalf("state survived RESET")
	}

	st := h.s.Stats()
	if st.Requests == 0 || st.ByOp["GETDATIM"] != 1 || st.Errors == 0 {
		t.Fatalf("stats %+v", st)
	}
	errs := h.s.FilteredLogs(LogFilter{OnlyErrors: true})
	if len(errs) == 0 {
		t.Fatalf("no failed requests logged")
	}
	for _, e := range errs {
		if e.Code <= 1 {
			t.Fatalf("filtered entry %s", e)
		}
	}
}

func TestServe(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Drives = map[string]string{"0": "fs:" + root}
	cfg.DeviceOptions = []string{"XW+"}
	s := New(cfg, provider.OptionsFromConfig(cfg, root))
	s.now = func() time.Time { return time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC) }

	dev, host := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), host) }()

	r := proto.NewReader(dev)
	w := proto.NewWriter(dev)
	f, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("%s", err)
	}
	if f.Op != proto.OpSetOpt || string(f.Payload) != "XW+" {
		t.Fatalf("first frame %s %q", f, f.Payload)
	}

	if err := w.WriteFrame(proto.Frame{Op: proto.OpGetDatim, Channel: proto.ChanCommand}); err != nil {
		t.Fatalf("%s", err)
	}
	f, err = r.ReadFrame()
	if err != nil {
		t.Fatalf("%s", err)
	}
	if f.Op != proto.OpReply || f.Code() != cbmerr.OK || len(f.Payload) != 7 {
		t.Fatalf("reply %s", f)
	}

	dev.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return")
	}
}

func TestServeCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Drives = map[string]string{"0": "fs:" + t.TempDir()}
	s := New(cfg, provider.OptionsFromConfig(cfg, ""))

	dev, host := net.Pipe()
	defer dev.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, host) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return")
	}
}
