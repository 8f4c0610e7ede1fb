package nameinfo

import (
	"bytes"
	"errors"
	"strconv"

	"cbmbridge/internal/cbmerr"
)

// ErrPacketOverflow is returned by AssembleInPlace when the packet would
// overwrite parser text that has not been copied yet.
var ErrPacketOverflow = errors.New("nameinfo: packet overlaps unread name text")

func isDiskCopyInfo(ni *NameInfo) bool {
	return (ni.Cmd == CmdDuplicate || ni.Cmd == CmdCopy) && ni.Target.Name == nil
}

// AppendPacket appends the filename packet for ni to dst.
//
// Layout: target drive byte, "provider:" for named drives, target name,
// zero; option string, zero; then each source like the target. The
// drive to drive copy form is the six bytes d '*' 0 s '*' 0.
func AppendPacket(dst []byte, ni *NameInfo) []byte {
	if isDiskCopyInfo(ni) {
		return append(dst, ni.Target.Drive, '*', 0, ni.Sources[0].Drive, '*', 0)
	}
	dst = appendName(dst, &ni.Target)
	dst = appendOptions(dst, ni.Pars)
	dst = append(dst, 0)
	for i := 0; i < ni.NumSources; i++ {
		dst = appendName(dst, &ni.Sources[i])
	}
	return dst
}

func appendName(dst []byte, d *DriveAndName) []byte {
	dst = append(dst, d.Drive)
	if d.Drive == DriveUndefined {
		dst = append(dst, d.DriveName...)
		dst = append(dst, ':')
	}
	dst = append(dst, d.Name...)
	return append(dst, 0)
}

// appendOptions writes the option string without its terminator.
func appendOptions(dst []byte, p OpenPars) []byte {
	if p.FileType == FileTypeNone {
		return dst
	}
	dst = append(dst, 'T', '=', byte(p.FileType))
	if p.FileType.IsRel() && p.RecordLen > 0 {
		dst = strconv.AppendUint(dst, uint64(p.RecordLen), 10)
	}
	return dst
}

// AssembleInPlace writes the packet for ni into the start of buf, the same
// buffer Parse was given, and returns its length. Name slices that point
// into buf are copied before the bytes they occupy are reused; a write that
// would destroy uncopied text fails with ErrPacketOverflow and leaves the
// packet incomplete.
func AssembleInPlace(buf []byte, ni *NameInfo) (int, error) {
	w := inplace{buf: buf}

	// Every piece that still has to be read, in the order it is consumed.
	var pending [2 + 2*MaxFiles][]byte
	np := 0
	if isDiskCopyInfo(ni) {
		w.put(ni.Target.Drive, '*', 0, ni.Sources[0].Drive, '*', 0)
		return w.pos, w.err
	}
	pending[np], pending[np+1] = ni.Target.DriveName, ni.Target.Name
	np += 2
	for i := 0; i < ni.NumSources; i++ {
		pending[np], pending[np+1] = ni.Sources[i].DriveName, ni.Sources[i].Name
		np += 2
	}
	w.pending = pending[:np]

	w.name(&ni.Target)
	var opts [16]byte
	w.put(appendOptions(opts[:0], ni.Pars)...)
	w.put(0)
	for i := 0; i < ni.NumSources; i++ {
		w.name(&ni.Sources[i])
	}
	if w.err != nil {
		return 0, w.err
	}
	return w.pos, nil
}

type inplace struct {
	buf     []byte
	pos     int
	pending [][]byte
	err     error
}

// limit is the lowest offset in buf still holding unread text.
func (w *inplace) limit() int {
	lim := len(w.buf)
	for _, s := range w.pending {
		if off, ok := offsetIn(w.buf, s); ok && off < lim {
			lim = off
		}
	}
	return lim
}

func (w *inplace) put(b ...byte) {
	if w.err != nil {
		return
	}
	if w.pos+len(b) > w.limit() {
		w.err = ErrPacketOverflow
		return
	}
	w.pos += copy(w.buf[w.pos:], b)
}

// take copies the next pending piece. copy handles the overlap with the
// piece's own bytes, so only the remaining pieces constrain the write.
func (w *inplace) take() {
	if w.err != nil {
		return
	}
	s := w.pending[0]
	w.pending = w.pending[1:]
	if w.pos+len(s) > w.limit() {
		w.err = ErrPacketOverflow
		return
	}
	w.pos += copy(w.buf[w.pos:], s)
}

func (w *inplace) name(d *DriveAndName) {
	w.put(d.Drive)
	if d.Drive == DriveUndefined {
		w.take()
		w.put(':')
	} else {
		w.pending = w.pending[1:]
	}
	w.take()
	w.put(0)
}

// offsetIn returns the offset of s inside buf when s shares buf's backing
// array and was sliced from it with the default capacity.
func offsetIn(buf, s []byte) (int, bool) {
	if cap(s) == 0 || len(s) == 0 || cap(s) > cap(buf) {
		return 0, false
	}
	off := cap(buf) - cap(s)
	full := buf[:cap(buf)]
	if &full[off] != &s[:1][0] {
		return 0, false
	}
	return off, true
}

// ParsePacket decodes a filename packet into ni. cmd is the command the
// opcode stands for. Malformed packets fail with a FAULT error.
func ParsePacket(cmd Command, payload []byte, ni *NameInfo) error {
	ni.Reset()
	ni.Cmd = cmd

	if len(payload) < 2 {
		return cbmerr.Errorf(cbmerr.Fault, "filename packet too short (%d bytes)", len(payload))
	}

	if (cmd == CmdDuplicate || cmd == CmdCopy) && len(payload) == 6 &&
		payload[1] == '*' && payload[2] == 0 && payload[4] == '*' && payload[5] == 0 {
		ni.Target.Drive = payload[0]
		ni.Sources[0].Drive = payload[3]
		ni.NumSources = 1
		return nil
	}

	rest, err := readName(payload, &ni.Target)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return nil
	}

	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return cbmerr.Errorf(cbmerr.Fault, "unterminated option string")
	}
	parseOptions(rest[:end], &ni.Pars)
	rest = rest[end+1:]

	for len(rest) > 0 {
		if ni.NumSources == MaxFiles {
			return cbmerr.Errorf(cbmerr.Fault, "%d trailing bytes after %d sources", len(rest), MaxFiles)
		}
		rest, err = readName(rest, &ni.Sources[ni.NumSources])
		if err != nil {
			return err
		}
		ni.NumSources++
	}
	return nil
}

func readName(p []byte, d *DriveAndName) ([]byte, error) {
	if len(p) < 2 {
		return nil, cbmerr.Errorf(cbmerr.Fault, "truncated name entry")
	}
	d.Drive = p[0]
	end := bytes.IndexByte(p[1:], 0)
	if end < 0 {
		return nil, cbmerr.Errorf(cbmerr.Fault, "unterminated name")
	}
	name := p[1 : 1+end]
	d.DriveName = nil
	if d.Drive == DriveUndefined {
		if c := bytes.IndexByte(name, ':'); c >= 0 {
			d.DriveName = name[:c]
			name = name[c+1:]
		}
	}
	d.Name = name
	return p[2+end:], nil
}

// parseOptions reads the comma separated KEY=VALUE list. Only T is known:
// T=<type> and, for relative files, T=L<record length>.
func parseOptions(opts []byte, p *OpenPars) {
	for len(opts) > 0 {
		item := opts
		if k := bytes.IndexByte(opts, ','); k >= 0 {
			item, opts = opts[:k], opts[k+1:]
		} else {
			opts = nil
		}
		if len(item) < 3 || item[1] != '=' {
			continue
		}
		switch item[0] {
		case 'T':
			p.FileType = FileType(item[2])
			if p.FileType.IsRel() && len(item) > 3 {
				if n, err := strconv.ParseUint(string(item[3:]), 10, 16); err == nil {
					p.RecordLen = uint16(n)
				}
			}
		}
	}
}
