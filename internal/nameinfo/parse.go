package nameinfo

import "bytes"

// ParseHint tells Parse how to read its input.
type ParseHint uint8

const (
	// HintCommand parses the text as a DOS command (channel 15).
	HintCommand ParseHint = 1 << iota
	// HintLoad marks an open with secondary address 0, where "$" reads the
	// directory.
	HintLoad
)

// openOptions are scanned for in this order; a later match overrides an
// earlier one of the same kind.
const openOptions = "PSULRWAXN"

// Parse parses the dlen bytes of text at the start of buf into ni.
//
// The text is first moved to the end of buf so the packet assembler can
// later write the binary form from the start of buf without overwriting
// text it has yet to copy. All slices stored in ni point into buf, and
// separators are overwritten with zero bytes in place. Parse never fails:
// input it cannot make sense of sets ni.Cmd to CmdSyntax.
func Parse(buf []byte, dlen int, hint ParseHint, ni *NameInfo) {
	if dlen > len(buf) {
		dlen = len(buf)
	}
	if dlen < 0 {
		dlen = 0
	}
	text := buf[len(buf)-dlen:]
	copy(text, buf[:dlen])

	ni.Reset()
	if hint&HintCommand != 0 {
		parseCmd(text, ni)
	} else {
		parseOpen(text, hint&HintLoad != 0, ni)
	}
}

func parseCmd(in []byte, ni *NameInfo) {
	cmd, n := FindCommand(in)
	ni.Cmd = cmd
	if cmd == CmdSyntax {
		return
	}
	for n < len(in) && in[n] == ' ' {
		n++
	}
	rest := in[n:]

	switch cmd {
	case CmdPosition, CmdTime:
		ni.Target.Name = rest
		return
	case CmdDuplicate, CmdCopy:
		if isDiskCopy(rest) {
			ni.Target.Drive = rest[0] & 0x0f
			ni.Sources[0].Drive = rest[2] & 0x0f
			ni.NumSources = 1
			return
		}
	}

	if cmd == CmdAssign || cmd == CmdRename || cmd == CmdCopy {
		if eq := bytes.IndexByte(rest, '='); eq >= 0 {
			rest[eq] = 0
			parseSources(rest[eq+1:], ni)
			rest = rest[:eq]
		}
	}

	parseDrive(rest, &ni.Target)

	for i := 0; i < ni.NumSources; i++ {
		s := &ni.Sources[i]
		if s.Drive == DriveUnused {
			s.Drive = ni.Target.Drive
			s.DriveName = ni.Target.DriveName
		}
	}
}

// isDiskCopy matches the "Dt=s" drive to drive form: digit '=' digit,
// optionally followed by a carriage return.
func isDiskCopy(b []byte) bool {
	if len(b) == 4 && b[3] == '\r' {
		b = b[:3]
	}
	return len(b) == 3 && isDigit(b[0]) && b[1] == '=' && isDigit(b[2])
}

// parseSources splits the text after '=' at commas. The last source keeps
// the text up to its first comma only.
func parseSources(src []byte, ni *NameInfo) {
	for ni.NumSources < MaxFiles {
		frag := src
		k := bytes.IndexByte(src, ',')
		if k >= 0 {
			src[k] = 0
			frag = src[:k]
		}
		parseDrive(frag, &ni.Sources[ni.NumSources])
		ni.NumSources++
		if k < 0 {
			return
		}
		src = src[k+1:]
	}
}

func parseOpen(in []byte, load bool, ni *NameInfo) {
	if load && len(in) > 0 && in[0] == '$' {
		ni.Cmd = CmdDir
		if len(in) == 2 && isDigit(in[1]) {
			// "$0" lists drive 0: the digit is replaced by the "*" pattern
			ni.Target.Drive = in[1] & 0x0f
			in[1] = '*'
			ni.Target.Name = in[1:2]
			return
		}
		in = in[1:]
	} else if len(in) > 0 && in[0] == '@' {
		ni.Cmd = CmdOverwrite
		in = in[1:]
	}

	parseDrive(in, &ni.Target)
	name := ni.Target.Name

	for i := 0; i < len(openOptions); i++ {
		opt := openOptions[i]
		p := findOption(name, opt)
		if p < 0 {
			continue
		}
		switch opt {
		case 'P', 'S', 'U':
			ni.Pars.FileType = FileType(opt)
		case 'L':
			ni.Pars.FileType = FileTypeREL
			// ",L,"+CHR$(n) leaves only the low byte; the terminator
			// stands in for the high byte.
			if p+3 < len(name) {
				ni.Pars.RecordLen = uint16(name[p+3])
				if p+4 < len(name) {
					ni.Pars.RecordLen |= uint16(name[p+4]) << 8
				}
			}
		case 'R', 'W', 'A', 'X':
			ni.Access = Access(opt)
		case 'N':
			ni.Options |= OptNonBlocking
		}
	}

	if ni.Access == AccessNone && ni.Pars.FileType == FileTypeREL {
		ni.Access = AccessRW
	}

	if k := bytes.IndexByte(name, ','); k >= 0 {
		name[k] = 0
		ni.Target.Name = name[:k]
	}
}

// findOption returns the index of the first ",<opt>" in name, or -1. The
// whole name is searched, including any zero bytes.
func findOption(name []byte, opt byte) int {
	for p := 0; p+1 < len(name); p++ {
		if name[p] == ',' && upper(name[p+1]) == opt {
			return p
		}
	}
	return -1
}

// parseDrive splits "[drive]:name" into d. A colon only counts as drive
// separator when it comes before any comma. The prefix is a drive number
// 0..9, empty (last drive) or a provider name.
func parseDrive(in []byte, d *DriveAndName) {
	colon := bytes.IndexByte(in, ':')
	comma := bytes.IndexByte(in, ',')

	if colon >= 0 && (comma < 0 || colon < comma) {
		prefix := in[:colon]
		in[colon] = 0
		d.Name = in[colon+1:]
		switch {
		case len(prefix) == 0:
			d.Drive = DriveLast
		default:
			if n, ok := driveNumber(prefix); ok {
				d.Drive = n
			} else {
				d.Drive = DriveUndefined
				d.DriveName = prefix
			}
		}
	} else {
		d.Drive = DriveUnused
		d.Name = in
	}

	if n := len(d.Name); n > 0 && d.Name[n-1] == '\r' {
		d.Name[n-1] = 0
		d.Name = d.Name[:n-1]
	}
}

func driveNumber(b []byte) (byte, bool) {
	v := 0
	for _, c := range b {
		if !isDigit(c) {
			return 0, false
		}
		v = v*10 + int(c-'0')
		if v > 9 {
			return 0, false
		}
	}
	return byte(v), true
}
