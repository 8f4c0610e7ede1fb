// Package nameinfo parses the command and filename strings a retro
// computer sends to the drive, and converts the result to and from the
// compact filename packet that travels across the serial link.
package nameinfo

import (
	"bytes"
	"fmt"
	"strings"
)

// Command identifies a DOS command or a special kind of open. Values that
// double as an open or command opcode use the opcode's number, so the host
// can use an opcode as a Command without translation.
type Command byte

const (
	CmdNone       Command = 0
	CmdOverwrite  Command = 4
	CmdDir        Command = 6
	CmdRename     Command = 13
	CmdScratch    Command = 14
	CmdNew        Command = 15
	CmdValidate   Command = 16
	CmdRmdir      Command = 17
	CmdMkdir      Command = 18
	CmdCD         Command = 19
	CmdAssign     Command = 20
	CmdBlock      Command = 23
	CmdTime       Command = 24
	CmdPosition   Command = 25
	CmdCopy       Command = 28
	CmdDuplicate  Command = 29
	CmdInitialize Command = 30

	// Commands that never cross the link.
	CmdSyntax Command = 0x40
	CmdUX     Command = 0x41
	CmdExt    Command = 0x42
)

func (c Command) String() string {
	switch c {
	case CmdNone:
		return "NONE"
	case CmdSyntax:
		return "SYNTAX"
	case CmdOverwrite:
		return "OVERWRITE"
	case CmdDir:
		return "DIR"
	}
	return CommandName(c)
}

// Drive sentinels. Numeric drives are 0..9.
const (
	DriveUnused    byte = 0xFF
	DriveUndefined byte = 0xFE // named provider, see DriveName
	DriveLast      byte = 0xFD // colon without a digit
)

// MaxFiles is the number of source names a command can carry.
const MaxFiles = 4

// Access is the open mode requested with ,R ,W ,A or ,X.
type Access byte

const (
	AccessNone   Access = 0
	AccessRead   Access = 'R'
	AccessWrite  Access = 'W'
	AccessAppend Access = 'A'
	AccessRW     Access = 'X'
)

// Options is a bit set of open options.
type Options byte

const (
	OptNonBlocking Options = 1 << iota
)

// FileType is the file type tag of an open: 0 when unspecified, else one of
// P S U L R.
type FileType byte

const (
	FileTypeNone FileType = 0
	FileTypePRG  FileType = 'P'
	FileTypeSEQ  FileType = 'S'
	FileTypeUSR  FileType = 'U'
	FileTypeREL  FileType = 'L'
	FileTypeRELR FileType = 'R'
)

// IsRel reports whether t is a record oriented type.
func (t FileType) IsRel() bool {
	return t == FileTypeREL || t == FileTypeRELR
}

// OpenPars are the parameters of an open request.
type OpenPars struct {
	FileType  FileType
	RecordLen uint16
}

// DriveAndName is one file reference. Name is nil when the reference has no
// name at all (disk copy shorthand); an empty non-nil Name is an empty
// name. Names may contain zero bytes.
type DriveAndName struct {
	Drive     byte
	DriveName []byte // set only when Drive is DriveUndefined
	Name      []byte
}

// HasName reports whether the reference carries a name.
func (d DriveAndName) HasName() bool {
	return d.Name != nil
}

func (d DriveAndName) String() string {
	var sb strings.Builder
	switch d.Drive {
	case DriveUnused:
	case DriveLast:
		sb.WriteByte(':')
	case DriveUndefined:
		sb.Write(d.DriveName)
		sb.WriteByte(':')
	default:
		fmt.Fprintf(&sb, "%d:", d.Drive)
	}
	if d.Name == nil {
		sb.WriteString("<none>")
	} else {
		fmt.Fprintf(&sb, "%q", d.Name)
	}
	return sb.String()
}

// NameInfo is the parsed form of a filename or command.
type NameInfo struct {
	Cmd        Command
	Access     Access
	Options    Options
	Pars       OpenPars
	Target     DriveAndName
	Sources    [MaxFiles]DriveAndName
	NumSources int
}

// Reset sets ni to the empty state: no command, all drives unused.
func (ni *NameInfo) Reset() {
	*ni = NameInfo{}
	ni.Target.Drive = DriveUnused
	for i := range ni.Sources {
		ni.Sources[i].Drive = DriveUnused
	}
}

// SourceList returns the populated sources.
func (ni *NameInfo) SourceList() []DriveAndName {
	return ni.Sources[:ni.NumSources]
}

func (ni *NameInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cmd=%s target=%s", ni.Cmd, ni.Target)
	if ni.Access != AccessNone {
		fmt.Fprintf(&sb, " access=%c", ni.Access)
	}
	if ni.Pars.FileType != FileTypeNone {
		fmt.Fprintf(&sb, " type=%c", ni.Pars.FileType)
	}
	if ni.Pars.FileType.IsRel() {
		fmt.Fprintf(&sb, " reclen=%d", ni.Pars.RecordLen)
	}
	for i, s := range ni.SourceList() {
		fmt.Fprintf(&sb, " src%d=%s", i, s)
	}
	return sb.String()
}

func (d *DriveAndName) equal(o *DriveAndName) bool {
	if d.Drive != o.Drive || (d.Name == nil) != (o.Name == nil) {
		return false
	}
	return bytes.Equal(d.DriveName, o.DriveName) && bytes.Equal(d.Name, o.Name)
}

// SameWire reports whether ni and o carry the same information across the
// link: everything except Access and Options, which the host recovers from
// the opcode instead.
func (ni *NameInfo) SameWire(o *NameInfo) bool {
	if ni.Cmd != o.Cmd || ni.Pars != o.Pars || ni.NumSources != o.NumSources {
		return false
	}
	if !ni.Target.equal(&o.Target) {
		return false
	}
	for i := 0; i < ni.NumSources; i++ {
		if !ni.Sources[i].equal(&o.Sources[i]) {
			return false
		}
	}
	return true
}

// Equal is SameWire plus Access and Options.
func (ni *NameInfo) Equal(o *NameInfo) bool {
	return ni.Access == o.Access && ni.Options == o.Options && ni.SameWire(o)
}

// cstr returns b up to its first zero byte.
func cstr(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
