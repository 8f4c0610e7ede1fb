package proto

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Directory record attribute bits. The low three bits hold the file type
// index (DEL SEQ PRG USR REL).
const (
	AttrSplat    byte = 0x80
	AttrLocked   byte = 0x40
	AttrTrans    byte = 0x20
	AttrEstimate byte = 0x10
	AttrTypeMask byte = 0x07
)

// DirMode says what a directory record describes.
type DirMode byte

const (
	ModeFIL DirMode = 0 // file
	ModeNAM DirMode = 1 // disk name header
	ModeFRE DirMode = 2 // free space trailer
	ModeDIR DirMode = 3 // subdirectory
	ModeNAS DirMode = 4 // header of a named provider
	ModeFRS DirMode = 5 // free space, named provider
)

func (m DirMode) String() string {
	switch m {
	case ModeFIL:
		return "FIL"
	case ModeNAM:
		return "NAM"
	case ModeFRE:
		return "FRE"
	case ModeDIR:
		return "DIR"
	case ModeNAS:
		return "NAS"
	case ModeFRS:
		return "FRS"
	}
	return fmt.Sprintf("MODE_%d", byte(m))
}

// DateTime is the 6 byte date record: year-1900, month, day, hour,
// minute, second.
type DateTime struct {
	Year   byte
	Month  byte
	Day    byte
	Hour   byte
	Minute byte
	Second byte
}

const DateTimeSize = 6

func DateTimeFromTime(t time.Time) DateTime {
	y := t.Year() - 1900
	if y < 0 {
		y = 0
	}
	if y > 255 {
		y = 255
	}
	return DateTime{
		Year:   byte(y),
		Month:  byte(t.Month()),
		Day:    byte(t.Day()),
		Hour:   byte(t.Hour()),
		Minute: byte(t.Minute()),
		Second: byte(t.Second()),
	}
}

// Time converts d to a time in loc.
func (d DateTime) Time(loc *time.Location) time.Time {
	return time.Date(int(d.Year)+1900, time.Month(d.Month), int(d.Day),
		int(d.Hour), int(d.Minute), int(d.Second), 0, loc)
}

func (d DateTime) AppendTo(b []byte) []byte {
	return append(b, d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

func DecodeDateTime(b []byte) (DateTime, error) {
	if len(b) < DateTimeSize {
		return DateTime{}, fmt.Errorf("date record needs %d bytes, have %d", DateTimeSize, len(b))
	}
	return DateTime{b[0], b[1], b[2], b[3], b[4], b[5]}, nil
}

// DirEntry is one directory listing record.
type DirEntry struct {
	Size uint32 // file length, or free bytes for FRE records
	Attr byte
	Date DateTime
	Mode DirMode
	Name []byte
}

const (
	dirEntryHeader = 12
	// MaxDirName is the longest name that still fits a single frame.
	MaxDirName = MaxPayload - dirEntryHeader - 1
)

// FileType returns the type index from the attribute bits.
func (e *DirEntry) FileType() int {
	return int(e.Attr & AttrTypeMask)
}

// AppendTo encodes e; names longer than MaxDirName are cut.
func (e *DirEntry) AppendTo(b []byte) []byte {
	b = AppendU32(b, e.Size)
	b = append(b, e.Attr)
	b = e.Date.AppendTo(b)
	b = append(b, byte(e.Mode))
	name := e.Name
	if len(name) > MaxDirName {
		name = name[:MaxDirName]
	}
	b = append(b, name...)
	return append(b, 0)
}

func DecodeDirEntry(b []byte) (DirEntry, error) {
	var e DirEntry
	if len(b) < dirEntryHeader+1 {
		return e, fmt.Errorf("directory record too short (%d bytes)", len(b))
	}
	e.Size = binary.LittleEndian.Uint32(b[0:4])
	e.Attr = b[4]
	e.Date, _ = DecodeDateTime(b[5:11])
	e.Mode = DirMode(b[11])
	d := NewDecoder(b[dirEntryHeader:])
	name, err := d.ReadCString()
	if err != nil {
		return e, fmt.Errorf("directory record name: %w", err)
	}
	e.Name = name
	return e, nil
}
