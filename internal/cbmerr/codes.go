// Package cbmerr holds the CBM DOS style error codes that travel in REPLY
// frames, their printable messages, and the translation of host errors into
// them.
package cbmerr

import (
	"fmt"

	"cbmbridge/internal/version"
)

// Code is a CBM DOS error number as shown on the retro machine's error
// channel.
type Code byte

const (
	OK               Code = 0
	FilesScratched   Code = 1
	WriteProtect     Code = 26
	WriteError       Code = 28
	SyntaxUnknown    Code = 30
	SyntaxInval      Code = 31
	SyntaxLong       Code = 32
	SyntaxPattern    Code = 33
	SyntaxNoName     Code = 34
	NameTooLong      Code = 38
	FileNotFound     Code = 39
	OverflowInRecord Code = 51
	DirNotEmpty      Code = 57
	NoPermission     Code = 58
	Fault            Code = 59
	FileNotOpen      Code = 61
	FileExists       Code = 63
	FileTypeMismatch Code = 64
	NoBlock          Code = 65
	IllegalTS        Code = 66
	NoChannel        Code = 70
	DirError         Code = 71
	DiskFull         Code = 72
	DOSVersion       Code = 73
	DriveNotReady    Code = 74
)

// Syntax is the user facing syntax error; the refinements 31..34 print the
// same text.
const Syntax = SyntaxUnknown

var messages = map[Code]string{
	OK:               " OK",
	FilesScratched:   "FILES SCRATCHED",
	WriteProtect:     "WRITE PROTECT ON",
	WriteError:       "WRITE ERROR",
	SyntaxUnknown:    "SYNTAX ERROR",
	SyntaxInval:      "SYNTAX ERROR",
	SyntaxLong:       "SYNTAX ERROR",
	SyntaxPattern:    "SYNTAX ERROR",
	SyntaxNoName:     "SYNTAX ERROR",
	NameTooLong:      "FILE NAME TOO LONG",
	FileNotFound:     "FILE NOT FOUND",
	OverflowInRecord: "OVERFLOW IN RECORD",
	DirNotEmpty:      "DIR NOT EMPTY",
	NoPermission:     "PERMISSION DENIED",
	Fault:            "FAULT",
	FileNotOpen:      "FILE NOT OPEN",
	FileExists:       "FILE EXISTS",
	FileTypeMismatch: "FILE TYPE MISMATCH",
	NoBlock:          "NO BLOCK",
	IllegalTS:        "ILLEGAL TRACK OR SECTOR",
	NoChannel:        "NO CHANNEL",
	DirError:         "DIR ERROR",
	DiskFull:         "DISK FULL",
	DriveNotReady:    "DRIVE NOT READY",
}

var names = map[Code]string{
	OK:               "OK",
	FilesScratched:   "FILES_SCRATCHED",
	WriteProtect:     "WRITE_PROTECT",
	WriteError:       "WRITE_ERROR",
	SyntaxUnknown:    "SYNTAX_UNKNOWN",
	SyntaxInval:      "SYNTAX_INVAL",
	SyntaxLong:       "SYNTAX_LONG",
	SyntaxPattern:    "SYNTAX_PATTERN",
	SyntaxNoName:     "SYNTAX_NONAME",
	NameTooLong:      "NAME_TOO_LONG",
	FileNotFound:     "FILE_NOT_FOUND",
	OverflowInRecord: "OVERFLOW_IN_RECORD",
	DirNotEmpty:      "DIR_NOT_EMPTY",
	NoPermission:     "NO_PERMISSION",
	Fault:            "FAULT",
	FileNotOpen:      "FILE_NOT_OPEN",
	FileExists:       "FILE_EXISTS",
	FileTypeMismatch: "FILE_TYPE_MISMATCH",
	NoBlock:          "NO_BLOCK",
	IllegalTS:        "ILLEGAL_TS",
	NoChannel:        "NO_CHANNEL",
	DirError:         "DIR_ERROR",
	DiskFull:         "DISK_FULL",
	DOSVersion:       "DOS_VERSION",
	DriveNotReady:    "DRIVE_NOT_READY",
}

// Message returns the text printed after the error number.
// Codes outside the table print as FAULT.
func (c Code) Message() string {
	if c == DOSVersion {
		return version.DOS()
	}
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[Fault]
}

// String returns the symbolic name, used in logs.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("CODE_%d", byte(c))
}

// IsSyntax reports whether c is one of the SYNTAX refinements.
func (c Code) IsSyntax() bool {
	return c >= SyntaxUnknown && c <= SyntaxNoName
}

// Failed reports whether c is an error. Codes below 20 are
// informational, as 01,FILES SCRATCHED.
func (c Code) Failed() bool {
	return c >= 20
}

// Known reports whether c belongs to the closed enumeration.
func (c Code) Known() bool {
	_, ok := names[c]
	return ok
}

// StatusLine formats the classic "NN,TEXT,TT,SS" error channel line.
// Track and sector are only meaningful for BLOCK errors and are 0 otherwise.
func StatusLine(c Code, track, sector byte) string {
	return fmt.Sprintf("%02d,%s,%02d,%02d", byte(c), c.Message(), track, sector)
}
