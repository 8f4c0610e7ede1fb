package proto

import (
	"fmt"

	"cbmbridge/internal/nameinfo"
)

// Opcode is the first byte of every frame.
type Opcode byte

// Opcodes. The values are fixed by the link protocol.
const (
	OpTerm       Opcode = 0
	OpOpenRD     Opcode = 1
	OpOpenWR     Opcode = 2
	OpOpenRW     Opcode = 3
	OpOpenOW     Opcode = 4
	OpOpenAP     Opcode = 5
	OpOpenDR     Opcode = 6
	OpRead       Opcode = 7
	OpWrite      Opcode = 8
	OpReply      Opcode = 9
	OpEOF        Opcode = 10
	OpSeek       Opcode = 11
	OpClose      Opcode = 12
	OpMove       Opcode = 13
	OpDelete     Opcode = 14
	OpFormat     Opcode = 15
	OpChkdsk     Opcode = 16
	OpRmdir      Opcode = 17
	OpMkdir      Opcode = 18
	OpChdir      Opcode = 19
	OpAssign     Opcode = 20
	OpSetOpt     Opcode = 21
	OpReset      Opcode = 22
	OpBlock      Opcode = 23
	OpGetDatim   Opcode = 24
	OpPosition   Opcode = 25
	OpCharset    Opcode = 27
	OpCopy       Opcode = 28
	OpDuplicate  Opcode = 29
	OpInitialize Opcode = 30
	OpSync       Opcode = 127
)

// Data frames share numbers with WRITE and EOF; the direction tells them
// apart. The host answers READ with DATA or DATA_EOF, the device streams
// WRITE and ends with WRITE_EOF.
const (
	OpData     = OpWrite
	OpDataEOF  = OpEOF
	OpWriteEOF = OpEOF
)

// Reserved channels. Real channels are 0..MaxChannel.
const (
	ChanTerm   byte = 126
	ChanSetOpt byte = 125
	ChanCmd    byte = 124
	MaxChannel byte = 123

	// ChanCommand carries DOS commands, as secondary address 15 does on
	// the bus.
	ChanCommand byte = 15
)

var opNames = map[Opcode]string{
	OpTerm:       "TERM",
	OpOpenRD:     "OPEN_RD",
	OpOpenWR:     "OPEN_WR",
	OpOpenRW:     "OPEN_RW",
	OpOpenOW:     "OPEN_OW",
	OpOpenAP:     "OPEN_AP",
	OpOpenDR:     "OPEN_DR",
	OpRead:       "READ",
	OpWrite:      "WRITE",
	OpReply:      "REPLY",
	OpEOF:        "EOF",
	OpSeek:       "SEEK",
	OpClose:      "CLOSE",
	OpMove:       "MOVE",
	OpDelete:     "DELETE",
	OpFormat:     "FORMAT",
	OpChkdsk:     "CHKDSK",
	OpRmdir:      "RMDIR",
	OpMkdir:      "MKDIR",
	OpChdir:      "CHDIR",
	OpAssign:     "ASSIGN",
	OpSetOpt:     "SETOPT",
	OpReset:      "RESET",
	OpBlock:      "BLOCK",
	OpGetDatim:   "GETDATIM",
	OpPosition:   "POSITION",
	OpCharset:    "CHARSET",
	OpCopy:       "COPY",
	OpDuplicate:  "DUPLICATE",
	OpInitialize: "INITIALIZE",
	OpSync:       "SYNC",
}

func (op Opcode) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("OP_%d", byte(op))
}

// Known reports whether op is part of the protocol.
func (op Opcode) Known() bool {
	_, ok := opNames[op]
	return ok
}

// IsOpen reports whether op is one of the OPEN_* family.
func (op Opcode) IsOpen() bool {
	return op >= OpOpenRD && op <= OpOpenDR
}

// HasNamePacket reports whether op carries a filename packet.
func (op Opcode) HasNamePacket() bool {
	switch {
	case op.IsOpen():
		return true
	case op >= OpMove && op <= OpAssign:
		return true
	case op >= OpCopy && op <= OpInitialize:
		return true
	}
	return false
}

// OpenOpcode derives the open opcode for a parsed open request. When no
// access mode was given, secondary address 1 (SAVE) writes and everything
// else reads.
func OpenOpcode(cmd nameinfo.Command, access nameinfo.Access, secondary byte) Opcode {
	switch cmd {
	case nameinfo.CmdDir:
		return OpOpenDR
	case nameinfo.CmdOverwrite:
		return OpOpenOW
	}
	switch access {
	case nameinfo.AccessRead:
		return OpOpenRD
	case nameinfo.AccessWrite:
		return OpOpenWR
	case nameinfo.AccessAppend:
		return OpOpenAP
	case nameinfo.AccessRW:
		return OpOpenRW
	}
	if secondary == 1 {
		return OpOpenWR
	}
	return OpOpenRD
}

// OpenKind is the host side inverse of OpenOpcode.
func OpenKind(op Opcode) (nameinfo.Command, nameinfo.Access, bool) {
	switch op {
	case OpOpenRD:
		return nameinfo.CmdNone, nameinfo.AccessRead, true
	case OpOpenWR:
		return nameinfo.CmdNone, nameinfo.AccessWrite, true
	case OpOpenRW:
		return nameinfo.CmdNone, nameinfo.AccessRW, true
	case OpOpenOW:
		return nameinfo.CmdOverwrite, nameinfo.AccessWrite, true
	case OpOpenAP:
		return nameinfo.CmdNone, nameinfo.AccessAppend, true
	case OpOpenDR:
		return nameinfo.CmdDir, nameinfo.AccessRead, true
	}
	return nameinfo.CmdNone, nameinfo.AccessNone, false
}

// CommandOpcode returns the opcode that carries cmd across the link.
// Commands handled on the device (UX, EXT, SYNTAX) have none.
func CommandOpcode(cmd nameinfo.Command) (Opcode, bool) {
	switch cmd {
	case nameinfo.CmdRename, nameinfo.CmdScratch, nameinfo.CmdNew,
		nameinfo.CmdValidate, nameinfo.CmdRmdir, nameinfo.CmdMkdir,
		nameinfo.CmdCD, nameinfo.CmdAssign, nameinfo.CmdBlock,
		nameinfo.CmdTime, nameinfo.CmdPosition, nameinfo.CmdCopy,
		nameinfo.CmdDuplicate, nameinfo.CmdInitialize:
		return Opcode(cmd), true
	}
	return 0, false
}
