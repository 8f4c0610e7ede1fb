package device

import (
	"fmt"
	"strings"

	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/proto"
)

// blockSize is the payload of one disk block, used to show sizes in
// blocks.
const blockSize = 254

func blocks(size uint32) uint32 {
	return (size + blockSize - 1) / blockSize
}

// ListingLines renders directory records the way LIST shows a loaded
// directory.
func ListingLines(entries []proto.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		switch e.Mode {
		case proto.ModeNAM, proto.ModeNAS:
			out = append(out, fmt.Sprintf("0 %-18s", quoted(e.Name)))
		case proto.ModeFRE, proto.ModeFRS:
			out = append(out, fmt.Sprintf("%d BLOCKS FREE.", e.Size/blockSize))
		case proto.ModeDIR:
			out = append(out, fmt.Sprintf("%-4d %-18s DIR", blocks(e.Size), quoted(e.Name)))
		default:
			out = append(out, fmt.Sprintf("%-4d %-18s%s", blocks(e.Size), quoted(e.Name), typeColumn(e)))
		}
	}
	return out
}

func quoted(name []byte) string {
	return `"` + string(name) + `"`
}

// typeColumn is " PRG", "*SEQ" for an unclosed file, with "<" for locked.
func typeColumn(e proto.DirEntry) string {
	var sb strings.Builder
	if e.Attr&proto.AttrSplat != 0 {
		sb.WriteByte('*')
	} else {
		sb.WriteByte(' ')
	}
	sb.WriteString(strings.TrimPrefix(nameinfo.FiletypeToExtension(e.FileType()), "."))
	if e.Attr&proto.AttrLocked != 0 {
		sb.WriteByte('<')
	}
	return sb.String()
}
