package nameinfo

import "bytes"

// Filetype indexes into the extension table; the same numbers are used
// in the type bits of a directory record.
const (
	TypeDEL = 0
	TypeSEQ = 1
	TypePRG = 2
	TypeUSR = 3
	TypeREL = 4
)

var extensions = [...]string{".DEL", ".SEQ", ".PRG", ".USR", ".REL"}

// ExtensionToFiletype returns the filetype index for the extension of name.
// Names without a four byte ".XXX" suffix give noExtDefault, unknown
// extensions give unknownDefault. name ends at its first zero byte.
func ExtensionToFiletype(name []byte, noExtDefault, unknownDefault int) int {
	name = cstr(name)
	n := len(name)
	if n < 4 || name[n-4] != '.' {
		return noExtDefault
	}
	ext := name[n-4:]
	for i, e := range extensions {
		if bytes.EqualFold(ext, []byte(e)) {
			return i
		}
	}
	return unknownDefault
}

// FiletypeToExtension returns the host extension for a filetype index.
func FiletypeToExtension(i int) string {
	if i < 0 || i >= len(extensions) {
		return extensions[TypePRG]
	}
	return extensions[i]
}

// HasKnownExtension reports whether name ends in one of the table's
// extensions.
func HasKnownExtension(name []byte) bool {
	return ExtensionToFiletype(name, -1, -1) >= 0
}

// TagToFiletype maps an open tag (P S U L R) to a filetype index, or
// returns def for FileTypeNone and unknown tags.
func TagToFiletype(t FileType, def int) int {
	switch FileType(upper(byte(t))) {
	case FileTypePRG:
		return TypePRG
	case FileTypeSEQ:
		return TypeSEQ
	case FileTypeUSR:
		return TypeUSR
	case FileTypeREL, FileTypeRELR:
		return TypeREL
	}
	return def
}

// FiletypeToTag is the inverse of TagToFiletype. DEL has no tag.
func FiletypeToTag(i int) FileType {
	switch i {
	case TypePRG:
		return FileTypePRG
	case TypeSEQ:
		return FileTypeSEQ
	case TypeUSR:
		return FileTypeUSR
	case TypeREL:
		return FileTypeREL
	}
	return FileTypeNone
}
