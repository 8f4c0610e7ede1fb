// Package pathutil validates CBM file names and maps them onto slash
// separated paths relative to a drive root.
package pathutil

import (
	"path"
	"strings"

	"cbmbridge/internal/cbmerr"
)

const (
	// MaxPath bounds a normalized path, MaxName a single segment.
	MaxPath = 240
	MaxName = 64
)

// Join resolves name against the current directory cwd and returns the
// normalized path, which always begins with '/'.
//
//   - '/' separates directories, a leading '/' starts at the root
//   - ".." and "_" (the left arrow on a Commodore keyboard) go up one level
//   - going above the root fails with NO_PERMISSION
//   - '*' and '?' are only accepted if allowWildcards is set
func Join(cwd, name string, allowWildcards bool) (string, error) {
	if strings.ContainsRune(name, '\\') {
		return "", cbmerr.Errorf(cbmerr.SyntaxInval, "backslash not allowed")
	}
	p := name
	if !strings.HasPrefix(p, "/") {
		if cwd == "" {
			cwd = "/"
		}
		p = cwd + "/" + p
	}

	var out []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..", "_":
			if len(out) == 0 {
				return "", cbmerr.Errorf(cbmerr.NoPermission, "%q leaves the drive root", name)
			}
			out = out[:len(out)-1]
			continue
		}
		if err := ValidateName(seg, allowWildcards); err != nil {
			return "", err
		}
		out = append(out, seg)
	}

	res := "/" + strings.Join(out, "/")
	if len(res) > MaxPath {
		return "", cbmerr.Errorf(cbmerr.NameTooLong, "path length %d exceeds %d", len(res), MaxPath)
	}
	return res, nil
}

// ValidateName checks a single path segment. Besides control characters it
// rejects what Windows cannot store, so a drive directory can be moved
// between hosts.
func ValidateName(seg string, allowWildcards bool) error {
	if seg == "" {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "empty name")
	}
	if len(seg) > MaxName {
		return cbmerr.Errorf(cbmerr.NameTooLong, "name length %d exceeds %d", len(seg), MaxName)
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if c < 0x20 || c == 0x7F {
			return cbmerr.Errorf(cbmerr.SyntaxInval, "control character 0x%02x in name", c)
		}
		switch c {
		case ':', '"', '<', '>', '|', '/', '\\':
			return cbmerr.Errorf(cbmerr.SyntaxInval, "invalid character %q in name", c)
		case '*', '?':
			if !allowWildcards {
				return cbmerr.Errorf(cbmerr.SyntaxPattern, "wildcard in %q", seg)
			}
		}
	}
	if strings.HasSuffix(seg, " ") || strings.HasSuffix(seg, ".") {
		return cbmerr.Errorf(cbmerr.SyntaxInval, "name %q ends with space or dot", seg)
	}
	switch strings.ToUpper(seg) {
	case "CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9":
		return cbmerr.Errorf(cbmerr.NoPermission, "reserved name %q", seg)
	}
	return nil
}

// Split returns the directory and the last segment of a normalized path.
func Split(p string) (dir, base string) {
	dir, base = path.Split(p)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}
	if dir == "" {
		dir = "/"
	}
	return dir, base
}

// HasWildcard reports whether s contains a pattern character.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// Canonicalize returns the form used for case-insensitive comparison.
func Canonicalize(p string) string {
	return strings.ToUpper(p)
}
