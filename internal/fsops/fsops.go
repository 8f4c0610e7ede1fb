// Package fsops performs the host filesystem work behind a directory
// drive: sandboxed path resolution, directory listings and free space.
package fsops

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cbmbridge/internal/cbmerr"
)

var (
	ErrSymlinkNotAllowed = cbmerr.Wrap(cbmerr.NoPermission, errors.New("symlink not allowed"))
	ErrEscapesRoot       = cbmerr.Wrap(cbmerr.NoPermission, errors.New("path escapes root"))
)

// ToOSPath converts a normalized path (starting with '/') into a path below
// rootAbs.
//
// CBM names are case-insensitive, so every existing segment is looked up
// without regard to case; the first segment that does not exist ends the
// lookup and the rest is joined verbatim. Symlinks are never traversed.
func ToOSPath(rootAbs, normalized string) (string, error) {
	root := filepath.Clean(rootAbs)
	segs := strings.Split(strings.Trim(normalized, "/"), "/")
	cur := root

	for i, seg := range segs {
		if seg == "" || seg == "." {
			continue
		}
		name, fi, ok := lookupFold(cur, seg)
		if !ok {
			return withinRoot(root, filepath.Join(cur, filepath.FromSlash(strings.Join(segs[i:], "/"))))
		}
		cur = filepath.Join(cur, name)
		last := i == len(segs)-1
		if !last && (fi.Mode()&os.ModeSymlink != 0 || !fi.IsDir()) {
			return withinRoot(root, filepath.Join(cur, filepath.FromSlash(strings.Join(segs[i+1:], "/"))))
		}
	}
	return withinRoot(root, cur)
}

// lookupFold finds seg in dir ignoring case. An exact match wins, then the
// lexically smallest case-folded match.
func lookupFold(dir, seg string) (string, fs.FileInfo, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, false
	}
	best := ""
	for _, e := range entries {
		if e.Name() == seg {
			best = seg
			break
		}
		if strings.EqualFold(e.Name(), seg) && (best == "" || e.Name() < best) {
			best = e.Name()
		}
	}
	if best == "" {
		return "", nil, false
	}
	fi, err := os.Lstat(filepath.Join(dir, best))
	if err != nil {
		return "", nil, false
	}
	return best, fi, true
}

func withinRoot(root, p string) (string, error) {
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrEscapesRoot
	}
	return p, nil
}

// LstatNoSymlink walks from rootAbs to absPath and rejects any symlink on
// the way. With allowMissingLast the final component may be missing, which
// is what a create needs.
func LstatNoSymlink(rootAbs, absPath string, allowMissingLast bool) error {
	root := filepath.Clean(rootAbs)
	rel, err := filepath.Rel(root, filepath.Clean(absPath))
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}
	parts := strings.Split(rel, string(filepath.Separator))
	cur := root
	for i, part := range parts {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if err != nil {
			if allowMissingLast && i == len(parts)-1 && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return ErrSymlinkNotAllowed
		}
	}
	return nil
}

// ReadDir lists dir sorted case-insensitively. Symlinks and names starting
// with '.' are left out; the drive cannot open them anyway.
func ReadDir(dir string) ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.Type()&os.ModeSymlink != 0 {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToUpper(out[i].Name()) < strings.ToUpper(out[j].Name())
	})
	return out, nil
}

// DirEmpty reports whether dir has no entries at all.
func DirEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
