package server

import (
	"strings"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/pathutil"
	"cbmbridge/internal/provider"
)

func splitDirBase(name string) (dir, base string) {
	i := strings.LastIndex(name, "/")
	if i < 0 {
		return "", name
	}
	dir = name[:i]
	if dir == "" {
		dir = "/"
	}
	return dir, name[i+1:]
}

func joinDirBase(dir, base string) string {
	switch dir {
	case "":
		return base
	case "/":
		return "/" + base
	}
	return dir + "/" + base
}

// typedName returns the name and type tag that open exactly the listed
// entry e. DEL files have no tag and keep their extension instead.
func typedName(dir string, e provider.Entry) (string, nameinfo.FileType) {
	if e.Type == nameinfo.TypeDEL {
		return joinDirBase(dir, e.Name+nameinfo.FiletypeToExtension(e.Type)), nameinfo.FileTypeNone
	}
	return joinDirBase(dir, e.Name), nameinfo.FiletypeToTag(e.Type)
}

// typeMatches reports whether an entry of type t satisfies the tag ft.
func typeMatches(t int, ft nameinfo.FileType) bool {
	return ft == nameinfo.FileTypeNone || nameinfo.TagToFiletype(ft, t) == t
}

// matchEntries lists the files in the directory part of pattern whose
// names match its last segment.
func (s *Server) matchEntries(p provider.Provider, pattern string, ft nameinfo.FileType) (string, []provider.Entry, error) {
	dir, pat := splitDirBase(pattern)
	if pathutil.HasWildcard(dir) {
		return "", nil, cbmerr.Errorf(cbmerr.SyntaxPattern, "wildcards are only allowed in the last path segment")
	}
	list, err := p.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	var out []provider.Entry
	for _, e := range list {
		if e.Dir || !typeMatches(e.Type, ft) {
			continue
		}
		if nameinfo.ComparePattern([]byte(strings.ToUpper(e.Name)), []byte(strings.ToUpper(pat)), s.advanced) {
			out = append(out, e)
		}
	}
	return dir, out, nil
}

// resolveRead applies the wildcard compat helper to a read open: a name
// with '*' or '?' in its last segment resolves to the first matching
// file in directory order.
func (s *Server) resolveRead(p provider.Provider, name string, ft nameinfo.FileType) (string, nameinfo.FileType, error) {
	if !pathutil.HasWildcard(name) {
		return name, ft, nil
	}
	if !s.cfg.Compat.WildcardLoad {
		return "", ft, cbmerr.Errorf(cbmerr.SyntaxPattern, "wildcards are disabled")
	}
	dir, list, err := s.matchEntries(p, name, ft)
	if err != nil {
		return "", ft, err
	}
	if len(list) == 0 {
		return "", ft, cbmerr.Errorf(cbmerr.FileNotFound, "no file matches %s", name)
	}
	n, t := typedName(dir, list[0])
	return n, t, nil
}

// splitNameList splits the comma separated file list of SCRATCH. Each item
// may carry its own drive prefix; without one it uses def.
func splitNameList(def nameinfo.DriveAndName, list string) []nameinfo.DriveAndName {
	var out []nameinfo.DriveAndName
	for _, item := range strings.Split(list, ",") {
		d := def
		d.Name = []byte(item)
		if c := strings.IndexByte(item, ':'); c >= 0 {
			prefix := item[:c]
			switch {
			case prefix == "":
			case len(prefix) == 1 && prefix[0] >= '0' && prefix[0] <= '9':
				d.Drive = prefix[0] - '0'
				d.DriveName = nil
			default:
				d.Drive = nameinfo.DriveUndefined
				d.DriveName = []byte(prefix)
			}
			d.Name = []byte(item[c+1:])
		}
		if len(d.Name) > 0 {
			out = append(out, d)
		}
	}
	return out
}

// splitDirFilter splits a directory pattern "NAME=T" into the pattern and a
// type filter, as "$:*=S" lists only sequential files.
func splitDirFilter(pat string) (string, nameinfo.FileType) {
	if n := len(pat); n >= 2 && pat[n-2] == '=' {
		switch t := nameinfo.FileType(upperASCII(pat[n-1])); t {
		case nameinfo.FileTypePRG, nameinfo.FileTypeSEQ, nameinfo.FileTypeUSR, nameinfo.FileTypeREL:
			return pat[:n-2], t
		}
	}
	return pat, nameinfo.FileTypeNone
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 32
	}
	return c
}
