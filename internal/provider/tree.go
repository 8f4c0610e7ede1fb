package provider

import (
	"io/fs"
	"os"
	"path"
	"strings"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/pathutil"
)

// Tree is a hierarchical byte stream store: a host directory or a 9P
// server. Paths are slash separated, start with '/' and use the store's
// own spelling; case folding and type extensions are handled by
// treeProvider on top.
type Tree interface {
	Stat(p string) (fs.FileInfo, error)
	List(dir string) ([]fs.FileInfo, error)
	OpenFile(p string, flag int) (File, error)
	Rename(from, to string) error
	Remove(p string) error
	Mkdir(p string) error
	// Rmdir fails with DIR NOT EMPTY unless the directory is empty.
	Rmdir(p string) error
	Free() (uint64, error)
	Close() error
}

// treeProvider maps CBM names onto a Tree. A file "GAME" of type PRG is
// stored as "GAME.PRG"; listings strip the extension again and report it
// as the type.
type treeProvider struct {
	tree  Tree
	label string
	opts  Options
	cwd   string
}

func newTreeProvider(t Tree, label string, opts Options) *treeProvider {
	return &treeProvider{tree: t, label: label, opts: opts, cwd: "/"}
}

func (tp *treeProvider) Label() string { return tp.label }
func (tp *treeProvider) Cwd() string   { return tp.cwd }
func (tp *treeProvider) Close() error  { return tp.tree.Close() }

func (tp *treeProvider) Free() (uint64, error) {
	return tp.tree.Free()
}

// resolveDir walks a normalized CBM path and returns the store path of
// the directory it names.
func (tp *treeProvider) resolveDir(p string) (string, error) {
	cur := "/"
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}
		list, err := tp.tree.List(cur)
		if err != nil {
			return "", err
		}
		fi := foldMatch(list, seg)
		if fi == nil {
			return "", cbmerr.Errorf(cbmerr.FileNotFound, "directory %s not found", seg)
		}
		if !fi.IsDir() {
			return "", cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is not a directory", seg)
		}
		cur = path.Join(cur, fi.Name())
	}
	return cur, nil
}

// foldMatch returns the entry called name; an exact match wins over a
// case-insensitive one.
func foldMatch(list []fs.FileInfo, name string) fs.FileInfo {
	var folded fs.FileInfo
	for _, fi := range list {
		if fi.Name() == name {
			return fi
		}
		if folded == nil && strings.EqualFold(fi.Name(), name) {
			folded = fi
		}
	}
	return folded
}

// split joins name to the current directory and returns the store path of
// its directory plus the last segment as typed.
func (tp *treeProvider) split(name string) (dir, base string, err error) {
	p, err := pathutil.Join(tp.cwd, name, false)
	if err != nil {
		return "", "", err
	}
	d, b := pathutil.Split(p)
	if b == "" {
		return "", "", cbmerr.Errorf(cbmerr.SyntaxNoName, "no file name")
	}
	dir, err = tp.resolveDir(d)
	return dir, b, err
}

// candidates lists the store names that may hold the CBM file base: the
// name itself, the name with the extension of ftype (PRG when untyped) and,
// with the fallback enabled, the name with any other type extension.
func (tp *treeProvider) candidates(base string, ftype nameinfo.FileType, anyType bool) []string {
	out := []string{base}
	out = append(out, base+nameinfo.FiletypeToExtension(nameinfo.TagToFiletype(ftype, nameinfo.TypePRG)))
	if (anyType || tp.opts.Compat.FallbackPRGExtension) && !nameinfo.HasKnownExtension([]byte(base)) {
		for _, t := range []int{nameinfo.TypePRG, nameinfo.TypeSEQ, nameinfo.TypeUSR, nameinfo.TypeREL, nameinfo.TypeDEL} {
			out = append(out, base+nameinfo.FiletypeToExtension(t))
		}
	}
	return out
}

// find looks up the CBM file base in the store directory dir. With anyType
// set a name without extension matches a file of any type, as SCRATCH and
// RENAME expect.
func (tp *treeProvider) find(dir, base string, ftype nameinfo.FileType, anyType bool) (fs.FileInfo, error) {
	list, err := tp.tree.List(dir)
	if err != nil {
		return nil, err
	}
	for _, c := range tp.candidates(base, ftype, anyType) {
		if fi := foldMatch(list, c); fi != nil {
			return fi, nil
		}
	}
	return nil, cbmerr.Errorf(cbmerr.FileNotFound, "%s not found", base)
}

// hostType returns the CBM type of a store name, -1 if the name carries no
// known extension.
func hostType(name string) int {
	return nameinfo.ExtensionToFiletype([]byte(name), -1, -1)
}

func (tp *treeProvider) writable() error {
	if tp.opts.ReadOnly {
		return cbmerr.New(cbmerr.WriteProtect)
	}
	return nil
}

func (tp *treeProvider) Open(name string, mode Mode, ftype nameinfo.FileType) (File, error) {
	if mode.Writes() {
		if err := tp.writable(); err != nil {
			return nil, err
		}
	}
	dir, base, err := tp.split(name)
	if err != nil {
		return nil, err
	}

	fi, err := tp.find(dir, base, ftype, false)
	if err != nil && cbmerr.CodeOf(err) != cbmerr.FileNotFound {
		return nil, err
	}
	if fi != nil && mode == ModeWrite {
		return nil, cbmerr.Errorf(cbmerr.FileExists, "%s exists", base)
	}
	if fi != nil {
		if fi.IsDir() {
			return nil, cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is a directory", base)
		}
		if ht := hostType(fi.Name()); ftype != nameinfo.FileTypeNone && ht >= 0 &&
			ht != nameinfo.TagToFiletype(ftype, ht) {
			return nil, cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is %s", base, nameinfo.FiletypeToExtension(ht))
		}
	}

	existing := ""
	if fi != nil {
		existing = path.Join(dir, fi.Name())
	}

	switch mode {
	case ModeRead:
		if fi == nil {
			return nil, cbmerr.Errorf(cbmerr.FileNotFound, "%s not found", base)
		}
		return tp.tree.OpenFile(existing, os.O_RDONLY)
	case ModeAppend:
		if fi == nil {
			return nil, cbmerr.Errorf(cbmerr.FileNotFound, "%s not found", base)
		}
		return tp.tree.OpenFile(existing, os.O_WRONLY|os.O_APPEND)
	case ModeOverwrite:
		if fi != nil {
			return tp.tree.OpenFile(existing, os.O_WRONLY|os.O_TRUNC)
		}
	case ModeReadWrite:
		if fi != nil {
			return tp.tree.OpenFile(existing, os.O_RDWR)
		}
	}

	if err := pathutil.ValidateName(base, false); err != nil {
		return nil, err
	}
	ext := nameinfo.FiletypeToExtension(nameinfo.TagToFiletype(ftype, nameinfo.TypePRG))
	if ftype == nameinfo.FileTypeNone && hostType(base) >= 0 {
		ext = ""
	}
	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if mode == ModeReadWrite {
		flag = os.O_RDWR | os.O_CREATE | os.O_EXCL
	}
	return tp.tree.OpenFile(path.Join(dir, base+ext), flag)
}

func (tp *treeProvider) ReadDir(dir string) ([]Entry, error) {
	p, err := pathutil.Join(tp.cwd, dir, false)
	if err != nil {
		return nil, err
	}
	sp, err := tp.resolveDir(p)
	if err != nil {
		return nil, err
	}
	list, err := tp.tree.List(sp)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(list))
	for _, fi := range list {
		if strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		e := Entry{
			Name:    fi.Name(),
			Type:    nameinfo.TypePRG,
			ModTime: fi.ModTime(),
			Dir:     fi.IsDir(),
			Locked:  fi.Mode().Perm()&0o200 == 0,
		}
		if !e.Dir {
			e.Size = fi.Size()
			if t := hostType(fi.Name()); t >= 0 {
				e.Type = t
				e.Name = fi.Name()[:len(fi.Name())-4]
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (tp *treeProvider) Rename(from, to string) error {
	if err := tp.writable(); err != nil {
		return err
	}
	fdir, fbase, err := tp.split(from)
	if err != nil {
		return err
	}
	tdir, tbase, err := tp.split(to)
	if err != nil {
		return err
	}
	if err := pathutil.ValidateName(tbase, false); err != nil {
		return err
	}
	fi, err := tp.find(fdir, fbase, nameinfo.FileTypeNone, true)
	if err != nil {
		return err
	}
	if _, err := tp.find(tdir, tbase, nameinfo.FileTypeNone, true); err == nil {
		return cbmerr.Errorf(cbmerr.FileExists, "%s exists", tbase)
	}

	target := tbase
	if t := hostType(fi.Name()); t >= 0 && !fi.IsDir() && !nameinfo.HasKnownExtension([]byte(tbase)) {
		target += fi.Name()[len(fi.Name())-4:]
	}
	return tp.tree.Rename(path.Join(fdir, fi.Name()), path.Join(tdir, target))
}

func (tp *treeProvider) Remove(name string) error {
	if err := tp.writable(); err != nil {
		return err
	}
	dir, base, err := tp.split(name)
	if err != nil {
		return err
	}
	fi, err := tp.find(dir, base, nameinfo.FileTypeNone, true)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is a directory", base)
	}
	if fi.Mode().Perm()&0o200 == 0 {
		return cbmerr.Errorf(cbmerr.WriteProtect, "%s is locked", base)
	}
	p := path.Join(dir, fi.Name())
	if tp.shouldUseTrash(p) {
		_, err := tp.moveToTrash(p)
		return err
	}
	return tp.tree.Remove(p)
}

func (tp *treeProvider) Mkdir(name string) error {
	if err := tp.writable(); err != nil {
		return err
	}
	dir, base, err := tp.split(name)
	if err != nil {
		return err
	}
	if err := pathutil.ValidateName(base, false); err != nil {
		return err
	}
	list, err := tp.tree.List(dir)
	if err != nil {
		return err
	}
	if foldMatch(list, base) != nil {
		return cbmerr.Errorf(cbmerr.FileExists, "%s exists", base)
	}
	return tp.tree.Mkdir(path.Join(dir, base))
}

func (tp *treeProvider) Rmdir(name string) error {
	if err := tp.writable(); err != nil {
		return err
	}
	p, err := pathutil.Join(tp.cwd, name, false)
	if err != nil {
		return err
	}
	sp, err := tp.resolveDir(p)
	if err != nil {
		return err
	}
	if sp == "/" {
		return cbmerr.Errorf(cbmerr.NoPermission, "cannot remove the drive root")
	}
	if strings.HasPrefix(strings.ToUpper(tp.cwd+"/"), strings.ToUpper(sp+"/")) {
		return cbmerr.Errorf(cbmerr.NoPermission, "%s is in use", sp)
	}
	return tp.tree.Rmdir(sp)
}

func (tp *treeProvider) Chdir(dir string) error {
	p, err := pathutil.Join(tp.cwd, dir, false)
	if err != nil {
		return err
	}
	sp, err := tp.resolveDir(p)
	if err != nil {
		return err
	}
	tp.cwd = sp
	return nil
}

// mkdirAll creates p and its parents in the store.
func mkdirAll(t Tree, p string) error {
	cur := "/"
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}
		cur = path.Join(cur, seg)
		if fi, err := t.Stat(cur); err == nil {
			if !fi.IsDir() {
				return cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is not a directory", cur)
			}
			continue
		}
		if err := t.Mkdir(cur); err != nil && cbmerr.CodeOf(err) != cbmerr.FileExists {
			return err
		}
	}
	return nil
}
