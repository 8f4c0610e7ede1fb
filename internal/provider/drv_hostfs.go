package provider

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/config"
	"cbmbridge/internal/fsops"
)

// hostTree is a Tree on a host directory. Every path is sandboxed below
// root and symlinks are refused.
type hostTree struct {
	root string
}

func (h *hostTree) abs(p string, allowMissing bool) (string, error) {
	a, err := fsops.ToOSPath(h.root, p)
	if err != nil {
		return "", err
	}
	if err := fsops.LstatNoSymlink(h.root, a, allowMissing); err != nil {
		return "", err
	}
	return a, nil
}

func (h *hostTree) Stat(p string) (fs.FileInfo, error) {
	a, err := h.abs(p, false)
	if err != nil {
		return nil, err
	}
	return os.Lstat(a)
}

func (h *hostTree) List(dir string) ([]fs.FileInfo, error) {
	a, err := h.abs(dir, false)
	if err != nil {
		return nil, err
	}
	return fsops.ReadDir(a)
}

func (h *hostTree) OpenFile(p string, flag int) (File, error) {
	a, err := h.abs(p, flag&os.O_CREATE != 0)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(a, flag, 0o644)
}

func (h *hostTree) Rename(from, to string) error {
	src, err := h.abs(from, false)
	if err != nil {
		return err
	}
	dst, err := h.abs(to, true)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return cbmerr.Errorf(cbmerr.FileExists, "%s exists", to)
	}
	return os.Rename(src, dst)
}

func (h *hostTree) Remove(p string) error {
	a, err := h.abs(p, false)
	if err != nil {
		return err
	}
	return os.Remove(a)
}

func (h *hostTree) Mkdir(p string) error {
	a, err := h.abs(p, true)
	if err != nil {
		return err
	}
	return os.Mkdir(a, 0o755)
}

func (h *hostTree) Rmdir(p string) error {
	a, err := h.abs(p, false)
	if err != nil {
		return err
	}
	empty, err := fsops.DirEmpty(a)
	if err != nil {
		return err
	}
	if !empty {
		return cbmerr.Errorf(cbmerr.DirNotEmpty, "%s is not empty", p)
	}
	return os.Remove(a)
}

func (h *hostTree) Free() (uint64, error) {
	_, free, err := fsops.DiskUsage(h.root)
	return free, err
}

func (h *hostTree) Close() error { return nil }

// HostFS serves a host directory.
type HostFS struct {
	*treeProvider
	root string
}

// NewHostFS opens the directory root. A missing root is only accepted if
// the provider is writable; NEW creates it then.
func NewHostFS(root string, opts Options) (*HostFS, error) {
	root = config.ResolveDir(opts.BaseDir, root)
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	switch {
	case err == nil && !fi.IsDir():
		return nil, cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is not a directory", abs)
	case err != nil && (opts.ReadOnly || !os.IsNotExist(err)):
		return nil, err
	}
	label := strings.ToUpper(filepath.Base(abs))
	return &HostFS{
		treeProvider: newTreeProvider(&hostTree{root: abs}, label, opts),
		root:         abs,
	}, nil
}

// Root returns the absolute host directory.
func (h *HostFS) Root() string { return h.root }

// Format creates the root directory if it is missing and takes label as
// the new header name. Existing files are kept.
func (h *HostFS) Format(label, id string) error {
	if err := h.writable(); err != nil {
		return err
	}
	if err := config.EnsureRoot(h.root); err != nil {
		return err
	}
	if label != "" {
		h.label = strings.ToUpper(label)
	}
	h.cwd = "/"
	return nil
}

// init registers our driver, by name.
func init() {
	Register("fs", func(arg string, opts Options) (Provider, error) {
		return NewHostFS(arg, opts)
	})
}
