// Package provider defines the storage backends a drive number or a
// provider name can point at, and the registry that creates them from a
// spec string such as "fs:/srv/c64" or "d64:games.d64".
package provider

import (
	"io"
	"time"

	"cbmbridge/internal/config"
	"cbmbridge/internal/nameinfo"
)

// Mode is how a file is opened.
type Mode byte

const (
	ModeRead      Mode = iota
	ModeWrite          // create; FILE EXISTS if present
	ModeOverwrite      // create or truncate
	ModeAppend         // must exist
	ModeReadWrite      // update in place, created if missing
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeOverwrite:
		return "overwrite"
	case ModeAppend:
		return "append"
	case ModeReadWrite:
		return "readwrite"
	}
	return "mode?"
}

// Writes reports whether m modifies the file.
func (m Mode) Writes() bool {
	return m != ModeRead
}

// File is an open file.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// Entry is one directory entry as the retro side sees it: the name
// carries no host extension, the type comes from it instead.
type Entry struct {
	Name    string
	Type    int // nameinfo.TypeDEL .. nameinfo.TypeREL
	Size    int64
	ModTime time.Time
	Dir     bool
	Locked  bool
	Splat   bool
}

// Provider is a storage backend. Names are relative to the provider's
// current directory; an empty dir in ReadDir is the current directory.
// Names never contain wildcards, pattern resolution happens above.
type Provider interface {
	// Label is shown in the header line of a directory listing.
	Label() string

	Open(name string, mode Mode, ftype nameinfo.FileType) (File, error)
	ReadDir(dir string) ([]Entry, error)
	Rename(from, to string) error
	Remove(name string) error
	Mkdir(name string) error
	Rmdir(name string) error
	Chdir(dir string) error
	Cwd() string

	// Free returns the free space in bytes.
	Free() (uint64, error)
	Close() error
}

// Formatter is implemented by providers that support NEW.
type Formatter interface {
	Format(label, id string) error
}

// BlockDevice is implemented by providers with sector level access.
// Errors carry the track and sector they refer to.
type BlockDevice interface {
	ReadBlock(track, sector byte) ([]byte, error)
	WriteBlock(track, sector byte, data []byte) error
	AllocBlock(track, sector byte) error
	FreeBlock(track, sector byte) error
}

// Refresher is implemented by providers that cache state which
// INITIALIZE should drop.
type Refresher interface {
	Refresh() error
}

// Options are shared by every provider a Registry creates.
type Options struct {
	// BaseDir resolves relative paths in specs.
	BaseDir  string
	ReadOnly bool
	Compat   config.CompatConfig

	TrashEnabled bool
	TrashDir     string
}

// OptionsFromConfig derives provider options from the host config.
func OptionsFromConfig(cfg config.Config, baseDir string) Options {
	return Options{
		BaseDir:      baseDir,
		ReadOnly:     cfg.ReadOnly,
		Compat:       cfg.Compat,
		TrashEnabled: cfg.TrashEnabled,
		TrashDir:     cfg.TrashDir,
	}
}
