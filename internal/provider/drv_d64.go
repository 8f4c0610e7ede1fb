package provider

import (
	"bytes"
	"io"
	"os"
	"strings"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/config"
	"cbmbridge/internal/diskimage"
	"cbmbridge/internal/nameinfo"
)

// D64Image serves a disk image. Every change is made on a copy of the
// image and written back whole; relative files can only be read.
// 1571 and 1581 images are always write protected.
type D64Image struct {
	path string
	kind diskimage.Kind
	opts Options
	img  *diskimage.Image // nil until the image exists
}

// NewD64 opens the 1541 image at path. A missing image is accepted;
// requests answer DRIVE NOT READY until NEW creates it.
func NewD64(path string, opts Options) (*D64Image, error) {
	return NewImage(path, diskimage.KindD64, opts)
}

// NewImage opens an image of the given kind.
func NewImage(path string, kind diskimage.Kind, opts Options) (*D64Image, error) {
	d := &D64Image{path: config.ResolveDir(opts.BaseDir, path), kind: kind, opts: opts}
	if err := d.Refresh(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return d, nil
}

// Refresh parses the image again if it changed on disk.
func (d *D64Image) Refresh() error {
	img, err := diskimage.Load(d.path, d.kind)
	if err != nil {
		d.img = nil
		return err
	}
	d.img = img
	return nil
}

func (d *D64Image) image() (*diskimage.Image, error) {
	if d.img == nil {
		return nil, cbmerr.Errorf(cbmerr.DriveNotReady, "no image at %s", d.path)
	}
	return d.img, nil
}

func (d *D64Image) Label() string {
	if d.img == nil {
		return ""
	}
	return d.img.DiskName
}

func (d *D64Image) Cwd() string  { return "/" }
func (d *D64Image) Close() error { return nil }

func flatName(name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	if strings.Contains(name, "/") {
		return "", cbmerr.Errorf(cbmerr.FileNotFound, "disk images have no directories")
	}
	if name == "" {
		return "", cbmerr.Errorf(cbmerr.SyntaxNoName, "no file name")
	}
	return name, nil
}

func (d *D64Image) lookup(name string) (*diskimage.FileEntry, error) {
	img, err := d.image()
	if err != nil {
		return nil, err
	}
	name, err = flatName(name)
	if err != nil {
		return nil, err
	}
	if fe, ok := img.Lookup(name); ok {
		return fe, nil
	}
	// "GAME.PRG" names the PRG file GAME.
	if t := hostType(name); t >= 0 {
		if fe, ok := img.Lookup(name[:len(name)-4]); ok && int(fe.Type) == t {
			return fe, nil
		}
	}
	return nil, cbmerr.Errorf(cbmerr.FileNotFound, "%s not found", name)
}

func (d *D64Image) Open(name string, mode Mode, ftype nameinfo.FileType) (File, error) {
	img, err := d.image()
	if err != nil {
		return nil, err
	}
	if mode.Writes() {
		return d.create(name, mode, ftype)
	}
	fe, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	if ftype != nameinfo.FileTypeNone && nameinfo.TagToFiletype(ftype, int(fe.Type)) != int(fe.Type) {
		return nil, cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is %s", fe.Name, nameinfo.FiletypeToExtension(int(fe.Type)))
	}
	return imageFile{img.Open(fe)}, nil
}

// imageFile is a read-only handle on a file inside an image.
type imageFile struct {
	*diskimage.FileReader
}

func (imageFile) Write([]byte) (int, error) { return 0, cbmerr.New(cbmerr.WriteProtect) }
func (imageFile) Close() error              { return nil }

// create opens a file for writing. The data collects in memory and is
// stored when the file is closed.
func (d *D64Image) create(name string, mode Mode, ftype nameinfo.FileType) (File, error) {
	if err := d.writable(); err != nil {
		return nil, err
	}
	name, err := flatName(name)
	if err != nil {
		return nil, err
	}
	if ftype.IsRel() || mode == ModeReadWrite {
		return nil, cbmerr.Errorf(cbmerr.NoPermission, "relative files in images are read-only")
	}
	w := &imageWriter{d: d, name: name, mode: mode, ftype: nameinfo.TagToFiletype(ftype, nameinfo.TypePRG)}

	fe, err := d.lookup(name)
	switch {
	case err == nil:
		w.name = fe.Name
		if mode == ModeWrite {
			return nil, cbmerr.Errorf(cbmerr.FileExists, "%s exists", fe.Name)
		}
		if fe.Locked {
			return nil, cbmerr.Errorf(cbmerr.WriteProtect, "%s is locked", fe.Name)
		}
		if mode == ModeAppend {
			w.ftype = int(fe.Type)
			if _, err := io.Copy(&w.buf, d.img.Open(fe)); err != nil {
				return nil, err
			}
		}
		w.replace = true
	case cbmerr.CodeOf(err) != cbmerr.FileNotFound:
		return nil, err
	case mode == ModeAppend:
		return nil, err
	}
	if t := hostType(w.name); t >= 0 && !w.replace {
		// "NAME.SEQ" creates the SEQ file NAME
		w.name, w.ftype = w.name[:len(w.name)-4], t
	}
	if len(w.name) > 16 {
		return nil, cbmerr.Errorf(cbmerr.NameTooLong, "%q has more than 16 characters", w.name)
	}
	return w, nil
}

// imageWriter buffers a file being written into an image.
type imageWriter struct {
	d       *D64Image
	name    string
	mode    Mode
	ftype   int
	replace bool
	buf     bytes.Buffer
	closed  bool
}

func (w *imageWriter) Read([]byte) (int, error) {
	return 0, cbmerr.Errorf(cbmerr.FileNotOpen, "%s is open for writing", w.name)
}

func (w *imageWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, cbmerr.New(cbmerr.FileNotOpen)
	}
	return w.buf.Write(p)
}

func (w *imageWriter) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence != io.SeekStart {
		return int64(w.buf.Len()), nil
	}
	return 0, cbmerr.Errorf(cbmerr.NoPermission, "no positioning in image files")
}

func (w *imageWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.d.edit(func(img *diskimage.Image) error {
		if w.replace {
			if err := img.DeleteFile(w.name); err != nil {
				return err
			}
		}
		return img.WriteFile(w.name, w.ftype, w.buf.Bytes())
	})
}

func (d *D64Image) ReadDir(dir string) ([]Entry, error) {
	img, err := d.image()
	if err != nil {
		return nil, err
	}
	if strings.Trim(dir, "/") != "" {
		return nil, cbmerr.Errorf(cbmerr.FileNotFound, "disk images have no directories")
	}
	out := make([]Entry, 0, len(img.Files))
	for _, fe := range img.SortedEntries() {
		out = append(out, Entry{
			Name:    fe.Name,
			Type:    int(fe.Type),
			Size:    int64(fe.Size),
			ModTime: img.ModTime,
			Locked:  fe.Locked,
			Splat:   fe.Splat,
		})
	}
	return out, nil
}

func (d *D64Image) writable() error {
	if d.opts.ReadOnly {
		return cbmerr.New(cbmerr.WriteProtect)
	}
	if d.kind != diskimage.KindD64 {
		return cbmerr.Errorf(cbmerr.WriteProtect, "%s images are read-only", d.kind)
	}
	return nil
}

// edit runs fn on a copy of the image and saves the copy when fn
// succeeds.
func (d *D64Image) edit(fn func(*diskimage.Image) error) error {
	if err := d.writable(); err != nil {
		return err
	}
	img, err := d.image()
	if err != nil {
		return err
	}
	ed, err := img.Edit()
	if err != nil {
		return err
	}
	if err := fn(ed); err != nil {
		return err
	}
	if err := ed.Save(d.path); err != nil {
		return cbmerr.Wrap(cbmerr.WriteError, err)
	}
	return d.Refresh()
}

func (d *D64Image) Rename(from, to string) error {
	fe, err := d.lookup(from)
	if err != nil {
		return err
	}
	to, err = flatName(to)
	if err != nil {
		return err
	}
	return d.edit(func(img *diskimage.Image) error { return img.RenameFile(fe.Name, to) })
}

func (d *D64Image) Remove(name string) error {
	fe, err := d.lookup(name)
	if err != nil {
		return err
	}
	return d.edit(func(img *diskimage.Image) error { return img.DeleteFile(fe.Name) })
}

func (d *D64Image) Mkdir(name string) error {
	return cbmerr.Errorf(cbmerr.NoPermission, "disk images have no directories")
}

func (d *D64Image) Rmdir(name string) error {
	return cbmerr.Errorf(cbmerr.NoPermission, "disk images have no directories")
}

func (d *D64Image) Chdir(dir string) error {
	if strings.Trim(dir, "/") == "" {
		return nil
	}
	return cbmerr.Errorf(cbmerr.FileNotFound, "disk images have no directories")
}

func (d *D64Image) Free() (uint64, error) {
	img, err := d.image()
	if err != nil {
		return 0, err
	}
	return uint64(img.FreeBlocks()) * 254, nil
}

// Format writes a blank image with the given header.
func (d *D64Image) Format(label, id string) error {
	if err := d.writable(); err != nil {
		return err
	}
	if label == "" {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "NEW needs a disk name")
	}
	if err := diskimage.WriteD64(d.path, label, id); err != nil {
		return err
	}
	return d.Refresh()
}

func (d *D64Image) ReadBlock(track, sector byte) ([]byte, error) {
	img, err := d.image()
	if err != nil {
		return nil, err
	}
	b, err := img.Sector(int(track), int(sector))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *D64Image) checkTS(track, sector byte) error {
	img, err := d.image()
	if err != nil {
		return err
	}
	_, err = img.Sector(int(track), int(sector))
	return err
}

func (d *D64Image) WriteBlock(track, sector byte, data []byte) error {
	if err := d.checkTS(track, sector); err != nil {
		return err
	}
	err := d.edit(func(img *diskimage.Image) error { return img.WriteSector(int(track), int(sector), data) })
	if cbmerr.CodeOf(err) == cbmerr.WriteProtect {
		return cbmerr.WithTS(cbmerr.WriteProtect, track, sector)
	}
	return err
}

// AllocBlock answers NO BLOCK with the next free sector when the sector is
// in use, as B-A does on a drive.
func (d *D64Image) AllocBlock(track, sector byte) error {
	if err := d.checkTS(track, sector); err != nil {
		return err
	}
	free, _ := d.img.BlockFree(int(track), int(sector))
	if !free {
		nt, ns, _ := d.img.NextFree(int(track), int(sector))
		return cbmerr.WithTS(cbmerr.NoBlock, byte(nt), byte(ns))
	}
	if err := d.writable(); err != nil {
		return cbmerr.WithTS(cbmerr.WriteProtect, track, sector)
	}
	return d.edit(func(img *diskimage.Image) error { return img.Allocate(int(track), int(sector)) })
}

func (d *D64Image) FreeBlock(track, sector byte) error {
	if err := d.checkTS(track, sector); err != nil {
		return err
	}
	if err := d.writable(); err != nil {
		return cbmerr.WithTS(cbmerr.WriteProtect, track, sector)
	}
	return d.edit(func(img *diskimage.Image) error { return img.Release(int(track), int(sector)) })
}

// init registers our driver, by name.
func init() {
	for _, k := range []diskimage.Kind{diskimage.KindD64, diskimage.KindD71, diskimage.KindD81} {
		k := k
		Register(k.String(), func(arg string, opts Options) (Provider, error) {
			return NewImage(arg, k, opts)
		})
	}
}
