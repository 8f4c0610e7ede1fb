package diskimage

import (
	"encoding/binary"
	"strings"

	"cbmbridge/internal/cbmerr"
)

// Changes to an image are made on a copy returned by Edit and reach the
// file with Save. The cached original stays valid for readers until then.

// Edit returns a private, modifiable copy of img. Only 1541 images can
// be changed.
func (img *Image) Edit() (*Image, error) {
	if img.Kind != KindD64 {
		return nil, cbmerr.Errorf(cbmerr.WriteProtect, "%s images are read-only", img.Kind)
	}
	raw := make([]byte, len(img.data))
	copy(raw, img.data)
	c, err := Parse(raw, img.Kind)
	if err != nil {
		return nil, err
	}
	c.Path = img.Path
	c.ModTime = img.ModTime
	return c, nil
}

// Save writes the image to path and drops the cached parse.
func (img *Image) Save(path string) error {
	Forget(path)
	return writeFileAtomic(path, img.data)
}

// bamEntry returns the 4 BAM bytes of a track: free count and bitmap.
// Tracks past 35 have none.
func (img *Image) bamEntry(track int) []byte {
	if track < 1 || track > 35 {
		return nil
	}
	bam, _ := img.Sector(DirTrack, bamSector)
	return bam[4*track : 4*track+4]
}

// Allocate marks a sector used. A used sector fails with NO BLOCK and the
// track and sector of the next free one, 0,0 when the disk is full.
func (img *Image) Allocate(track, sector int) error {
	free, err := img.BlockFree(track, sector)
	if err != nil {
		return err
	}
	if !free {
		nt, ns, _ := img.NextFree(track, sector)
		return cbmerr.WithTS(cbmerr.NoBlock, byte(nt), byte(ns))
	}
	e := img.bamEntry(track)
	e[1+sector/8] &^= 1 << (sector % 8)
	e[0]--
	return nil
}

// Release marks a sector free. Releasing a free sector does nothing.
func (img *Image) Release(track, sector int) error {
	free, err := img.BlockFree(track, sector)
	if err != nil || free {
		return err
	}
	e := img.bamEntry(track)
	if e == nil {
		return nil
	}
	e[1+sector/8] |= 1 << (sector % 8)
	e[0]++
	return nil
}

// WriteSector replaces the contents of one sector; short data is padded
// with zeros.
func (img *Image) WriteSector(track, sector int, data []byte) error {
	buf, err := img.Sector(track, sector)
	if err != nil {
		return err
	}
	n := copy(buf, data)
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// allocData finds and marks the next data sector after track/sector,
// wrapping to track 1 once.
func (img *Image) allocData(track, sector int) (byte, byte, error) {
	t, s, ok := img.NextFree(track, sector)
	if !ok {
		t, s, ok = img.NextFree(1, 0)
	}
	if !ok {
		return 0, 0, cbmerr.New(cbmerr.DiskFull)
	}
	if err := img.Allocate(t, s); err != nil {
		return 0, 0, err
	}
	return byte(t), byte(s), nil
}

// dirSlot returns a free directory slot, linking a new directory sector
// on track 18 when all are taken.
func (img *Image) dirSlot() (t, s byte, idx int, err error) {
	var lastT, lastS int
	visited := map[uint16]bool{}
	ct, cs := DirTrack, firstDirSect
	for ct != 0 {
		key := uint16(ct<<8 | cs)
		if visited[key] {
			return 0, 0, 0, cbmerr.WithTS(cbmerr.DirError, byte(ct), byte(cs))
		}
		visited[key] = true
		buf, err := img.Sector(ct, cs)
		if err != nil {
			return 0, 0, 0, err
		}
		for i := 0; i < 8; i++ {
			if buf[i*32+2] == 0 {
				return byte(ct), byte(cs), i, nil
			}
		}
		lastT, lastS = ct, cs
		ct, cs = int(buf[0]), int(buf[1])
	}

	for ns := 0; ns < SectorsOnTrack(DirTrack); ns++ {
		if free, _ := img.BlockFree(DirTrack, ns); !free {
			continue
		}
		if err := img.Allocate(DirTrack, ns); err != nil {
			return 0, 0, 0, err
		}
		last, _ := img.Sector(lastT, lastS)
		last[0], last[1] = DirTrack, byte(ns)
		buf, _ := img.Sector(DirTrack, ns)
		for i := range buf {
			buf[i] = 0
		}
		buf[1] = 0xFF
		return DirTrack, byte(ns), 0, nil
	}
	return 0, 0, 0, cbmerr.New(cbmerr.DiskFull)
}

// WriteFile stores data as a new, closed file of the given CBM type.
// An existing name fails with FILE EXISTS.
func (img *Image) WriteFile(name string, ftype int, data []byte) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "no file name")
	}
	if len(name) > 16 {
		return cbmerr.Errorf(cbmerr.NameTooLong, "%q has more than 16 characters", name)
	}
	if _, ok := img.Lookup(name); ok {
		return cbmerr.Errorf(cbmerr.FileExists, "%s exists", name)
	}
	blocks := (len(data) + dataBytesPerSector - 1) / dataBytesPerSector
	if blocks == 0 {
		blocks = 1
	}
	if blocks > img.FreeBlocks() {
		return cbmerr.New(cbmerr.DiskFull)
	}

	dt, ds, di, err := img.dirSlot()
	if err != nil {
		return err
	}
	// Files start on the track below the directory, as the drive does.
	t, s, err := img.allocData(DirTrack-1, 0)
	if err != nil {
		return err
	}
	startT, startS := t, s
	for i := 0; i < blocks; i++ {
		chunk := data[min(i*dataBytesPerSector, len(data)):min((i+1)*dataBytesPerSector, len(data))]
		buf, _ := img.Sector(int(t), int(s))
		for j := range buf {
			buf[j] = 0
		}
		copy(buf[2:], chunk)
		if i == blocks-1 {
			buf[0], buf[1] = 0, byte(len(chunk)+1)
			break
		}
		nt, ns, err := img.allocData(int(t), int(s))
		if err != nil {
			return err
		}
		buf[0], buf[1] = nt, ns
		t, s = nt, ns
	}

	dir, _ := img.Sector(int(dt), int(ds))
	slot := dir[di*32 : (di+1)*32]
	for j := 2; j < 32; j++ {
		slot[j] = 0
	}
	slot[2] = flagClosed | byte(ftype&0x07)
	slot[3], slot[4] = startT, startS
	copy(slot[5:21], encodeD64Name(name, 16))
	binary.LittleEndian.PutUint16(slot[30:32], uint16(blocks))

	fe := &FileEntry{
		Name: name, Type: byte(ftype & 0x07), Blocks: uint16(blocks),
		StartTrack: startT, StartSector: startS,
		dirTrack: dt, dirSector: ds, dirIndex: di,
	}
	if err := img.parseFileChain(fe); err != nil {
		return cbmerr.Wrap(cbmerr.WriteError, err)
	}
	img.addEntry(fe)
	return nil
}

// DeleteFile frees the sectors of a file and clears its directory slot.
// Locked files are kept.
func (img *Image) DeleteFile(name string) error {
	fe, ok := img.Lookup(name)
	if !ok {
		return cbmerr.Errorf(cbmerr.FileNotFound, "%s not found", name)
	}
	if fe.Locked {
		return cbmerr.Errorf(cbmerr.WriteProtect, "%s is locked", fe.Name)
	}
	for _, sr := range fe.Sectors {
		if err := img.Release(int(sr.Track), int(sr.Sector)); err != nil {
			return err
		}
	}
	dir, err := img.Sector(int(fe.dirTrack), int(fe.dirSector))
	if err != nil {
		return err
	}
	dir[fe.dirIndex*32+2] = 0
	img.removeEntry(fe)
	return nil
}

// RenameFile changes the name in a directory entry.
func (img *Image) RenameFile(from, to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "no new name")
	}
	if len(to) > 16 {
		return cbmerr.Errorf(cbmerr.NameTooLong, "%q has more than 16 characters", to)
	}
	fe, ok := img.Lookup(from)
	if !ok {
		return cbmerr.Errorf(cbmerr.FileNotFound, "%s not found", from)
	}
	if other, ok := img.Lookup(to); ok && other != fe {
		return cbmerr.Errorf(cbmerr.FileExists, "%s exists", to)
	}
	dir, err := img.Sector(int(fe.dirTrack), int(fe.dirSector))
	if err != nil {
		return err
	}
	copy(dir[fe.dirIndex*32+5:fe.dirIndex*32+21], encodeD64Name(to, 16))
	img.removeEntry(fe)
	fe.Name = petsciiToASCIIName(encodeD64Name(to, 16))
	img.addEntry(fe)
	return nil
}

func (img *Image) removeEntry(fe *FileEntry) {
	delete(img.byName, strings.ToUpper(fe.Name))
	for i, f := range img.Files {
		if f == fe {
			img.Files = append(img.Files[:i], img.Files[i+1:]...)
			break
		}
	}
}
