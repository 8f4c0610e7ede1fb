package diskimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cbmbridge/internal/cbmerr"
)

// Image is a parsed Commodore disk image (.d64, .d71 or .d81) held in
// memory.
//
// Notes:
//   - Directories are flat; 1581 partitions are listed as CBM files.
//   - Only 1541 images can be changed, see Edit.
//   - REL files are read as a plain byte stream (side sectors are skipped).
//   - Images with error bytes are accepted; the error bytes are dropped.
//   - 40 and 42 track .d64 images are read, but free blocks are counted
//     on tracks 1..35 only, as the drive does.

const (
	sectorSize         = 256
	dataBytesPerSector = 254
	maxTracksSupported = 42

	DirTrack     = 18
	bamSector    = 0
	firstDirSect = 1

	// Directory entry flags in the type byte.
	flagClosed = 0x80
	flagLocked = 0x40
)

// Std1541Sectors is the sector count of a 35 track image.
const Std1541Sectors = 683

// SectorRef references one sector of a file chain.
type SectorRef struct {
	Track   byte
	Sector  byte
	DataLen int // data bytes used, link bytes not counted
}

// FileEntry is one directory entry of an image.
type FileEntry struct {
	Name        string
	Type        byte // low 3 bits of the CBM file type (0=DEL .. 4=REL)
	Locked      bool
	Splat       bool // not closed properly
	Size        uint64
	Blocks      uint16
	StartTrack  byte
	StartSector byte
	Sectors     []SectorRef
	starts      []uint64 // cumulative byte offsets per sector

	// directory slot holding the entry
	dirTrack, dirSector byte
	dirIndex            int
}

type Image struct {
	Path    string
	ModTime time.Time
	Kind    Kind
	Tracks  int

	DiskName string
	DiskID   string

	Files  []*FileEntry
	byName map[string]*FileEntry

	data []byte // raw sector data without error bytes
	geo  *geometry
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	img     *Image
}

var imageCache sync.Map // path -> cacheEntry

// LoadD64 loads and parses a 1541 image.
func LoadD64(path string) (*Image, error) {
	return Load(path, KindD64)
}

// Load loads and parses an image of the given kind. Parsed images are
// cached until the file's mtime or size changes.
func Load(path string, kind Kind) (*Image, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, cbmerr.Errorf(cbmerr.FileTypeMismatch, "%s is a directory", path)
	}

	if v, ok := imageCache.Load(path); ok {
		ce := v.(cacheEntry)
		if ce.modTime.Equal(fi.ModTime()) && ce.size == fi.Size() && ce.img.Kind == kind {
			return ce.img, nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Parse(raw, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	img.ModTime = fi.ModTime()
	imageCache.Store(path, cacheEntry{modTime: fi.ModTime(), size: fi.Size(), img: img})
	return img, nil
}

// Forget drops a cached image so the next Load parses it again.
func Forget(path string) {
	imageCache.Delete(path)
}

// ParseD64 parses raw 1541 image bytes.
func ParseD64(raw []byte) (*Image, error) {
	return Parse(raw, KindD64)
}

// Parse parses raw image bytes of the given kind.
func Parse(raw []byte, kind Kind) (*Image, error) {
	geo, ok := geometries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown image kind %s", kind)
	}
	sizeBytes, tracks, err := detectLayout(kind, int64(len(raw)))
	if err != nil {
		return nil, err
	}
	img := &Image{
		Kind:   kind,
		Tracks: tracks,
		byName: map[string]*FileEntry{},
		data:   raw[:sizeBytes],
		geo:    geo,
	}

	hdr, err := img.Sector(geo.dirTrack, geo.header)
	if err != nil {
		return nil, err
	}
	img.DiskName = petsciiToASCIIName(hdr[geo.nameOff : geo.nameOff+16])
	img.DiskID = petsciiToASCIIName(hdr[geo.idOff : geo.idOff+5])

	visited := map[uint16]bool{}
	t, s := geo.dirTrack, geo.firstDir
	for t != 0 {
		key := uint16(t<<8 | s)
		if visited[key] {
			return nil, cbmerr.WithTS(cbmerr.DirError, byte(t), byte(s))
		}
		visited[key] = true

		buf, err := img.Sector(t, s)
		if err != nil {
			return nil, fmt.Errorf("read dir sector: %w", err)
		}

		// 8 slots of 32 bytes; bytes 0..1 of the sector are the link.
		for i := 0; i < 8; i++ {
			slot := buf[i*32 : (i+1)*32]
			ft := slot[2]
			if ft == 0 {
				continue
			}
			fe := &FileEntry{
				Name:        petsciiToASCIIName(slot[5:21]),
				Type:        ft & 0x07,
				Locked:      ft&flagLocked != 0,
				Splat:       ft&flagClosed == 0,
				Blocks:      binary.LittleEndian.Uint16(slot[30:32]),
				StartTrack:  slot[3],
				StartSector: slot[4],
				dirTrack:    byte(t),
				dirSector:   byte(s),
				dirIndex:    i,
			}
			if fe.Name == "" {
				fe.Name = "NONAME"
			}
			if fe.StartTrack != 0 {
				// A broken chain hides the entry rather than the image.
				if err := img.parseFileChain(fe); err != nil {
					continue
				}
			}
			img.addEntry(fe)
		}
		t, s = int(buf[0]), int(buf[1])
	}
	return img, nil
}

func (img *Image) addEntry(fe *FileEntry) {
	key := strings.ToUpper(fe.Name)
	if _, exists := img.byName[key]; exists {
		for n := 2; ; n++ {
			cand := fmt.Sprintf("%s~%d", fe.Name, n)
			if _, taken := img.byName[strings.ToUpper(cand)]; !taken {
				fe.Name = cand
				key = strings.ToUpper(cand)
				break
			}
		}
	}
	img.Files = append(img.Files, fe)
	img.byName[key] = fe
}

// SectorsOnTrack returns the sector count of a 1541 track, 0 for an
// invalid track number.
func SectorsOnTrack(t int) int {
	switch {
	case t >= 1 && t <= 17:
		return 21
	case t >= 18 && t <= 24:
		return 19
	case t >= 25 && t <= 30:
		return 18
	case t >= 31 && t <= maxTracksSupported:
		return 17
	}
	return 0
}

func (img *Image) offset(track, sector int) (int, error) {
	if track < 1 || track > img.Tracks || sector < 0 || sector >= img.geo.sectors(track) {
		return 0, cbmerr.WithTS(cbmerr.IllegalTS, byte(track), byte(sector))
	}
	off := 0
	for t := 1; t < track; t++ {
		off += img.geo.sectors(t) * sectorSize
	}
	return off + sector*sectorSize, nil
}

// Sector returns the 256 bytes of one sector. The slice aliases the image;
// callers must copy before modifying it.
func (img *Image) Sector(track, sector int) ([]byte, error) {
	off, err := img.offset(track, sector)
	if err != nil {
		return nil, err
	}
	return img.data[off : off+sectorSize], nil
}

// BlockFree reports the BAM state of a sector.
func (img *Image) BlockFree(track, sector int) (bool, error) {
	if _, err := img.offset(track, sector); err != nil {
		return false, err
	}
	if track > img.geo.bamTracks {
		// Extended tracks have no standard BAM entry.
		return false, nil
	}
	_, bits := img.geo.bam(img, track)
	return bits[sector/8]&(1<<(sector%8)) != 0, nil
}

// NextFree returns the first free sector at or after track/sector in the
// order the drive searches: rest of this track, then following tracks,
// skipping the directory and BAM tracks.
func (img *Image) NextFree(track, sector int) (int, int, bool) {
	for t := track; t <= img.geo.bamTracks; t++ {
		if img.geo.isReserved(t) {
			continue
		}
		start := 0
		if t == track {
			start = sector
		}
		for s := start; s < img.geo.sectors(t); s++ {
			if free, _ := img.BlockFree(t, s); free {
				return t, s, true
			}
		}
	}
	return 0, 0, false
}

// FreeBlocks sums the BAM free counts without the directory and BAM
// tracks.
func (img *Image) FreeBlocks() int {
	n := 0
	for t := 1; t <= img.geo.bamTracks; t++ {
		if !img.geo.isReserved(t) {
			cnt, _ := img.geo.bam(img, t)
			n += int(*cnt)
		}
	}
	return n
}

func petsciiToASCIIName(b []byte) string {
	// Names are padded with shifted space (0xA0).
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == 0xA0:
			out = append(out, ' ')
		case c >= 0x20 && c <= 0x7E:
			if c == '/' || c == '\\' || c == ':' {
				c = '_'
			}
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return strings.TrimSpace(string(out))
}

func (img *Image) parseFileChain(fe *FileEntry) error {
	visited := map[uint16]bool{}
	t, s := int(fe.StartTrack), int(fe.StartSector)
	var size uint64
	for {
		key := uint16(t<<8 | s)
		if visited[key] {
			return errors.New("loop in chain")
		}
		visited[key] = true

		buf, err := img.Sector(t, s)
		if err != nil {
			return err
		}
		nextT, nextS := int(buf[0]), int(buf[1])
		dataLen := dataBytesPerSector
		if nextT == 0 {
			// The last sector stores the index of its last used byte.
			dataLen = nextS - 1
			if dataLen < 0 || dataLen > dataBytesPerSector {
				dataLen = dataBytesPerSector
			}
		}
		fe.starts = append(fe.starts, size)
		fe.Sectors = append(fe.Sectors, SectorRef{Track: byte(t), Sector: byte(s), DataLen: dataLen})
		size += uint64(dataLen)

		if nextT == 0 {
			break
		}
		t, s = nextT, nextS
		if len(fe.Sectors) > len(img.data)/sectorSize {
			return errors.New("chain too long")
		}
	}
	fe.Size = size
	return nil
}

func detectD64Layout(fileSize int64) (sizeBytes int64, tracks int, err error) {
	if fileSize <= 0 {
		return 0, 0, errors.New("empty image")
	}

	var sectors int64
	switch {
	case fileSize%257 == 0:
		// 256 bytes of data plus one error byte per sector.
		sectors = fileSize / 257
	case fileSize%256 == 0:
		sectors = fileSize / 256
	default:
		return 0, 0, fmt.Errorf("unsupported .d64 size %d", fileSize)
	}
	sizeBytes = sectors * sectorSize

	if sectors < Std1541Sectors {
		return 0, 0, fmt.Errorf("unsupported .d64: too few sectors (%d)", sectors)
	}
	extra := sectors - Std1541Sectors
	if extra%17 != 0 {
		return 0, 0, fmt.Errorf("unsupported .d64 sector count (%d)", sectors)
	}
	tracks = 35 + int(extra/17)
	if tracks > maxTracksSupported {
		return 0, 0, fmt.Errorf("unsupported .d64 tracks (%d)", tracks)
	}
	return sizeBytes, tracks, nil
}

// Lookup returns an entry by name, ignoring case.
func (img *Image) Lookup(name string) (*FileEntry, bool) {
	fe, ok := img.byName[strings.ToUpper(name)]
	return fe, ok
}

// SortedEntries returns the entries in directory order.
func (img *Image) SortedEntries() []*FileEntry {
	out := make([]*FileEntry, len(img.Files))
	copy(out, img.Files)
	return out
}

// Open returns a reader over the data of fe.
func (img *Image) Open(fe *FileEntry) *FileReader {
	return &FileReader{img: img, fe: fe}
}

// FileReader reads a file by following its pre-parsed sector chain.
type FileReader struct {
	img *Image
	fe  *FileEntry
	off uint64
}

func (r *FileReader) Read(p []byte) (int, error) {
	if r.off >= r.fe.Size {
		return 0, io.EOF
	}
	idx := sort.Search(len(r.fe.starts), func(i int) bool { return r.fe.starts[i] > r.off }) - 1
	n := 0
	for idx < len(r.fe.Sectors) && n < len(p) && r.off < r.fe.Size {
		sec := r.fe.Sectors[idx]
		buf, err := r.img.Sector(int(sec.Track), int(sec.Sector))
		if err != nil {
			return n, err
		}
		in := r.off - r.fe.starts[idx]
		k := copy(p[n:], buf[2+in:2+sec.DataLen])
		n += k
		r.off += uint64(k)
		idx++
	}
	return n, nil
}

func (r *FileReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(r.off) + offset
	case io.SeekEnd:
		abs = int64(r.fe.Size) + offset
	default:
		return 0, cbmerr.Errorf(cbmerr.SyntaxInval, "bad whence %d", whence)
	}
	if abs < 0 {
		return 0, cbmerr.Errorf(cbmerr.SyntaxInval, "negative offset")
	}
	r.off = uint64(abs)
	return abs, nil
}

// Size returns the file length in bytes.
func (r *FileReader) Size() uint64 {
	return r.fe.Size
}
