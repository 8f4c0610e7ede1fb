package diskimage

import (
	"errors"
	"fmt"
)

// Kind is the drive an image was made for.
type Kind int

const (
	KindD64 Kind = iota // 1541, 35 to 42 tracks
	KindD71             // 1571, both sides of a 1541 disk
	KindD81             // 1581, 80 tracks of 40 sectors
)

func (k Kind) String() string {
	switch k {
	case KindD64:
		return "d64"
	case KindD71:
		return "d71"
	case KindD81:
		return "d81"
	}
	return fmt.Sprintf("kind%d", int(k))
}

// geometry describes where an image keeps its header, directory and BAM.
type geometry struct {
	sectors  func(track int) int
	dirTrack int
	header   int // sector of the disk name and id on dirTrack
	firstDir int
	nameOff  int
	idOff    int
	// BAM covers tracks 1..bamTracks; reserved tracks are not counted
	// as free space.
	bamTracks int
	reserved  []int
	bam       func(img *Image, track int) (count *byte, bits []byte)
}

var geometries = map[Kind]*geometry{
	KindD64: {
		sectors:   SectorsOnTrack,
		dirTrack:  DirTrack,
		header:    bamSector,
		firstDir:  firstDirSect,
		nameOff:   0x90,
		idOff:     0xA2,
		bamTracks: 35,
		reserved:  []int{DirTrack},
		bam:       bam1541,
	},
	KindD71: {
		sectors: func(t int) int {
			if t > 35 && t <= 70 {
				return SectorsOnTrack(t - 35)
			}
			if t > 35 {
				return 0
			}
			return SectorsOnTrack(t)
		},
		dirTrack:  DirTrack,
		header:    bamSector,
		firstDir:  firstDirSect,
		nameOff:   0x90,
		idOff:     0xA2,
		bamTracks: 70,
		reserved:  []int{DirTrack, DirTrack + 35},
		bam:       bam1571,
	},
	KindD81: {
		sectors: func(t int) int {
			if t >= 1 && t <= 80 {
				return 40
			}
			return 0
		},
		dirTrack:  40,
		header:    0,
		firstDir:  3,
		nameOff:   0x04,
		idOff:     0x16,
		bamTracks: 80,
		reserved:  []int{40},
		bam:       bam1581,
	},
}

func bam1541(img *Image, t int) (*byte, []byte) {
	bam, _ := img.Sector(DirTrack, bamSector)
	return &bam[4*t], bam[4*t+1 : 4*t+4]
}

// bam1571 keeps side one like a 1541. The free counts of side two follow
// at 0xDD in 18/0, their bitmaps fill 53/0.
func bam1571(img *Image, t int) (*byte, []byte) {
	if t <= 35 {
		return bam1541(img, t)
	}
	bam, _ := img.Sector(DirTrack, bamSector)
	ext, _ := img.Sector(DirTrack+35, bamSector)
	i := t - 36
	return &bam[0xDD+i], ext[3*i : 3*i+3]
}

// bam1581 uses 40/1 for tracks 1..40 and 40/2 for 41..80, six bytes per
// track from offset 0x10: free count and a 40 bit map.
func bam1581(img *Image, t int) (*byte, []byte) {
	s := 1
	if t > 40 {
		s = 2
	}
	buf, _ := img.Sector(40, s)
	e := 0x10 + (t-1)%40*6
	return &buf[e], buf[e+1 : e+6]
}

func (g *geometry) isReserved(t int) bool {
	for _, r := range g.reserved {
		if r == t {
			return true
		}
	}
	return false
}

// Standard sector counts.
const (
	Std1571Sectors = 2 * Std1541Sectors
	Std1581Sectors = 80 * 40
)

// detectLayout checks the size of a raw image and returns the bytes of
// sector data (error bytes cut off) and the track count.
func detectLayout(kind Kind, fileSize int64) (sizeBytes int64, tracks int, err error) {
	if kind == KindD64 {
		return detectD64Layout(fileSize)
	}
	if fileSize <= 0 {
		return 0, 0, errors.New("empty image")
	}
	want, tracks := int64(Std1571Sectors), 70
	if kind == KindD81 {
		want, tracks = Std1581Sectors, 80
	}
	switch fileSize {
	case want * sectorSize, want * (sectorSize + 1):
		return want * sectorSize, tracks, nil
	}
	return 0, 0, fmt.Errorf("unsupported .%s size %d", kind, fileSize)
}
