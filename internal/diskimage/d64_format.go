package diskimage

import "strings"

// FormatD64 returns a blank, formatted 35 track image with the given disk
// name and two character id, as NEW"NAME,ID" produces it.
func FormatD64(name, id string) []byte {
	img := &Image{Kind: KindD64, Tracks: 35, data: make([]byte, Std1541Sectors*sectorSize), geo: geometries[KindD64]}

	bam, _ := img.Sector(DirTrack, bamSector)
	bam[0], bam[1] = DirTrack, firstDirSect
	bam[2] = 'A'
	for t := 1; t <= 35; t++ {
		n := SectorsOnTrack(t)
		e := bam[4*t : 4*t+4]
		e[0] = byte(n)
		for s := 0; s < n; s++ {
			e[1+s/8] |= 1 << (s % 8)
		}
	}
	// BAM and the first directory sector are in use.
	e := bam[4*DirTrack : 4*DirTrack+4]
	e[0] -= 2
	e[1] &^= 1<<bamSector | 1<<firstDirSect

	copy(bam[0x90:0xA0], encodeD64Name(name, 16))
	bam[0xA0], bam[0xA1] = 0xA0, 0xA0
	copy(bam[0xA2:0xA4], encodeD64Name(id, 2))
	bam[0xA4] = 0xA0
	bam[0xA5], bam[0xA6] = '2', 'A'
	for i := 0xA7; i <= 0xAA; i++ {
		bam[i] = 0xA0
	}

	dir, _ := img.Sector(DirTrack, firstDirSect)
	dir[1] = 0xFF
	return img.data
}

// WriteD64 formats the image at path in place.
func WriteD64(path, name, id string) error {
	Forget(path)
	return writeFileAtomic(path, FormatD64(name, id))
}

func encodeD64Name(name string, n int) []byte {
	s := strings.ToUpper(strings.TrimSpace(name))
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xA0
	}
	for i := 0; i < len(s) && i < n; i++ {
		c := s[i]
		if c < 0x20 || c > 0x7E || c == ',' || c == ':' {
			c = '_'
		}
		b[i] = c
	}
	return b
}
