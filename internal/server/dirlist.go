package server

import (
	"math"
	"strings"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/pathutil"
	"cbmbridge/internal/proto"
	"cbmbridge/internal/provider"
)

// openDir builds the whole listing for an OPEN_DR up front: a header
// record, one record per matching entry and the free space trailer.
func (s *Server) openDir(ch *channel, ni *nameinfo.NameInfo) error {
	p, named, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	dir, pat := splitDirBase(string(ni.Target.Name))
	pat, ft := splitDirFilter(pat)
	if pat == "" {
		pat = "*"
	}
	if pathutil.HasWildcard(dir) {
		return cbmerr.Errorf(cbmerr.SyntaxPattern, "wildcards are only allowed in the last path segment")
	}
	list, err := p.ReadDir(dir)
	if err != nil {
		return err
	}
	free, err := p.Free()
	if err != nil {
		return err
	}
	ch.prov = p
	ch.dir = s.dirRecords(p.Label(), named, list, pat, ft, free)
	return nil
}

func (s *Server) dirRecords(label string, named bool, list []provider.Entry, pat string, ft nameinfo.FileType, free uint64) [][]byte {
	head, tail := proto.ModeNAM, proto.ModeFRE
	if named {
		head, tail = proto.ModeNAS, proto.ModeFRS
	}
	now := proto.DateTimeFromTime(s.now())

	recs := [][]byte{(&proto.DirEntry{Date: now, Mode: head, Name: []byte(label)}).AppendTo(nil)}

	upat := []byte(strings.ToUpper(pat))
	for _, e := range list {
		if !nameinfo.ComparePattern([]byte(strings.ToUpper(e.Name)), upat, s.advanced) {
			continue
		}
		if !e.Dir && !typeMatches(e.Type, ft) {
			continue
		}
		if e.Dir && ft != nameinfo.FileTypeNone {
			continue
		}
		recs = append(recs, entryRecord(e))
	}

	if free > math.MaxUint32 {
		free = math.MaxUint32
	}
	recs = append(recs, (&proto.DirEntry{Size: uint32(free), Date: now, Mode: tail}).AppendTo(nil))
	return recs
}

func entryRecord(e provider.Entry) []byte {
	de := proto.DirEntry{
		Date: proto.DateTimeFromTime(e.ModTime),
		Mode: proto.ModeFIL,
		Name: []byte(e.Name),
	}
	size := e.Size
	if size > math.MaxUint32 {
		size = math.MaxUint32
	}
	de.Size = uint32(size)
	if e.Dir {
		de.Mode = proto.ModeDIR
		return de.AppendTo(nil)
	}
	de.Attr = byte(e.Type) & proto.AttrTypeMask
	if e.Locked {
		de.Attr |= proto.AttrLocked
	}
	if e.Splat {
		de.Attr |= proto.AttrSplat
	}
	return de.AppendTo(nil)
}
