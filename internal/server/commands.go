package server

import (
	"errors"
	"io"
	"io/fs"
	"strings"

	log "github.com/sirupsen/logrus"

	"cbmbridge/internal/cbmerr"
	"cbmbridge/internal/nameinfo"
	"cbmbridge/internal/pathutil"
	"cbmbridge/internal/provider"
)

// hostName is the name that removes exactly entry e: the listed name plus
// its type extension.
func hostName(dir string, e provider.Entry) string {
	return joinDirBase(dir, e.Name+nameinfo.FiletypeToExtension(e.Type))
}

// removeEntry removes a listed file. Host files without a type extension
// are listed as PRG, so the bare name is tried when the typed one is
// missing.
func removeEntry(p provider.Provider, dir string, e provider.Entry) error {
	err := p.Remove(hostName(dir, e))
	if cbmerr.CodeOf(err) == cbmerr.FileNotFound {
		err = p.Remove(joinDirBase(dir, e.Name))
	}
	return err
}

// lookup finds the single file name refers to, resolving a pattern to its
// first match.
func (s *Server) lookup(p provider.Provider, name string) (string, provider.Entry, error) {
	if name == "" {
		return "", provider.Entry{}, cbmerr.Errorf(cbmerr.SyntaxNoName, "no file name")
	}
	dir, list, err := s.matchEntries(p, name, nameinfo.FileTypeNone)
	if err != nil {
		return "", provider.Entry{}, err
	}
	if len(list) == 0 {
		return "", provider.Entry{}, cbmerr.Errorf(cbmerr.FileNotFound, "%s not found", name)
	}
	return dir, list[0], nil
}

// copyInto appends the file e in dir on p to w.
func copyInto(w io.Writer, p provider.Provider, dir string, e provider.Entry) error {
	name, ft := typedName(dir, e)
	r, err := p.Open(name, provider.ModeRead, ft)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}

// copyFile copies e from p to name on q with the given mode, keeping the
// file type.
func copyFile(p provider.Provider, dir string, e provider.Entry, q provider.Provider, name string, mode provider.Mode) error {
	w, err := q.Open(name, mode, nameinfo.FiletypeToTag(e.Type))
	if err != nil {
		return err
	}
	err = copyInto(w, p, dir, e)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

// cmdRename renames the source to the target name. Across providers the
// file is copied and the source removed.
func (s *Server) cmdRename(ni *nameinfo.NameInfo) error {
	if ni.NumSources == 0 {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "RENAME needs NEW=OLD")
	}
	to := string(ni.Target.Name)
	from := string(ni.Sources[0].Name)
	if to == "" || from == "" {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "RENAME needs NEW=OLD")
	}
	if pathutil.HasWildcard(to) || pathutil.HasWildcard(from) {
		return cbmerr.Errorf(cbmerr.SyntaxPattern, "RENAME takes no wildcards")
	}
	src, _, err := s.drives.resolve(&ni.Sources[0])
	if err != nil {
		return err
	}
	dst, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	if src == dst {
		return dst.Rename(from, to)
	}

	dir, e, err := s.lookup(src, from)
	if err != nil {
		return err
	}
	if err := copyFile(src, dir, e, dst, to, provider.ModeWrite); err != nil {
		return err
	}
	return removeEntry(src, dir, e)
}

// cmdScratch removes every file the comma separated list names and
// answers FILES SCRATCHED with the count.
func (s *Server) cmdScratch(ni *nameinfo.NameInfo) error {
	def := ni.Target
	def.Name = nil
	items := splitNameList(def, string(ni.Target.Name))
	if len(items) == 0 {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "SCRATCH needs a file name")
	}

	count := 0
	for i := range items {
		it := &items[i]
		p, _, err := s.drives.resolve(it)
		if err != nil {
			return err
		}
		name := string(it.Name)
		if !pathutil.HasWildcard(name) {
			switch err := p.Remove(name); cbmerr.CodeOf(err) {
			case cbmerr.OK:
				count++
			case cbmerr.FileNotFound:
			default:
				return err
			}
			continue
		}
		dir, list, err := s.matchEntries(p, name, nameinfo.FileTypeNone)
		if err != nil {
			return err
		}
		for _, e := range list {
			if e.Locked {
				continue
			}
			if err := removeEntry(p, dir, e); err != nil {
				if cbmerr.CodeOf(err) == cbmerr.FileNotFound {
					continue
				}
				return err
			}
			count++
		}
	}
	if count > 255 {
		count = 255
	}
	log.WithFields(log.Fields{"files": count}).Debug("scratched")
	return cbmerr.WithTS(cbmerr.FilesScratched, byte(count), 0)
}

// cmdNew formats the target: "N0:NAME,ID".
func (s *Server) cmdNew(ni *nameinfo.NameInfo) error {
	p, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	f, ok := p.(provider.Formatter)
	if !ok {
		return cbmerr.Errorf(cbmerr.NoPermission, "%s cannot be formatted", p.Label())
	}
	label, id, _ := strings.Cut(string(ni.Target.Name), ",")
	s.closeChannelsOf(p)
	if err := f.Format(label, id); err != nil {
		return err
	}
	log.WithFields(log.Fields{"label": label, "id": id}).Info("formatted")
	return nil
}

// cmdValidate only checks that the drive is there; host storage needs no
// block map repair.
func (s *Server) cmdValidate(ni *nameinfo.NameInfo) error {
	_, _, err := s.drives.resolve(&ni.Target)
	return err
}

func (s *Server) cmdMkdir(ni *nameinfo.NameInfo) error {
	p, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	if len(ni.Target.Name) == 0 {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "MD needs a directory name")
	}
	return p.Mkdir(string(ni.Target.Name))
}

func (s *Server) cmdRmdir(ni *nameinfo.NameInfo) error {
	p, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	if len(ni.Target.Name) == 0 {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "RD needs a directory name")
	}
	return p.Rmdir(string(ni.Target.Name))
}

// cmdChdir changes the current directory; an empty name goes to the
// root, "_" one level up.
func (s *Server) cmdChdir(ni *nameinfo.NameInfo) error {
	p, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	dir := string(ni.Target.Name)
	if dir == "" {
		dir = "/"
	}
	if err := p.Chdir(dir); err != nil {
		return err
	}
	log.WithField("cwd", p.Cwd()).Debug("changed directory")
	return nil
}

// cmdCopy concatenates the sources into a new target file, whose type is
// the type of the first source. "C1=0" copies a whole drive.
func (s *Server) cmdCopy(ni *nameinfo.NameInfo) error {
	if ni.NumSources == 0 {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "COPY needs TARGET=SOURCE")
	}
	if !ni.Target.HasName() && !ni.Sources[0].HasName() {
		return s.cmdDuplicate(ni)
	}
	to := string(ni.Target.Name)
	if to == "" {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "COPY needs a target name")
	}
	if pathutil.HasWildcard(to) {
		return cbmerr.Errorf(cbmerr.SyntaxPattern, "wildcard in target %s", to)
	}
	dst, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}

	type source struct {
		p   provider.Provider
		dir string
		e   provider.Entry
	}
	var srcs []source
	for i := range ni.SourceList() {
		p, _, err := s.drives.resolve(&ni.Sources[i])
		if err != nil {
			return err
		}
		dir, e, err := s.lookup(p, string(ni.Sources[i].Name))
		if err != nil {
			return err
		}
		srcs = append(srcs, source{p, dir, e})
	}

	w, err := dst.Open(to, provider.ModeWrite, nameinfo.FiletypeToTag(srcs[0].e.Type))
	if err != nil {
		return err
	}
	for _, src := range srcs {
		if err = copyInto(w, src.p, src.dir, src.e); err != nil {
			break
		}
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

// cmdDuplicate copies every file in the current directory of the source
// drive to the target drive, replacing files of the same name.
func (s *Server) cmdDuplicate(ni *nameinfo.NameInfo) error {
	if ni.NumSources == 0 {
		return cbmerr.Errorf(cbmerr.SyntaxNoName, "DUPLICATE needs target=source")
	}
	tk, _ := s.drives.key(&ni.Target)
	sk, _ := s.drives.key(&ni.Sources[0])
	if tk == sk {
		return cbmerr.Errorf(cbmerr.SyntaxInval, "source and target are the same drive")
	}
	if s.opts.ReadOnly {
		return cbmerr.Errorf(cbmerr.NoPermission, "drives are read only")
	}
	src, _, err := s.drives.resolve(&ni.Sources[0])
	if err != nil {
		return err
	}
	dst, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	if src == dst {
		return cbmerr.Errorf(cbmerr.SyntaxInval, "source and target are the same provider")
	}
	list, err := src.ReadDir("")
	if err != nil {
		return err
	}
	n := 0
	for _, e := range list {
		if e.Dir {
			continue
		}
		if err := copyFile(src, "", e, dst, e.Name, provider.ModeOverwrite); err != nil {
			return err
		}
		n++
	}
	log.WithFields(log.Fields{"from": sk, "to": tk, "files": n}).Info("duplicated")
	return nil
}

// cmdInitialize closes the channels on the drive and drops cached state.
func (s *Server) cmdInitialize(ni *nameinfo.NameInfo) error {
	p, _, err := s.drives.resolve(&ni.Target)
	if err != nil {
		return err
	}
	s.closeChannelsOf(p)
	if r, ok := p.(provider.Refresher); ok {
		// A missing image stays DRIVE NOT READY until NEW.
		if err := r.Refresh(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *Server) closeChannelsOf(p provider.Provider) {
	for num, ch := range s.channels {
		if ch.prov == p {
			s.closeChannel(num)
		}
	}
}
