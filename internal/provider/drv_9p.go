package provider

import (
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"9fans.net/go/plan9"
	"9fans.net/go/plan9/client"

	"cbmbridge/internal/cbmerr"
)

// nineTree is a Tree on a 9P2000 file server.
type nineTree struct {
	conn *client.Conn
	fsys *client.Fsys
}

// dialString turns a Plan 9 dial string ("tcp!host!564", "unix!/tmp/ns")
// or a plain "host:port" into arguments for net.Dial.
func dialString(s string) (network, addr string) {
	f := strings.Split(s, "!")
	switch {
	case len(f) == 3:
		return f[0], net.JoinHostPort(f[1], f[2])
	case len(f) == 2 && f[0] == "unix":
		return "unix", f[1]
	case len(f) == 2:
		return f[0], net.JoinHostPort(f[1], "564")
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return "tcp", net.JoinHostPort(s, "564")
	}
	return "tcp", s
}

// Dial9P connects to a 9P server and attaches to aname as user.
func Dial9P(dial, user, aname string) (Tree, error) {
	network, addr := dialString(dial)
	nc, err := net.DialTimeout(network, addr, 10*time.Second)
	if err != nil {
		return nil, cbmerr.Wrap(cbmerr.DriveNotReady, err)
	}
	return Attach9P(nc, user, aname)
}

// Attach9P runs the 9P version and attach exchange on an existing
// connection.
func Attach9P(rwc io.ReadWriteCloser, user, aname string) (Tree, error) {
	c, err := client.NewConn(rwc)
	if err != nil {
		rwc.Close()
		return nil, cbmerr.Wrap(cbmerr.DriveNotReady, err)
	}
	fsys, err := c.Attach(nil, user, aname)
	if err != nil {
		c.Close()
		return nil, nineError(err)
	}
	return &nineTree{conn: c, fsys: fsys}, nil
}

// nineError maps the error strings of common 9P servers onto the CBM
// codes. 9P carries no error numbers, so this is a best effort.
func nineError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	code := cbmerr.Fault
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "no such file"):
		code = cbmerr.FileNotFound
	case strings.Contains(msg, "exists"):
		code = cbmerr.FileExists
	case strings.Contains(msg, "not empty"):
		code = cbmerr.DirNotEmpty
	case strings.Contains(msg, "read-only"), strings.Contains(msg, "read only"):
		code = cbmerr.WriteProtect
	case strings.Contains(msg, "permission"):
		code = cbmerr.NoPermission
	case strings.Contains(msg, "is a directory"), strings.Contains(msg, "not a directory"):
		code = cbmerr.FileTypeMismatch
	case strings.Contains(msg, "too long"):
		code = cbmerr.NameTooLong
	case strings.Contains(msg, "no space"), strings.Contains(msg, "full"):
		code = cbmerr.DiskFull
	}
	return cbmerr.Wrap(code, err)
}

// dirInfo adapts a 9P stat record to fs.FileInfo.
type dirInfo struct {
	d *plan9.Dir
}

func (i dirInfo) Name() string       { return i.d.Name }
func (i dirInfo) Size() int64        { return int64(i.d.Length) }
func (i dirInfo) ModTime() time.Time { return time.Unix(int64(i.d.Mtime), 0) }
func (i dirInfo) IsDir() bool        { return i.d.Mode&plan9.DMDIR != 0 }
func (i dirInfo) Sys() any           { return i.d }

func (i dirInfo) Mode() fs.FileMode {
	m := fs.FileMode(i.d.Mode & 0o777)
	if i.IsDir() {
		m |= fs.ModeDir
	}
	return m
}

func (n *nineTree) Stat(p string) (fs.FileInfo, error) {
	d, err := n.fsys.Stat(p)
	if err != nil {
		return nil, nineError(err)
	}
	return dirInfo{d}, nil
}

func (n *nineTree) List(dir string) ([]fs.FileInfo, error) {
	fid, err := n.fsys.Open(dir, plan9.OREAD)
	if err != nil {
		return nil, nineError(err)
	}
	defer fid.Close()
	dirs, err := fid.Dirreadall()
	if err != nil && err != io.EOF {
		return nil, nineError(err)
	}
	out := make([]fs.FileInfo, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, dirInfo{d})
	}
	return out, nil
}

// nineFile wraps a fid so errors carry CBM codes.
type nineFile struct {
	fid *client.Fid
}

func (f nineFile) Read(p []byte) (int, error) {
	n, err := f.fid.Read(p)
	if err == io.EOF || (err == nil && n == 0 && len(p) > 0) {
		return n, io.EOF
	}
	if err != nil {
		return n, nineError(err)
	}
	return n, nil
}

func (f nineFile) Write(p []byte) (int, error) {
	n, err := f.fid.Write(p)
	if err != nil {
		return n, nineError(err)
	}
	return n, nil
}

func (f nineFile) Seek(off int64, whence int) (int64, error) {
	n, err := f.fid.Seek(off, whence)
	if err != nil {
		return n, nineError(err)
	}
	return n, nil
}

func (f nineFile) Close() error {
	return nineError(f.fid.Close())
}

func (n *nineTree) OpenFile(p string, flag int) (File, error) {
	var mode uint8
	switch {
	case flag&os.O_RDWR != 0:
		mode = plan9.ORDWR
	case flag&os.O_WRONLY != 0:
		mode = plan9.OWRITE
	default:
		mode = plan9.OREAD
	}
	if flag&os.O_TRUNC != 0 {
		mode |= plan9.OTRUNC
	}

	var fid *client.Fid
	var err error
	if flag&os.O_CREATE != 0 {
		if _, serr := n.fsys.Stat(p); serr == nil {
			if flag&os.O_EXCL != 0 {
				return nil, cbmerr.Errorf(cbmerr.FileExists, "%s exists", p)
			}
			fid, err = n.fsys.Open(p, mode)
		} else {
			fid, err = n.fsys.Create(p, mode, 0o644)
		}
	} else {
		fid, err = n.fsys.Open(p, mode)
	}
	if err != nil {
		return nil, nineError(err)
	}
	if flag&os.O_APPEND != 0 {
		if _, err := fid.Seek(0, io.SeekEnd); err != nil {
			fid.Close()
			return nil, nineError(err)
		}
	}
	return nineFile{fid}, nil
}

// Rename uses wstat, which can only rename within a directory; moves to
// another directory copy the file and remove the original.
func (n *nineTree) Rename(from, to string) error {
	if _, err := n.fsys.Stat(to); err == nil {
		return cbmerr.Errorf(cbmerr.FileExists, "%s exists", to)
	}
	if path.Dir(from) == path.Dir(to) {
		d := plan9.Dir{}
		d.Null()
		d.Name = path.Base(to)
		return nineError(n.fsys.Wstat(from, &d))
	}

	src, err := n.OpenFile(from, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := n.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return n.Remove(from)
}

func (n *nineTree) Remove(p string) error {
	return nineError(n.fsys.Remove(p))
}

func (n *nineTree) Mkdir(p string) error {
	fid, err := n.fsys.Create(p, plan9.OREAD, plan9.DMDIR|0o755)
	if err != nil {
		return nineError(err)
	}
	return nineError(fid.Close())
}

func (n *nineTree) Rmdir(p string) error {
	return nineError(n.fsys.Remove(p))
}

// Free is unknown over 9P; listings show 0 blocks free.
func (n *nineTree) Free() (uint64, error) {
	return 0, nil
}

func (n *nineTree) Close() error {
	n.fsys.Close()
	return n.conn.Close()
}

// New9P creates a provider from "dial[/aname]", e.g.
// "tcp!fileserver!564/c64" attaches to the tree "c64".
func New9P(arg string, opts Options) (Provider, error) {
	dial, aname := arg, ""
	if i := strings.IndexByte(arg, '/'); i > 0 && !strings.HasPrefix(arg, "unix!") {
		dial, aname = arg[:i], arg[i+1:]
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "none"
	}
	t, err := Dial9P(dial, user, aname)
	if err != nil {
		return nil, err
	}
	label := strings.ToUpper(aname)
	if label == "" {
		label = "9P"
	}
	return newTreeProvider(t, label, opts), nil
}

// init registers our driver, by name.
func init() {
	Register("9p", New9P)
}
