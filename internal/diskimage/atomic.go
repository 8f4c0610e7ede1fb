package diskimage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// imageMode is used for images that do not exist yet.
const imageMode fs.FileMode = 0o644

// writeFileAtomic replaces the image at path through a temp file in the
// same directory. An existing image keeps its permission bits.
func writeFileAtomic(path string, data []byte) (err error) {
	mode := imageMode
	if fi, serr := os.Stat(path); serr == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cbmbridge-*.d64")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
