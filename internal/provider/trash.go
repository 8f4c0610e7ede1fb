package provider

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"cbmbridge/internal/cbmerr"
)

func (tp *treeProvider) trashDir() string {
	d := strings.TrimSpace(tp.opts.TrashDir)
	if d == "" {
		d = ".TRASH"
	}
	return d
}

// shouldUseTrash reports whether scratching p moves it to the trash.
// Nothing inside the trash itself is trashed again, so scratching there
// deletes for good.
func (tp *treeProvider) shouldUseTrash(p string) bool {
	if !tp.opts.TrashEnabled {
		return false
	}
	first := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(first, '/'); i >= 0 {
		first = first[:i]
	}
	return !strings.EqualFold(first, tp.trashDir())
}

func makeTrashID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), hex.EncodeToString(buf))
}

// moveToTrash renames p to /<trash>/<id>/<p> and returns the new path.
func (tp *treeProvider) moveToTrash(p string) (string, error) {
	for i := 0; i < 5; i++ {
		dst := path.Join("/", tp.trashDir(), makeTrashID(), p)
		if err := mkdirAll(tp.tree, path.Dir(dst)); err != nil {
			return "", err
		}
		err := tp.tree.Rename(p, dst)
		if cbmerr.CodeOf(err) == cbmerr.FileExists {
			continue
		}
		if err != nil {
			return "", err
		}
		return dst, nil
	}
	return "", cbmerr.Errorf(cbmerr.Fault, "failed to move %s to trash: too many name collisions", p)
}
