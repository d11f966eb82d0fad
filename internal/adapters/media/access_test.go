package media

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeniedAll(t *testing.T) {
	denied := func(p string) error { return &fs.PathError{Op: "open", Path: p, Err: fs.ErrPermission} }
	missing := func(p string) error { return &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist} }
	ok := func(string) error { return nil }

	assert.False(t, deniedAll(nil, denied))
	assert.True(t, deniedAll([]string{"/dev/video0", "/dev/video1"}, denied))
	assert.False(t, deniedAll([]string{"/dev/video0"}, missing))

	mixed := func(p string) error {
		if p == "/dev/video1" {
			return ok(p)
		}
		return denied(p)
	}
	assert.False(t, deniedAll([]string{"/dev/video0", "/dev/video1"}, mixed))
}

func TestNodesDeniedWithoutNodes(t *testing.T) {
	assert.False(t, nodesDenied(filepath.Join(t.TempDir(), "video*")))
}
