package media

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

const (
	videoNodes = "/dev/video*"
	audioNodes = "/dev/snd/pcmC*c"
)

// mediadevices skips a driver whose Open fails while querying properties, so
// a camera node returning EACCES reaches GetUserMedia's caller as "failed to
// find the best driver" rather than as a permission error.
func nodesDenied(pattern string) bool {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return false
	}
	return deniedAll(paths, openNode)
}

// deniedAll reports whether there is at least one node and every one of them
// fails to open with a permission error.
func deniedAll(paths []string, open func(string) error) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if err := open(p); !errors.Is(err, fs.ErrPermission) {
			return false
		}
	}
	return true
}

func openNode(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	return f.Close()
}
