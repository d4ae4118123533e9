package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/text/unicode/norm"
)

type SizeResult struct {
	Size         uint64
	FilesScanned int64
}

// DirectorySize totals the regular files under path, counting hard linked
// files once. A plain file reports its own size.
func DirectorySize(path string) (SizeResult, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return SizeResult{}, err
	}
	if !info.IsDir() {
		return SizeResult{Size: uint64(info.Size()), FilesScanned: 1}, nil
	}

	var total, scanned atomic.Int64
	var mu sync.Mutex
	seen := make(map[DevIno]struct{})

	walk := func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees don't spoil the rest of the total.
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if key, ok := fileKey(info); ok {
			mu.Lock()
			_, dup := seen[key]
			seen[key] = struct{}{}
			mu.Unlock()
			if dup {
				return nil
			}
		}

		scanned.Add(1)
		total.Add(info.Size())
		return nil
	}

	err = fastwalk.Walk(&fastwalk.Config{Follow: false}, path, walk)
	return SizeResult{Size: uint64(total.Load()), FilesScanned: scanned.Load()}, err
}

// AvailableSpace is the number of bytes an unprivileged user can still
// write on the filesystem holding path.
func AvailableSpace(path string) (uint64, error) {
	return availableSpace(path)
}

// AbsPath resolves path to an absolute, existing path. The NFC spelling is
// preferred when it names the same file, so segments compare equal to what
// browsers send back.
func AbsPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if nfc := norm.NFC.String(abs); nfc != abs {
		if _, err := os.Stat(nfc); err == nil {
			return nfc, nil
		}
	}

	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func statID(path string) (DevIno, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return DevIno{}, false
	}
	return fileKey(info)
}
