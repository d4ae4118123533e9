//go:build !darwin && !windows

package session

import (
	"os"
	"os/exec"
	"path/filepath"
)

// xdg-open can't select a file, so files open their parent directory.
func revealInFileManager(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	return exec.Command("xdg-open", dir).Run()
}
