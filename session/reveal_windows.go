package session

import "os/exec"

// explorer exits non-zero even when it opened the window, so only a failure
// to start is reported.
func revealInFileManager(path string) error {
	cmd := exec.Command("explorer", "/select,"+path)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
