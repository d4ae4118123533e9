//go:build windows

package scanner

import (
	"io/fs"

	"golang.org/x/sys/windows"
)

// TODO: use the file index from GetFileInformationByHandle so hard links are
// counted once here too.
func fileKey(_ fs.FileInfo) (DevIno, bool) {
	return DevIno{}, false
}

func availableSpace(path string) (uint64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}

	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree); err != nil {
		return 0, err
	}
	return free, nil
}
