//go:build !unix && !windows

package scanner

import "io/fs"

func fileKey(_ fs.FileInfo) (DevIno, bool) {
	return DevIno{}, false
}
