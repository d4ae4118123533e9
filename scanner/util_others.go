//go:build !linux && !darwin && !freebsd && !dragonfly && !windows

package scanner

import (
	"errors"
	"runtime"
)

func availableSpace(_ string) (uint64, error) {
	return 0, errors.New("available space is not supported on " + runtime.GOOS)
}
