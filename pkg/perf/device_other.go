//go:build !darwin

package perf

import (
	"os"

	"github.com/pkg/errors"
)

var errUnsupportedOS = errors.New("perfmon channel requires darwin")

// OpenDevice is not available on this platform.
func OpenDevice(path string) (Device, error) {
	return nil, errors.Wrap(errUnsupportedOS, path)
}

// MapPage is not available on this platform.
func MapPage(size int) (Page, error) {
	return nil, errUnsupportedOS
}

// DefaultPageSize is the host page size.
func DefaultPageSize() int {
	return os.Getpagesize()
}
