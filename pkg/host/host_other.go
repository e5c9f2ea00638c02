//go:build !darwin

package host

import (
	"runtime"

	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/pkg/errors"
)

// Query is only supported on darwin.
func Query() (Info, error) {
	return Info{}, errors.Errorf("host query is not supported on %s", runtime.GOOS)
}

// RaiseFileLimit is only supported on darwin.
func RaiseFileLimit() (uint64, error) {
	return 0, errors.Wrapf(kerr.ErrResourceExhaustion, "file limit is not supported on %s", runtime.GOOS)
}
