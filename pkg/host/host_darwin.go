//go:build darwin

package host

import (
	"github.com/apex/log"
	"github.com/blacktop/krkw/internal/utils"
	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Query reads Info from sysctl.
func Query() (Info, error) {
	var (
		i   Info
		err error
	)
	if i.KernelVersion, err = unix.Sysctl("kern.version"); err != nil {
		return Info{}, errors.Wrap(err, "sysctl kern.version")
	}
	if i.OSVersion, err = unix.Sysctl("kern.osversion"); err != nil {
		return Info{}, errors.Wrap(err, "sysctl kern.osversion")
	}
	if i.HardwareModel, err = unix.Sysctl("hw.model"); err != nil {
		return Info{}, errors.Wrap(err, "sysctl hw.model")
	}
	return i, nil
}

// RaiseFileLimit sets RLIMIT_NOFILE to kern.maxfilesperproc and returns the new limit.
func RaiseFileLimit() (uint64, error) {
	n, err := unix.SysctlUint32("kern.maxfilesperproc")
	if err != nil {
		return 0, errors.Wrapf(kerr.ErrResourceExhaustion, "sysctl kern.maxfilesperproc: %v", err)
	}
	limit := unix.Rlimit{Cur: uint64(n), Max: uint64(n)}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, errors.Wrapf(kerr.ErrResourceExhaustion, "setrlimit(RLIMIT_NOFILE, %d): %v", n, err)
	}
	utils.Indent(log.WithField("maxfilesperproc", n).Debug)("Raised open file limit")
	return uint64(n), nil
}
