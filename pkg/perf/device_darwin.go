//go:build darwin

package perf

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type ioctlSpec struct {
	Events     unsafe.Pointer
	Attrs      unsafe.Pointer
	EventCount uint16
	AttrCount  uint16
	_          [4]byte
}

type charDevice struct {
	fd int
}

// OpenDevice opens path read-write.
func OpenDevice(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	if fd <= 0 {
		unix.Close(fd)
		return nil, errors.Errorf("failed to open %s: bad descriptor %d", path, fd)
	}
	return &charDevice{fd: fd}, nil
}

func (d *charDevice) Fd() int { return d.fd }

func (d *charDevice) Specify(dst []byte) error {
	if len(dst) == 0 || len(dst) > MaxReadSize {
		return errors.Errorf("bad read size %d", len(dst))
	}
	spec := ioctlSpec{
		Events:     unsafe.Pointer(&dst[0]),
		EventCount: uint16(len(dst)),
	}
	err := d.ioctl(ctlSpecify, unsafe.Pointer(&spec))
	runtime.KeepAlive(dst)
	return errors.Wrap(err, "PERFMON_CTL_SPECIFY")
}

func (d *charDevice) AddEvent(number uint64) error {
	ev := perfmonEvent{Number: number}
	return errors.Wrap(d.ioctl(ctlAddEvent, unsafe.Pointer(&ev)), "PERFMON_CTL_ADD_EVENT")
}

func (d *charDevice) ioctl(req uint, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(req), uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

func (d *charDevice) Close() error {
	return unix.Close(d.fd)
}

type anonPage struct {
	b []byte
}

// MapPage maps size bytes of anonymous read-write memory.
func MapPage(size int) (Page, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %d bytes", size)
	}
	return &anonPage{b: b}, nil
}

func (p *anonPage) Bytes() []byte { return p.b }

func (p *anonPage) Addr() uint64 { return uint64(uintptr(unsafe.Pointer(&p.b[0]))) }

func (p *anonPage) Release() error {
	return unix.Munmap(p.b)
}

// DefaultPageSize is the host page size.
func DefaultPageSize() int {
	return unix.Getpagesize()
}
