// Package kmem is the field accessor layer over a kernel read/write capability.
package kmem

import (
	"encoding/binary"
	"io"

	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/pkg/errors"
)

// ReadWriter is a kernel memory read/write capability.
//
// KRead copies len(p) bytes from kaddr into p and KWrite copies p to kaddr.
type ReadWriter interface {
	KRead(kaddr uint64, p []byte) error
	KWrite(p []byte, kaddr uint64) error
}

// Funcs adapts a pair of functions to a ReadWriter.
type Funcs struct {
	Read  func(kaddr uint64, p []byte) error
	Write func(p []byte, kaddr uint64) error
}

func (f Funcs) KRead(kaddr uint64, p []byte) error {
	if f.Read == nil {
		return errors.New("kread not available")
	}
	return f.Read(kaddr, p)
}

func (f Funcs) KWrite(p []byte, kaddr uint64) error {
	if f.Write == nil {
		return errors.New("kwrite not available")
	}
	return f.Write(p, kaddr)
}

// Switch is the active capability. Components that replace the primitive swap
// themselves in and must swap the previous one back before they go away.
type Switch struct {
	rw ReadWriter
}

// NewSwitch returns a Switch that delegates to rw.
func NewSwitch(rw ReadWriter) *Switch {
	return &Switch{rw: rw}
}

// Swap installs rw and returns the capability it replaced.
func (s *Switch) Swap(rw ReadWriter) ReadWriter {
	prev := s.rw
	s.rw = rw
	return prev
}

// Active returns the installed capability.
func (s *Switch) Active() ReadWriter {
	return s.rw
}

func (s *Switch) KRead(kaddr uint64, p []byte) error {
	return s.rw.KRead(kaddr, p)
}

func (s *Switch) KWrite(p []byte, kaddr uint64) error {
	return s.rw.KWrite(p, kaddr)
}

// Get reads the field of the object at base.
func Get(rw ReadWriter, f profile.Field, base uint64) (uint64, error) {
	if !f.Width.Valid() {
		return 0, errors.Errorf("%s: bad width %d", f.Name, f.Width)
	}
	var buf [8]byte
	if err := rw.KRead(f.Addr(base), buf[:f.Width]); err != nil {
		return 0, errors.Wrapf(err, "failed to read %s at %#x", f.Name, f.Addr(base))
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Set writes v into the field of the object at base, truncated to the field width.
func Set(rw ReadWriter, f profile.Field, base, v uint64) error {
	if !f.Width.Valid() {
		return errors.Errorf("%s: bad width %d", f.Name, f.Width)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if err := rw.KWrite(buf[:f.Width], f.Addr(base)); err != nil {
		return errors.Wrapf(err, "failed to write %s at %#x", f.Name, f.Addr(base))
	}
	return nil
}

// Read64 reads a little-endian uint64 at kaddr.
func Read64(rw ReadWriter, kaddr uint64) (uint64, error) {
	var buf [8]byte
	if err := rw.KRead(kaddr, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "failed to read u64 at %#x", kaddr)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Read32 reads a little-endian uint32 at kaddr.
func Read32(rw ReadWriter, kaddr uint64) (uint32, error) {
	var buf [4]byte
	if err := rw.KRead(kaddr, buf[:]); err != nil {
		return 0, errors.Wrapf(err, "failed to read u32 at %#x", kaddr)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Write64 writes v as a little-endian uint64 at kaddr.
func Write64(rw ReadWriter, kaddr, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if err := rw.KWrite(buf[:], kaddr); err != nil {
		return errors.Wrapf(err, "failed to write u64 at %#x", kaddr)
	}
	return nil
}

// Reader reads kernel memory sequentially starting at Addr.
type Reader struct {
	RW   ReadWriter
	Addr uint64
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.RW.KRead(r.Addr, p); err != nil {
		return 0, err
	}
	r.Addr += uint64(len(p))
	return len(p), nil
}

// ReadAt implements io.ReaderAt with off as an absolute kernel address.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if err := r.RW.KRead(uint64(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

var _ io.ReaderAt = (*Reader)(nil)

// ReadStruct decodes the fixed-size value v from kernel memory at kaddr.
func ReadStruct(rw ReadWriter, kaddr uint64, v any) error {
	if err := binary.Read(&Reader{RW: rw, Addr: kaddr}, binary.LittleEndian, v); err != nil {
		return errors.Wrapf(err, "failed to read %T at %#x", v, kaddr)
	}
	return nil
}
