package perf

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Device is an open descriptor on the redirected character device.
type Device interface {
	Fd() int
	// Specify issues PERFMON_CTL_SPECIFY, copying len(dst) bytes of the
	// configured events array into dst.
	Specify(dst []byte) error
	// AddEvent issues PERFMON_CTL_ADD_EVENT with pe_number set to number.
	AddEvent(number uint64) error
	Close() error
}

// Opener opens the device at path.
type Opener func(path string) (Device, error)

// Page is a page of user memory shared with the kernel.
type Page interface {
	Bytes() []byte
	Addr() uint64
	Release() error
}

// Allocator maps a zeroed page of size bytes.
type Allocator func(size int) (Page, error)

// Shared is the decoded request living in the shared page.
type Shared struct {
	Source       uint64
	Events       uint64
	EventCount   uint16
	Counters     uint64
	CounterCount uint16
	FixedOffset  uint16
}

// DecodeShared reads the request the channel last placed in page.
func DecodeShared(page []byte) (Shared, error) {
	if len(page) < SharedSize {
		return Shared{}, errors.Errorf("shared page too small: %d bytes", len(page))
	}
	var cfg perfmonConfig
	if err := binary.Read(bytes.NewReader(page[configOffset:]), binary.LittleEndian, &cfg); err != nil {
		return Shared{}, errors.Wrap(err, "failed to decode perfmon_config")
	}
	var src perfmonSource
	if err := binary.Read(bytes.NewReader(page[sourceOffset:]), binary.LittleEndian, &src); err != nil {
		return Shared{}, errors.Wrap(err, "failed to decode perfmon_source")
	}
	return Shared{
		Source:       cfg.Source,
		Events:       cfg.Spec.Events,
		EventCount:   cfg.Spec.EventCount,
		Counters:     cfg.Counters,
		CounterCount: src.Layout.CounterCount,
		FixedOffset:  src.Layout.FixedOffset,
	}, nil
}

// put encodes v into page at off.
func put(page []byte, off int, v any) {
	var buf bytes.Buffer
	// fixed-size values only, Write cannot fail
	_ = binary.Write(&buf, binary.LittleEndian, v)
	copy(page[off:], buf.Bytes())
}
