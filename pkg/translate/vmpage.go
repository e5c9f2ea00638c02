package translate

import (
	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/blacktop/krkw/pkg/kmem"
	"github.com/pkg/errors"
)

// VMPageSize is sizeof(struct vm_page).
const VMPageSize = 0x30

// Lowest kernel addresses, used as the base of packed vm_page pointers.
const (
	IOSMinKernelAddress   = 0xffffffdc00000000 // -144GiB
	MacOSMinKernelAddress = 0xfffffe0000000000 // -2TiB

	IOSPointerSignificantBits   = 38
	MacOSPointerSignificantBits = 41
)

const (
	packedFromArray = 0x80000000
	packedPtrBits   = 31
	packedPtrShift  = 6
)

// PackingParams describes how a kernel pointer is packed into fewer bits.
type PackingParams struct {
	Base         uint64
	Bits         uint8
	Shift        uint8
	BaseRelative bool
}

// Unpack returns the full pointer for packed.
func (pp PackingParams) Unpack(packed uint64) uint64 {
	if !pp.BaseRelative {
		addr := int64(packed)
		addr <<= 64 - pp.Bits
		addr >>= 64 - pp.Bits - pp.Shift
		return uint64(addr)
	}
	if packed == 0 {
		return 0
	}
	return (packed << pp.Shift) + pp.Base
}

// PageParams returns the vm_page pointer packing for a kernel address space.
func PageParams(minKernelAddress uint64, significantBits uint8) PackingParams {
	return PackingParams{
		Base:         minKernelAddress,
		Bits:         packedPtrBits,
		Shift:        packedPtrShift,
		BaseRelative: packedPtrBits+packedPtrShift <= significantBits,
	}
}

// PackedPageKind discriminates the two encodings of a packed vm_page reference.
type PackedPageKind int

const (
	// PackedPointer is a base-relative packed kernel pointer.
	PackedPointer PackedPageKind = iota
	// PackedArrayIndex is an index into vm_pages.
	PackedArrayIndex
)

func (k PackedPageKind) String() string {
	if k == PackedArrayIndex {
		return "array-index"
	}
	return "pointer"
}

// PackedPage is a 32-bit vm_page reference as stored in vm_page queues and objects.
type PackedPage uint32

// Kind returns which encoding p uses.
func (p PackedPage) Kind() PackedPageKind {
	if p >= packedFromArray {
		return PackedArrayIndex
	}
	return PackedPointer
}

// ArrayIndex returns the vm_pages index of an array-index reference.
func (p PackedPage) ArrayIndex() (uint32, bool) {
	if p.Kind() != PackedArrayIndex {
		return 0, false
	}
	return uint32(p) &^ packedFromArray, true
}

// Pointer returns the packed bits of a pointer reference.
func (p PackedPage) Pointer() (uint32, bool) {
	if p.Kind() != PackedPointer {
		return 0, false
	}
	return uint32(p), true
}

// PageArray is the kernel's vm_page array bounds.
type PageArray struct {
	VMPages       uint64
	Begin         uint64
	End           uint64
	FirstPhysPage uint32
	Params        PackingParams
}

// PageArraySources are the kernel addresses of the vm_page globals.
type PageArraySources struct {
	VMPages       uint64
	Begin         uint64
	End           uint64
	FirstPhysPage uint64
}

// LoadPageArray reads the vm_page globals.
func LoadPageArray(rw kmem.ReadWriter, src PageArraySources, params PackingParams) (PageArray, error) {
	pa := PageArray{Params: params}
	var err error
	if pa.VMPages, err = kmem.Read64(rw, src.VMPages); err != nil {
		return PageArray{}, errors.Wrap(err, "vm_pages")
	}
	if pa.Begin, err = kmem.Read64(rw, src.Begin); err != nil {
		return PageArray{}, errors.Wrap(err, "vm_page_array_beginning_addr")
	}
	if pa.End, err = kmem.Read64(rw, src.End); err != nil {
		return PageArray{}, errors.Wrap(err, "vm_page_array_ending_addr")
	}
	if pa.FirstPhysPage, err = kmem.Read32(rw, src.FirstPhysPage); err != nil {
		return PageArray{}, errors.Wrap(err, "vm_first_phys_ppnum")
	}
	return pa, nil
}

// Loaded reports whether the globals have been read.
func (a PageArray) Loaded() bool {
	return a.VMPages != 0 && a.Begin != 0 && a.End != 0 && a.FirstPhysPage != 0
}

// Unpack returns the kernel address of the vm_page referenced by p.
func (a PageArray) Unpack(p PackedPage) uint64 {
	if idx, ok := p.ArrayIndex(); ok {
		return a.VMPages + uint64(idx)*VMPageSize
	}
	bits, _ := p.Pointer()
	return a.Params.Unpack(uint64(bits))
}

// PhysPage returns the physical page number of the vm_page at page.
func (a PageArray) PhysPage(page uint64) (uint32, error) {
	if !a.Loaded() {
		return 0, kerr.Validationf("vm_page globals not loaded")
	}
	if page < a.Begin || page >= a.End {
		return 0, kerr.Validationf("vm_page %#x outside [%#x, %#x)", page, a.Begin, a.End)
	}
	return uint32((page-a.Begin)/VMPageSize) + a.FirstPhysPage, nil
}
