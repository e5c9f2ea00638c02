// Package pac strips pointer authentication codes from signed arm64e kernel pointers.
package pac

// Mask returns the tag bits of a kernel pointer for a T1SZ configuration.
func Mask(t1sz uint) uint64 {
	return ^((uint64(1) << (64 - t1sz)) - 1)
}

// Strip returns the canonical kernel address of a signed pointer.
//
// Kernel addresses have every bit above the address space set, so setting the
// tag bits removes the signature. The pointer is not authenticated.
func Strip(ptr uint64, t1sz uint) uint64 {
	return ptr | Mask(t1sz)
}

// Stripper strips pointers for one hardware family.
type Stripper struct {
	T1SZ uint
}

// Strip returns the canonical kernel address of ptr.
func (s Stripper) Strip(ptr uint64) uint64 {
	return Strip(ptr, s.T1SZ)
}

// Mask returns the tag bits stripped by s.
func (s Stripper) Mask() uint64 {
	return Mask(s.T1SZ)
}
