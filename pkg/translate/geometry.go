package translate

// arm64 translation table descriptor bits
const (
	TTEValid     = 0x1
	TTETypeMask  = 0x2
	TTETypeTable = 0x2
	TTETypeBlock = 0x0
	PTETypeValid = 0x3
	PTETypeMask  = 0x2
	TTETypeL3Blk = 0x2

	TTEPAMask    = 0x0000fffffffff000
	TTETableMask = 0x0000ffffffffc000
)

// 16K granule
const (
	PageShift16K = 14
	PageSize16K  = 1 << PageShift16K

	l1Shift16K = 36
	l2Shift16K = 25
	l3Shift16K = 14

	l2IndexMask16K = 0x0000000ffe000000
	l3IndexMask16K = 0x0000000001ffc000
)

// Level describes one level of a page-table walk.
type Level struct {
	Level     int
	Shift     uint
	IndexMask uint64
	OffMask   uint64
	ValidMask uint64
	TypeMask  uint64
	TypeBlock uint64
}

// Index returns the table index of va at this level.
func (l Level) Index(va uint64) uint64 {
	return (va & l.IndexMask) >> l.Shift
}

// Geometry is the ordered list of levels walked from the root table to the leaf.
type Geometry []Level

// Geometry16K returns the L1 -> L3 walk of a 16K granule address space whose
// size is configured by tsz (T0SZ/T1SZ).
func Geometry16K(tsz uint) Geometry {
	vaBits := 64 - tsz
	l1Index := ((uint64(1) << vaBits) - 1) &^ ((uint64(1) << l1Shift16K) - 1)
	return Geometry{
		{
			Level:     1,
			Shift:     l1Shift16K,
			IndexMask: l1Index,
			OffMask:   (uint64(1) << l1Shift16K) - 1,
			ValidMask: TTEValid,
			TypeMask:  TTETypeMask,
			TypeBlock: TTETypeBlock,
		},
		{
			Level:     2,
			Shift:     l2Shift16K,
			IndexMask: l2IndexMask16K,
			OffMask:   (uint64(1) << l2Shift16K) - 1,
			ValidMask: TTEValid,
			TypeMask:  TTETypeMask,
			TypeBlock: TTETypeBlock,
		},
		{
			Level:     3,
			Shift:     l3Shift16K,
			IndexMask: l3IndexMask16K,
			OffMask:   (uint64(1) << l3Shift16K) - 1,
			ValidMask: PTETypeValid,
			TypeMask:  PTETypeMask,
			TypeBlock: TTETypeL3Blk,
		},
	}
}
