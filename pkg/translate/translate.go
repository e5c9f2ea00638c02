// Package translate converts between kernel physical and virtual addresses.
//
// Physical to virtual goes through the kernel's ptov table and the static
// physmap window (gPhysBase/gVirtBase/gPhysSize). Virtual to physical walks the
// page tables rooted at TTBR0 (user) or TTBR1 (kernel) with one kernel read
// per level.
package translate

import (
	"encoding/binary"

	"github.com/apex/log"
	"github.com/blacktop/krkw/internal/utils"
	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/blacktop/krkw/pkg/kmem"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/pkg/errors"
)

// PtovTableSize is the number of entries in the kernel's ptov_table.
const PtovTableSize = 8

// TTBR is a translation table root as both a kernel virtual and a physical address.
type TTBR struct {
	VA uint64
	PA uint64
}

// PtovEntry maps Len bytes of physical memory at PA to VA.
type PtovEntry struct {
	PA  uint64
	VA  uint64
	Len uint64
}

// Contains reports whether pa falls inside the entry.
func (e PtovEntry) Contains(pa uint64) bool {
	return pa >= e.PA && pa < e.PA+e.Len
}

// State is everything needed to translate addresses. It is filled once and
// read-only afterwards.
type State struct {
	// TTBR[0] is the user root, TTBR[1] the kernel root.
	TTBR     [2]TTBR
	Ptov     [PtovTableSize]PtovEntry
	VirtBase uint64
	PhysBase uint64
	PhysSize uint64

	Geometry Geometry
	Pages    PageArray
}

// Sources are the kernel addresses State is loaded from.
type Sources struct {
	PtovTable  uint64
	VirtBase   uint64
	PhysBase   uint64
	PhysSize   uint64
	UserPmap   uint64
	KernelPmap uint64
}

// Load reads the ptov table, the physmap globals and both translation roots.
func Load(rw kmem.ReadWriter, src Sources, tsz uint) (*State, error) {
	s := &State{Geometry: Geometry16K(tsz)}

	if err := kmem.ReadStruct(rw, src.PtovTable, &s.Ptov); err != nil {
		return nil, errors.Wrap(err, "ptov_table")
	}
	var err error
	if s.VirtBase, err = kmem.Read64(rw, src.VirtBase); err != nil {
		return nil, errors.Wrap(err, "gVirtBase")
	}
	if s.PhysBase, err = kmem.Read64(rw, src.PhysBase); err != nil {
		return nil, errors.Wrap(err, "gPhysBase")
	}
	if s.PhysSize, err = kmem.Read64(rw, src.PhysSize); err != nil {
		return nil, errors.Wrap(err, "gPhysSize")
	}
	utils.Indent(log.WithFields(log.Fields{
		"gVirtBase": utils.Hex(s.VirtBase),
		"gPhysBase": utils.Hex(s.PhysBase),
		"gPhysSize": utils.Hex(s.PhysSize),
	}).Debug)("physmap")

	for i, pmap := range []uint64{src.UserPmap, src.KernelPmap} {
		if pmap == 0 {
			return nil, kerr.Resolutionf("ttbr%d: pmap address is null", i)
		}
		if s.TTBR[i].VA, err = kmem.Get(rw, profile.PmapTte, pmap); err != nil {
			return nil, err
		}
		if s.TTBR[i].PA, err = kmem.Get(rw, profile.PmapTtep, pmap); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that both translation roots agree with the physmap.
func (s *State) Validate() error {
	for i, t := range s.TTBR {
		va, err := s.PhysToVirt(t.PA)
		if err != nil {
			return errors.Wrapf(err, "ttbr%d", i)
		}
		if va != t.VA {
			return kerr.Validationf("ttbr%d: phystokv(%#x) = %#x, pmap tte = %#x", i, t.PA, va, t.VA)
		}
	}
	return nil
}

// PhysToVirt returns the kernel virtual address of pa.
func (s *State) PhysToVirt(pa uint64) (uint64, error) {
	for _, e := range s.Ptov {
		if e.Len == 0 {
			break
		}
		if e.Contains(pa) {
			return pa - e.PA + e.VA, nil
		}
	}
	if pa < s.PhysBase || pa-s.PhysBase >= s.PhysSize {
		return 0, kerr.Validationf("illegal PA: %#x; phys base %#x, size %#x", pa, s.PhysBase, s.PhysSize)
	}
	return pa - s.PhysBase + s.VirtBase, nil
}

// VirtToPhys walks the page tables for va. An unmapped address returns 0 and no error.
func (s *State) VirtToPhys(rw kmem.ReadWriter, va uint64) (uint64, error) {
	tt := s.TTBR[0].VA
	if va>>63 == 1 {
		tt = s.TTBR[1].VA
	}

	var buf [8]byte
	for _, l := range s.Geometry {
		if err := rw.KRead(tt+l.Index(va)*8, buf[:]); err != nil {
			return 0, errors.Wrapf(err, "failed to read L%d entry for %#x", l.Level, va)
		}
		tte := binary.LittleEndian.Uint64(buf[:])

		if tte&l.ValidMask != l.ValidMask {
			return 0, nil
		}
		if tte&l.TypeMask == l.TypeBlock {
			return (tte & TTEPAMask &^ l.OffMask) | (va & l.OffMask), nil
		}

		next, err := s.PhysToVirt(tte & TTETableMask)
		if err != nil {
			return 0, errors.Wrapf(err, "L%d table for %#x", l.Level, va)
		}
		tt = next
	}

	// an L3 entry is always a leaf
	return 0, nil
}
