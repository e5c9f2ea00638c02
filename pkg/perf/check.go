package perf

import (
	"sort"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

// Segment is a loaded address range of a kernelcache.
type Segment struct {
	Name string
	Addr uint64
	Size uint64
}

// Contains reports whether addr falls inside s.
func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Addr && addr < s.Addr+s.Size
}

// SymbolCheck is the result of locating one table address.
type SymbolCheck struct {
	Symbol  string
	Addr    uint64
	Segment string
	OK      bool
}

// Check verifies that base is the kernel base in a and that every table address
// lies inside one of segs. Results are sorted by address.
func Check(a *Addresses, base uint64, segs []Segment) ([]SymbolCheck, error) {
	var out []SymbolCheck
	for name, addr := range a.Symbols() {
		c := SymbolCheck{Symbol: name, Addr: addr}
		for _, s := range segs {
			if s.Contains(addr) {
				c.Segment = s.Name
				c.OK = true
				break
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	if base != a.KernelBase {
		return out, errors.Errorf("__TEXT base %#x does not match table kernel base %#x", base, a.KernelBase)
	}
	return out, nil
}

// MachoSegments returns the segments of a kernelcache and its __TEXT base.
func MachoSegments(m *macho.File) ([]Segment, uint64, error) {
	if m.Magic != types.Magic64 || m.CPU != types.CPUArm64 {
		return nil, 0, errors.Errorf("not an arm64 kernelcache: %s %s", m.Magic, m.CPU)
	}
	text := m.Segment("__TEXT")
	if text == nil {
		return nil, 0, errors.New("kernelcache has no __TEXT segment")
	}
	var segs []Segment
	for _, s := range m.Segments() {
		segs = append(segs, Segment{Name: s.Name, Addr: s.Addr, Size: s.Memsz})
	}
	return segs, text.Addr, nil
}
