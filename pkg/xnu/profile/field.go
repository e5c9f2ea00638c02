package profile

import "fmt"

// Width is the size in bytes of a kernel field.
type Width uint8

const (
	U8  Width = 1
	U16 Width = 2
	U32 Width = 4
	U64 Width = 8
)

// Valid reports whether w is an access width the accessors support.
func (w Width) Valid() bool {
	switch w {
	case U8, U16, U32, U64:
		return true
	}
	return false
}

// Field is a kernel struct member addressed by byte offset from the object base.
type Field struct {
	Name   string
	Offset uint64
	Width  Width
}

func (f Field) String() string {
	return fmt.Sprintf("%s@%#x/%d", f.Name, f.Offset, f.Width)
}

// Addr returns the kernel address of the field inside the object at base.
func (f Field) Addr(base uint64) uint64 {
	return base + f.Offset
}

func ptr(name string, off uint64) Field { return Field{Name: name, Offset: off, Width: U64} }

// Static fields belong to kernel structs whose layout has not changed across
// the supported builds.
var (
	FileprocFpGlob  = ptr("fileproc.fp_glob", 0x10)
	FileglobFgOps   = ptr("fileglob.fg_ops", 0x28)
	FileglobFgData  = ptr("fileglob.fg_data", 0x38)
	FileopsKqfilter = ptr("fileops.fo_kqfilter", 0x30)
	VnodeSpecinfo   = ptr("vnode.v_specinfo", 0x78)
	SpecinfoRdev    = ptr("specinfo.si_rdev", 0x18)
	PmapTte         = ptr("pmap.tte", 0x00)
	PmapTtep        = ptr("pmap.ttep", 0x08)
)

// StaticFields lists every ABI-stable field.
func StaticFields() []Field {
	return []Field{
		FileprocFpGlob,
		FileglobFgOps,
		FileglobFgData,
		FileopsKqfilter,
		VnodeSpecinfo,
		SpecinfoRdev,
		PmapTte,
		PmapTtep,
	}
}
