package perf

import "strings"

// Addresses are unslid kernelcache addresses for one device and build.
type Addresses struct {
	Model string
	Build string
	Name  string

	KernelBase               uint64
	VnKqfilter               uint64 // "Invalid knote filter on a vnode!"
	PtovTable                uint64 // "%s: illegal PA: 0x%llx; phys base 0x%llx, size 0x%llx"
	GVirtBase                uint64 // "%s: illegal PA: 0x%llx; phys base 0x%llx, size 0x%llx"
	GPhysBase                uint64 // "%s: illegal PA: 0x%llx; phys base 0x%llx, size 0x%llx"
	GPhysSize                uint64 // gPhysBase + 0x8
	PerfmonDevices           uint64 // "perfmon: %s: devfs_make_node_clone failed"
	PerfmonDevOpen           uint64 // "perfmon: attempt to open unsupported source: 0x%x"
	Cdevsw                   uint64 // "Can't mark ptc as kqueue ok"
	VMPages                  uint64 // "pmap_startup(): too many pages to support vm_page packing"
	VMPageArrayBeginningAddr uint64
	VMPageArrayEndingAddr    uint64
	VMFirstPhysPPNum         uint64
}

// Kernelcaches is the table of builds the channel can be installed on.
var Kernelcaches = []Addresses{
	{
		Model:                    "D74AP",
		Build:                    "20E247",
		Name:                     "iOS 16.4 - iPhone 14 Pro Max",
		KernelBase:               0xfffffff007004000,
		VnKqfilter:               0xfffffff007f3960c,
		PtovTable:                0xfffffff0078e7178,
		GVirtBase:                0xfffffff0079320a8,
		GPhysBase:                0xfffffff007933ed0,
		GPhysSize:                0xfffffff007933ed8,
		PerfmonDevices:           0xfffffff00a44f500,
		PerfmonDevOpen:           0xfffffff007eecd3c,
		Cdevsw:                   0xfffffff00a411208,
		VMPages:                  0xfffffff0078e3eb8,
		VMPageArrayBeginningAddr: 0xfffffff0078e6128,
		VMPageArrayEndingAddr:    0xfffffff00a44e988,
		VMFirstPhysPPNum:         0xfffffff00a44e990,
	},
	{
		Model:                    "D74AP",
		Build:                    "20F66",
		Name:                     "iOS 16.5 - iPhone 14 Pro Max",
		KernelBase:               0xfffffff007004000,
		VnKqfilter:               0xfffffff007f39b28,
		PtovTable:                0xfffffff0078e7178,
		GVirtBase:                0xfffffff0079321e8,
		GPhysBase:                0xfffffff007934010,
		GPhysSize:                0xfffffff007934018,
		PerfmonDevices:           0xfffffff00a457500,
		PerfmonDevOpen:           0xfffffff007eecfc0,
		Cdevsw:                   0xfffffff00a419208,
		VMPages:                  0xfffffff0078e3eb8,
		VMPageArrayBeginningAddr: 0xfffffff0078e6128,
		VMPageArrayEndingAddr:    0xfffffff00a456988,
		VMFirstPhysPPNum:         0xfffffff00a456990,
	},
	{
		Model:                    "D74AP",
		Build:                    "20F75",
		Name:                     "iOS 16.5.1 - iPhone 14 Pro Max",
		KernelBase:               0xfffffff007004000,
		VnKqfilter:               0xfffffff007f39c18,
		PtovTable:                0xfffffff0078e7178,
		GVirtBase:                0xfffffff007932288,
		GPhysBase:                0xfffffff0079340b0,
		GPhysSize:                0xfffffff0079340b8,
		PerfmonDevices:           0xfffffff00a457500,
		PerfmonDevOpen:           0xfffffff007eed0b0,
		Cdevsw:                   0xfffffff00a419208,
		VMPages:                  0xfffffff0078e3eb8,
		VMPageArrayBeginningAddr: 0xfffffff0078e6128,
		VMPageArrayEndingAddr:    0xfffffff00a456988,
		VMFirstPhysPPNum:         0xfffffff00a456990,
	},
}

// LookupKernelcache returns the addresses for a hardware model and OS build.
func LookupKernelcache(model, build string) (*Addresses, bool) {
	model = strings.TrimRight(model, "\x00")
	build = strings.TrimRight(build, "\x00")
	for i := range Kernelcaches {
		if Kernelcaches[i].Model == model && Kernelcaches[i].Build == build {
			return &Kernelcaches[i], true
		}
	}
	return nil, false
}

// Symbols returns the named table addresses, used to check the table against a kernelcache.
func (a *Addresses) Symbols() map[string]uint64 {
	return map[string]uint64{
		"vn_kqfilter":                  a.VnKqfilter,
		"ptov_table":                   a.PtovTable,
		"gVirtBase":                    a.GVirtBase,
		"gPhysBase":                    a.GPhysBase,
		"gPhysSize":                    a.GPhysSize,
		"perfmon_devices":              a.PerfmonDevices,
		"perfmon_dev_open":             a.PerfmonDevOpen,
		"cdevsw":                       a.Cdevsw,
		"vm_pages":                     a.VMPages,
		"vm_page_array_beginning_addr": a.VMPageArrayBeginningAddr,
		"vm_page_array_ending_addr":    a.VMPageArrayEndingAddr,
		"vm_first_phys_ppnum":          a.VMFirstPhysPPNum,
	}
}
