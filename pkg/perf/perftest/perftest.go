// Package perftest simulates the kernel side of the perfmon channel: a kernel
// memory image laid out like an iOS 16.5 D74AP boot and a device whose ioctls
// act on that memory the way the redirected perfmon driver does.
package perftest

import (
	"encoding/binary"
	"fmt"

	"github.com/blacktop/krkw/pkg/host"
	"github.com/blacktop/krkw/pkg/kmem/kmemtest"
	"github.com/blacktop/krkw/pkg/perf"
	"github.com/blacktop/krkw/pkg/translate"
	"github.com/blacktop/krkw/pkg/xnu/profile"
)

// Layout of the simulated boot.
const (
	Slide = 0x1c0c000
	Fd    = 5

	CurrentProc = 0xffffffe010000000
	KernelProc  = 0xffffffe020000000

	PhysBase = 0x800000000
	PhysSize = 0x20000000
	VirtBase = 0xffffffe000000000

	UserPmap   = 0xffffffe010200000
	KernelPmap = 0xffffffe020200000

	SharedUaddr = 0x0000000102344000
	SharedPA    = PhysBase + 0x100000

	// OrigRdev is the little-endian si_rdev and trailing word before install.
	OrigRdevLo = 0x0e000003
	OrigRdevHi = 0x00000002

	userMap   = 0xffffffe010100000
	kernelMap = 0xffffffe020100000
	ofiles    = 0xffffffe030000000
	fileproc  = 0xffffffe030001000
	fileglob  = 0xffffffe030002000
	fileops   = 0xffffffe030003000
	vnode     = 0xffffffe030004000
	specinfo  = 0xffffffe030005000
	vmPages   = 0xffffffe4cc000000

	userRootPA   = PhysBase + 0x4000
	userL2PA     = PhysBase + 0x8000
	userL3PA     = PhysBase + 0xc000
	kernelRootPA = PhysBase + 0x10000
)

// Build and Model select the simulated kernelcache row.
const (
	Model = "D74AP"
	Build = "20F66"
)

// KVA returns the physmap address of pa.
func KVA(pa uint64) uint64 { return pa - PhysBase + VirtBase }

// Sign drops the canonical high bits of a kernel pointer the way a pointer
// authentication code would replace them.
func Sign(p uint64) uint64 { return p & 0x00007fffffffffff }

// World is a simulated kernel plus the OS collaborators a Channel needs.
type World struct {
	Mem     *kmemtest.Memory
	KC      *perf.Addresses
	Profile *profile.Profile
	Device  *Device
	Page    *Page

	Opens  int
	Allocs int
}

// New builds the kernel image.
func New() *World {
	kc, ok := perf.LookupKernelcache(Model, Build)
	if !ok {
		panic("perftest: kernelcache row missing")
	}
	prof := &profile.Supported[0]
	mem := kmemtest.New()
	w := &World{Mem: mem, KC: kc, Profile: prof}
	w.Page = &Page{b: make([]byte, translate.PageSize16K), addr: SharedUaddr}
	w.Device = &Device{mem: mem, page: w.Page, rdev: specinfo + profile.SpecinfoRdev.Offset}

	// proc -> task -> map -> pmap for both sides
	for _, s := range []struct{ proc, vmMap, pmap uint64 }{
		{CurrentProc, userMap, UserPmap},
		{KernelProc, kernelMap, KernelPmap},
	} {
		mem.Put64(prof.Task.Map.Addr(s.proc+prof.Proc.Size), Sign(s.vmMap))
		mem.Put64(prof.VMMap.Pmap.Addr(s.vmMap), Sign(s.pmap))
	}

	// fd -> fileproc -> fileglob -> fileops -> vn_kqfilter
	mem.Put64(prof.Proc.FdOfiles.Addr(CurrentProc), Sign(ofiles))
	mem.Put64(ofiles+Fd*8, fileproc)
	mem.Put64(profile.FileprocFpGlob.Addr(fileproc), Sign(fileglob))
	mem.Put64(profile.FileglobFgOps.Addr(fileglob), Sign(fileops))
	mem.Put64(profile.FileopsKqfilter.Addr(fileops), Sign(kc.VnKqfilter+Slide))

	// kernel mach header
	mem.Put32(kc.KernelBase+Slide, 0xfeedfacf)
	mem.Put32(kc.KernelBase+Slide+4, 0x0100000c)
	mem.Put32(kc.KernelBase+Slide+12, 0xc) // MH_FILESET

	// vm_page globals
	mem.Put64(kc.VMPages+Slide, vmPages)
	mem.Put64(kc.VMPageArrayBeginningAddr+Slide, vmPages)
	mem.Put64(kc.VMPageArrayEndingAddr+Slide, vmPages+0x1000*translate.VMPageSize)
	mem.Put32(kc.VMFirstPhysPPNum+Slide, PhysBase>>14)

	// fileglob -> vnode -> specinfo -> si_rdev
	mem.Put64(profile.FileglobFgData.Addr(fileglob), Sign(vnode))
	mem.Put64(profile.VnodeSpecinfo.Addr(vnode), Sign(specinfo))
	mem.Put32(w.Device.rdev, OrigRdevLo)
	mem.Put32(w.Device.rdev+4, OrigRdevHi)

	// cdevsw with perfmon at its major
	for i := uint64(0); i < 64; i++ {
		mem.Put64(kc.Cdevsw+Slide+i*14*8, Sign(kc.KernelBase+Slide+0x100000+i*0x100))
	}
	mem.Put64(kc.Cdevsw+Slide+perf.PerfmonMajor*14*8, Sign(kc.PerfmonDevOpen+Slide))

	// physmap and translation roots, ptov_table left empty
	mem.Put64(kc.GVirtBase+Slide, VirtBase)
	mem.Put64(kc.GPhysBase+Slide, PhysBase)
	mem.Put64(kc.GPhysSize+Slide, PhysSize)
	mem.Put64(UserPmap, KVA(userRootPA))
	mem.Put64(UserPmap+8, userRootPA)
	mem.Put64(KernelPmap, KVA(kernelRootPA))
	mem.Put64(KernelPmap+8, kernelRootPA)

	g := translate.Geometry16K(prof.T1SZ)
	mem.Put64(KVA(userRootPA)+g[0].Index(SharedUaddr)*8, userL2PA|translate.TTEValid|translate.TTETypeTable)
	mem.Put64(KVA(userL2PA)+g[1].Index(SharedUaddr)*8, userL3PA|translate.TTEValid|translate.TTETypeTable)
	mem.Put64(KVA(userL3PA)+g[2].Index(SharedUaddr)*8, SharedPA|translate.PTETypeValid)

	// perfmon_devices[0] with its lock in the unowned state
	mem.Put64(w.PerfmonDevice()+8, 0x22000000)

	return w
}

// PerfmonDevice returns the kernel address of the claimed perfmon device slot.
func (w *World) PerfmonDevice() uint64 { return w.KC.PerfmonDevices + Slide }

// RdevAddr returns the kernel address of the device's si_rdev.
func (w *World) RdevAddr() uint64 { return w.Device.rdev }

// Host returns the host facts of the simulated device.
func (w *World) Host() host.Info {
	return host.Info{
		KernelVersion: w.Profile.Fingerprint,
		OSVersion:     Build,
		HardwareModel: Model,
	}
}

// Config returns a channel config wired to the simulated device and page.
func (w *World) Config() perf.Config {
	return perf.Config{
		Host: w.Host(),
		Opener: func(path string) (perf.Device, error) {
			w.Opens++
			if path != perf.DefaultDevice {
				return nil, fmt.Errorf("perftest: no device %s", path)
			}
			w.Device.Closed = false
			return w.Device, nil
		},
		Allocator: func(size int) (perf.Page, error) {
			w.Allocs++
			if size > len(w.Page.b) {
				return nil, fmt.Errorf("perftest: page of %d bytes", size)
			}
			w.Page.Released = false
			return w.Page, nil
		},
		PageSize: translate.PageSize16K,
	}
}

// Page is a fixed user page.
type Page struct {
	b        []byte
	addr     uint64
	Released bool
}

func (p *Page) Bytes() []byte  { return p.b }
func (p *Page) Addr() uint64   { return p.addr }
func (p *Page) Release() error { p.Released = true; return nil }

// Event is one recorded ADD_EVENT.
type Event struct {
	Number uint64
	Shared perf.Shared
}

// Device behaves like the perfmon driver once si_rdev carries its major.
type Device struct {
	mem  *kmemtest.Memory
	page *Page
	rdev uint64

	Specifies []perf.Shared
	Events    []Event
	Closed    bool
}

func (d *Device) Fd() int { return Fd }

func (d *Device) routed() error {
	if got := d.mem.Get32(d.rdev); got != perf.PerfmonMajor<<24 {
		return fmt.Errorf("perftest: si_rdev %#x is not perfmon", got)
	}
	return nil
}

func (d *Device) Specify(dst []byte) error {
	if err := d.routed(); err != nil {
		return err
	}
	s, err := perf.DecodeShared(d.page.b)
	if err != nil {
		return err
	}
	if int(s.EventCount) != len(dst) {
		return fmt.Errorf("perftest: event count %d for %d bytes", s.EventCount, len(dst))
	}
	d.Specifies = append(d.Specifies, s)
	copy(dst, d.mem.Peek(s.Events, len(dst)))
	return nil
}

func (d *Device) AddEvent(number uint64) error {
	if err := d.routed(); err != nil {
		return err
	}
	s, err := perf.DecodeShared(d.page.b)
	if err != nil {
		return err
	}
	if s.CounterCount != 1 || s.FixedOffset != 1 {
		return fmt.Errorf("perftest: source layout %d/%d", s.CounterCount, s.FixedOffset)
	}
	d.Events = append(d.Events, Event{Number: number, Shared: s})
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], number)
	d.mem.Poke(s.Counters, b[:])
	return nil
}

func (d *Device) Close() error {
	d.Closed = true
	return nil
}
