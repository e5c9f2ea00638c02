package perf_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/blacktop/krkw/pkg/addrspace"
	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/blacktop/krkw/pkg/kmem"
	"github.com/blacktop/krkw/pkg/perf"
	"github.com/blacktop/krkw/pkg/perf/perftest"
	"github.com/google/go-cmp/cmp"
)

func setup(t *testing.T) (*perftest.World, *kmem.Switch, *addrspace.Context) {
	t.Helper()
	w := perftest.New()
	as, err := addrspace.Resolve(w.Mem, w.Profile, perftest.CurrentProc, perftest.KernelProc)
	if err != nil {
		t.Fatal(err)
	}
	return w, kmem.NewSwitch(w.Mem), as
}

func install(t *testing.T) (*perftest.World, *kmem.Switch, *perf.Channel) {
	t.Helper()
	w, sw, as := setup(t)
	ch := perf.New(w.Config())
	if err := ch.Install(sw, w.Profile, as); err != nil {
		t.Fatalf("Install() = %v", err)
	}
	return w, sw, ch
}

func TestInstall(t *testing.T) {
	w, sw, ch := install(t)

	if ch.State() != perf.Installed {
		t.Fatalf("State() = %s", ch.State())
	}
	if sw.Active() != ch {
		t.Error("channel is not the active capability")
	}
	if ch.Slide() != perftest.Slide {
		t.Errorf("Slide() = %#x, want %#x", ch.Slide(), perftest.Slide)
	}
	if ch.KernelBase() != 0xfffffff007004000+perftest.Slide {
		t.Errorf("KernelBase() = %#x", ch.KernelBase())
	}
	if ch.SharedKaddr() != perftest.KVA(perftest.SharedPA) {
		t.Errorf("SharedKaddr() = %#x, want %#x", ch.SharedKaddr(), perftest.KVA(perftest.SharedPA))
	}
	if tr := ch.Translation(); tr == nil || !tr.Pages.Loaded() {
		t.Error("translation state or vm_page globals not loaded")
	}
	if w.Opens != 1 || w.Allocs != 1 {
		t.Errorf("opens = %d, allocs = %d", w.Opens, w.Allocs)
	}

	if got := w.Mem.Get32(w.RdevAddr()); got != perf.PerfmonMajor<<24 {
		t.Errorf("si_rdev = %#x", got)
	}
	if got := w.Mem.Get32(w.RdevAddr() + 4); got != perftest.OrigRdevHi+1 {
		t.Errorf("si_rdev trailing word = %#x", got)
	}

	pmdv := w.PerfmonDevice()
	if got := w.Mem.Get64(pmdv + 8); got != 0x22000000 {
		t.Errorf("pmdv_mutex[0] = %#x", got)
	}
	if got := w.Mem.Get64(pmdv + 16); got != 0 {
		t.Errorf("pmdv_mutex[1] = %#x", got)
	}
	if got := w.Mem.Get64(pmdv + 24); got != ch.SharedKaddr() {
		t.Errorf("pmdv_config = %#x", got)
	}
	if got := w.Mem.Peek(pmdv+32, 1)[0]; got != 1 {
		t.Errorf("pmdv_allocated = %d", got)
	}
}

func TestInstallStoreSequence(t *testing.T) {
	w, _, _ := install(t)
	pmdv := w.PerfmonDevice()
	var got []uint64
	for _, wr := range w.Mem.Writes {
		if wr.Addr >= pmdv && wr.Addr < pmdv+40 {
			if len(wr.Data) != 8 {
				t.Errorf("store at %#x is %d bytes", wr.Addr, len(wr.Data))
			}
			got = append(got, wr.Addr-pmdv)
		}
	}
	if diff := cmp.Diff([]uint64{12, 16, 20, 24, 28}, got); diff != "" {
		t.Errorf("perfmon device stores mismatch (-want +got):\n%s", diff)
	}
}

func TestInstallUnsupported(t *testing.T) {
	w, sw, as := setup(t)
	cfg := w.Config()
	cfg.Host.HardwareModel = "D73AP"
	reads := w.Mem.Reads

	ch := perf.New(cfg)
	if err := ch.Install(sw, w.Profile, as); err != nil {
		t.Fatalf("Install() = %v", err)
	}
	if ch.State() != perf.Uninstalled {
		t.Errorf("State() = %s", ch.State())
	}
	if ch.Supported() {
		t.Error("Supported() = true")
	}
	if w.Opens != 0 || w.Allocs != 0 {
		t.Errorf("opens = %d, allocs = %d", w.Opens, w.Allocs)
	}
	if w.Mem.Reads != reads || len(w.Mem.Writes) != 0 {
		t.Errorf("kernel touched: %d reads, %d writes", w.Mem.Reads-reads, len(w.Mem.Writes))
	}
	if sw.Active() != w.Mem {
		t.Error("capability was swapped")
	}
}

func TestInstallFailures(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(w *perftest.World)
		want    error
	}{
		{
			name:    "bad mach header",
			corrupt: func(w *perftest.World) { w.Mem.Put32(w.KC.KernelBase+perftest.Slide, 0xfeedface) },
			want:    kerr.ErrValidation,
		},
		{
			name:    "perfmon lock held",
			corrupt: func(w *perftest.World) { w.Mem.Put64(w.PerfmonDevice()+8, 0x22000001) },
			want:    kerr.ErrValidation,
		},
		{
			name: "perfmon_dev_open missing",
			corrupt: func(w *perftest.World) {
				w.Mem.Put64(w.KC.Cdevsw+perftest.Slide+perf.PerfmonMajor*14*8, 0)
			},
			want: kerr.ErrValidation,
		},
		{
			name:    "ttbr mismatch",
			corrupt: func(w *perftest.World) { w.Mem.Put64(perftest.KernelPmap, 0) },
			want:    kerr.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, sw, as := setup(t)
			tt.corrupt(w)
			ch := perf.New(w.Config())
			err := ch.Install(sw, w.Profile, as)
			if !kerr.Is(err, tt.want) {
				t.Fatalf("Install() = %v, want %v", err, tt.want)
			}
			if ch.State() != perf.Uninstalled {
				t.Errorf("State() = %s", ch.State())
			}
			if len(w.Mem.Writes) != 0 {
				t.Errorf("%d kernel writes before the failure", len(w.Mem.Writes))
			}
			if !w.Device.Closed || !w.Page.Released {
				t.Error("device or page not released")
			}
			if sw.Active() != w.Mem {
				t.Error("capability was swapped")
			}
		})
	}
}

// failingWrites fails every KWrite that starts at addr.
type failingWrites struct {
	kmem.ReadWriter
	addr uint64
}

func (f *failingWrites) KWrite(p []byte, kaddr uint64) error {
	if kaddr == f.addr {
		return fmt.Errorf("write to %#x denied", kaddr)
	}
	return f.ReadWriter.KWrite(p, kaddr)
}

func TestInstallFailsAfterRedirect(t *testing.T) {
	w, _, as := setup(t)
	sw := kmem.NewSwitch(&failingWrites{ReadWriter: w.Mem, addr: w.PerfmonDevice() + 12})

	ch := perf.New(w.Config())
	if err := ch.Install(sw, w.Profile, as); err == nil {
		t.Fatal("Install() succeeded")
	}
	if ch.State() != perf.Failed {
		t.Fatalf("State() = %s, want %s", ch.State(), perf.Failed)
	}
	if got := w.Mem.Get32(w.RdevAddr()); got != perf.PerfmonMajor<<24 {
		t.Fatalf("si_rdev = %#x, want the redirected major", got)
	}
	if sw.Active() == ch {
		t.Error("channel swapped in after a failed install")
	}

	if err := ch.Uninstall(); err == nil {
		t.Error("Uninstall() of a failed channel succeeded")
	}
	if err := ch.Install(sw, w.Profile, as); err == nil {
		t.Error("Install() after a failed install succeeded")
	}
	if saved := ch.SavedRdev(); binary.LittleEndian.Uint32(saved[:]) != perftest.OrigRdevLo {
		t.Errorf("SavedRdev() = %x, want the original si_rdev", saved)
	}
	if w.Device.Closed || w.Page.Released {
		t.Error("device or page released while the kernel still references them")
	}
}

func TestInstallFailureResetsState(t *testing.T) {
	w, sw, as := setup(t)
	w.Mem.Put64(w.PerfmonDevice()+8, 0x22000001)
	ch := perf.New(w.Config())
	if err := ch.Install(sw, w.Profile, as); err == nil {
		t.Fatal("Install() succeeded")
	}
	if ch.Slide() != 0 || ch.KernelBase() != 0 || ch.Translation() != nil || ch.RdevAddr() != 0 {
		t.Errorf("stale state after failed install: slide %#x base %#x rdev %#x",
			ch.Slide(), ch.KernelBase(), ch.RdevAddr())
	}

	// a clean failure can be retried
	w.Mem.Put64(w.PerfmonDevice()+8, 0x22000000)
	if err := ch.Install(sw, w.Profile, as); err != nil {
		t.Fatalf("retry Install() = %v", err)
	}
	if ch.Slide() != perftest.Slide {
		t.Errorf("Slide() = %#x", ch.Slide())
	}
}

func TestInstallNeedsKernelPmap(t *testing.T) {
	w, sw, as := setup(t)
	as.Kernel = addrspace.Space{}
	ch := perf.New(w.Config())
	if err := ch.Install(sw, w.Profile, as); !kerr.Is(err, kerr.ErrAddressResolution) {
		t.Fatalf("Install() = %v", err)
	}
	if w.Opens != 0 {
		t.Error("device opened without a kernel pmap")
	}
}

func TestKWrite(t *testing.T) {
	w, sw, ch := install(t)
	const dest = 0xffffffe041414140
	writes := len(w.Mem.Writes)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 0xdeadbeef)
	if err := sw.KWrite(buf[:], dest); err != nil {
		t.Fatal(err)
	}
	if len(w.Device.Events) != 1 {
		t.Fatalf("%d ADD_EVENT calls, want 1", len(w.Device.Events))
	}
	ev := w.Device.Events[0]
	if ev.Number != 0xdeadbeef || ev.Shared.Counters != dest {
		t.Errorf("event = %+v", ev)
	}
	if ev.Shared.Source != ch.SharedKaddr()+0x80 || ev.Shared.Events != ch.SharedKaddr()+0xb0 {
		t.Errorf("source/events = %#x/%#x", ev.Shared.Source, ev.Shared.Events)
	}
	if got := w.Mem.Get64(dest); got != 0xdeadbeef {
		t.Errorf("dest = %#x", got)
	}
	if len(w.Mem.Writes) != writes {
		t.Error("write went through the slow capability")
	}

	w.Device.Events = nil
	words := []uint64{1, 2, 3}
	p := make([]byte, 8*len(words))
	for i, v := range words {
		binary.LittleEndian.PutUint64(p[i*8:], v)
	}
	if err := ch.KWrite(p, dest); err != nil {
		t.Fatal(err)
	}
	var counters []uint64
	for _, ev := range w.Device.Events {
		counters = append(counters, ev.Shared.Counters)
	}
	if diff := cmp.Diff([]uint64{dest, dest + 8, dest + 16}, counters); diff != "" {
		t.Errorf("counter targets mismatch (-want +got):\n%s", diff)
	}

	for _, n := range []int{0, 4, 12} {
		if err := ch.KWrite(make([]byte, n), dest); err == nil {
			t.Errorf("KWrite(%d bytes) succeeded", n)
		}
	}

	if s, _ := perf.DecodeShared(w.Page.Bytes()); s != (perf.Shared{}) {
		t.Errorf("shared page not cleared: %+v", s)
	}
}

func TestKRead(t *testing.T) {
	w, sw, ch := install(t)
	const src = 0xffffffe041414000
	w.Mem.Put64(src, 0x4142434445464748)
	reads := w.Mem.Reads

	var buf [8]byte
	if err := sw.KRead(src, buf[:]); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint64(buf[:]); got != 0x4142434445464748 {
		t.Errorf("KRead() = %#x", got)
	}
	if w.Mem.Reads != reads {
		t.Error("read went through the slow capability")
	}
	if len(w.Device.Specifies) != 1 || w.Device.Specifies[0].Events != src {
		t.Errorf("SPECIFY calls = %+v", w.Device.Specifies)
	}
	if s, _ := perf.DecodeShared(w.Page.Bytes()); s != (perf.Shared{}) {
		t.Errorf("shared page not cleared: %+v", s)
	}

	for _, n := range []int{0, perf.MaxReadSize + 1} {
		if err := ch.KRead(src, make([]byte, n)); err == nil {
			t.Errorf("KRead(%d bytes) succeeded", n)
		}
	}
	if err := ch.KRead(src, make([]byte, perf.MaxReadSize)); err != nil {
		t.Errorf("KRead(max) = %v", err)
	}
}

func TestUninstall(t *testing.T) {
	w, sw, ch := install(t)
	saved := ch.SavedRdev()

	if err := ch.Uninstall(); err != nil {
		t.Fatal(err)
	}
	if ch.State() != perf.Uninstalled {
		t.Errorf("State() = %s", ch.State())
	}
	if sw.Active() != w.Mem {
		t.Error("previous capability not restored")
	}
	if diff := cmp.Diff(saved[:], w.Mem.Peek(w.RdevAddr(), 8)); diff != "" {
		t.Errorf("si_rdev not restored (-saved +kernel):\n%s", diff)
	}
	if got := w.Mem.Get32(w.RdevAddr()); got != perftest.OrigRdevLo {
		t.Errorf("si_rdev = %#x", got)
	}
	if !w.Device.Closed || !w.Page.Released {
		t.Error("device or page not released")
	}
	// the perfmon device slot is never given back
	if got := w.Mem.Get64(w.PerfmonDevice() + 24); got != ch.SharedKaddr() {
		t.Errorf("pmdv_config = %#x", got)
	}

	if err := ch.Uninstall(); err != nil {
		t.Errorf("second Uninstall() = %v", err)
	}
	if err := ch.KRead(0xffffffe041414000, make([]byte, 8)); err == nil {
		t.Error("KRead() after Uninstall succeeded")
	}
}

func TestInstallTwice(t *testing.T) {
	w, sw, ch := install(t)
	as, err := addrspace.Resolve(w.Mem, w.Profile, perftest.CurrentProc, perftest.KernelProc)
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Install(sw, w.Profile, as); err == nil {
		t.Error("second Install() succeeded")
	}
}
