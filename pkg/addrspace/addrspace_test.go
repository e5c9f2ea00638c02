package addrspace

import (
	"testing"

	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/blacktop/krkw/pkg/kmem"
	"github.com/blacktop/krkw/pkg/kmem/kmemtest"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		Name: "test",
		T1SZ: 17,
		Proc: profile.Proc{Size: 0x730},
		Task: profile.Task{
			Map: profile.Field{Name: "task.map", Offset: 0x28, Width: profile.U64},
		},
		VMMap: profile.VMMap{
			Pmap: profile.Field{Name: "vm_map.pmap", Offset: 0x40, Width: profile.U64},
		},
	}
}

func TestResolveCurrent(t *testing.T) {
	mem := kmemtest.New()
	mem.Put64(0x1730+0x28, 0xf123456789abcde0)
	mem.Put64(0xffffc56789abcde0+0x40, 0xa1b2ffe000123400)

	ctx, err := Resolve(mem, testProfile(), 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := Space{
		Proc: 0x1000,
		Task: 0x1730,
		Map:  0xffffc56789abcde0,
		Pmap: 0xffffffe000123400,
	}
	if diff := cmp.Diff(want, ctx.Current); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
	if ctx.HasKernel() {
		t.Error("kernel side should be empty")
	}
	if mem.Reads != 2 {
		t.Errorf("expected exactly two reads, got %d", mem.Reads)
	}
}

func TestResolveKernel(t *testing.T) {
	mem := kmemtest.New()
	prof := testProfile()
	mem.Put64(0x1730+0x28, 0xffff800000010000)
	mem.Put64(0xffff800000010000+0x40, 0xffff800000020000)
	mem.Put64(0x5730+0x28, 0x0000800000030000)
	mem.Put64(0xffff800000030000+0x40, 0x1234800000040000)

	ctx, err := Resolve(mem, prof, 0x1000, 0x5000)
	if err != nil {
		t.Fatal(err)
	}
	want := Context{
		Current: Space{Proc: 0x1000, Task: 0x1730, Map: 0xffff800000010000, Pmap: 0xffff800000020000},
		Kernel:  Space{Proc: 0x5000, Task: 0x5730, Map: 0xffff800000030000, Pmap: 0xffff800000040000},
	}
	if diff := cmp.Diff(want, *ctx); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveErrors(t *testing.T) {
	prof := testProfile()
	if _, err := Resolve(kmemtest.New(), prof, 0, 0); !kerr.Is(err, kerr.ErrAddressResolution) {
		t.Errorf("null seed: got %v", err)
	}

	mem := kmemtest.New()
	mem.Fault(0x1730 + 0x28)
	if _, err := Resolve(mem, prof, 0x1000, 0); !kerr.Is(err, kerr.ErrAddressResolution) {
		t.Errorf("faulting task.map: got %v", err)
	}

	ctx := &Context{}
	if err := ctx.AddKernel(kmemtest.New(), prof, 0); !kerr.Is(err, kerr.ErrAddressResolution) {
		t.Errorf("null kernel seed: got %v", err)
	}
}

var errDenied = errors.New("read denied")

type deniedReads struct{ kmem.ReadWriter }

func (deniedReads) KRead(uint64, []byte) error { return errDenied }

func TestResolveKeepsReadError(t *testing.T) {
	_, err := Resolve(deniedReads{kmemtest.New()}, testProfile(), 0x1000, 0)
	if !kerr.Is(err, kerr.ErrAddressResolution) {
		t.Errorf("Resolve() = %v, want ErrAddressResolution", err)
	}
	if !errors.Is(err, errDenied) {
		t.Errorf("Resolve() = %v, lost the read error", err)
	}
}
