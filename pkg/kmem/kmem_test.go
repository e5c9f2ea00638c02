package kmem

import (
	"bytes"
	"errors"
	"testing"

	"github.com/blacktop/krkw/pkg/kmem/kmemtest"
	"github.com/blacktop/krkw/pkg/xnu/profile"
)

func TestGetSet(t *testing.T) {
	tests := []struct {
		name  string
		field profile.Field
		value uint64
		want  uint64
	}{
		{name: "u64", field: profile.Field{Name: "task.map", Offset: 0x28, Width: profile.U64}, value: 0xf123456789abcde0, want: 0xf123456789abcde0},
		{name: "u32 truncates", field: profile.Field{Name: "proc.p_pid", Offset: 0x60, Width: profile.U32}, value: 0x1122334455, want: 0x22334455},
		{name: "u16", field: profile.Field{Name: "kqworkloop.kqwl_state", Offset: 0x10, Width: profile.U16}, value: 0xbeef, want: 0xbeef},
		{name: "u8", field: profile.Field{Name: "flag", Offset: 0x3, Width: profile.U8}, value: 0x1ff, want: 0xff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := kmemtest.New()
			mem.Put64(0x1000+tt.field.Offset+8, 0xaaaaaaaaaaaaaaaa)
			if err := Set(mem, tt.field, 0x1000, tt.value); err != nil {
				t.Fatal(err)
			}
			got, err := Get(mem, tt.field, 0x1000)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Get() = %#x, want %#x", got, tt.want)
			}
			if len(mem.Writes) != 1 || len(mem.Writes[0].Data) != int(tt.field.Width) {
				t.Errorf("expected a single %d byte write, got %+v", tt.field.Width, mem.Writes)
			}
			if mem.Get64(0x1000+tt.field.Offset+8) != 0xaaaaaaaaaaaaaaaa {
				t.Error("write spilled past the field")
			}
		})
	}
}

func TestGetBadWidth(t *testing.T) {
	if _, err := Get(kmemtest.New(), profile.Field{Name: "bad", Width: 3}, 0); err == nil {
		t.Error("expected error for width 3")
	}
}

func TestGetFault(t *testing.T) {
	mem := kmemtest.New()
	mem.Fault(0x1028)
	_, err := Get(mem, profile.Field{Name: "task.map", Offset: 0x28, Width: profile.U64}, 0x1000)
	if err == nil {
		t.Fatal("expected fault")
	}
}

func TestSwitch(t *testing.T) {
	slow := kmemtest.New()
	slow.Put64(0x2000, 0x41)
	sw := NewSwitch(slow)

	var fastReads int
	fast := Funcs{
		Read: func(kaddr uint64, p []byte) error {
			fastReads++
			return slow.KRead(kaddr, p)
		},
	}
	prev := sw.Swap(fast)
	if prev != slow {
		t.Fatalf("Swap() returned %v, want the slow primitive", prev)
	}
	v, err := Read64(sw, 0x2000)
	if err != nil || v != 0x41 || fastReads != 1 {
		t.Errorf("Read64() = %#x, %v (fast reads %d)", v, err, fastReads)
	}
	if err := Write64(sw, 0x2000, 1); err == nil {
		t.Error("Funcs without Write should fail")
	}
	sw.Swap(prev)
	if sw.Active() != slow {
		t.Error("restore failed")
	}
}

func TestReadStruct(t *testing.T) {
	mem := kmemtest.New()
	mem.Put32(0x3000, 0xfeedfacf)
	mem.Put32(0x3004, 0x0100000c)
	var hdr struct {
		Magic uint32
		CPU   uint32
	}
	if err := ReadStruct(mem, 0x3000, &hdr); err != nil {
		t.Fatal(err)
	}
	if hdr.Magic != 0xfeedfacf || hdr.CPU != 0x0100000c {
		t.Errorf("ReadStruct() = %+v", hdr)
	}

	r := &Reader{RW: mem, Addr: 0x3000}
	buf := make([]byte, 4)
	if _, err := r.ReadAt(buf, 0x3004); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x0c, 0, 0, 0x01}) {
		t.Errorf("ReadAt() = %x", buf)
	}

	mem.Fault(0x3008)
	if err := ReadStruct(mem, 0x3004, &hdr); err == nil || errors.Unwrap(err) == nil {
		t.Errorf("ReadStruct() over a fault = %v", err)
	}
}
