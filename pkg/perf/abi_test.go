package perf

import (
	"encoding/binary"
	"testing"

	"github.com/blacktop/krkw/pkg/xnu/profile"
)

func TestABISizes(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want int
	}{
		{name: "perfmon_spec", v: perfmonSpec{}, want: 24},
		{name: "perfmon_layout", v: perfmonLayout{}, want: 12},
		{name: "perfmon_source", v: perfmonSource{}, want: sourceSize},
		{name: "perfmon_config", v: perfmonConfig{}, want: configSize},
		{name: "perfmon_event", v: perfmonEvent{}, want: eventSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := binary.Size(tt.v); got != tt.want {
				t.Errorf("binary.Size(%s) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestIoctlNumbers(t *testing.T) {
	iowr := func(group byte, num, size uint32) uint32 {
		return 0xc0000000 | (size&0x1fff)<<16 | uint32(group)<<8 | num
	}
	if got := iowr('P', 5, eventSize); got != ctlAddEvent {
		t.Errorf("PERFMON_CTL_ADD_EVENT = %#x, want %#x", got, ctlAddEvent)
	}
	if got := iowr('P', 10, 24); got != ctlSpecify {
		t.Errorf("PERFMON_CTL_SPECIFY = %#x, want %#x", got, ctlSpecify)
	}
}

func TestDecodeShared(t *testing.T) {
	page := make([]byte, SharedSize)
	put(page, configOffset, perfmonConfig{
		Source:   0xffffffe000104080,
		Spec:     perfmonSpec{Events: 0xffffffe0001040b0, EventCount: 3},
		Counters: 0xfffffff007004000,
	})
	put(page, sourceOffset, perfmonSource{Layout: perfmonLayout{CounterCount: 1, FixedOffset: 1}})

	got, err := DecodeShared(page)
	if err != nil {
		t.Fatal(err)
	}
	want := Shared{
		Source:       0xffffffe000104080,
		Events:       0xffffffe0001040b0,
		EventCount:   3,
		Counters:     0xfffffff007004000,
		CounterCount: 1,
		FixedOffset:  1,
	}
	if got != want {
		t.Errorf("DecodeShared() = %+v, want %+v", got, want)
	}
	if _, err := DecodeShared(page[:SharedSize-1]); err == nil {
		t.Error("expected short page to fail")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Uninstalled:  "uninstalled",
		Installing:   "installing",
		Installed:    "installed",
		Uninstalling: "uninstalling",
		Failed:       "failed",
		State(9):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestLookupKernelcache(t *testing.T) {
	tests := []struct {
		model, build string
		want         string
	}{
		{model: "D74AP", build: "20E247", want: "iOS 16.4 - iPhone 14 Pro Max"},
		{model: "D74AP", build: "20F66", want: "iOS 16.5 - iPhone 14 Pro Max"},
		{model: "D74AP\x00", build: "20F75\x00", want: "iOS 16.5.1 - iPhone 14 Pro Max"},
		{model: "D73AP", build: "20F66"},
		{model: "D74AP", build: "20G75"},
	}
	for _, tt := range tests {
		kc, ok := LookupKernelcache(tt.model, tt.build)
		if tt.want == "" {
			if ok {
				t.Errorf("LookupKernelcache(%q, %q) = %s, want none", tt.model, tt.build, kc.Name)
			}
			continue
		}
		if !ok || kc.Name != tt.want {
			t.Errorf("LookupKernelcache(%q, %q) = %v, %v; want %s", tt.model, tt.build, kc, ok, tt.want)
		}
	}
}

func TestPerfSupportedProfilesHaveKernelcache(t *testing.T) {
	for _, p := range profile.Supported {
		if !p.PerfSupported {
			continue
		}
		found := false
		for _, kc := range Kernelcaches {
			if kc.Name == p.Name {
				found = true
			}
		}
		if !found {
			t.Errorf("%s is perf supported but has no kernelcache addresses", p.Name)
		}
	}
}
