// Package session runs the setup sequence that turns a raw kernel read/write
// primitive into a version-aware capability.
//
// Open selects the profile row for the running kernel, resolves the process
// and kernel address spaces and, when asked, installs the perfmon channel in
// front of the primitive. Close undoes that in reverse.
package session

import (
	"github.com/apex/log"
	"github.com/blacktop/krkw/internal/utils"
	"github.com/blacktop/krkw/pkg/addrspace"
	"github.com/blacktop/krkw/pkg/host"
	"github.com/blacktop/krkw/pkg/kmem"
	"github.com/blacktop/krkw/pkg/perf"
	"github.com/blacktop/krkw/pkg/translate"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/pkg/errors"
)

// Config configures a Session.
type Config struct {
	Host host.Info
	// CurrentProc and KernelProc are the proc addresses leaked by the primitive.
	CurrentProc uint64
	KernelProc  uint64

	EnablePerf bool
	Perf       perf.Config

	// T1SZ overrides the profile's value when non-zero.
	T1SZ uint
	// Table defaults to profile.Supported.
	Table profile.Table
}

// Session is an open kernel read/write session.
type Session struct {
	prof   *profile.Profile
	sw     *kmem.Switch
	as     *addrspace.Context
	perf   *perf.Channel
	closed bool
}

// Open runs setup on top of rw.
func Open(cfg Config, rw kmem.ReadWriter) (*Session, error) {
	table := cfg.Table
	if table == nil {
		table = profile.Supported
	}
	prof, err := table.Select(cfg.Host.KernelVersion)
	if err != nil {
		return nil, err
	}
	if cfg.T1SZ != 0 && cfg.T1SZ != prof.T1SZ {
		p := *prof
		p.T1SZ = cfg.T1SZ
		prof = &p
	}
	log.WithField("profile", prof.Name).Info("Selected kernel profile")
	utils.Indent(log.WithField("t1sz", prof.T1SZ).Debug)("kernel address space")

	s := &Session{prof: prof, sw: kmem.NewSwitch(rw)}

	if s.as, err = addrspace.Resolve(s.sw, prof, cfg.CurrentProc, cfg.KernelProc); err != nil {
		return nil, errors.Wrap(err, "failed to bootstrap address space")
	}

	if cfg.EnablePerf {
		pc := cfg.Perf
		pc.Host = cfg.Host
		s.perf = perf.New(pc)
		if err := s.perf.Install(s.sw, prof, s.as); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Close uninstalls the perfmon channel, if any, leaving the original primitive active.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.perf != nil {
		if err := s.perf.Uninstall(); err != nil {
			return err
		}
	}
	return nil
}

// Profile returns the selected profile row.
func (s *Session) Profile() *profile.Profile { return s.prof }

// AddressSpace returns the resolved process and kernel addresses.
func (s *Session) AddressSpace() *addrspace.Context { return s.as }

// Perf returns the perfmon channel, or nil if it was not requested.
func (s *Session) Perf() *perf.Channel { return s.perf }

// Translation returns the translation state, which only the perfmon channel loads.
func (s *Session) Translation() *translate.State {
	if s.perf == nil {
		return nil
	}
	return s.perf.Translation()
}

// RW returns the active capability.
func (s *Session) RW() kmem.ReadWriter { return s.sw }

// KRead reads through the active capability.
func (s *Session) KRead(kaddr uint64, p []byte) error {
	if s.closed {
		return errors.New("session closed")
	}
	return s.sw.KRead(kaddr, p)
}

// KWrite writes through the active capability.
func (s *Session) KWrite(p []byte, kaddr uint64) error {
	if s.closed {
		return errors.New("session closed")
	}
	return s.sw.KWrite(p, kaddr)
}

// Get reads a profile field of the object at base.
func (s *Session) Get(f profile.Field, base uint64) (uint64, error) {
	return kmem.Get(s, f, base)
}

// Field looks up a dynamic field of the selected profile by name.
func (s *Session) Field(name string) (profile.Field, error) {
	f, ok := s.prof.Lookup(name)
	if !ok {
		return profile.Field{}, errors.Errorf("profile %q has no field %q", s.prof.Name, name)
	}
	return f, nil
}
