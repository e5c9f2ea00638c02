// Package addrspace resolves the task, map and pmap of a process from its proc address.
package addrspace

import (
	"github.com/apex/log"
	"github.com/blacktop/krkw/internal/utils"
	"github.com/blacktop/krkw/pkg/kerr"
	"github.com/blacktop/krkw/pkg/kmem"
	"github.com/blacktop/krkw/pkg/xnu/pac"
	"github.com/blacktop/krkw/pkg/xnu/profile"
	"github.com/pkg/errors"
)

// Space is the kernel object chain of one process.
type Space struct {
	Proc uint64
	Task uint64
	Map  uint64
	Pmap uint64
}

// Context holds the resolved addresses of the current process and, when its
// proc is known, the kernel.
type Context struct {
	Current Space
	Kernel  Space
}

// HasKernel reports whether the kernel side has been resolved.
func (c *Context) HasKernel() bool {
	return c.Kernel.Proc != 0
}

// Resolve walks proc -> task -> map -> pmap for the current process and, if
// kernelProc is non-zero, for the kernel.
func Resolve(rw kmem.ReadWriter, prof *profile.Profile, currentProc, kernelProc uint64) (*Context, error) {
	if currentProc == 0 {
		return nil, kerr.Resolutionf("current proc address is null")
	}
	cur, err := resolveSpace(rw, prof, currentProc)
	if err != nil {
		return nil, errors.Wrap(err, "current")
	}
	ctx := &Context{Current: cur}
	if kernelProc != 0 {
		if err := ctx.AddKernel(rw, prof, kernelProc); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// AddKernel resolves the kernel side from the kernel's proc address.
func (c *Context) AddKernel(rw kmem.ReadWriter, prof *profile.Profile, kernelProc uint64) error {
	if kernelProc == 0 {
		return kerr.Resolutionf("kernel proc address is null")
	}
	k, err := resolveSpace(rw, prof, kernelProc)
	if err != nil {
		return errors.Wrap(err, "kernel")
	}
	c.Kernel = k
	return nil
}

func resolveSpace(rw kmem.ReadWriter, prof *profile.Profile, proc uint64) (Space, error) {
	strip := pac.Stripper{T1SZ: prof.T1SZ}
	s := Space{Proc: proc}

	// task is allocated directly behind proc
	s.Task = proc + prof.Proc.Size

	signed, err := kmem.Get(rw, prof.Task.Map, s.Task)
	if err != nil {
		return Space{}, kerr.Resolution(err)
	}
	s.Map = strip.Strip(signed)

	signed, err = kmem.Get(rw, prof.VMMap.Pmap, s.Map)
	if err != nil {
		return Space{}, kerr.Resolution(err)
	}
	s.Pmap = strip.Strip(signed)

	utils.Indent(log.WithFields(log.Fields{
		"proc": utils.Hex(s.Proc),
		"task": utils.Hex(s.Task),
		"map":  utils.Hex(s.Map),
		"pmap": utils.Hex(s.Pmap),
	}).Debug)("resolved address space")

	return s, nil
}
