// Package profile is the table of per-build kernel struct layouts.
//
// XNU struct layouts move between releases, so nothing outside this package
// hardcodes an offset for a version-dependent field. A Profile row is selected
// once from the running kernel's version string and read-only afterwards.
package profile

import (
	"regexp"
	"strings"

	"github.com/blacktop/krkw/pkg/kerr"
	semver "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

// Proc is the layout of struct proc.
type Proc struct {
	ListNext Field // p_list.le_next
	ListPrev Field // p_list.le_prev
	Pid      Field
	FdOfiles Field // p_fd.fd_ofiles
	Size     uint64
}

// Task is the layout of struct task.
type Task struct {
	Map         Field
	ThreadsNext Field
	ThreadsPrev Field
	ItkSpace    Field
	Size        uint64
}

// Thread is the layout of struct thread.
type Thread struct {
	TaskThreadsNext Field
	TaskThreadsPrev Field
	Map             Field
	ThreadID        Field
	Size            uint64
}

// Uthread is the layout of struct uthread.
type Uthread struct {
	Size uint64
}

// Kqworkloop is the layout of struct kqworkloop.
type Kqworkloop struct {
	State     Field
	P         Field
	Owner     Field
	DynamicID Field
	Size      uint64
}

// VMMap is the layout of struct _vm_map.
type VMMap struct {
	LinksPrev   Field
	LinksNext   Field
	MinOffset   Field
	MaxOffset   Field
	NEntries    Field
	NEntriesU64 Field
	RBRoot      Field
	Pmap        Field
	Hint        Field
	HoleHint    Field
	HolesList   Field
	Size        uint64
}

// Profile is one supported kernel build.
type Profile struct {
	Name string
	// Fingerprint is compared as a prefix of kern.version.
	Fingerprint string
	// Placeholder rows are kept for their layouts but can never be selected.
	Placeholder bool
	// T1SZ is the boot-time size configuration of the kernel address space.
	T1SZ uint

	KqueueWorkloopCtl bool
	PerfSupported     bool

	Proc       Proc
	Task       Task
	Thread     Thread
	Uthread    Uthread
	Kqworkloop Kqworkloop
	VMMap      VMMap
}

// Sized is a field with the size of the object that contains it.
type Sized struct {
	Field
	ObjectSize uint64
}

// Fields returns every version-dependent field of the row.
func (p *Profile) Fields() []Sized {
	var out []Sized
	add := func(size uint64, fields ...Field) {
		for _, f := range fields {
			out = append(out, Sized{Field: f, ObjectSize: size})
		}
	}
	add(p.Proc.Size, p.Proc.ListNext, p.Proc.ListPrev, p.Proc.Pid, p.Proc.FdOfiles)
	add(p.Task.Size, p.Task.Map, p.Task.ThreadsNext, p.Task.ThreadsPrev, p.Task.ItkSpace)
	add(p.Thread.Size, p.Thread.TaskThreadsNext, p.Thread.TaskThreadsPrev, p.Thread.Map, p.Thread.ThreadID)
	add(p.Kqworkloop.Size, p.Kqworkloop.State, p.Kqworkloop.P, p.Kqworkloop.Owner, p.Kqworkloop.DynamicID)
	add(p.VMMap.Size,
		p.VMMap.LinksPrev, p.VMMap.LinksNext, p.VMMap.MinOffset, p.VMMap.MaxOffset,
		p.VMMap.NEntries, p.VMMap.NEntriesU64, p.VMMap.RBRoot, p.VMMap.Pmap,
		p.VMMap.Hint, p.VMMap.HoleHint, p.VMMap.HolesList)
	return out
}

// Lookup returns the dynamic field with the given logical name, e.g. "task.map".
func (p *Profile) Lookup(name string) (Field, bool) {
	for _, f := range p.Fields() {
		if f.Name == name {
			return f.Field, true
		}
	}
	return Field{}, false
}

var darwinRe = regexp.MustCompile(`^Darwin Kernel Version (?P<darwin>[0-9.]+):`)

// Darwin returns the Darwin release encoded in the fingerprint.
func (p *Profile) Darwin() (*semver.Version, error) {
	m := darwinRe.FindStringSubmatch(p.Fingerprint)
	if m == nil {
		return nil, errors.Errorf("profile %q: fingerprint has no darwin version", p.Name)
	}
	return semver.NewVersion(m[1])
}

// Matches reports whether kernVersion was produced by this build.
func (p *Profile) Matches(kernVersion string) bool {
	if p.Placeholder || len(p.Fingerprint) == 0 {
		return false
	}
	return strings.HasPrefix(kernVersion, p.Fingerprint)
}

// Table is an ordered list of profile rows.
type Table []Profile

// Resolve returns the index of the first row matching kernVersion.
func (t Table) Resolve(kernVersion string) (int, error) {
	for i := range t {
		if t[i].Matches(kernVersion) {
			return i, nil
		}
	}
	return -1, errors.Wrapf(kerr.ErrUnsupportedVersion, "%q", strings.TrimSpace(kernVersion))
}

// Select resolves kernVersion and returns the matching row.
func (t Table) Select(kernVersion string) (*Profile, error) {
	vid, err := t.Resolve(kernVersion)
	if err != nil {
		return nil, err
	}
	return &t[vid], nil
}
