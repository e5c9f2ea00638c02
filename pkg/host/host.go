// Package host reads the facts about the running system that select a profile
// row and a kernelcache table entry.
package host

import "github.com/apex/log"

// Info identifies the running kernel and hardware.
type Info struct {
	// KernelVersion is kern.version, e.g.
	// "Darwin Kernel Version 22.5.0: Thu Jun  8 ...; root:xnu-8796.122.5~1/RELEASE_ARM64_T8120".
	KernelVersion string
	// OSVersion is the OS build, e.g. "20F66".
	OSVersion string
	// HardwareModel is hw.model, e.g. "D74AP".
	HardwareModel string
}

// Fields returns i as log fields.
func (i Info) Fields() log.Fields {
	return log.Fields{
		"kern.version":   i.KernelVersion,
		"kern.osversion": i.OSVersion,
		"hw.model":       i.HardwareModel,
	}
}
