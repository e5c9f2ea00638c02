package perf

// Layouts of the perfmon structures the channel builds in the shared page and
// reads or writes in the kernel. These are fixed for the builds in Kernelcaches.

const (
	// _IOWR('P', 5, struct perfmon_event)
	ctlAddEvent = 0xc0305005
	// _IOWR('P', 10, struct perfmon_spec)
	ctlSpecify = 0xc018500a

	specMaxAttrCount = 32

	// MaxReadSize is the largest read a single SPECIFY can copy out.
	MaxReadSize = 0xffff
)

// perfmonSpec is struct perfmon_spec.
type perfmonSpec struct {
	Events     uint64
	Attrs      uint64
	EventCount uint16
	AttrCount  uint16
	_          [4]byte
}

// perfmonLayout is struct perfmon_layout.
type perfmonLayout struct {
	CounterCount uint16
	FixedOffset  uint16
	FixedCount   uint16
	UnitCount    uint16
	RegCount     uint16
	AttrCount    uint16
}

// perfmonSource is struct perfmon_source.
type perfmonSource struct {
	Name           uint64
	RegisterNames  uint64
	AttributeNames uint64
	Layout         perfmonLayout
	Kind           uint32
	Supported      uint8
	_              [7]byte
}

// perfmonConfig is struct perfmon_config.
type perfmonConfig struct {
	Source       uint64
	Spec         perfmonSpec
	AttrIDs      [specMaxAttrCount]uint16
	Counters     uint64
	CountersUsed uint64
	AttrsUsed    uint64
	Configured   uint8
	_            [7]byte
}

// perfmonEvent is struct perfmon_event.
type perfmonEvent struct {
	Name    [32]byte
	Number  uint64
	Counter uint16
	_       [6]byte
}

// Shared page layout: config | source | event.
const (
	configOffset = 0
	configSize   = 128
	sourceOffset = configOffset + configSize
	sourceSize   = 48
	eventOffset  = sourceOffset + sourceSize
	eventSize    = 48

	// SharedSize is the part of the shared page the channel uses.
	SharedSize = eventOffset + eventSize
)

// struct perfmon_device
const (
	deviceSize            = 40
	deviceMutexOffset     = 8
	deviceConfigOffset    = 24
	deviceAllocatedOffset = 32

	deviceLockMask     = 0xffffff00ffffffff
	deviceLockSentinel = 0x22000000
)

// struct cdevsw
const (
	cdevswSlots = 64
	cdevswWords = 14

	// PerfmonMajor is the character device major perfmon registers on these builds.
	PerfmonMajor = 0x11
)

// DefaultDevice is the character device whose vnode is redirected to perfmon.
const DefaultDevice = "/dev/aes_0"
