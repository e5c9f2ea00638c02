package profile

// DefaultT1SZ is the kernel address space configuration of A15 and newer devices.
const DefaultT1SZ = 17

func procLayout(size uint64) Proc {
	return Proc{
		ListNext: ptr("proc.p_list.le_next", 0x0000),
		ListPrev: ptr("proc.p_list.le_prev", 0x0008),
		Pid:      Field{Name: "proc.p_pid", Offset: 0x0060, Width: U32},
		FdOfiles: ptr("proc.p_fd.fd_ofiles", 0x00f8),
		Size:     size,
	}
}

func taskLayout(size uint64) Task {
	return Task{
		Map:         ptr("task.map", 0x0028),
		ThreadsNext: ptr("task.threads.next", 0x0058),
		ThreadsPrev: ptr("task.threads.prev", 0x0060),
		ItkSpace:    ptr("task.itk_space", 0x0300),
		Size:        size,
	}
}

func threadLayout(next, prev, vmMap, tid, size uint64) Thread {
	return Thread{
		TaskThreadsNext: ptr("thread.task_threads.next", next),
		TaskThreadsPrev: ptr("thread.task_threads.prev", prev),
		Map:             ptr("thread.map", vmMap),
		ThreadID:        ptr("thread.thread_id", tid),
		Size:            size,
	}
}

var kqworkloopLayout = Kqworkloop{
	State:     Field{Name: "kqworkloop.kqwl_state", Offset: 0x10, Width: U16},
	P:         ptr("kqworkloop.kqwl_p", 0x18),
	Owner:     ptr("kqworkloop.kqwl_owner", 0xd0),
	DynamicID: ptr("kqworkloop.kqwl_dynamicid", 0xe8),
	Size:      0x108,
}

func vmMapLayout(hint, size uint64) VMMap {
	return VMMap{
		LinksPrev:   ptr("vm_map.hdr.links.prev", 0x10),
		LinksNext:   ptr("vm_map.hdr.links.next", 0x18),
		MinOffset:   ptr("vm_map.min_offset", 0x20),
		MaxOffset:   ptr("vm_map.max_offset", 0x28),
		NEntries:    Field{Name: "vm_map.hdr.nentries", Offset: 0x30, Width: U32},
		NEntriesU64: ptr("vm_map.hdr.nentries_u64", 0x30),
		RBRoot:      ptr("vm_map.hdr.rb_head_store.rbh_root", 0x38),
		Pmap:        ptr("vm_map.pmap", 0x40),
		Hint:        ptr("vm_map.hint", hint),
		HoleHint:    ptr("vm_map.hole_hint", hint+0x08),
		HolesList:   ptr("vm_map.holes_list", hint+0x10),
		Size:        size,
	}
}

// Supported is the compiled-in table of kernel builds.
var Supported = Table{
	{
		Name:          "iOS 16.5 - iPhone 14 Pro Max",
		Fingerprint:   "Darwin Kernel Version 22.5.0: Mon Apr 24 21:09:28 PDT 2023; root:xnu-8796.122.4~1/RELEASE_ARM64_T8120",
		T1SZ:          DefaultT1SZ,
		PerfSupported: true,
		Proc:          procLayout(0x0730),
		Task:          taskLayout(0x0640),
		Thread:        threadLayout(0x368, 0x370, 0x380, 0x418, 0x4c0),
		Uthread:       Uthread{Size: 0x200},
		Kqworkloop:    kqworkloopLayout,
		VMMap:         vmMapLayout(0x98, 0xc0),
	},
	{
		// No perf kernelcache row: vm_page globals and the kernel base are unknown for this build.
		Name:        "iOS 16.6 - iPhone 12 Pro",
		Fingerprint: "Darwin Kernel Version 22.6.0: Wed Jun 28 20:50:15 PDT 2023; root:xnu-8796.142.1~1/RELEASE_ARM64_T8101",
		T1SZ:        25,
		Proc:        procLayout(0x0730),
		Task:        taskLayout(0x0640),
		Thread:      threadLayout(0x368, 0x370, 0x380, 0x418, 0x4c0),
		Uthread:     Uthread{Size: 0x200},
		Kqworkloop:  kqworkloopLayout,
		VMMap:       vmMapLayout(0x98, 0xc0),
	},
	{
		// TODO: fill in the fingerprint once the 13.4 kern.version string for this machine is captured.
		Name:        "macOS 13.4 - MacBook Air (M2, 2022)",
		Placeholder: true,
		T1SZ:        DefaultT1SZ,
		Proc:        procLayout(0x0778),
		Task:        taskLayout(0x0658),
		Thread:      threadLayout(0x3c0, 0x3c8, 0x3d8, 0x490, 0x650),
		Uthread:     Uthread{Size: 0x1b0},
		Kqworkloop:  kqworkloopLayout,
		VMMap:       vmMapLayout(0x80, 0xa8),
	},
	{
		Name:        "macOS 13.5 - MacBook Air (M2, 2022)",
		Fingerprint: "Darwin Kernel Version 22.6.0: Wed Jul  5 22:17:35 PDT 2023; root:xnu-8796.141.3~6/RELEASE_ARM64_T8112",
		T1SZ:        DefaultT1SZ,
		Proc:        procLayout(0x0778),
		Task:        taskLayout(0x0658),
		Thread:      threadLayout(0x3c0, 0x3c8, 0x3d8, 0x490, 0x650),
		Uthread:     Uthread{Size: 0x1b0},
		Kqworkloop:  kqworkloopLayout,
		VMMap:       vmMapLayout(0x80, 0xa8),
	},
}
