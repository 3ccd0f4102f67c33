// Package vmm is the per-VM bookkeeping layer: VM, vCPU, and the VM arena
// (stable vmids, vCPU ↔ VM ↔ task modeled by id rather than owning back
// pointers, avoiding a VM/vCPU/task cyclic-reference). Stage-2 memory itself
// lives in mm.MMStruct; this package wires a VM's vCPUs, vdev list, and
// native/HVM-window state around it.
//
// Grounded on os/virt/vmm.c (struct vm/mm_struct shape implied by
// vm_mmap_init/create_hvm_iomem_map) and a VM/vCPU field list.
package vmm

import (
	"sync"

	"hypercore/core_engine/herr"
	"hypercore/core_engine/mm"
	"hypercore/core_engine/sched"
)

// VCPU is one schedulable virtual CPU of a VM.
type VCPU struct {
	VMID     int
	ID       int
	Task     *sched.Task
	Affinity int

	VMCSSlot int
	VMCSIRQ  uint32

	// Regs holds X0..X6 of the trapped guest's general-purpose register
	// file: X0 is the HVC/SMC function id on entry and the single return
	// value on exit, X1..X6 are its arguments (trap.c's arm_svc_handler
	// reading reg->x0..reg->x6). This is the only slice of a full gp_regs
	// this tree models — everything else a real EL2 trap would preserve
	// is out of scope.
	Regs [7]uint64

	mu         sync.Mutex
	pendingIRQ []uint32
}

// PushPendingVIRQ appends a virq number the vCPU's vIRQ queue (the vmm-side
// half of virq.Router's per-vCPU pending queue).
func (v *VCPU) PushPendingVIRQ(irq uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pendingIRQ = append(v.pendingIRQ, irq)
}

func (v *VCPU) PopPendingVIRQ() (uint32, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.pendingIRQ) == 0 {
		return 0, false
	}
	irq := v.pendingIRQ[0]
	v.pendingIRQ = v.pendingIRQ[1:]
	return irq, true
}

// VDev is the interface every emulated device implements to answer a
// trapped MMIO access, the vmm-side counterpart of L9's registry.
type VDev interface {
	Name() string
	Covers(gpa uint64, size int) bool
	Read(gpa uint64, size int) (uint64, error)
	Write(gpa uint64, size int, val uint64) error
}

// VM is one virtual machine (struct vm).
type VM struct {
	VMID     int
	Name     string
	OSType   string
	Entry    uint64
	Native   bool // VM0, the privileged host VM
	ShmemWin uint64

	MM *mm.MMStruct

	mu     sync.Mutex
	vcpus  []*VCPU
	vdevs  []VDev
}

func NewVM(vmid int, name string, native bool) *VM {
	return &VM{VMID: vmid, Name: name, Native: native, MM: &mm.MMStruct{}}
}

func (vm *VM) AddVCPU(id, affinity int, task *sched.Task) *VCPU {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	v := &VCPU{VMID: vm.VMID, ID: id, Task: task, Affinity: affinity, VMCSSlot: id}
	vm.vcpus = append(vm.vcpus, v)
	return v
}

func (vm *VM) VCPU(id int) (*VCPU, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, v := range vm.vcpus {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, herr.New(herr.NotFound, "vm %d has no vcpu %d", vm.VMID, id)
}

// RemoveVCPU detaches a vCPU from the VM (IOCTL_UNREGISTER_VCPU).
func (vm *VM) RemoveVCPU(id int) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i, v := range vm.vcpus {
		if v.ID == id {
			vm.vcpus = append(vm.vcpus[:i], vm.vcpus[i+1:]...)
			return nil
		}
	}
	return herr.New(herr.NotFound, "vm %d has no vcpu %d", vm.VMID, id)
}

func (vm *VM) VCPUCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.vcpus)
}

// RegisterVDev adds a device to this VM's MMIO dispatch list (L9 scans it
// under vm.mu, mirroring a linear-scan-under-lock vdev registry).
func (vm *VM) RegisterVDev(d VDev) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.vdevs = append(vm.vdevs, d)
}

// FindVDev returns the device covering [gpa, gpa+size), or NotFound.
func (vm *VM) FindVDev(gpa uint64, size int) (VDev, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, d := range vm.vdevs {
		if d.Covers(gpa, size) {
			return d, nil
		}
	}
	return nil, herr.New(herr.NotFound, "no vdev covers %#x/%d in vm %d", gpa, size, vm.VMID)
}

// Arena is the stable-vmid VM table (an arena of VMs). Tasks
// and vCPUs reference VMs by vmid rather than pointer.
type Arena struct {
	mu  sync.Mutex
	vms map[int]*VM
}

func NewArena() *Arena {
	return &Arena{vms: make(map[int]*VM)}
}

func (a *Arena) Add(vm *VM) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.vms[vm.VMID]; exists {
		return herr.New(herr.InvalidArg, "vmid %d already in use", vm.VMID)
	}
	a.vms[vm.VMID] = vm
	return nil
}

func (a *Arena) Get(vmid int) (*VM, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	vm, ok := a.vms[vmid]
	if !ok {
		return nil, herr.New(herr.NotFound, "no vm with id %d", vmid)
	}
	return vm, nil
}

func (a *Arena) Remove(vmid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.vms, vmid)
}

// VM0 returns the privileged host VM, NotFound if it hasn't been created.
func (a *Arena) VM0() (*VM, error) {
	return a.Get(0)
}
