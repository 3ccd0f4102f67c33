// Package ctl is the VM-manager control surface: the set of commands a
// host-side manager process issues against a VM (create/destroy, register
// a vCPU, wire up a VMCS and its trap vIRQ, power state transitions,
// memory mapping). Grounded on mvm/main/mvm.c's ioctl(vm->vm_fd, IOCTL_*,
// ...) call sites and, for the numbering/dispatch idiom itself, on the
// KVM ioctl command table this module's host-virtualization ancestor
// used — reworked here into an in-process Go interface instead of a
// /dev/kvm file descriptor, since this hypervisor's VM-manager runs in
// the same address space as the core rather than issuing real syscalls.
package ctl

import (
	"sync"

	"hypercore/core_engine/herr"
	"hypercore/core_engine/mm"
	"hypercore/core_engine/sched"
	"hypercore/core_engine/vmcs"
	"hypercore/core_engine/vmm"
)

// Command identifies one control-surface operation (mirrors the IOCTL_*
// constants mvm.c passes to ioctl()).
type Command uint32

const (
	CmdCreateVM Command = iota
	CmdDestroyVM
	CmdCreateVMCS
	CmdCreateVMCSIRQ
	CmdRegisterVCPU
	CmdUnregisterVCPU
	CmdCreateHostVDev
	CmdPowerUpVM
	CmdPowerDownVM
	CmdRestartVM
	CmdVMMap
	CmdVMUnmap
)

// CreateVMInfo mirrors mvm.c's vm_info passed to IOCTL_CREATE_VM.
type CreateVMInfo struct {
	Name   string
	NRVCPU int
	Native bool
}

// RegisterVCPUArg mirrors the vcpu_info struct IOCTL_REGISTER_VCPU takes.
type RegisterVCPUArg struct {
	VCPUID   int
	Affinity int
	Prio     int
}

// Surface is the control-surface operations a VM manager drives; Manager
// below is the in-process reference implementation bound to a vmm.Arena.
type Surface interface {
	CreateVM(info CreateVMInfo) (int, error)
	DestroyVM(vmid int) error
	CreateVMCS(vmid, vcpuID int) (*vmcs.VMCS, error)
	CreateVMCSIRQ(vmid int) (uint32, error)
	RegisterVCPU(vmid int, arg RegisterVCPUArg, task *sched.Task) error
	UnregisterVCPU(vmid, vcpuID int) error
	CreateHostVDev(vmid int, dev vmm.VDev) error
	PowerUpVM(vmid int) error
	PowerDownVM(vmid int) error
	RestartVM(vmid int) error
	VMMap(alloc *mm.BlockAllocator, dstVMID int, srcVMID int, srcGPA uint64, size uint64, io bool) (uint64, error)
	VMUnmap(vmid int, gpa uint64, size uint64) error
}

// powerState tracks PowerUpVM/PowerDownVM/RestartVM transitions per VM
// (mvm.c issues these against vm_fd; here they are just state on the
// Manager's side since there is no separate kernel VM object to toggle).
type powerState int

const (
	powerOff powerState = iota
	powerOn
)

// Manager is the reference Surface implementation, backed directly by a
// vmm.Arena: each VM it creates is a real vmm.VM with its own MM and VCPU
// table, and CreateVMCS/CreateVMCSIRQ hand back the real vmcs.VMCS/virq
// plumbing other packages already implement, rather than re-deriving it.
type Manager struct {
	arena *vmm.Arena

	mu      sync.Mutex
	vmcs    map[int]map[int]*vmcs.VMCS // vmid -> vcpuID -> vmcs
	power   map[int]powerState
	nextIRQ uint32
}

func NewManager(arena *vmm.Arena) *Manager {
	return &Manager{
		arena:   arena,
		vmcs:    make(map[int]map[int]*vmcs.VMCS),
		power:   make(map[int]powerState),
		nextIRQ: 32,
	}
}

func (m *Manager) CreateVM(info CreateVMInfo) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vmid := len(m.power)
	vm := vmm.NewVM(vmid, info.Name, info.Native)
	if err := m.arena.Add(vm); err != nil {
		return 0, err
	}
	m.vmcs[vmid] = make(map[int]*vmcs.VMCS)
	m.power[vmid] = powerOff
	return vmid, nil
}

func (m *Manager) DestroyVM(vmid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.power[vmid]; !ok {
		return herr.New(herr.NotFound, "ctl: vm %d not found", vmid)
	}
	delete(m.vmcs, vmid)
	delete(m.power, vmid)
	m.arena.Remove(vmid)
	return nil
}

func (m *Manager) CreateVMCS(vmid, vcpuID int) (*vmcs.VMCS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byVCPU, ok := m.vmcs[vmid]
	if !ok {
		return nil, herr.New(herr.NotFound, "ctl: vm %d not found", vmid)
	}
	v := vmcs.New(uint32(vcpuID))
	byVCPU[vcpuID] = v
	return v, nil
}

// CreateVMCSIRQ allocates the next free vIRQ number for a VMCS trap
// channel (mvm.c's loop calling IOCTL_CREATE_VMCS_IRQ once per vCPU).
func (m *Manager) CreateVMCSIRQ(vmid int) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.power[vmid]; !ok {
		return 0, herr.New(herr.NotFound, "ctl: vm %d not found", vmid)
	}
	irq := m.nextIRQ
	m.nextIRQ++
	return irq, nil
}

func (m *Manager) RegisterVCPU(vmid int, arg RegisterVCPUArg, task *sched.Task) error {
	vm, err := m.arena.Get(vmid)
	if err != nil {
		return err
	}
	vm.AddVCPU(arg.VCPUID, arg.Affinity, task)
	return nil
}

func (m *Manager) UnregisterVCPU(vmid, vcpuID int) error {
	vm, err := m.arena.Get(vmid)
	if err != nil {
		return err
	}
	return vm.RemoveVCPU(vcpuID)
}

func (m *Manager) CreateHostVDev(vmid int, dev vmm.VDev) error {
	vm, err := m.arena.Get(vmid)
	if err != nil {
		return err
	}
	vm.RegisterVDev(dev)
	return nil
}

func (m *Manager) setPower(vmid int, s powerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.power[vmid]; !ok {
		return herr.New(herr.NotFound, "ctl: vm %d not found", vmid)
	}
	m.power[vmid] = s
	return nil
}

func (m *Manager) PowerUpVM(vmid int) error   { return m.setPower(vmid, powerOn) }
func (m *Manager) PowerDownVM(vmid int) error { return m.setPower(vmid, powerOff) }

func (m *Manager) RestartVM(vmid int) error {
	if err := m.setPower(vmid, powerOff); err != nil {
		return err
	}
	return m.setPower(vmid, powerOn)
}

func (m *Manager) VMMap(alloc *mm.BlockAllocator, dstVMID, srcVMID int, srcGPA uint64, size uint64, io bool) (uint64, error) {
	dst, err := m.arena.Get(dstVMID)
	if err != nil {
		return 0, err
	}
	src, err := m.arena.Get(srcVMID)
	if err != nil {
		return 0, err
	}
	return mm.VMMap(alloc, dst.MM, src.MM, srcGPA, size, io)
}

func (m *Manager) VMUnmap(vmid int, gpa uint64, size uint64) error {
	vm, err := m.arena.Get(vmid)
	if err != nil {
		return err
	}
	return vm.MM.DestroyMapping(gpa, size)
}
