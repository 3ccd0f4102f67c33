package ctl

import (
	"testing"

	"hypercore/core_engine/sched"
	"hypercore/core_engine/vmm"
)

func TestCreateVMThenRegisterVCPUAndVMCS(t *testing.T) {
	arena := vmm.NewArena()
	m := NewManager(arena)

	vmid, err := m.CreateVM(CreateVMInfo{Name: "guest0", NRVCPU: 1})
	if err != nil {
		t.Fatalf("create vm: %v", err)
	}

	sc := sched.NewScheduler(1)
	task, err := sc.CreateTask("vcpu0", nil, nil, sched.PrioPCPU, 0)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := m.RegisterVCPU(vmid, RegisterVCPUArg{VCPUID: 0, Affinity: 0}, task); err != nil {
		t.Fatalf("register vcpu: %v", err)
	}

	v, err := m.CreateVMCS(vmid, 0)
	if err != nil {
		t.Fatalf("create vmcs: %v", err)
	}
	if v.VCPUID != 0 {
		t.Fatalf("vmcs vcpu id = %d, want 0", v.VCPUID)
	}

	irq, err := m.CreateVMCSIRQ(vmid)
	if err != nil {
		t.Fatalf("create vmcs irq: %v", err)
	}
	irq2, _ := m.CreateVMCSIRQ(vmid)
	if irq2 == irq {
		t.Fatalf("expected distinct vmcs irqs, got %d twice", irq)
	}
}

func TestDestroyVMRemovesItFromArena(t *testing.T) {
	arena := vmm.NewArena()
	m := NewManager(arena)

	vmid, _ := m.CreateVM(CreateVMInfo{Name: "guest0"})
	if err := m.DestroyVM(vmid); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := arena.Get(vmid); err == nil {
		t.Fatalf("expected vm removed from arena")
	}
	if err := m.DestroyVM(vmid); err == nil {
		t.Fatalf("expected destroying an already-gone vm to fail")
	}
}

func TestPowerCycleAndRestart(t *testing.T) {
	arena := vmm.NewArena()
	m := NewManager(arena)
	vmid, _ := m.CreateVM(CreateVMInfo{Name: "guest0"})

	if err := m.PowerUpVM(vmid); err != nil {
		t.Fatalf("power up: %v", err)
	}
	if err := m.RestartVM(vmid); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := m.PowerDownVM(vmid); err != nil {
		t.Fatalf("power down: %v", err)
	}
}

func TestUnregisterVCPURemovesIt(t *testing.T) {
	arena := vmm.NewArena()
	m := NewManager(arena)
	vmid, _ := m.CreateVM(CreateVMInfo{Name: "guest0"})

	if err := m.RegisterVCPU(vmid, RegisterVCPUArg{VCPUID: 1}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	vm, _ := arena.Get(vmid)
	if vm.VCPUCount() != 1 {
		t.Fatalf("expected 1 vcpu registered")
	}
	if err := m.UnregisterVCPU(vmid, 1); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if vm.VCPUCount() != 0 {
		t.Fatalf("expected vcpu removed")
	}
}
