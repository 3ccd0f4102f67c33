package core

import (
	"testing"

	"hypercore/core_engine/ctl"
	"hypercore/core_engine/virq"
)

func testConfig() Config {
	return Config{
		NCPU:          2,
		NormalWinBase: 0x40000000,
		NormalWinSize: 0x10000000,
		IOWinBase:     0x50000000,
		IOWinSize:     0x1000000,
	}
}

func TestNewRejectsZeroCPUs(t *testing.T) {
	if _, err := New(Config{NCPU: 0}); err == nil {
		t.Fatalf("expected NCPU=0 to be rejected")
	}
}

func TestNewWiresAllSubsystems(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Sched == nil || c.IRQ == nil || c.SMP == nil || c.Arena == nil ||
		c.VIRQ == nil || c.Trap == nil || c.HVC == nil || c.Mailbox == nil ||
		c.Ctl == nil || c.Alloc == nil {
		t.Fatalf("expected every subsystem to be constructed")
	}
}

func TestCreateVM0RegistersVCPUZero(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	vm, err := c.CreateVM0("vm0")
	if err != nil {
		t.Fatalf("create vm0: %v", err)
	}
	if !vm.Native {
		t.Fatalf("expected vm0 to be native")
	}
	if vm.VCPUCount() != 1 {
		t.Fatalf("expected 1 vcpu, got %d", vm.VCPUCount())
	}
}

func TestSecondVMCreatedViaCtlIsNotNative(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.CreateVM0("vm0"); err != nil {
		t.Fatalf("create vm0: %v", err)
	}
	vmid, err := c.Ctl.CreateVM(ctl.CreateVMInfo{Name: "guest1", NRVCPU: 1})
	if err != nil {
		t.Fatalf("create guest vm: %v", err)
	}
	vm, err := c.Arena.Get(vmid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if vm.Native {
		t.Fatalf("expected guest vm to not be native")
	}
}

func TestNewVCPUTimerRegistersVModuleAndArmsOnRestore(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	vm, err := c.CreateVM0("vm0")
	if err != nil {
		t.Fatalf("create vm0: %v", err)
	}
	vcpu, err := vm.VCPU(0)
	if err != nil {
		t.Fatalf("vcpu: %v", err)
	}

	var now uint64 = 1000
	vt, err := c.NewVCPUTimer(virq.KindVirtual, 27, 0, vcpu, func() uint64 { return now })
	if err != nil {
		t.Fatalf("new vcpu timer: %v", err)
	}
	vt.WriteCtl(virq.CntCtlEnable, now)
	vt.WriteCVal(now+50, now)

	// A context switch away and back must not lose the armed timer (Save
	// detaches it, Restore re-arms from the saved cnt_ctl/cnt_cval).
	c.Sched.SwitchContext(vcpu.Task, nil)
	now = 1060
	c.Sched.SwitchContext(nil, vcpu.Task)

	wheel, err := c.TimerWheel(0)
	if err != nil {
		t.Fatalf("timer wheel: %v", err)
	}
	wheel.ExpireDue(now)

	if _, ok := vcpu.PopPendingVIRQ(); !ok {
		t.Fatalf("expected vtimer expiry to inject a pending virq")
	}
}

func TestTimerWheelOutOfRangeRejected(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.TimerWheel(5); err == nil {
		t.Fatalf("expected out-of-range cpu to be rejected")
	}
}
