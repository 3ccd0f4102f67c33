package core

import (
	"context"
	"testing"
	"time"

	"hypercore/core_engine/event"
	"hypercore/core_engine/mailbox"
	"hypercore/core_engine/primitives"
	"hypercore/core_engine/sched"
	"hypercore/core_engine/timer"
	"hypercore/core_engine/trap"
	"hypercore/core_engine/vmcs"
	"hypercore/core_engine/vmm"
)

// These scenarios exercise the end-to-end properties the CORE's packages
// are meant to provide together, one per named round trip: a vCPU parking
// on WFI and waking on a routed virq, mailbox creation producing the
// expected cookie, a mutex pend timing out, MMIO dispatch round-tripping
// a register write, the VMCS trap channel's host/guest index handshake,
// and a timer firing exactly once at its expiry.

func TestScenarioWFIWake(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("new core: %v", err)
	}

	vcpuTask, err := c.Sched.CreateTask("vcpu1", nil, nil, 10, primitives.AffinityAny)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	vcpu := &vmm.VCPU{ID: 1, Task: vcpuTask}

	// WFI traps into the dispatcher, which parks the vCPU task.
	c.Trap.Register(&trap.Desc{EC: trap.ECWFIWFE, Handler: func(vcpuID int, esr uint32) error {
		c.Sched.SetBlocked(vcpuTask, sched.StateSuspend)
		return nil
	}})
	if _, err := c.Trap.Dispatch(vcpu.ID, uint32(trap.ECWFIWFE)<<26); err != nil {
		t.Fatalf("dispatch wfi: %v", err)
	}
	if vcpuTask.State&sched.StateReady != 0 {
		t.Fatalf("expected vcpu task parked, still Ready")
	}

	// Another CPU routes a virq to this vCPU; it becomes Ready again and
	// the virq is queued for injection on next guest entry.
	c.VIRQ.SendToVCPU(vcpu, 42, 0, 1)
	c.Sched.MarkReady(vcpuTask)

	if vcpuTask.State&sched.StateReady == 0 {
		t.Fatalf("expected vcpu task Ready after virq wake")
	}
	irq, ok := vcpu.PopPendingVIRQ()
	if !ok || irq != 42 {
		t.Fatalf("expected pending virq 42, got %v ok=%v", irq, ok)
	}
}

func TestScenarioMailboxCreation(t *testing.T) {
	tbl := mailbox.NewTable()
	mb, err := tbl.Create("ping", 1, 2, make([]byte, 0x1000), 1)
	if err != nil {
		t.Fatalf("create mailbox: %v", err)
	}
	const want = uint64(0xabcdefee_00010200)
	if mb.Cookie != want {
		t.Fatalf("cookie = %#x, want %#x", mb.Cookie, want)
	}
	if mb.Connected() {
		t.Fatalf("expected both endpoints disconnected at creation")
	}
	if len(mb.Shmem) != 0x1000 {
		t.Fatalf("shmem size = %d, want 0x1000", len(mb.Shmem))
	}
	if len(mb.Entry[0].Event) != 1 || len(mb.Entry[1].Event) != 1 {
		t.Fatalf("expected one event vIRQ slot per side")
	}
}

func TestScenarioMutexTimeout(t *testing.T) {
	m := event.NewMutex("M")
	if err := m.Accept(1, 10); err != nil {
		t.Fatalf("task A accept: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Pend(ctx, 2, true, 20)
	if err == nil {
		t.Fatalf("expected B's pend to time out, got nil error")
	}
	if m.Owner() != 1 {
		t.Fatalf("owner changed during a timed-out pend: got %d want 1", m.Owner())
	}
}

func TestScenarioMMIODispatch(t *testing.T) {
	reg := trap.NewVDevRegistry()
	dev := &fakeVDev{base: 0x0a000000, size: 0x1000}
	reg.Register(dev)

	if _, err := reg.Emulate(0x0a000004, 4, true, 0xdead); err != nil {
		t.Fatalf("mmio write: %v", err)
	}
	got, err := reg.Emulate(0x0a000004, 4, false, 0)
	if err != nil {
		t.Fatalf("mmio read-back: %v", err)
	}
	if got != 0xdead {
		t.Fatalf("read-back = %#x, want 0xdead", got)
	}
}

type fakeVDev struct {
	base, size uint64
	regs       map[uint64]uint64
}

func (d *fakeVDev) Covers(gpa uint64, size int) bool {
	return gpa >= d.base && gpa+uint64(size) <= d.base+d.size
}

func (d *fakeVDev) Read(gpa uint64, size int) (uint64, error) {
	return d.regs[gpa], nil
}

func (d *fakeVDev) Write(gpa uint64, size int, val uint64) error {
	if d.regs == nil {
		d.regs = make(map[uint64]uint64)
	}
	d.regs[gpa] = val
	return nil
}

func TestScenarioVMCSTrapRoundTrip(t *testing.T) {
	v := vmcs.New(1)
	sent := false
	sendVIRQ := func() error {
		sent = true
		// VM0's side observes the pending trap and acks it, as if its
		// own vcpu0 had just been scheduled to service the vmcs_irq.
		go v.Ack(0, 0)
		return nil
	}

	ret, err := v.Trap(vmcs.TrapTypeCommon, vmcs.ReasonShutdown, 0, nil, false, sendVIRQ, false)
	if err != nil {
		t.Fatalf("trap: %v", err)
	}
	if !sent {
		t.Fatalf("expected sendVIRQ to be invoked")
	}
	if ret != 0 {
		t.Fatalf("trap_ret = %d, want 0", ret)
	}
	if v.Depth() != 0 {
		t.Fatalf("depth = %d, want 0 after ack", v.Depth())
	}
}

func TestScenarioTimerExpiry(t *testing.T) {
	wheel := &timer.PerCPU{}
	fired := 0
	var gotData uint64
	tm := &timer.Timer{CPU: 1, Expires: 5, Data: 0xc0ffee, Function: func(data uint64) {
		fired++
		gotData = data
	}}
	wheel.Add(tm)

	wheel.ExpireDue(4)
	if fired != 0 {
		t.Fatalf("timer fired early")
	}

	wheel.ExpireDue(5)
	if fired != 1 {
		t.Fatalf("fired = %d, want exactly 1", fired)
	}
	if gotData != 0xc0ffee {
		t.Fatalf("callback data = %#x, want 0xc0ffee", gotData)
	}
	if wheel.Len() != 0 {
		t.Fatalf("expected timer removed from wheel after firing, len=%d", wheel.Len())
	}
}
