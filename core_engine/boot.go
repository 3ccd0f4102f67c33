// Package core wires together the hypervisor's per-concern packages into
// one running instance: scheduler, interrupt controller, timer wheels,
// SMP dispatch, the VM arena, vIRQ routing, trap/hypercall dispatch, the
// mailbox table, and the control surface a VM manager drives.
//
// No pack source documents a single boot-sequencing function comparable to
// this; the ordering here (scheduler and IRQ controller first, then the
// packages that depend on them) follows directly from the package-dependency
// layering running from L0 primitives through the vmm/virq/trap/hvc/mailbox/
// vmcs tier, not from a specific ground-truth file.
package core

import (
	"hypercore/core_engine/arch"
	"hypercore/core_engine/ctl"
	"hypercore/core_engine/herr"
	"hypercore/core_engine/hvc"
	"hypercore/core_engine/irqchip"
	"hypercore/core_engine/mailbox"
	"hypercore/core_engine/mm"
	"hypercore/core_engine/sched"
	"hypercore/core_engine/smp"
	"hypercore/core_engine/timer"
	"hypercore/core_engine/trap"
	"hypercore/core_engine/virq"
	"hypercore/core_engine/vmm"
)

// Config bounds the instance's static layout: CPU count and the two HVM
// memory windows handed to mm.NewBlockAllocator.
type Config struct {
	NCPU            int
	NormalWinBase   uint64
	NormalWinSize   uint64
	IOWinBase       uint64
	IOWinSize       uint64
}

// Core is the fully wired hypervisor instance: the Go analogue of the set
// of global subsystem singletons a kernel's startup code would otherwise
// hold as file-scope statics.
type Core struct {
	Config Config

	Sched   *sched.Scheduler
	IRQ     *irqchip.GICSim
	SMP     *smp.Dispatcher
	Arena   *vmm.Arena
	VIRQ    *virq.Router
	Trap    *trap.Dispatcher
	HVC     *hvc.Dispatcher
	Mailbox *mailbox.Table
	Ctl     *ctl.Manager
	Alloc   *mm.BlockAllocator
	Arch    *arch.Registry
	Hooks   *HookRegistry

	timerWheels []*timer.PerCPU
}

// New constructs every subsystem and wires the cross-package dependencies
// (the GIC into SMP and virq, SMP's RESCHED broadcast into the scheduler,
// the HVC/SMC trap handlers and the mailbox HVC table, per-CPU timer
// wheels sized to Config.NCPU).
func New(cfg Config) (*Core, error) {
	if cfg.NCPU <= 0 {
		return nil, herr.New(herr.InvalidArg, "core: NCPU must be positive, got %d", cfg.NCPU)
	}

	c := &Core{
		Config:  cfg,
		Sched:   sched.NewScheduler(cfg.NCPU),
		IRQ:     irqchip.NewGICSim(),
		Arena:   vmm.NewArena(),
		Trap:    trap.NewDispatcher(),
		HVC:     hvc.NewDispatcher(),
		Mailbox: mailbox.NewTable(),
		Alloc:   mm.NewBlockAllocator(cfg.NormalWinBase, cfg.NormalWinSize, cfg.IOWinBase, cfg.IOWinSize),
		Arch:    arch.NewRegistry(),
		Hooks:   NewHookRegistry(),
	}
	c.SMP = smp.NewDispatcher(cfg.NCPU, c.IRQ)
	c.VIRQ = virq.NewRouter(c.IRQ)
	c.Ctl = ctl.NewManager(c.Arena)

	// A realtime task becoming Ready isn't CPU-pinned, so the scheduler
	// can't target a single remote CPU for the IPI; broadcast RESCHED_IRQ
	// to every online CPU (-1 excludes none) and let each one re-check
	// HighestReady.
	c.Sched.SetReschedHook(func() { c.SMP.ReschedAll(-1) })

	// arm_svc_handler's dispatch of EC=HVC/EC=SMC into do_svc_handler,
	// assembled here as the trap->hvc->mailbox pipeline: an ESR decode for
	// either EC reads the call id and args out of the trapped vCPU's
	// register file and forwards them into the matching HVC/SMC table.
	c.Trap.Register(&trap.Desc{EC: trap.ECHVC, Handler: c.hvcTrapHandler(false), RetAddrAdjust: 4})
	c.Trap.Register(&trap.Desc{EC: trap.ECSMC, Handler: c.hvcTrapHandler(true), RetAddrAdjust: 4})
	if err := c.HVC.HVC.Register(c.Mailbox.HVCDesc()); err != nil {
		return nil, err
	}

	c.timerWheels = make([]*timer.PerCPU, cfg.NCPU)
	for i := range c.timerWheels {
		c.timerWheels[i] = &timer.PerCPU{}
	}

	return c, nil
}

// TimerWheel returns the per-CPU timer list for cpu (ExpireDue is the
// caller's responsibility, driven by the platform's physical timer irq).
func (c *Core) TimerWheel(cpu int) (*timer.PerCPU, error) {
	if cpu < 0 || cpu >= len(c.timerWheels) {
		return nil, herr.New(herr.InvalidArg, "core: cpu %d out of range", cpu)
	}
	return c.timerWheels[cpu], nil
}

// NewVCPUTimer builds a virq.VTimer for vcpu's backing task and registers
// its Save/Restore pair as a scheduler vmodule, so the timer is saved and
// rearmed automatically on every context switch (RegisterVModule's
// contract mirrors register_vmodule's FPU-state-style hooks).
func (c *Core) NewVCPUTimer(kind virq.VTimerKind, virqNum uint32, cpu int, sink virq.Sink, now func() uint64) (*virq.VTimer, error) {
	wheel, err := c.TimerWheel(cpu)
	if err != nil {
		return nil, err
	}
	vt := virq.NewVTimer(kind, virqNum, wheel, sink, c.VIRQ, cpu)
	c.Sched.RegisterVModule("vtimer", func(t *sched.Task) {
		vt.Save()
	}, func(t *sched.Task) {
		vt.Restore(now())
	})
	return vt, nil
}

// EncodeVCPUID packs (vmid, vcpuID) into the flat int trap.Dispatcher's
// Handler signature carries: a real EL2 entry trampoline already holds a
// pointer to the trapping vcpu, but Handler only carries an int, so
// callers address a vcpu the same way ctl's CreateVMCS/RegisterVCPU pair
// (vmid, vcpuID) already does, flattened into one value.
func EncodeVCPUID(vmid, vcpuID int) int {
	return vmid<<16 | vcpuID
}

func (c *Core) vcpuByGlobalID(id int) (*vmm.VCPU, error) {
	vm, err := c.Arena.Get(id >> 16)
	if err != nil {
		return nil, err
	}
	return vm.VCPU(id & 0xffff)
}

// hvcTrapHandler builds the EC=HVC/EC=SMC trap.Handler: arm_svc_handler's
// read of reg->x0 (the call id) and reg->x1..x6 (its args), forwarded into
// hvc.Dispatcher's matching table, with the result written back to X0
// (SVC_RET1's single-register return convention). Every call is prefixed
// with the trapping VM's id as args[0] ahead of the guest's own X1..X6,
// since hvc.Handler's signature carries no vcpu/vm context of its own and
// handlers like mailbox's need to know which VM is calling.
func (c *Core) hvcTrapHandler(smc bool) trap.Handler {
	return func(globalID int, esr uint32) error {
		vcpu, err := c.vcpuByGlobalID(globalID)
		if err != nil {
			return err
		}
		funcID := uint32(vcpu.Regs[0])
		args := append([]uint64{uint64(vcpu.VMID)}, vcpu.Regs[1:]...)

		ret, err := c.HVC.Dispatch(smc, funcID, args)
		if err != nil {
			vcpu.Regs[0] = ^uint64(0)
			return err
		}
		vcpu.Regs[0] = ret
		return nil
	}
}

// CreateVM0 creates the privileged, always-native VM0 and its single vCPU
// task, the bring-up every guest VM implicitly depends on (mailbox/vmcs/ctl
// operations all assume vm0 exists).
func (c *Core) CreateVM0(name string) (*vmm.VM, error) {
	vmid, err := c.Ctl.CreateVM(ctl.CreateVMInfo{Name: name, NRVCPU: 1, Native: true})
	if err != nil {
		return nil, err
	}
	task, err := c.Sched.CreateTask(name+"-vcpu0", nil, nil, sched.PrioPCPU, 0)
	if err != nil {
		return nil, err
	}
	if err := c.Ctl.RegisterVCPU(vmid, ctl.RegisterVCPUArg{VCPUID: 0, Affinity: 0}, task); err != nil {
		return nil, err
	}
	return c.Arena.Get(vmid)
}
