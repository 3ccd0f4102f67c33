// Package virq implements vIRQ routing to vCPUs and the CNTV/CNTP virtual
// timer simulation, driven as a vmodule (save/restore on context switch).
//
// Grounded on os/arch/aarch64/virt/vtimer.c (vtimer_state_save/restore/
// init, phys_timer_expire_function, virt_timer_expire_function) and
// fixed vIRQ numbers 27/30 for non-native VMs; native VMs reuse the
// host's hardware timer vIRQ numbers.
package virq

import (
	"sync"

	"hypercore/core_engine/herr"
	"hypercore/core_engine/irqchip"
	"hypercore/core_engine/timer"
)

// Fixed vIRQ numbers for non-native VMs.
const (
	NonNativeVirtualTimerVIRQ = 27
	NonNativePhysicalTimerVIRQ = 30
)

// Sink is whatever can receive a routed virq: vmm.VCPU's PushPendingVIRQ,
// abstracted here so virq does not import vmm (avoiding a import cycle,
// since vmm's vdev dispatch will eventually call into virq.Router too).
type Sink interface {
	PushPendingVIRQ(irq uint32)
}

// Router resolves a virq to a target vCPU sink and an optional remote-CPU
// IPI kick, the Go analogue of send_virq_to_vm/send_virq_to_vcpu.
type Router struct {
	mu   sync.Mutex
	ctrl irqchip.Controller
}

func NewRouter(ctrl irqchip.Controller) *Router {
	return &Router{ctrl: ctrl}
}

// SendToVCPU appends virq to target's pending queue and, if target runs on
// a different physical CPU, kicks it via an SGI so it re-enters the guest
// with the LR programmed.
func (r *Router) SendToVCPU(target Sink, virq uint32, targetCPU, selfCPU int) {
	target.PushPendingVIRQ(virq)
	if r.ctrl != nil && targetCPU != selfCPU {
		r.ctrl.SendSGI(uint32(6), uint64(1)<<uint(targetCPU))
	}
}

// CntCtl bits mirror CNTV_CTL_EL0/CNTP_CTL_EL0.
const (
	CntCtlEnable = 1 << iota
	CntCtlIMask
	CntCtlIStatus
)

// VTimerKind distinguishes the virtual and physical timer lines a vCPU
// carries: one PHY and one VIRT per vCPU.
type VTimerKind int

const (
	KindVirtual VTimerKind = iota
	KindPhysical
)

// VTimer is one of a vCPU's two timer lines.
type VTimer struct {
	Kind   VTimerKind
	VIRQ   uint32
	CntCtl uint32
	CntCVal uint64

	sink   Sink
	tm     *timer.Timer
	wheel  *timer.PerCPU
	router *Router
	target int // physical cpu the owning vcpu runs on, for the IPI kick
}

// NewVTimer wires a timer line to a per-CPU wheel and a routing sink. virq
// should be NonNativeVirtualTimerVIRQ/NonNativePhysicalTimerVIRQ for a
// non-native VM, or the host's hardware timer vIRQ numbers for VM0.
func NewVTimer(kind VTimerKind, virq uint32, wheel *timer.PerCPU, sink Sink, router *Router, cpu int) *VTimer {
	return &VTimer{Kind: kind, VIRQ: virq, wheel: wheel, sink: sink, router: router, target: cpu}
}

// expire mirrors phys_timer_expire_function/virt_timer_expire_function:
// the physical timer latches ISTATUS and only injects if unmasked; the
// virtual timer always injects on expiry (its guest-visible CVAL already
// having run out).
func (v *VTimer) expire(uint64) {
	if v.Kind == KindPhysical {
		v.CntCtl |= CntCtlIStatus
		v.CntCVal = 0
		if v.CntCtl&CntCtlIMask != 0 {
			return
		}
	}
	if v.router != nil && v.sink != nil {
		v.router.SendToVCPU(v.sink, v.VIRQ, v.target, v.target)
	}
}

// WriteCtl handles a guest write to CNTx_CTL_EL0 (vtimer_handle_cntp_ctl):
// a guest-supplied ISTATUS bit is always ignored, but the previously
// latched ISTATUS bit is preserved into the new value when the guest
// keeps the timer enabled — only a disabling write actually drops it.
// Then reprograms the backing timer if ENABLE is set and CntCVal is
// nonzero, or cancels it otherwise.
func (v *VTimer) WriteCtl(ctl uint32, now uint64) {
	ctl &^= CntCtlIStatus
	if ctl&CntCtlEnable != 0 {
		ctl |= v.CntCtl & CntCtlIStatus
	}
	v.CntCtl = ctl
	v.rearm(now)
}

// rearm cancels any currently-armed backing timer and, if the timer is
// enabled with a nonzero compare value, reprograms it to fire at CntCVal
// (an absolute tick count, the same CNTx_CVAL_EL0 semantics
// vtimer_handle_cntp_ctl's `cnt_cval + offset` programs mod_timer with;
// offset itself is not modeled here since this package has no per-VM
// clock-base notion).
func (v *VTimer) rearm(now uint64) {
	if v.tm != nil {
		v.wheel.Del(v.tm)
		v.tm = nil
	}
	if v.CntCtl&CntCtlEnable != 0 && v.CntCVal != 0 {
		v.tm = &timer.Timer{Expires: v.CntCVal, Function: v.expire}
		v.wheel.Add(v.tm)
	}
}

// WriteCVal handles a guest write to CNTx_CVAL_EL0 (vtimer_handle_cntp_cval):
// sets the absolute compare value, clears a latched ISTATUS if the timer
// is enabled, and rearms.
func (v *VTimer) WriteCVal(cval uint64, now uint64) {
	v.CntCVal = cval
	if v.CntCtl&CntCtlEnable != 0 {
		v.CntCtl &^= CntCtlIStatus
	}
	v.rearm(now)
}

// WriteTVal handles a guest write to CNTx_TVAL_EL0 (vtimer_handle_cntp_tval):
// tval is ticks-from-now rather than an absolute compare value, converted
// to CntCVal as now+tval, then treated exactly like WriteCVal.
func (v *VTimer) WriteTVal(tval uint32, now uint64) {
	v.CntCVal = now + uint64(tval)
	if v.CntCtl&CntCtlEnable != 0 {
		v.CntCtl &^= CntCtlIStatus
	}
	v.rearm(now)
}

// ReadTVal returns the ticks remaining until CntCVal, truncated to 32
// bits (vtimer_handle_cntp_tval's read path: (cnt_cval - now) & 0xffffffff).
func (v *VTimer) ReadTVal(now uint64) uint32 {
	return uint32((v.CntCVal - now) & 0xffffffff)
}

// Save detaches the backing timer without losing cnt_ctl/cnt_cval, the
// vmodule save half (vtimer_state_save): a context switch must not leave a
// stale timer armed against the outgoing task.
func (v *VTimer) Save() {
	if v.tm != nil {
		v.wheel.Del(v.tm)
		v.tm = nil
	}
}

// Restore re-arms the backing timer from the saved cnt_ctl/cnt_cval, the
// vmodule restore half (vtimer_state_restore).
func (v *VTimer) Restore(now uint64) {
	v.WriteCtl(v.CntCtl, now)
}

// ErrInvalidKind is returned by lookups over an unexpected VTimerKind.
var ErrInvalidKind = herr.New(herr.InvalidArg, "unknown vtimer kind")
