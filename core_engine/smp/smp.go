// Package smp implements the per-CPU call-mailbox array and IPI dispatch
// used to run a function on another physical CPU and optionally wait for
// it, plus online-CPU bookkeeping (MarkOnline/AllUp).
//
// Grounded on os/core/smp.c (smp_function_call, smp_function_call_handler,
// cpu_online, smp_cpus_up) using RESCHED_IRQ/SMP_FUNCTION_CALL_IRQ from
// an IPI numbering scheme shared with the scheduler.
package smp

import (
	"sync"

	"hypercore/core_engine/herr"
	"hypercore/core_engine/irqchip"
	"hypercore/core_engine/primitives"
)

const (
	ReschedIRQ         = 7
	SMPFunctionCallIRQ = 6
)

// Func is the payload of a cross-CPU call.
type Func func(data any)

type call struct {
	fn   Func
	data any
	done chan struct{} // closed once executed, nil for fire-and-forget
}

// Dispatcher owns the per-CPU call slots (DEFINE_PER_CPU(smp_call_data))
// and wires SendSGI/handler through a irqchip.Controller.
type Dispatcher struct {
	mu      sync.Mutex
	ncpu    int
	online  primitives.CPUMask
	pending [primitives.MaxCPUs][]*call // calls queued onto cpu i, indexed by target cpu
	irq     irqchip.Controller
}

func NewDispatcher(ncpu int, irq irqchip.Controller) *Dispatcher {
	d := &Dispatcher{ncpu: ncpu, irq: irq}
	return d
}

// MarkOnline records that cpu has completed bring-up (smp_affinity_id[i]
// becoming nonzero in smp_cpus_up's poll loop).
func (d *Dispatcher) MarkOnline(cpu int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online.Set(cpu)
}

func (d *Dispatcher) Online(cpu int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online.Test(cpu)
}

func (d *Dispatcher) AllUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online.Count() == d.ncpu
}

// Call runs fn on target. If the caller's own cpu equals target it runs fn
// synchronously in place (smp_function_call's "cpu == cpuid" fast path);
// otherwise it enqueues the call and raises SMP_FUNCTION_CALL_IRQ. If wait
// is true, Call blocks until the target CPU's handler has run fn.
func (d *Dispatcher) Call(selfCPU, target int, fn Func, data any, wait bool) error {
	if target < 0 || target >= d.ncpu {
		return herr.New(herr.InvalidArg, "smp call: target cpu %d out of range", target)
	}
	if target == selfCPU {
		fn(data)
		return nil
	}

	c := &call{fn: fn, data: data}
	if wait {
		c.done = make(chan struct{})
	}

	d.mu.Lock()
	d.pending[target] = append(d.pending[target], c)
	d.mu.Unlock()

	if d.irq != nil {
		d.irq.SendSGI(SMPFunctionCallIRQ, uint64(1)<<uint(target))
	}

	if wait {
		<-c.done
	}
	return nil
}

// HandleFunctionCallIRQ drains and executes every call queued for cpu, the
// analogue of smp_function_call_handler running on the target CPU.
func (d *Dispatcher) HandleFunctionCallIRQ(cpu int) {
	d.mu.Lock()
	calls := d.pending[cpu]
	d.pending[cpu] = nil
	d.mu.Unlock()

	for _, c := range calls {
		c.fn(c.data)
		if c.done != nil {
			close(c.done)
		}
	}
}

// Resched raises RESCHED_IRQ on target, asking its scheduler loop to
// re-evaluate the ready set (used after a cross-CPU ready-queue change).
func (d *Dispatcher) Resched(target int) {
	if d.irq != nil {
		d.irq.SendSGI(ReschedIRQ, uint64(1)<<uint(target))
	}
}

// ReschedAll raises RESCHED_IRQ on every online CPU except self (pass -1
// to include every online CPU). The realtime class is not CPU-pinned, so
// a task newly inserted into the ready bitmap may need to preempt whatever
// is running on any physical CPU; broadcasting is the same fan-out
// smp_function_call uses for a target mask wider than one CPU.
func (d *Dispatcher) ReschedAll(self int) {
	d.mu.Lock()
	mask := d.online
	d.mu.Unlock()

	if self >= 0 {
		mask.Clear(self)
	}
	if d.irq == nil || mask.Empty() {
		return
	}
	d.irq.SendSGI(ReschedIRQ, uint64(mask))
}
