// Package vmcs implements the VM-control shared page: the per-vCPU trap
// channel to VM0, a host_index/guest_index ring of depth 1.
//
// Grounded on os/virt/vmcs.c's __vcpu_trap: a guest vCPU raises a trap by
// filling the VMCS fields and incrementing host_index, then waits for VM0
// to set guest_index == host_index and publish trap_result/trap_ret. The
// original busy-spins via sched()/cpu_relax() depending on whether the
// calling vCPU shares a physical CPU with VM0's vcpu0 (to avoid a deadlock
// where VM0 could never run to service the trap); the Go rendition here
// waits on a condition variable in every case, and when samePCPU is set it
// forces a blocking wait (nonblock is ignored) instead of busy-spinning.
package vmcs

import (
	"sync"

	"hypercore/core_engine/herr"
)

// TrapType and TrapReason mirror VMTRAP_TYPE_*/VMTRAP_REASON_* (not every
// value is enumerated; Unknown is the sentinel upper bound used
// to validate a caller-supplied type/reason the way __vcpu_trap does).
type TrapType uint32
type TrapReason uint32

const (
	TrapTypeCommon TrapType = iota
	TrapTypeUnknown
)

const (
	ReasonShutdown TrapReason = iota
	ReasonReboot
	ReasonWDTTimeout
	ReasonUnknown
)

// VMCS is the per-vCPU control page: one page
// shared with VM0, holding the in-flight trap request and VM0's response.
type VMCS struct {
	mu sync.Mutex
	cv *sync.Cond

	VCPUID     uint32
	TrapType   TrapType
	TrapReason TrapReason
	TrapData   uint64
	TrapResult uint64
	TrapRet    int32

	HostIndex  uint32
	GuestIndex uint32

	Data [256]byte // inline data buffer (VMCS_DATA_SIZE)
}

func New(vcpuID uint32) *VMCS {
	v := &VMCS{VCPUID: vcpuID}
	v.cv = sync.NewCond(&v.mu)
	return v
}

// Depth returns host_index - guest_index, which must always be 0 or 1
// (the VMCS depth invariant).
func (v *VMCS) Depth() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.HostIndex - v.GuestIndex
}

// SendVIRQFunc delivers the vmcs_irq to VM0's vcpu0, matching
// send_virq_to_vm(vm0, vcpu->vmcs_irq).
type SendVIRQFunc func() error

// Trap is the Go rendition of __vcpu_trap. samePCPU models "this vCPU
// shares a physical CPU with VM0's vcpu0" — when true, nonblock is forced
// off (a GVM vCPU that can starve VM0's vcpu0 by spinning must always wait
// so VM0 gets scheduled to service the trap). result carries trap_result
// in and trap_result out, matching the C signature's by-reference use.
func (v *VMCS) Trap(typ TrapType, reason TrapReason, data uint64, result *uint64, nonblock bool, sendVIRQ SendVIRQFunc, samePCPU bool) (int32, error) {
	if typ >= TrapTypeUnknown || reason >= ReasonUnknown {
		return 0, herr.New(herr.InvalidArg, "invalid trap type=%d reason=%d", typ, reason)
	}

	v.mu.Lock()
	for v.GuestIndex != v.HostIndex {
		v.cv.Wait()
	}

	v.TrapType = typ
	v.TrapReason = reason
	v.TrapData = data
	v.TrapRet = 0
	if result != nil {
		v.TrapResult = *result
	} else {
		v.TrapResult = 0
	}
	v.HostIndex++
	v.mu.Unlock()

	if err := sendVIRQ(); err != nil {
		v.mu.Lock()
		v.HostIndex--
		v.TrapRet = -1
		v.TrapResult = 0
		v.mu.Unlock()
		return 0, herr.New(herr.IoError, "vmcs failed to send trap virq: %v", err)
	}

	if samePCPU {
		nonblock = false
	}

	if nonblock {
		if result != nil {
			*result = 0
		}
		return 0, nil
	}

	v.mu.Lock()
	for v.GuestIndex != v.HostIndex {
		v.cv.Wait()
	}
	if result != nil {
		*result = v.TrapResult
	}
	ret := v.TrapRet
	v.mu.Unlock()

	return ret, nil
}

// Ack is VM0's side: it observes the pending trap, sets TrapRet/TrapResult,
// and advances GuestIndex to match HostIndex, waking any blocked Trap call
// (the VM0-side half of the S5 scenario: "sets trap_ret=0, guest_index=1").
func (v *VMCS) Ack(trapRet int32, trapResult uint64) {
	v.mu.Lock()
	v.TrapRet = trapRet
	v.TrapResult = trapResult
	v.GuestIndex = v.HostIndex
	v.mu.Unlock()
	v.cv.Broadcast()
}

// SetupData copies data into the VMCS's inline buffer (setup_vmcs_data),
// rejecting anything that would overflow VMCS_DATA_SIZE.
func (v *VMCS) SetupData(data []byte) error {
	if len(data) > len(v.Data) {
		return herr.New(herr.NoMemory, "vmcs data %d bytes exceeds capacity %d", len(data), len(v.Data))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.Data[:], data)
	return nil
}
