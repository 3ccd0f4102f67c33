// Package hvc implements the SVC/HVC/SMC service dispatch table: function
// ids are routed by their service-type byte (bits 31:24) to a handler
// registered for a [typeStart, typeEnd] range.
//
// Grounded on os/arch/aarch64/virt/svc_service.c (do_svc_handler,
// parse_svc_desc): handlers there are discovered via linker-section scan
// (__hvc_handler_start/end); here they are registered explicitly at boot,
// with the same last-writer-wins-on-overlap behavior parse_svc_desc logs a
// warning for (table[j] already set => overwrite).
package hvc

import (
	"sync"

	"hypercore/core_engine/herr"
)

// MaxServiceType bounds the service-type byte (SVC_STYPE_MAX).
const MaxServiceType = 64

// ServiceType extracts bits 31:24 of a hypercall function id.
func ServiceType(funcID uint32) uint16 {
	return uint16((funcID >> 24) & 0xff)
}

// Handler runs a dispatched call; args mirrors the guest's X1..Xn register
// contents, return value becomes X0 on return to the guest.
type Handler func(funcID uint32, args []uint64) (uint64, error)

// Desc is one registered service, covering [TypeStart, TypeEnd].
type Desc struct {
	Name      string
	TypeStart uint16
	TypeEnd   uint16
	Handler   Handler
}

// Table is one SVC/HVC/SMC dispatch table (do_svc_handler's smc_descs or
// hvc_descs array).
type Table struct {
	mu    sync.Mutex
	descs [MaxServiceType]*Desc
}

func NewTable() *Table {
	return &Table{}
}

// Register installs desc across its whole [TypeStart, TypeEnd] range,
// overwriting any existing entry in that range (parse_svc_desc's behavior;
// here silent, logging being the ambient stack's job at the call site).
func (t *Table) Register(desc *Desc) error {
	if desc.TypeStart > desc.TypeEnd || desc.TypeEnd >= MaxServiceType {
		return herr.New(herr.InvalidArg, "svc desc %q has invalid type range [%d,%d]", desc.Name, desc.TypeStart, desc.TypeEnd)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for j := desc.TypeStart; j <= desc.TypeEnd; j++ {
		t.descs[j] = desc
	}
	return nil
}

// Dispatch routes funcID to its registered handler (do_svc_handler). An
// out-of-range or unregistered service type returns InvalidArg, matching
// the original's SVC_RET1(regs, -EINVAL) fallback.
func (t *Table) Dispatch(funcID uint32, args []uint64) (uint64, error) {
	typ := ServiceType(funcID)
	if typ >= MaxServiceType {
		return 0, herr.New(herr.InvalidArg, "unsupported svc type %d", typ)
	}

	t.mu.Lock()
	desc := t.descs[typ]
	t.mu.Unlock()

	if desc == nil {
		return 0, herr.New(herr.InvalidArg, "no handler for svc type %d (func %#x)", typ, funcID)
	}
	return desc.Handler(funcID, args)
}

// Dispatcher owns the separate HVC and SMC tables for SVC/HVC/SMC
// hypercall dispatch, selecting one or the other by call kind.
type Dispatcher struct {
	HVC *Table
	SMC *Table
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{HVC: NewTable(), SMC: NewTable()}
}

func (d *Dispatcher) Dispatch(smc bool, funcID uint32, args []uint64) (uint64, error) {
	if smc {
		return d.SMC.Dispatch(funcID, args)
	}
	return d.HVC.Dispatch(funcID, args)
}
