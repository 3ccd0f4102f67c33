// Package trap implements the ESR-decode dispatch table and the vdev MMIO
// registry every data-abort trap is resolved through.
//
// Grounded on os/arch/aarch64/virt/trap.c: sync_from_lower_EL_handler's
// ec_type = (esr >> 26) & 0x3f lookup into a MAX_SYNC_TYPE-sized table
// (built here by explicit Dispatcher.Register calls rather than a linker
// section, since Go has no __sync_desc_start/__sync_desc_end equivalent —
// last writer for a given EC wins, matching aarch64_sync_init's plain
// array-index overwrite semantics), and dataabort_tfl_handler's
// vdev_mmio_emulation call for MMIO traps.
package trap

import (
	"sync"

	"hypercore/core_engine/herr"
)

// MaxECType is the width of the 6-bit EC field (bits 31:26 of ESR_ELx).
const MaxECType = 64

// EC is one ESR_ELx.EC exception class value.
type EC uint32

const (
	ECWFIWFE     EC = 0x01
	ECMCRMRCCP15 EC = 0x03
	ECMCRRCP15   EC = 0x0c
	ECHVC        EC = 0x16
	ECSMC        EC = 0x17
	ECSVC        EC = 0x15
	ECSysReg     EC = 0x18
	ECInsAbort   EC = 0x20
	ECDataAbort  EC = 0x24
	ECBRK        EC = 0x3c
)

// Handler decodes one exception class. esr is the full ESR_ELx value (the
// EC field has already been extracted to select this handler, but the
// handler gets the whole register for the class-specific sub-fields it
// still needs, exactly as the C handlers take esr_value).
type Handler func(vcpuID int, esr uint32) error

// RetAddrAdjust is how far ELR_ELx must be advanced for this EC before
// resuming the guest (most trapped instructions are 4 bytes; WFI/WFE and
// data/instruction aborts already point past the faulting instruction).
type Desc struct {
	EC             EC
	Handler        Handler
	RetAddrAdjust  uint32
}

// Dispatcher is the decode table (sync_descs[MAX_SYNC_TYPE]).
type Dispatcher struct {
	mu    sync.Mutex
	descs [MaxECType]*Desc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register installs desc at its EC slot. A later call for the same EC
// overwrites the earlier one — aarch64_sync_init's section scan has this
// same last-writer-wins property for duplicate registrations.
func (d *Dispatcher) Register(desc *Desc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.descs[uint32(desc.EC)%MaxECType] = desc
}

// Dispatch extracts EC from esr (bits 31:26) and invokes its handler,
// advancing no program counter itself (callers apply RetAddrAdjust), the
// analogue of sync_from_lower_EL_handler. An EC with no registered
// handler returns a NotFound error and a nil Desc; it is the caller that
// turns this into a virtual abort for the guest rather than a hypervisor
// failure.
func (d *Dispatcher) Dispatch(vcpuID int, esr uint32) (*Desc, error) {
	ec := (esr >> 26) & 0x3f
	d.mu.Lock()
	desc := d.descs[ec]
	d.mu.Unlock()
	if desc == nil {
		return nil, herr.New(herr.NotFound, "no handler registered for ec %#x", ec)
	}
	return desc, desc.Handler(vcpuID, esr)
}

// VDev is the minimal surface trap needs from a registered MMIO device,
// matching vmm.VDev's Covers/Read/Write (kept as its own interface here so
// trap does not import vmm, which would create an import cycle once vmm
// starts calling into trap for ESR decode).
type VDev interface {
	Covers(gpa uint64, size int) bool
	Read(gpa uint64, size int) (uint64, error)
	Write(gpa uint64, size int, val uint64) error
}

// VDevRegistry is the per-VM MMIO device list scanned linearly under lock
// on every data-abort trap (vdev_mmio_emulation).
type VDevRegistry struct {
	mu    sync.Mutex
	devs  []VDev
}

func NewVDevRegistry() *VDevRegistry {
	return &VDevRegistry{}
}

func (r *VDevRegistry) Register(d VDev) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devs = append(r.devs, d)
}

// Emulate handles one data-abort trap: finds the covering device and
// performs the read or write, or reports NotFound so the caller injects a
// virtual abort (dataabort_tfl_handler's vdev_mmio_emulation failure path).
func (r *VDevRegistry) Emulate(gpa uint64, size int, write bool, val uint64) (uint64, error) {
	r.mu.Lock()
	var dev VDev
	for _, d := range r.devs {
		if d.Covers(gpa, size) {
			dev = d
			break
		}
	}
	r.mu.Unlock()

	if dev == nil {
		return 0, herr.New(herr.NotFound, "no vdev covers mmio access at %#x/%d", gpa, size)
	}
	if write {
		return 0, dev.Write(gpa, size, val)
	}
	return dev.Read(gpa, size)
}
