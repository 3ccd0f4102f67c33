// Package mailbox implements the cookie-authenticated cross-VM mailbox:
// two VMs share a shared-memory window and a pair of connect/disconnect
// vIRQs, addressed by a capability cookie encoding (magic, owner1, owner2,
// index).
//
// Grounded on hypervisor/core/mailbox.c (create_mailbox, mailbox_vm_init,
// generate_mailbox_cookie/exract_mailbox_cookie, mailbox_hvc_handler) and
// hypervisor/include/minos/mailbox.h. Three bugs confirmed in that source
// are fixed here rather than reproduced:
//
//  1. generate_mailbox_cookie's C signature returns uint32_t, truncating
//     away the MAILBOX_MAGIC<<32 high bits it just computed. Cookie here is
//     a genuine uint64 end to end.
//  2. exract_mailbox_cookie assigns *o1 twice and never assigns *o2 — o2's
//     bits are simply dropped. extractCookie below computes o2 from bits
//     15:8, matching the cookie layout generateCookie actually produces.
//  3. mailbox_vm_init writes entry->evnet[j] (typo for "event"). The
//     mirrored field here is spelled Event.
package mailbox

import (
	"sync"

	"hypercore/core_engine/herr"
	"hypercore/core_engine/hvc"
)

const (
	// MaxMailboxes bounds the global mailbox table (MAX_MAILBOX_NR).
	MaxMailboxes = 20
	magic        = uint64(0xabcdefee)
)

// Status is one side's connection state (MAILBOX_VM_DISCONNECT/CONNECT).
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

// VMEntry is one owning VM's half of a mailbox (struct mailbox_vm_entry,
// evnet typo corrected to Event). Ring mirrors the header's
// ring_event_virq field (MAILBOX_EVENT_RING_ID), the vIRQ raised when the
// shared-memory ring gains new data, distinct from the per-slot Event
// vIRQs.
type VMEntry struct {
	VMID           int
	IOMem          []byte
	ConnectVIRQ    uint32
	DisconnectVIRQ uint32
	Ring           uint32
	Event          []uint32
}

// Mailbox is a cross-VM shared-memory channel between exactly two VMs.
type Mailbox struct {
	mu sync.Mutex

	Name   string
	Index  int
	Cookie uint64

	Owner    [2]int
	Status   [2]Status
	Entry    [2]VMEntry
	Shmem    []byte
}

// generateCookie packs (magic, o1, o2, index) into a 64-bit capability:
// magic(32) | o1(16) | o2(8) | index(8). Unlike the original this is a
// genuine uint64 return, so the magic survives in the high bits.
func generateCookie(o1, o2, index int) uint64 {
	return (magic << 32) | (uint64(o1&0xffff) << 16) | (uint64(o2&0xff) << 8) | uint64(index&0xff)
}

// extractCookie reverses generateCookie. o2 is read from bits 15:8 — the
// original dropped this field entirely by assigning o1 to it twice.
func extractCookie(cookie uint64) (o1, o2, index int, gotMagic uint64) {
	o1 = int((cookie >> 16) & 0xffff)
	o2 = int((cookie >> 8) & 0xff)
	index = int(cookie & 0xff)
	gotMagic = cookie >> 32
	return
}

// mailboxVIRQBase is the first vIRQ number this table hands out. alloc_vm_virq
// pops from a VM's own free-virq pool; this table has no vm package
// dependency to pop from, so each owning VM instead gets a monotonic
// per-VM counter seeded at this base, which is equivalent for the table's
// purposes (every vIRQ a given VM is handed here is unique to that VM).
const mailboxVIRQBase = 64

// Table is the global mailbox registry (mailboxs[MAX_MAILBOX_NR]).
type Table struct {
	mu       sync.Mutex
	boxes    [MaxMailboxes]*Mailbox
	nextID   int
	nextVIRQ map[int]uint32
}

func NewTable() *Table {
	return &Table{nextVIRQ: make(map[int]uint32)}
}

// allocVIRQLocked is the table's stand-in for alloc_vm_virq(vm): the next
// free vIRQ number for vmid. Caller holds t.mu.
func (t *Table) allocVIRQLocked(vmid int) uint32 {
	v, ok := t.nextVIRQ[vmid]
	if !ok {
		v = mailboxVIRQBase
	}
	t.nextVIRQ[vmid] = v + 1
	return v
}

// Create allocates a mailbox between VMs o1 and o2 over a shmem window of
// size bytes, with `events` per-side event vIRQ slots (create_mailbox +
// mailbox_vm_init).
func (t *Table) Create(name string, o1, o2 int, shmem []byte, events int) (*Mailbox, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextID >= MaxMailboxes {
		return nil, herr.New(herr.NoMemory, "mailbox table exhausted (%d slots)", MaxMailboxes)
	}
	idx := t.nextID
	t.nextID++

	mb := &Mailbox{
		Name:   name,
		Index:  idx,
		Cookie: generateCookie(o1, o2, idx),
		Owner:  [2]int{o1, o2},
		Shmem:  shmem,
	}
	mb.Status[0] = StatusDisconnected
	mb.Status[1] = StatusDisconnected
	for i, vmid := range mb.Owner {
		entry := VMEntry{
			VMID:           vmid,
			IOMem:          shmem,
			ConnectVIRQ:    t.allocVIRQLocked(vmid),
			DisconnectVIRQ: t.allocVIRQLocked(vmid),
			Ring:           t.allocVIRQLocked(vmid),
			Event:          make([]uint32, events),
		}
		for j := range entry.Event {
			entry.Event[j] = t.allocVIRQLocked(vmid)
		}
		mb.Entry[i] = entry
	}
	t.boxes[idx] = mb
	return mb, nil
}

// Lookup resolves a cookie to its mailbox, verifying the magic and that
// the calling VM is one of the two owners (mailbox_hvc_handler's checks).
func (t *Table) Lookup(cookie uint64, callerVMID int) (*Mailbox, error) {
	o1, o2, index, gotMagic := extractCookie(cookie)
	if gotMagic != magic {
		return nil, herr.New(herr.InvalidArg, "mailbox cookie magic mismatch: got %#x want %#x", gotMagic, magic)
	}
	if callerVMID != o1 && callerVMID != o2 {
		return nil, herr.New(herr.NotPermitted, "vm %d does not own mailbox cookie (owners %d,%d)", callerVMID, o1, o2)
	}
	if index < 0 || index >= MaxMailboxes {
		return nil, herr.New(herr.InvalidArg, "mailbox cookie index %d out of range", index)
	}

	t.mu.Lock()
	mb := t.boxes[index]
	t.mu.Unlock()
	if mb == nil {
		return nil, herr.New(herr.NotFound, "mailbox %d not created", index)
	}
	return mb, nil
}

func sideOf(mb *Mailbox, vmid int) (int, error) {
	if mb.Owner[0] == vmid {
		return 0, nil
	}
	if mb.Owner[1] == vmid {
		return 1, nil
	}
	return 0, herr.New(herr.NotPermitted, "vm %d is not a party to mailbox %q", vmid, mb.Name)
}

// Connect marks vmid's side connected, the analogue of the mailbox connect
// sub-function dispatched by mailbox_hvc_handler.
func (mb *Mailbox) Connect(vmid int) error {
	i, err := sideOf(mb, vmid)
	if err != nil {
		return err
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.Status[i] = StatusConnected
	return nil
}

// Disconnect marks vmid's side disconnected.
func (mb *Mailbox) Disconnect(vmid int) error {
	i, err := sideOf(mb, vmid)
	if err != nil {
		return err
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.Status[i] = StatusDisconnected
	return nil
}

// Connected reports whether both sides are connected.
func (mb *Mailbox) Connected() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.Status[0] == StatusConnected && mb.Status[1] == StatusConnected
}

// PeerEntry returns the VMEntry belonging to the VM on the other side of
// vmid, used to find which event vIRQ to raise when signaling a peer.
func (mb *Mailbox) PeerEntry(vmid int) (*VMEntry, error) {
	i, err := sideOf(mb, vmid)
	if err != nil {
		return nil, err
	}
	return &mb.Entry[1-i], nil
}

// mailboxServiceType is this table's HVC_TYPE_HVC_MAILBOX stand-in: no pack
// source gives the real numeric service-type byte (only the
// DEFINE_HVC_HANDLER registration call, not svccc.h's enum), so a byte is
// picked here in a range nothing else in this tree registers.
const mailboxServiceType = 0x20

// Mailbox hypercall op indices, the Go analogue of mailbox_hvc_handler's
// index into mailbox_hvc_handlers[] (id - HVC_MAILBOX_FN(0)). The original
// table's two entries (mailbox_query_instance, mailbox_get_info) are
// queries this table has no equivalent state for; these two are instead
// the state-transition calls the hypercall surface actually needs.
const (
	mailboxFnConnect    = 0
	mailboxFnDisconnect = 1
)

// HVCDesc returns the hvc.Desc that routes the mailbox service type to
// dispatchHVC, the Go rendition of DEFINE_HVC_HANDLER("vm_mailbox_handler",
// HVC_TYPE_HVC_MAILBOX, HVC_TYPE_HVC_MAILBOX, mailbox_hvc_handler).
func (t *Table) HVCDesc() *hvc.Desc {
	return &hvc.Desc{
		Name:      "vm_mailbox_handler",
		TypeStart: mailboxServiceType,
		TypeEnd:   mailboxServiceType,
		Handler:   t.dispatchHVC,
	}
}

// dispatchHVC is mailbox_hvc_handler: args[0] is the calling VM's id (this
// package's stand-in for get_current_vm(), since hvc.Handler's signature
// carries no vcpu/vm context of its own — the caller is expected to supply
// it as the first forwarded argument), args[1] is the mailbox cookie
// (exactly as mailbox_hvc_handler reads args[0] before the id/vmid
// prefixing this table's caller adds), and the function id's low byte
// selects the operation the way the original selects into
// mailbox_hvc_handlers[].
func (t *Table) dispatchHVC(funcID uint32, args []uint64) (uint64, error) {
	if len(args) < 2 {
		return 0, herr.New(herr.InvalidArg, "mailbox hvc: expected caller vmid and cookie, got %d args", len(args))
	}
	callerVMID := int(args[0])
	cookie := args[1]

	mb, err := t.Lookup(cookie, callerVMID)
	if err != nil {
		return 0, err
	}

	switch funcID & 0xff {
	case mailboxFnConnect:
		return 0, mb.Connect(callerVMID)
	case mailboxFnDisconnect:
		return 0, mb.Disconnect(callerVMID)
	default:
		return 0, herr.New(herr.InvalidArg, "mailbox hvc: unsupported op %d", funcID&0xff)
	}
}
