package network

import (
	"encoding/binary"
	"sync"

	"hypercore/core_engine/herr"
	"hypercore/core_engine/mailbox"
)

// ringHeaderSize is the length prefix at the front of a mailbox's shared
// memory window used as a single-slot packet ring between a TapDevice and
// a guest VM (len uint32 followed by up to len bytes of frame data).
const ringHeaderSize = 4

// EventRaiser signals a peer's connect/event vIRQ line, the role
// virq.Router.SendToVCPU plays once a VM's event vIRQ is wired up; kept as
// a small interface here so network does not import virq/vmm.
type EventRaiser interface {
	RaiseEvent(vmid int, virq uint32)
}

// Bridge pumps Ethernet frames between a host TapDevice and a mailbox's
// shared-memory ring, a cross-VM network vdev: the host side reads/writes real frames via
// golang.org/x/sys/unix-backed TUN/TAP (HostNetInterface), the guest side
// is just the mailbox shared-memory window two VMs already share.
type Bridge struct {
	mu     sync.Mutex
	host   HostNetInterface
	mb     *mailbox.Mailbox
	raiser EventRaiser

	hostVMID  int
	guestVMID int
}

func NewBridge(host HostNetInterface, mb *mailbox.Mailbox, raiser EventRaiser, hostVMID, guestVMID int) *Bridge {
	return &Bridge{host: host, mb: mb, raiser: raiser, hostVMID: hostVMID, guestVMID: guestVMID}
}

// PumpFromHost reads one frame off the tap device and deposits it in the
// shared ring for the guest to pick up, then raises the guest's event
// vIRQ for that mailbox (mailbox connect/event vIRQ pair).
func (b *Bridge) PumpFromHost() (int, error) {
	frame, err := b.host.ReadPacket()
	if err != nil {
		return 0, herr.New(herr.IoError, "network bridge: read from tap: %v", err)
	}
	if frame == nil {
		return 0, nil
	}
	if err := b.depositFrame(frame); err != nil {
		return 0, err
	}
	if b.raiser != nil {
		peer, err := b.mb.PeerEntry(b.hostVMID)
		if err == nil && len(peer.Event) > 0 {
			b.raiser.RaiseEvent(b.guestVMID, peer.Event[0])
		}
	}
	return len(frame), nil
}

func (b *Bridge) depositFrame(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mb.Shmem == nil || len(b.mb.Shmem) < ringHeaderSize {
		return herr.New(herr.NoMemory, "network bridge: mailbox has no shared memory window")
	}
	if len(frame) > len(b.mb.Shmem)-ringHeaderSize {
		return herr.New(herr.InvalidArg, "network bridge: frame of %d bytes exceeds ring capacity", len(frame))
	}
	binary.LittleEndian.PutUint32(b.mb.Shmem[:ringHeaderSize], uint32(len(frame)))
	copy(b.mb.Shmem[ringHeaderSize:], frame)
	return nil
}

// PumpToHost reads whatever frame the guest deposited in the ring
// (DrainGuestFrame) and writes it out the tap device.
func (b *Bridge) PumpToHost() (int, error) {
	frame, ok := b.DrainGuestFrame()
	if !ok {
		return 0, nil
	}
	if err := b.host.WritePacket(frame); err != nil {
		return 0, herr.New(herr.IoError, "network bridge: write to tap: %v", err)
	}
	return len(frame), nil
}

// DrainGuestFrame reads and clears the current ring slot, used both by
// PumpToHost and directly by tests driving the guest side of the ring.
func (b *Bridge) DrainGuestFrame() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mb.Shmem == nil || len(b.mb.Shmem) < ringHeaderSize {
		return nil, false
	}
	n := binary.LittleEndian.Uint32(b.mb.Shmem[:ringHeaderSize])
	if n == 0 {
		return nil, false
	}
	if int(n) > len(b.mb.Shmem)-ringHeaderSize {
		return nil, false
	}
	frame := make([]byte, n)
	copy(frame, b.mb.Shmem[ringHeaderSize:ringHeaderSize+int(n)])
	binary.LittleEndian.PutUint32(b.mb.Shmem[:ringHeaderSize], 0)
	return frame, true
}
