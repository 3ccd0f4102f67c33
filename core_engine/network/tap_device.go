package network

import (
	"golang.org/x/sys/unix"

	"hypercore/core_engine/herr"
)

// HostNetInterface is the host-facing side of a network Bridge: whatever
// backs it, a frame written by the guest must reach the outside world and
// a frame arriving from outside must be readable without blocking the
// pump loop indefinitely.
type HostNetInterface interface {
	ReadPacket() ([]byte, error)
	WritePacket(packet []byte) error
	Close() error
}

// maxFrameSize bounds a single Ethernet frame read, large enough for a
// standard (non-jumbo) frame plus VLAN tagging overhead.
const maxFrameSize = 2048

// TapDevice backs a Bridge with a real Linux TUN/TAP device, opened
// non-blocking so PumpFromHost never stalls the caller's loop waiting on
// the host NIC.
type TapDevice struct {
	fd   int
	name string
}

// NewTapDevice opens /dev/net/tun and attaches it to the named tap
// interface in IFF_TAP|IFF_NO_PI mode (raw Ethernet frames, no packet
// info header), using unix.NewIfreq/IoctlIfreq (TUNSETIFF) the way the host ioctl
// ABI expects.
func NewTapDevice(name string) (*TapDevice, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, herr.New(herr.IoError, "tap device: open /dev/net/tun: %v", err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, herr.New(herr.InvalidArg, "tap device: interface name %q: %v", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, herr.New(herr.IoError, "tap device: TUNSETIFF %s: %v", name, err)
	}

	return &TapDevice{fd: fd, name: name}, nil
}

// ReadPacket reads one Ethernet frame, returning (nil, nil) when the
// non-blocking fd has nothing queued rather than treating EAGAIN as an
// error — a bridge's pump loop polls this every tick.
func (t *TapDevice) ReadPacket() ([]byte, error) {
	buf := make([]byte, maxFrameSize)
	n, err := unix.Read(t.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, herr.New(herr.IoError, "tap device %s: read: %v", t.name, err)
	}
	return buf[:n], nil
}

// WritePacket writes one Ethernet frame to the tap device.
func (t *TapDevice) WritePacket(packet []byte) error {
	if _, err := unix.Write(t.fd, packet); err != nil {
		return herr.New(herr.IoError, "tap device %s: write: %v", t.name, err)
	}
	return nil
}

// Close releases the tap device's file descriptor. Safe to call more
// than once.
func (t *TapDevice) Close() error {
	if t.fd < 0 {
		return nil
	}
	fd := t.fd
	t.fd = -1
	return unix.Close(fd)
}
