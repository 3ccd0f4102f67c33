// Package devices holds the emulated MMIO peripherals a VM sees in its
// guest-physical address space: a PL011-style UART and a PL031-style RTC,
// both dispatched through the vdev registries built in trap/vmm.
//
// Adapted from an x86 port-mapped 16550A UART model (the register names
// and the DLAB/THR/IER/LCR handling below trace straight back to it) into
// an ARM64 MMIO device: port+direction+size becomes gpa+write+size, and
// interrupt delivery goes through an IRQRaiser (virq.Router.SendToVCPU in
// the wired-up case) instead of directly toggling a PIC line.
package devices

import (
	"io"
	"sync"

	"hypercore/core_engine/herr"
)

// IRQRaiser is the minimal surface a vdev needs to signal an interrupt;
// virq.Router satisfies it via a small adapter at wiring time.
type IRQRaiser interface {
	RaiseIRQ(irq uint32)
}

// UART register offsets from its MMIO base: the 16550A register layout the
// original modeled (THR/RHR, IER, IIR/FCR, LCR, MCR, LSR, MSR, SCR), one
// register every 4 bytes from a base GPA rather than I/O ports.
const (
	uartOffData   = 0x00 // RHR/THR
	uartOffIER    = 0x04 // interrupt enable
	uartOffIIRFCR = 0x08 // interrupt id / fifo control
	uartOffLCR    = 0x0c // line control
	uartOffMCR    = 0x10 // modem control
	uartOffLSR    = 0x14 // line status
	uartOffMSR    = 0x18 // modem status
	uartOffSCR    = 0x1c // scratch
	uartSize      = 0x20
)

const (
	lcrDLAB     byte = 0x80
	lsrTHRE     byte = 0x20
	lsrTEMT     byte = 0x40
	lsrDR       byte = 0x01
	iirNoIntPending byte = 0x01
	ierTHREEnable   byte = 0x02
)

// UART is an MMIO-mapped serial console: writes to the data register are
// forwarded to output, and an optional IRQRaiser is signaled on THR
// empty when IER's transmit-empty bit is set.
type UART struct {
	base uint64
	irq  uint32

	output io.Writer
	raiser IRQRaiser
	mu     sync.Mutex

	dll, ier, iirFcr, lcr, mcr, lsr, msr, scr byte
	dlabActive                               bool
}

func NewUART(base uint64, irq uint32, output io.Writer, raiser IRQRaiser) *UART {
	return &UART{
		base:    base,
		irq:     irq,
		output:  output,
		raiser:  raiser,
		lsr:     lsrTHRE | lsrTEMT,
		iirFcr:  iirNoIntPending,
	}
}

func (u *UART) Name() string { return "uart" }

func (u *UART) Covers(gpa uint64, size int) bool {
	return gpa >= u.base && gpa+uint64(size) <= u.base+uartSize
}

func (u *UART) Read(gpa uint64, size int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch gpa - u.base {
	case uartOffData:
		if u.dlabActive {
			return uint64(u.dll), nil
		}
		u.lsr &^= lsrDR
		return 0, nil
	case uartOffIER:
		return uint64(u.ier), nil
	case uartOffIIRFCR:
		v := u.iirFcr
		u.iirFcr = iirNoIntPending
		return uint64(v), nil
	case uartOffLCR:
		return uint64(u.lcr), nil
	case uartOffMCR:
		return uint64(u.mcr), nil
	case uartOffLSR:
		return uint64(u.lsr), nil
	case uartOffMSR:
		return uint64(u.msr), nil
	case uartOffSCR:
		return uint64(u.scr), nil
	default:
		return 0, herr.New(herr.InvalidArg, "uart: unhandled read offset %#x", gpa-u.base)
	}
}

func (u *UART) Write(gpa uint64, size int, val uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	v := byte(val)
	switch gpa - u.base {
	case uartOffData:
		if u.dlabActive {
			u.dll = v
			return nil
		}
		if u.output != nil {
			if _, err := u.output.Write([]byte{v}); err != nil {
				return herr.New(herr.IoError, "uart: write to output: %v", err)
			}
		}
		u.lsr |= lsrTHRE | lsrTEMT
		if u.ier&ierTHREEnable != 0 && u.raiser != nil {
			u.raiser.RaiseIRQ(u.irq)
		}
		return nil
	case uartOffIER:
		u.ier = v
		return nil
	case uartOffIIRFCR:
		u.iirFcr = v
		return nil
	case uartOffLCR:
		u.lcr = v
		u.dlabActive = v&lcrDLAB != 0
		return nil
	case uartOffMCR:
		u.mcr = v
		return nil
	case uartOffSCR:
		u.scr = v
		return nil
	default:
		return herr.New(herr.InvalidArg, "uart: unhandled write offset %#x val %#x", gpa-u.base, val)
	}
}
