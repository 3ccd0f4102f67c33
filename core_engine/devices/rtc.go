package devices

import (
	"sync"
	"time"

	"hypercore/core_engine/herr"
)

// RTC offsets, adapted from an indexed CMOS (0x70/0x71 port pair) model
// into a flat MMIO register file (PL031-subset): DR (data, read-only,
// seconds since epoch), MR (match), LR (load), CR (control), IMSC/RIS/MIS/
// ICR (interrupt enable/raw/masked/clear). DR reads the host clock as a
// plain binary count of seconds; there is no BCD conversion and no
// separate second/minute/hour registers.
const (
	rtcOffDR   = 0x00 // current counter value (seconds)
	rtcOffMR   = 0x04 // match register
	rtcOffLR   = 0x08 // load register
	rtcOffCR   = 0x0c // control register
	rtcOffIMSC = 0x10 // interrupt mask set/clear
	rtcOffRIS  = 0x14 // raw interrupt status
	rtcOffMIS  = 0x18 // masked interrupt status
	rtcOffICR  = 0x1c // interrupt clear
	rtcSize    = 0x20
)

const rtcCREnable byte = 0x01

// RTC is an MMIO real-time clock backed by the host clock, with an alarm
// (match) interrupt modeled after the CMOS device's periodic/alarm flags.
type RTC struct {
	base uint64
	irq  uint32

	raiser IRQRaiser
	mu     sync.Mutex

	load    uint32 // offset added to host time, set by a write to LR
	match   uint32
	control byte
	imsc    bool
	ris     bool
}

func NewRTC(base uint64, irq uint32, raiser IRQRaiser) *RTC {
	return &RTC{base: base, irq: irq, raiser: raiser}
}

func (r *RTC) Name() string { return "rtc" }

func (r *RTC) Covers(gpa uint64, size int) bool {
	return gpa >= r.base && gpa+uint64(size) <= r.base+rtcSize
}

func (r *RTC) now() uint32 {
	return uint32(time.Now().Unix()) + r.load
}

func (r *RTC) Read(gpa uint64, size int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch gpa - r.base {
	case rtcOffDR:
		return uint64(r.now()), nil
	case rtcOffMR:
		return uint64(r.match), nil
	case rtcOffLR:
		return uint64(r.load), nil
	case rtcOffCR:
		return uint64(r.control), nil
	case rtcOffIMSC:
		if r.imsc {
			return 1, nil
		}
		return 0, nil
	case rtcOffRIS:
		if r.ris {
			return 1, nil
		}
		return 0, nil
	case rtcOffMIS:
		if r.ris && r.imsc {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, herr.New(herr.InvalidArg, "rtc: unhandled read offset %#x", gpa-r.base)
	}
}

func (r *RTC) Write(gpa uint64, size int, val uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch gpa - r.base {
	case rtcOffMR:
		r.match = uint32(val)
		return nil
	case rtcOffLR:
		r.load = uint32(val) - uint32(time.Now().Unix())
		return nil
	case rtcOffCR:
		r.control = byte(val)
		return nil
	case rtcOffIMSC:
		r.imsc = val&1 != 0
		return nil
	case rtcOffICR:
		r.ris = false
		return nil
	default:
		return herr.New(herr.InvalidArg, "rtc: unhandled write offset %#x val %#x", gpa-r.base, val)
	}
}

// Tick checks the match register against the current time and raises the
// alarm interrupt on a match, the MMIO counterpart of the CMOS device's
// Tick-driven periodic/alarm interrupt flags.
func (r *RTC) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.control&rtcCREnable == 0 {
		return
	}
	if r.now() == r.match {
		r.ris = true
		if r.imsc && r.raiser != nil {
			r.raiser.RaiseIRQ(r.irq)
		}
	}
}
