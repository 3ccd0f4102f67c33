package devices

import (
	"testing"
	"time"
)

func TestRTCDRTracksHostClock(t *testing.T) {
	r := NewRTC(0x9010000, 34, nil)
	got, err := r.Read(0x9010000+rtcOffDR, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	now := uint64(time.Now().Unix())
	if got < now-1 || got > now+1 {
		t.Fatalf("dr = %d, want close to %d", got, now)
	}
}

func TestRTCAlarmFiresOnMatch(t *testing.T) {
	raiser := &fakeRaiser{}
	r := NewRTC(0x9010000, 34, raiser)

	r.Write(0x9010000+rtcOffCR, 1, uint64(rtcCREnable))
	r.Write(0x9010000+rtcOffIMSC, 1, 1)
	r.Write(0x9010000+rtcOffMR, 4, uint64(time.Now().Unix()))

	r.Tick()

	if len(raiser.raised) != 1 || raiser.raised[0] != 34 {
		t.Fatalf("expected alarm irq 34 raised once, got %v", raiser.raised)
	}
	mis, _ := r.Read(0x9010000+rtcOffMIS, 4)
	if mis != 1 {
		t.Fatalf("expected masked interrupt status set")
	}

	r.Write(0x9010000+rtcOffICR, 1, 1)
	mis, _ = r.Read(0x9010000+rtcOffMIS, 4)
	if mis != 0 {
		t.Fatalf("expected icr write to clear masked interrupt status")
	}
}

func TestRTCDisabledControlSuppressesAlarm(t *testing.T) {
	raiser := &fakeRaiser{}
	r := NewRTC(0x9010000, 34, raiser)
	r.Write(0x9010000+rtcOffIMSC, 1, 1)
	r.Write(0x9010000+rtcOffMR, 4, uint64(time.Now().Unix()))

	r.Tick()

	if len(raiser.raised) != 0 {
		t.Fatalf("expected no irq while control register disabled")
	}
}
