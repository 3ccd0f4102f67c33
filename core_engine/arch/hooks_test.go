package arch

import (
	"testing"

	"hypercore/core_engine/trap"
)

func TestSimHooksExitGuestForwardsToDispatcher(t *testing.T) {
	d := trap.NewDispatcher()
	var got uint32
	d.Register(&trap.Desc{EC: trap.ECHVC, Handler: func(vcpuID int, esr uint32) error {
		got = esr
		return nil
	}})

	h := NewSimHooks(d)
	if err := h.EnterGuest(0); err != nil {
		t.Fatalf("enter guest: %v", err)
	}

	esr := uint32(trap.ECHVC) << 26
	desc, err := h.ExitGuest(0, esr)
	if err != nil {
		t.Fatalf("exit guest: %v", err)
	}
	if desc.EC != trap.ECHVC {
		t.Fatalf("desc.EC = %#x, want %#x", desc.EC, trap.ECHVC)
	}
	if got != esr {
		t.Fatalf("handler did not receive forwarded esr")
	}
	if len(h.Entries) != 1 || h.Entries[0] != 0 {
		t.Fatalf("expected one recorded guest entry for vcpu 0")
	}
}

func TestSimHooksExitGuestUnregisteredECIsError(t *testing.T) {
	d := trap.NewDispatcher()
	h := NewSimHooks(d)
	if _, err := h.ExitGuest(0, uint32(trap.ECSMC)<<26); err == nil {
		t.Fatalf("expected unregistered ec to error")
	}
}
