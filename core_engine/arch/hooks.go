package arch

import "hypercore/core_engine/trap"

// Hooks is the architecture-layer boundary treated as an external
// collaborator: "the CPU's trap vectors (abstracted as a hook from the
// architecture layer)". A real deployment wires this to assembly
// trampolines that save guest state and read ESR_EL2 on a world switch;
// SimHooks below is the software-simulated stand-in used to drive and
// test the core without real EL2 hardware.
type Hooks interface {
	// EnterGuest is called immediately before resuming a vCPU in guest
	// mode (the eret trampoline).
	EnterGuest(vcpuID int) error

	// ExitGuest is called on every trap back to EL2: it reads the
	// hardware ESR and hands it to the trap dispatcher, returning the
	// matched descriptor (or NotFound if nothing is registered for that
	// EC) so the caller's handler loop can run it.
	ExitGuest(vcpuID int, esr uint32) (*trap.Desc, error)
}

// SimHooks is a software simulation of the architecture hooks: instead of
// a real world switch it just records entries and forwards exits straight
// to a trap.Dispatcher, enough to exercise L9's ESR-decode dispatch table
// end to end in tests.
type SimHooks struct {
	Dispatcher *trap.Dispatcher
	Entries    []int
}

func NewSimHooks(d *trap.Dispatcher) *SimHooks {
	return &SimHooks{Dispatcher: d}
}

func (s *SimHooks) EnterGuest(vcpuID int) error {
	s.Entries = append(s.Entries, vcpuID)
	return nil
}

func (s *SimHooks) ExitGuest(vcpuID int, esr uint32) (*trap.Desc, error) {
	return s.Dispatcher.Dispatch(vcpuID, esr)
}
