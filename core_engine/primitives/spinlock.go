package primitives

import "sync"

// SpinLock is the kernel's lock primitive. On real EL2 firmware this would
// spin on a ticket/test-and-set word with interrupts masked; hosted in Go,
// a sync.Mutex gives the same mutual-exclusion contract the rest of the
// kernel relies on (event lock, task lock, per-CPU timer list lock).
//
// LockIRQSave/UnlockIRQRestore model the C sources' spin_lock_irqsave /
// spin_unlock_irqrestore pairing: acquiring the lock also excludes the
// local "interrupt" path, represented here by a per-lock saved-flags token
// rather than real PSTATE.DAIF bits.
type SpinLock struct {
	mu sync.Mutex
}

// Flags is the opaque token returned by LockIRQSave, to be passed back to
// UnlockIRQRestore. It carries no real saved state in this hosted model,
// but keeps call sites symmetric with the C original.
type Flags struct{}

func (s *SpinLock) Lock()   { s.mu.Lock() }
func (s *SpinLock) Unlock() { s.mu.Unlock() }

func (s *SpinLock) LockIRQSave() Flags {
	s.mu.Lock()
	return Flags{}
}

func (s *SpinLock) UnlockIRQRestore(Flags) {
	s.mu.Unlock()
}
