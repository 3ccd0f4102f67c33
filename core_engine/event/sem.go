package event

import (
	"context"

	"hypercore/core_engine/herr"
)

const maxSemCount = 65535

// Semaphore is a counting semaphore over the uniform wait queue (sem.c).
//
// Note: the source this was ported from validates semaphore handles with
// `sem->type != OS_EVENT_TYPE_MBOX` — comparing against the mailbox type
// tag instead of the semaphore one, so it silently accepts a semaphore
// created against the wrong type. validSem below checks TypeSem instead.
type Semaphore struct {
	ev  *Event
	cnt uint32
}

func NewSemaphore(name string, initial uint32) *Semaphore {
	return &Semaphore{ev: New(TypeSem, name, nil), cnt: initial}
}

func validSem(s *Semaphore) bool {
	return s != nil && s.ev != nil && s.ev.Type == TypeSem
}

// Accept performs a non-blocking try-take (sem_accept): decrements and
// returns the prior count if positive, leaves it untouched at zero.
func (s *Semaphore) Accept() (uint32, error) {
	if !validSem(s) {
		return 0, herr.New(herr.InvalidArg, "invalid semaphore")
	}
	s.ev.mu.Lock()
	defer s.ev.mu.Unlock()
	cnt := s.cnt
	if cnt > 0 {
		s.cnt--
	}
	return cnt, nil
}

// Pend blocks until the count is available or ctx is done (sem_pend).
func (s *Semaphore) Pend(ctx context.Context, realtime bool, prio uint8) error {
	if !validSem(s) {
		return herr.New(herr.InvalidArg, "invalid semaphore")
	}

	s.ev.mu.Lock()
	if s.cnt > 0 {
		s.cnt--
		s.ev.mu.Unlock()
		return nil
	}
	s.ev.mu.Unlock()

	_, stat, err := s.ev.Wait(ctx, realtime, prio)
	if err != nil {
		return err
	}
	if stat == PendAborted {
		return herr.New(herr.Aborted, "semaphore %q deleted while pending", s.ev.Name)
	}
	return nil
}

// Post increments the count, or wakes the highest-priority waiter if any
// (sem_post). Saturates silently at 65535 rather than wrapping or failing
// — sem_post never returns an error for a full count, it simply stops
// incrementing.
func (s *Semaphore) Post() error {
	if !validSem(s) {
		return herr.New(herr.InvalidArg, "invalid semaphore")
	}
	if s.ev.Signal(nil) {
		return nil
	}
	s.ev.mu.Lock()
	defer s.ev.mu.Unlock()
	if s.cnt < maxSemCount {
		s.cnt++
	}
	return nil
}

// PendAbortOpt selects how PendAbort treats currently-queued waiters,
// mirroring sem_pend_abort's OS_PEND_OPT_NONE / OS_PEND_OPT_BROADCAST.
type PendAbortOpt int

const (
	// PendAbortNone wakes exactly the single highest-priority waiter, as
	// if it had been signaled successfully (OS_PEND_OPT_NONE).
	PendAbortNone PendAbortOpt = iota
	// PendAbortBroadcast wakes every currently-queued waiter with an
	// aborted result (OS_PEND_OPT_BROADCAST).
	PendAbortBroadcast
)

// PendAbort wakes waiters pending on the semaphore without releasing the
// semaphore itself or touching cnt (sem_pend_abort) — distinct from
// Delete/DeleteOpt, which tear the semaphore down. Returns the number of
// waiters woken.
func (s *Semaphore) PendAbort(opt PendAbortOpt) (int, error) {
	if !validSem(s) {
		return 0, herr.New(herr.InvalidArg, "invalid semaphore")
	}
	if opt == PendAbortBroadcast {
		return s.ev.Abort(), nil
	}
	if s.ev.Signal(nil) {
		return 1, nil
	}
	return 0, nil
}

// Count reports the current count without consuming it.
func (s *Semaphore) Count() uint32 {
	s.ev.mu.Lock()
	defer s.ev.mu.Unlock()
	return s.cnt
}

// Delete aborts every pending waiter (sem_del with OS_DEL_ALWAYS).
func (s *Semaphore) Delete() int {
	return s.ev.Abort()
}

// DeleteOpt is sem_del's opt-aware form: DeleteNoPend refuses (returning
// an error, leaving the semaphore untouched) if any task is currently
// pending on it; DeleteAlways behaves like Delete.
func (s *Semaphore) DeleteOpt(opt DeleteOpt) (int, error) {
	if !validSem(s) {
		return 0, herr.New(herr.InvalidArg, "invalid semaphore")
	}
	return s.ev.DeleteWithOpt(opt)
}
