package event

import (
	"context"

	"hypercore/core_engine/herr"
)

// mutexAvailable is the sentinel cnt value meaning "unlocked"
// (OS_MUTEX_AVAILABLE); any other value is the owner's priority.
const mutexAvailable = 0xff

// Mutex is a priority-tagged mutual exclusion lock over the uniform wait
// queue (mutex.c). cnt holds either mutexAvailable or the current owner's
// realtime priority, owner holds the owning pid.
type Mutex struct {
	ev    *Event
	cnt   uint8
	owner int
}

func NewMutex(name string) *Mutex {
	return &Mutex{ev: New(TypeMutex, name, nil), cnt: mutexAvailable, owner: -1}
}

func validMutex(m *Mutex) bool {
	return m != nil && m.ev != nil && m.ev.Type == TypeMutex
}

// Accept performs a non-blocking try-lock (mutex_accept).
func (m *Mutex) Accept(pid int, prio uint8) error {
	if !validMutex(m) {
		return herr.New(herr.InvalidArg, "invalid mutex")
	}
	m.ev.mu.Lock()
	defer m.ev.mu.Unlock()
	if m.cnt != mutexAvailable {
		return herr.New(herr.Busy, "mutex %q held by pid %d", m.ev.Name, m.owner)
	}
	m.owner = pid
	m.cnt = prio
	return nil
}

// Pend blocks until the mutex is acquired or ctx is done (mutex_pend).
func (m *Mutex) Pend(ctx context.Context, pid int, realtime bool, prio uint8) error {
	if !validMutex(m) {
		return herr.New(herr.InvalidArg, "invalid mutex")
	}

	m.ev.mu.Lock()
	if m.cnt == mutexAvailable {
		m.owner = pid
		m.cnt = prio
		m.ev.mu.Unlock()
		return nil
	}
	m.ev.mu.Unlock()

	// Ownership is assigned by the waker (Post) before this goroutine
	// resumes, matching mutex_post setting m->owner ahead of sched_task.
	_, stat, err := m.ev.WaitPID(ctx, realtime, prio, pid)
	if err != nil {
		return err
	}
	if stat == PendAborted {
		return herr.New(herr.Aborted, "mutex %q deleted while pending", m.ev.Name)
	}
	return nil
}

// Post releases the mutex, handing it directly to the next waiter if one
// exists (mutex_post), or marking it available otherwise.
func (m *Mutex) Post(pid int) error {
	if !validMutex(m) {
		return herr.New(herr.InvalidArg, "invalid mutex")
	}
	m.ev.mu.Lock()
	if m.owner != pid {
		m.ev.mu.Unlock()
		return herr.New(herr.NotPermitted, "mutex %q not owned by pid %d", m.ev.Name, pid)
	}

	w := m.ev.getWaiterLocked()
	if w == nil {
		m.cnt = mutexAvailable
		m.owner = -1
		m.ev.mu.Unlock()
		return nil
	}
	m.ev.removeWaiterLocked(w)
	m.owner = w.pid
	m.cnt = w.prio
	m.ev.mu.Unlock()

	w.result <- waitResult{msg: nil, stat: PendOK}
	return nil
}

// Owner reports the current owning pid, or -1 if unlocked.
func (m *Mutex) Owner() int {
	m.ev.mu.Lock()
	defer m.ev.mu.Unlock()
	return m.owner
}

// Delete tears down the mutex unconditionally (mutex_del with
// OS_DEL_ALWAYS), aborting every pending waiter.
func (m *Mutex) Delete() int {
	return m.ev.Abort()
}

// DeleteOpt is mutex_del's opt-aware form: DeleteNoPend refuses (returning
// an error, leaving the mutex untouched) if any task is currently pending
// on it; DeleteAlways behaves like Delete.
func (m *Mutex) DeleteOpt(opt DeleteOpt) (int, error) {
	if !validMutex(m) {
		return 0, herr.New(herr.InvalidArg, "invalid mutex")
	}
	return m.ev.DeleteWithOpt(opt)
}
