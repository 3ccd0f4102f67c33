// Package event implements the uniform wait-queue abstraction every
// synchronization primitive (Mutex, Semaphore, Mailbox, FlagGroup) is built
// on: realtime waiters tracked in a wait_grp/wait_tbl bitmap exactly like
// the realtime ready bitmap in sched, non-realtime waiters queued FIFO.
//
// Grounded on os/core/event.c (event_task_wait, event_task_remove,
// event_get_waiter, event_highest_task_ready, event_del_always). A Go
// goroutine blocked in Wait stands in for a minos task blocked in sched();
// context cancellation/deadline stands in for the timer-driven timeout path.
package event

import (
	"context"
	"sync"

	"hypercore/core_engine/herr"
)

// Type tags what kind of primitive an Event backs.
type Type int

const (
	TypeSem Type = iota
	TypeMbox
	TypeMutex
	TypeFlag
	TypeQ
)

// PendStat is the outcome surfaced to a woken waiter (distinct from
// herr.Kind).
type PendStat int

const (
	PendOK PendStat = iota
	PendTimeout
	PendAborted
)

type waiter struct {
	realtime bool
	prio     uint8
	pid      int
	by, bx   uint8
	bity     uint8
	bitx     uint8

	result chan waitResult
	queued bool // still linked in waitList or the realtime table
}

type waitResult struct {
	msg  any
	stat PendStat
}

// Event is the shared wait-queue object (struct event).
type Event struct {
	mu   sync.Mutex
	Type Type
	Name string
	Data any

	waitList []*waiter // FIFO for non-realtime waiters (wait_list)
	waitGrp  uint8
	waitTbl  [8]uint8
	byPrio   map[uint8]*waiter // realtime waiters keyed by priority, for O(1) removal
}

func New(typ Type, name string, data any) *Event {
	return &Event{Type: typ, Name: name, Data: data, byPrio: make(map[uint8]*waiter)}
}

var unprioToLSB [256]uint8

func init() {
	for i := 1; i < 256; i++ {
		b := uint8(i)
		pos := uint8(0)
		for b&1 == 0 {
			b >>= 1
			pos++
		}
		unprioToLSB[i] = pos
	}
}

func (e *Event) addWaiterLocked(w *waiter) {
	if w.realtime {
		w.by = w.prio / 8
		w.bx = w.prio % 8
		w.bity = 1 << w.by
		w.bitx = 1 << w.bx
		e.waitGrp |= w.bity
		e.waitTbl[w.by] |= w.bitx
		e.byPrio[w.prio] = w
	} else {
		e.waitList = append(e.waitList, w)
	}
	w.queued = true
}

// removeWaiterLocked reports whether w was actually queued (event_task_remove's
// return value distinguishes "already removed by someone else", e.g. a
// concurrent timeout handler).
func (e *Event) removeWaiterLocked(w *waiter) bool {
	if !w.queued {
		return false
	}
	w.queued = false
	if w.realtime {
		e.waitTbl[w.by] &^= w.bitx
		if e.waitTbl[w.by] == 0 {
			e.waitGrp &^= w.bity
		}
		delete(e.byPrio, w.prio)
	} else {
		for i, cur := range e.waitList {
			if cur == w {
				e.waitList = append(e.waitList[:i], e.waitList[i+1:]...)
				break
			}
		}
	}
	return true
}

// getWaiterLocked returns the next waiter to wake: the highest-priority
// realtime waiter if any are queued, else the head of the FIFO list.
func (e *Event) getWaiterLocked() *waiter {
	if e.waitGrp != 0 {
		row := unprioToLSB[e.waitGrp]
		col := unprioToLSB[e.waitTbl[row]]
		prio := row*8 + col
		return e.byPrio[prio]
	}
	if len(e.waitList) > 0 {
		return e.waitList[0]
	}
	return nil
}

// Wait blocks the calling goroutine on e until woken by Signal/Broadcast/
// Abort, or until ctx is done. realtime/prio determine bitmap vs FIFO
// placement (event_task_wait).
func (e *Event) Wait(ctx context.Context, realtime bool, prio uint8) (msg any, stat PendStat, err error) {
	return e.WaitPID(ctx, realtime, prio, 0)
}

// WaitPID is Wait with the waiting task's pid attached, so a waker (e.g.
// Mutex.Post) can transfer ownership to the specific task it is about to
// wake, matching mutex_post setting m->owner before calling sched_task.
func (e *Event) WaitPID(ctx context.Context, realtime bool, prio uint8, pid int) (msg any, stat PendStat, err error) {
	w := &waiter{realtime: realtime, prio: prio, pid: pid, result: make(chan waitResult, 1)}

	e.mu.Lock()
	e.addWaiterLocked(w)
	e.mu.Unlock()

	select {
	case r := <-w.result:
		return r.msg, r.stat, nil
	case <-ctx.Done():
		e.mu.Lock()
		removed := e.removeWaiterLocked(w)
		e.mu.Unlock()
		if !removed {
			// a waker already claimed this waiter; take its result.
			r := <-w.result
			return r.msg, r.stat, nil
		}
		return nil, PendTimeout, herr.New(herr.Timeout, "wait on event %q timed out", e.Name)
	}
}

// Signal wakes exactly one waiter (the highest-priority realtime waiter, or
// the FIFO head) with msg and PendOK, the analogue of
// event_highest_task_ready. Returns false if there was no one to wake.
func (e *Event) Signal(msg any) bool {
	woken, _ := e.SignalNext(msg)
	return woken
}

// SignalNext is Signal but also reports the woken waiter's pid (as supplied
// to WaitPID), letting callers like Mutex.Post assign new ownership before
// the waiter resumes.
func (e *Event) SignalNext(msg any) (woken bool, pid int) {
	e.mu.Lock()
	w := e.getWaiterLocked()
	if w == nil {
		e.mu.Unlock()
		return false, 0
	}
	e.removeWaiterLocked(w)
	e.mu.Unlock()

	w.result <- waitResult{msg: msg, stat: PendOK}
	return true, w.pid
}

// Broadcast wakes every waiter with PendOK and msg (used by flag groups
// where more than one waiter's condition can be satisfied at once).
func (e *Event) Broadcast(msg any) int {
	e.mu.Lock()
	var all []*waiter
	for e.waitGrp != 0 || len(e.waitList) > 0 {
		w := e.getWaiterLocked()
		if w == nil {
			break
		}
		e.removeWaiterLocked(w)
		all = append(all, w)
	}
	e.mu.Unlock()

	for _, w := range all {
		w.result <- waitResult{msg: msg, stat: PendOK}
	}
	return len(all)
}

// Abort wakes every current waiter with PendAborted and a nil message, the
// analogue of event_del_always: used when the owning primitive is being
// torn down while tasks are still waiting on it.
func (e *Event) Abort() int {
	n, _ := e.DeleteWithOpt(DeleteAlways)
	return n
}

// DeleteOpt selects how DeleteWithOpt handles a primitive carrying
// currently-queued waiters, mirroring sem_del/mutex_del's OS_DEL_ALWAYS /
// OS_DEL_NO_PEND option argument.
type DeleteOpt int

const (
	// DeleteAlways unconditionally wakes every waiter with PendAborted,
	// regardless of whether any are queued (OS_DEL_ALWAYS).
	DeleteAlways DeleteOpt = iota
	// DeleteNoPend refuses — leaving the event and its waiters untouched
	// — if any waiter is currently queued (OS_DEL_NO_PEND).
	DeleteNoPend
)

// DeleteWithOpt implements both deletion modes atomically: with
// DeleteNoPend, it checks for and rejects pending waiters under the same
// lock acquisition that would otherwise abort them, so a waiter cannot
// enqueue between the check and the abort. Returns the number of waiters
// woken (always 0 for a DeleteNoPend refusal).
func (e *Event) DeleteWithOpt(opt DeleteOpt) (int, error) {
	e.mu.Lock()
	hasWaiters := e.waitGrp != 0 || len(e.waitList) > 0
	if opt == DeleteNoPend && hasWaiters {
		e.mu.Unlock()
		return 0, herr.New(herr.Busy, "event %q: waiters pending, refusing delete (OS_DEL_NO_PEND)", e.Name)
	}

	var all []*waiter
	for e.waitGrp != 0 || len(e.waitList) > 0 {
		w := e.getWaiterLocked()
		if w == nil {
			break
		}
		e.removeWaiterLocked(w)
		all = append(all, w)
	}
	e.mu.Unlock()

	for _, w := range all {
		w.result <- waitResult{msg: nil, stat: PendAborted}
	}
	return len(all), nil
}

// WaiterCount reports how many tasks are currently queued, for tests.
func (e *Event) WaiterCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byPrio) + len(e.waitList)
}
