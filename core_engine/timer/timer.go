// Package timer implements the per-CPU sorted timer list the scheduler and
// vtimer simulation are built on: add/mod/del against a monotonic tick
// counter, with the del-while-running race handled via a request flag
// rather than a lock held across the callback.
//
// Grounded on os/include/minos/timer.h's timer_list/timers structures
// (expires, del_request, running_timer) and a PIT-style counter/reload
// bookkeeping discipline.
package timer

import (
	"sync"
	"sync/atomic"

	"hypercore/core_engine/primitives"
)

// Func is a timer callback, invoked with the Data value the timer was
// armed with. Called with no lock held; it must not block.
type Func func(data uint64)

// Timer mirrors struct timer_list: one shot, rearmed via Mod or re-Add.
type Timer struct {
	CPU      int
	Expires  uint64
	Function Func
	Data     uint64

	delRequest atomic.Bool
	entry      primitives.ListHead
	owner      *PerCPU
}

// PerCPU is one CPU's timer wheel: struct timers rendered as a sorted
// slice (insertion cost traded for cheap "next expiry" and cheap
// expire-due-timers, matching the list's use in the C original: it is
// always walked in expiry order).
type PerCPU struct {
	mu             sync.Mutex
	active         []*Timer
	runningExpires uint64
	runningTimer   *Timer
}

// Add inserts t into its owning CPU's wheel in expiry order (add_timer).
func (p *PerCPU) Add(t *Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.owner = p
	t.delRequest.Store(false)
	p.insertLocked(t)
}

func (p *PerCPU) insertLocked(t *Timer) {
	i := 0
	for i < len(p.active) && p.active[i].Expires <= t.Expires {
		i++
	}
	p.active = append(p.active, nil)
	copy(p.active[i+1:], p.active[i:])
	p.active[i] = t
}

// Del removes t from the wheel. If t's callback is currently running (on
// this same goroutine's expiry pass) it sets del_request instead of
// mutating the list out from under ExpireDue, mirroring del_timer's
// running_timer check. Returns true if t was pending and has now been
// removed (or will not re-fire).
func (p *PerCPU) Del(t *Timer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runningTimer == t {
		t.delRequest.Store(true)
		return true
	}
	for i, cur := range p.active {
		if cur == t {
			p.active = append(p.active[:i], p.active[i+1:]...)
			return true
		}
	}
	return false
}

// Mod re-arms t at a new expiry, removing it from its current position
// first if present (mod_timer).
func (p *PerCPU) Mod(t *Timer, expires uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.active {
		if cur == t {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
	t.Expires = expires
	t.owner = p
	t.delRequest.Store(false)
	p.insertLocked(t)
}

// NextExpiry returns the earliest pending expiry and true, or (0, false) if
// the wheel is empty.
func (p *PerCPU) NextExpiry() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.active) == 0 {
		return 0, false
	}
	return p.active[0].Expires, true
}

// ExpireDue pops and fires every timer whose Expires <= now, in expiry
// order, honoring a Del call made from inside a callback (del_request).
func (p *PerCPU) ExpireDue(now uint64) {
	for {
		p.mu.Lock()
		if len(p.active) == 0 || p.active[0].Expires > now {
			p.mu.Unlock()
			return
		}
		t := p.active[0]
		p.active = p.active[1:]
		p.runningTimer = t
		p.runningExpires = t.Expires
		p.mu.Unlock()

		if !t.delRequest.Load() {
			t.Function(t.Data)
		}

		p.mu.Lock()
		p.runningTimer = nil
		p.mu.Unlock()
	}
}

// Len reports the number of pending timers, for tests asserting sortedness.
func (p *PerCPU) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Sorted reports whether the wheel's expiries are non-decreasing, the
// invariant every per-CPU timer list must hold.
func (p *PerCPU) Sorted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 1; i < len(p.active); i++ {
		if p.active[i-1].Expires > p.active[i].Expires {
			return false
		}
	}
	return true
}
