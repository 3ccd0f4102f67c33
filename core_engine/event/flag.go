package event

import (
	"context"

	"hypercore/core_engine/herr"
)

// WaitMode selects how a FlagGroup wait condition combines its mask bits.
type WaitMode int

const (
	WaitAll WaitMode = iota // every bit in the mask must be set
	WaitAny                 // at least one bit in the mask must be set
)

// FlagGroup is the event-group primitive (os/include/minos/task.h's
// flag_node/flags_rdy field, generalized into its own wait object): a
// bitmask tasks can wait on with AND or OR semantics over the same uniform
// wait-queue vocabulary as Sem/Mutex/Mbox.
//
// Flag is a first-class task pend-state alongside Sem/Mbox/Mutex; it is
// filled in here using the same
// wait-queue machinery the other primitives share.
type FlagGroup struct {
	ev   *Event
	bits uint32
}

func NewFlagGroup(name string, initial uint32) *FlagGroup {
	return &FlagGroup{ev: New(TypeFlag, name, nil), bits: initial}
}

func validFlag(f *FlagGroup) bool {
	return f != nil && f.ev != nil && f.ev.Type == TypeFlag
}

// satisfied reports whether bits satisfies the wait condition (mask, mode).
func satisfied(bits, mask uint32, mode WaitMode) bool {
	if mode == WaitAll {
		return bits&mask == mask
	}
	return bits&mask != 0
}

// Wait blocks until bits matches (mask, mode) per WaitMode, or ctx is done.
// Unlike Sem/Mutex/Mbox a FlagGroup wait is re-checked against every
// Set/Clear rather than satisfied by a single Signal, so it is implemented
// as a poll-on-broadcast loop over the shared Event rather than a plain
// Wait: every Set wakes all waiters (Broadcast) and each re-evaluates its
// own condition, re-queuing itself if not yet satisfied.
func (f *FlagGroup) Wait(ctx context.Context, mask uint32, mode WaitMode, realtime bool, prio uint8) error {
	if !validFlag(f) {
		return herr.New(herr.InvalidArg, "invalid flag group")
	}

	for {
		f.ev.mu.Lock()
		if satisfied(f.bits, mask, mode) {
			f.ev.mu.Unlock()
			return nil
		}
		f.ev.mu.Unlock()

		_, stat, err := f.ev.Wait(ctx, realtime, prio)
		if err != nil {
			return err
		}
		if stat == PendAborted {
			return herr.New(herr.Aborted, "flag group %q deleted while pending", f.ev.Name)
		}

		f.ev.mu.Lock()
		ok := satisfied(f.bits, mask, mode)
		f.ev.mu.Unlock()
		if ok {
			return nil
		}
		// spuriously woken by an unrelated Set; loop and re-wait.
	}
}

// Set ORs bits into the group and wakes every waiter to re-check its
// condition.
func (f *FlagGroup) Set(bits uint32) {
	f.ev.mu.Lock()
	f.bits |= bits
	f.ev.mu.Unlock()
	f.ev.Broadcast(nil)
}

// Clear ANDs ^bits out of the group. Does not wake anyone: clearing bits
// can only make more conditions false, never newly satisfied.
func (f *FlagGroup) Clear(bits uint32) {
	f.ev.mu.Lock()
	f.bits &^= bits
	f.ev.mu.Unlock()
}

func (f *FlagGroup) Bits() uint32 {
	f.ev.mu.Lock()
	defer f.ev.mu.Unlock()
	return f.bits
}

// Delete tears down the flag group unconditionally, aborting every
// pending waiter (OS_DEL_ALWAYS).
func (f *FlagGroup) Delete() int {
	return f.ev.Abort()
}

// DeleteOpt is the opt-aware form: DeleteNoPend refuses (returning an
// error, leaving the flag group untouched) if any task is currently
// pending on it; DeleteAlways behaves like Delete.
func (f *FlagGroup) DeleteOpt(opt DeleteOpt) (int, error) {
	if !validFlag(f) {
		return 0, herr.New(herr.InvalidArg, "invalid flag group")
	}
	return f.ev.DeleteWithOpt(opt)
}
