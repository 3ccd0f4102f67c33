package event

import (
	"context"

	"hypercore/core_engine/herr"
)

// Mailbox is a single-slot message event (mbox.h): Post deposits a message
// and wakes the highest-priority waiter, or leaves it in Data for the next
// Pend/Accept if nobody is waiting yet.
type Mailbox struct {
	ev *Event
}

func NewMailbox(name string, initial any) *Mailbox {
	return &Mailbox{ev: New(TypeMbox, name, initial)}
}

func validMbox(m *Mailbox) bool {
	return m != nil && m.ev != nil && m.ev.Type == TypeMbox
}

// Accept returns and clears the current message without blocking, or nil
// if the slot is empty.
func (m *Mailbox) Accept() (any, error) {
	if !validMbox(m) {
		return nil, herr.New(herr.InvalidArg, "invalid mailbox")
	}
	m.ev.mu.Lock()
	defer m.ev.mu.Unlock()
	msg := m.ev.Data
	m.ev.Data = nil
	return msg, nil
}

// Pend blocks until a message is posted or ctx is done.
func (m *Mailbox) Pend(ctx context.Context, realtime bool, prio uint8) (any, error) {
	if !validMbox(m) {
		return nil, herr.New(herr.InvalidArg, "invalid mailbox")
	}

	m.ev.mu.Lock()
	if m.ev.Data != nil {
		msg := m.ev.Data
		m.ev.Data = nil
		m.ev.mu.Unlock()
		return msg, nil
	}
	m.ev.mu.Unlock()

	msg, stat, err := m.ev.Wait(ctx, realtime, prio)
	if err != nil {
		return nil, err
	}
	if stat == PendAborted {
		return nil, herr.New(herr.Aborted, "mailbox %q deleted while pending", m.ev.Name)
	}
	return msg, nil
}

// Post deposits msg, waking one waiter if present, otherwise filling the
// slot for the next Pend/Accept (overwriting any unconsumed message, as the
// single-slot mbox.h model does).
func (m *Mailbox) Post(msg any) error {
	if !validMbox(m) {
		return herr.New(herr.InvalidArg, "invalid mailbox")
	}
	if m.ev.Signal(msg) {
		return nil
	}
	m.ev.mu.Lock()
	m.ev.Data = msg
	m.ev.mu.Unlock()
	return nil
}

// Delete tears down the mailbox unconditionally, aborting every pending
// waiter (OS_DEL_ALWAYS).
func (m *Mailbox) Delete() int {
	return m.ev.Abort()
}

// DeleteOpt is the opt-aware form: DeleteNoPend refuses (returning an
// error, leaving the mailbox untouched) if any task is currently pending
// on it; DeleteAlways behaves like Delete.
func (m *Mailbox) DeleteOpt(opt DeleteOpt) (int, error) {
	if !validMbox(m) {
		return 0, herr.New(herr.InvalidArg, "invalid mailbox")
	}
	return m.ev.DeleteWithOpt(opt)
}
