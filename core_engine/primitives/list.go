// Package primitives holds the low-level building blocks the rest of the
// kernel is built on: spinlocks, cpu masks, per-CPU storage, and an
// intrusive doubly-linked list node (wait queues and timer lists
// themselves are kept as slices in event and timer).
//
// No list.h ships in the retrieval pack; this is grounded on the
// list_head field threaded through os/include/minos/task.h's struct task
// (list/stat_list/event_list) and the list_add_tail/list_del/
// list_for_each_entry convention that field implies. Plain struct
// manipulation with no hidden allocation, same as the rest of this package.
package primitives

// ListHead is an intrusive doubly-linked list node, modeled after the
// kernel list_head. sched.Task and timer.Timer embed one, but the wait
// queues, timer lists and per-CPU task lists are slices and do not link
// through it.
type ListHead struct {
	next, prev *ListHead
}

// Init makes l a single-element circular list (the list_head equivalent
// of INIT_LIST_HEAD).
func (l *ListHead) Init() {
	l.next = l
	l.prev = l
}

// Empty reports whether l is an uninitialized or emptied list head.
func (l *ListHead) Empty() bool {
	return l.next == nil || l.next == l
}

// AddTail inserts n at the tail of the list headed by l.
func (l *ListHead) AddTail(n *ListHead) {
	if l.next == nil {
		l.Init()
	}
	prev := l.prev
	n.next = l
	n.prev = prev
	prev.next = n
	l.prev = n
}

// Del removes n from whatever list it is on. Safe to call twice.
func (n *ListHead) Del() {
	if n.next == nil && n.prev == nil {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.next = nil
	n.prev = nil
}

// First returns the first element's list head, or nil if l is empty.
func (l *ListHead) First() *ListHead {
	if l.Empty() {
		return nil
	}
	return l.next
}

// Each calls fn for every node in l, in order, tolerating fn removing the
// current node (mirrors list_for_each_entry_safe).
func (l *ListHead) Each(fn func(*ListHead)) {
	if l.next == nil {
		return
	}
	n := l.next
	for n != l {
		next := n.next
		fn(n)
		n = next
	}
}
