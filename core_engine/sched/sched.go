// Package sched implements the task scheduler: a global realtime class
// (priorities 0..63, bitmap-indexed, runnable on any CPU) and a per-CPU
// round-robin class for pinned tasks, plus the vmodule context save/restore
// registry used across task switches.
//
// Grounded on os/include/minos/task.h's struct task (pid, prio, by/bx/bity/
// bitx, stat, pend_stat, affinity) and the get_highest_task description
// (ready_grp/ready_tbl summarized by an unprio-to-lsb lookup).
package sched

import (
	"sync"

	"hypercore/core_engine/herr"
	"hypercore/core_engine/primitives"
)

const (
	// NRTasks bounds the global pid table, mirroring OS_NR_TASKS.
	NRTasks = 512
	// NRRealtime is the realtime priority space, 0 (highest) .. 63 (lowest).
	NRRealtime = 64

	rdyTblSize = NRRealtime / 8

	// PrioPCPU and PrioIdle are sentinel priorities outside the realtime
	// bitmap's range, mirroring OS_PRIO_PCPU / OS_PRIO_IDLE.
	PrioPCPU = NRRealtime
	PrioIdle = NRRealtime + 1
)

// State is the task state bitmask (Task attributes).
type State uint16

const (
	StateReady State = 1 << iota
	StateSem
	StateMbox
	StateQ
	StateSuspend
	StateMutex
	StateFlag
	StateRunning
)

// PendStat is the outcome of the most recent wait.
type PendStat int

const (
	PendOK PendStat = iota
	PendTimeout
	PendAborted
)

// Func is a task's entry point.
type Func func(arg any)

// Task is a schedulable entity (struct task).
type Task struct {
	Name     string
	PID      int
	Prio     uint8 // 0..63 realtime, PrioPCPU, or PrioIdle
	Affinity int   // physical cpu id, primitives.AffinityAny, or AffinityPerCPU
	Func     Func
	Arg      any

	State    State
	Pend     PendStat
	Delay    uint32
	LockedBy any // the event this task currently holds (mutex ownership)
	WaitOn   any // the event this task is currently blocked on

	// by/bx and the matching single-bit masks bity/bitx locate this task
	// in the realtime ready bitmap; only meaningful for realtime tasks.
	by, bx     uint8
	bity, bitx uint8

	listEntry primitives.ListHead // owning CPU's ready/run list
}

func isRealtime(prio uint8) bool { return prio < NRRealtime }

// vmodule hooks, run on every context switch in registration order.
type vmodule struct {
	name    string
	save    func(t *Task)
	restore func(t *Task)
}

// Scheduler owns the global realtime bitmap, the pid table, and the set of
// per-CPU round-robin run queues.
type Scheduler struct {
	mu sync.Mutex

	pidTable [NRTasks]*Task
	nextPID  int

	rdyGrp uint8
	rdyTbl [rdyTblSize]uint8

	pcpu [primitives.MaxCPUs]*pcpuQueue

	vmodules []vmodule

	// resched is called whenever a realtime task is inserted into the
	// ready bitmap, so a remote physical CPU running a lower-priority
	// task gets a RESCHED_IRQ and re-evaluates HighestReady. Nil by
	// default (single-CPU callers, and tests, need not wire SMP in).
	resched func()
}

// SetReschedHook wires fn to fire on every realtime ready-bitmap insertion
// (MarkReady, and CreateTask for a realtime task), the counterpart of
// smp.Dispatcher.ReschedAll being invoked after a cross-CPU ready-queue
// change. Called once during wiring, before the scheduler runs any task.
func (s *Scheduler) SetReschedHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resched = fn
}

type pcpuQueue struct {
	tasks   []*Task
	running int // index into tasks of the currently-running task, -1 if none
}

func NewScheduler(ncpu int) *Scheduler {
	s := &Scheduler{}
	for i := 0; i < ncpu; i++ {
		s.pcpu[i] = &pcpuQueue{running: -1}
	}
	return s
}

// RegisterVModule adds a context save/restore pair invoked on every switch,
// the Go analogue of register_vmodule (FPU state, vtimer state, etc).
func (s *Scheduler) RegisterVModule(name string, save, restore func(t *Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vmodules = append(s.vmodules, vmodule{name: name, save: save, restore: restore})
}

func (s *Scheduler) SwitchContext(from, to *Task) {
	s.mu.Lock()
	mods := append([]vmodule(nil), s.vmodules...)
	s.mu.Unlock()
	for _, m := range mods {
		if from != nil && m.save != nil {
			m.save(from)
		}
	}
	for _, m := range mods {
		if to != nil && m.restore != nil {
			m.restore(to)
		}
	}
}

// allocPID finds a free pid slot. For realtime tasks, priority uniqueness
// is enforced here: priority uniqueness is enforced at pid-allocation
// time so the bitmap stays unambiguous.
func (s *Scheduler) allocPID(prio uint8) (int, error) {
	if isRealtime(prio) {
		for _, t := range s.pidTable {
			if t != nil && t.Prio == prio {
				return 0, herr.New(herr.InvalidArg, "priority %d already in use by pid %d", prio, t.PID)
			}
		}
	}
	for i := 0; i < NRTasks; i++ {
		p := (s.nextPID + i) % NRTasks
		if s.pidTable[p] == nil {
			s.nextPID = (p + 1) % NRTasks
			return p, nil
		}
	}
	return 0, herr.New(herr.NoMemory, "task table exhausted (%d slots)", NRTasks)
}

// CreateTask allocates a pid, inserts the task into the global table, and
// (for realtime tasks) marks it Ready in the bitmap, or (for per-CPU tasks)
// appends it to its affinity CPU's run queue (create_task).
func (s *Scheduler) CreateTask(name string, fn Func, arg any, prio uint8, affinity int) (*Task, error) {
	s.mu.Lock()

	pid, err := s.allocPID(prio)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	t := &Task{Name: name, PID: pid, Prio: prio, Affinity: affinity, Func: fn, Arg: arg, State: StateReady}
	s.pidTable[pid] = t

	realtime := isRealtime(prio)
	if realtime {
		s.markReadyLocked(t)
	} else if affinity >= 0 {
		q := s.pcpu[affinity]
		q.tasks = append(q.tasks, t)
	}
	hook := s.resched
	s.mu.Unlock()

	if realtime && hook != nil {
		hook()
	}
	return t, nil
}

func (s *Scheduler) markReadyLocked(t *Task) {
	t.by = t.Prio / 8
	t.bx = t.Prio % 8
	t.bity = 1 << t.by
	t.bitx = 1 << t.bx
	s.rdyTbl[t.by] |= t.bitx
	s.rdyGrp |= t.bity
	t.State = StateReady
}

func (s *Scheduler) clearReadyLocked(t *Task) {
	s.rdyTbl[t.by] &^= t.bitx
	if s.rdyTbl[t.by] == 0 {
		s.rdyGrp &^= t.bity
	}
}

// unprioToLSB mirrors the 256-entry unmap table: index by a byte, get the
// position of its lowest set bit (undefined/unused for 0, callers check
// the byte is nonzero first).
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

// HighestReady returns the highest-priority (lowest numeric priority) Ready
// realtime task, or nil if the realtime bitmap is empty (get_highest_task).
func (s *Scheduler) HighestReady() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rdyGrp == 0 {
		return nil
	}
	row := unprioToLSB[s.rdyGrp]
	col := unprioToLSB[s.rdyTbl[row]]
	prio := row*8 + col
	for _, t := range s.pidTable {
		if t != nil && isRealtime(t.Prio) && t.Prio == prio {
			return t
		}
	}
	return nil
}

// SetBlocked removes a realtime task from the ready bitmap when it blocks
// on an event, leaving its pid table entry and by/bx/bity/bitx intact so
// MarkReady can restore it without recomputation.
func (s *Scheduler) SetBlocked(t *Task, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isRealtime(t.Prio) && t.State&StateReady != 0 {
		s.clearReadyLocked(t)
	}
	t.State = state
}

// MarkReady restores t to Ready, reinserting a realtime task into the
// bitmap at its already-known (by, bx) position, and — for a realtime
// task — fires the resched hook so a remote physical CPU running a
// lower-priority task gets an IPI-driven chance to preempt in its favor.
func (s *Scheduler) MarkReady(t *Task) {
	s.mu.Lock()
	realtime := isRealtime(t.Prio)
	if realtime {
		s.rdyTbl[t.by] |= t.bitx
		s.rdyGrp |= t.bity
	}
	t.State = StateReady
	hook := s.resched
	s.mu.Unlock()

	if realtime && hook != nil {
		hook()
	}
}

// DestroyTask removes t from the pid table and the realtime bitmap (or its
// per-CPU queue), freeing its pid slot.
func (s *Scheduler) DestroyTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isRealtime(t.Prio) && t.State&StateReady != 0 {
		s.clearReadyLocked(t)
	}
	if !isRealtime(t.Prio) && t.Affinity >= 0 {
		q := s.pcpu[t.Affinity]
		for i, cur := range q.tasks {
			if cur == t {
				q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
				if q.running > i {
					q.running--
				} else if q.running == i {
					q.running = -1
				}
				break
			}
		}
	}
	s.pidTable[t.PID] = nil
}

// NextPerCPU advances cpu's round-robin queue and returns the next task to
// run there, or nil if the queue is empty.
func (s *Scheduler) NextPerCPU(cpu int) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.pcpu[cpu]
	if len(q.tasks) == 0 {
		return nil
	}
	q.running = (q.running + 1) % len(q.tasks)
	return q.tasks[q.running]
}

// ReadyBitmapSnapshot exposes (ready_grp, ready_tbl) for invariant tests
// (the realtime bitmap faithfulness property).
func (s *Scheduler) ReadyBitmapSnapshot() (grp uint8, tbl [rdyTblSize]uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rdyGrp, s.rdyTbl
}
