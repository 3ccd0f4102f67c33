package event

import (
	"context"
	"testing"
	"time"
)

func TestSemPostPendNoOp(t *testing.T) {
	s := NewSemaphore("s", 0)
	if err := s.Post(); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := s.Pend(context.Background(), false, 0); err != nil {
		t.Fatalf("pend: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("expected count 0 after post/pend round trip, got %d", s.Count())
	}
}

func TestSemPendBlocksUntilPost(t *testing.T) {
	s := NewSemaphore("s", 0)
	done := make(chan error, 1)
	go func() { done <- s.Pend(context.Background(), false, 0) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("expected pend to still be blocked")
	default:
	}

	if err := s.Post(); err != nil {
		t.Fatalf("post: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pend returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pend did not unblock after post")
	}
}

func TestSemPendTimesOut(t *testing.T) {
	s := NewSemaphore("s", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Pend(ctx, false, 0); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestRealtimeWaitersWakeInPriorityOrder(t *testing.T) {
	s := NewSemaphore("s", 0)
	order := make(chan uint8, 3)

	for _, p := range []uint8{20, 5, 10} {
		prio := p
		go func() {
			s.Pend(context.Background(), true, prio)
			order <- prio
		}()
	}
	time.Sleep(30 * time.Millisecond)

	want := []uint8{5, 10, 20}
	var got []uint8
	for range want {
		s.Post()
		got = append(got, <-order)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wake order = %v, want %v", got, want)
		}
	}
}

func TestMutexAcceptThenPostHandsOffOwnership(t *testing.T) {
	m := NewMutex("m")
	if err := m.Accept(1, 5); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if m.Owner() != 1 {
		t.Fatalf("expected owner 1, got %d", m.Owner())
	}

	waited := make(chan error, 1)
	go func() { waited <- m.Pend(context.Background(), 2, true, 7) }()
	time.Sleep(20 * time.Millisecond)

	if err := m.Post(1); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := <-waited; err != nil {
		t.Fatalf("pend: %v", err)
	}
	if m.Owner() != 2 {
		t.Fatalf("expected ownership transferred to pid 2, got %d", m.Owner())
	}
}

func TestMailboxPostBeforePendFillsSlot(t *testing.T) {
	mb := NewMailbox("mb", nil)
	if err := mb.Post("hello"); err != nil {
		t.Fatalf("post: %v", err)
	}
	got, err := mb.Pend(context.Background(), false, 0)
	if err != nil {
		t.Fatalf("pend: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %v, want hello", got)
	}
}

func TestFlagGroupWaitAllAndAny(t *testing.T) {
	f := NewFlagGroup("f", 0)

	doneAll := make(chan error, 1)
	go func() { doneAll <- f.Wait(context.Background(), 0b011, WaitAll, false, 0) }()
	time.Sleep(10 * time.Millisecond)

	f.Set(0b001)
	select {
	case <-doneAll:
		t.Fatalf("WaitAll should not be satisfied by only one bit")
	case <-time.After(20 * time.Millisecond):
	}

	f.Set(0b010)
	select {
	case err := <-doneAll:
		if err != nil {
			t.Fatalf("wait all: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitAll did not unblock once both bits set")
	}

	f2 := NewFlagGroup("f2", 0)
	doneAny := make(chan error, 1)
	go func() { doneAny <- f2.Wait(context.Background(), 0b100, WaitAny, false, 0) }()
	time.Sleep(10 * time.Millisecond)
	f2.Set(0b100)
	select {
	case err := <-doneAny:
		if err != nil {
			t.Fatalf("wait any: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitAny did not unblock")
	}
}

func TestAbortWakesAllWithAborted(t *testing.T) {
	mb := NewMailbox("mb", nil)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := mb.Pend(context.Background(), false, 0)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	mb.Delete()

	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			t.Fatalf("expected aborted error")
		}
	}
}
