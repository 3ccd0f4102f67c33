package timer

import "testing"

func TestAddKeepsSortedOrder(t *testing.T) {
	p := &PerCPU{}
	p.Add(&Timer{Expires: 30, Function: func(uint64) {}})
	p.Add(&Timer{Expires: 10, Function: func(uint64) {}})
	p.Add(&Timer{Expires: 20, Function: func(uint64) {}})

	if !p.Sorted() {
		t.Fatalf("expected sorted wheel")
	}
	next, ok := p.NextExpiry()
	if !ok || next != 10 {
		t.Fatalf("expected next expiry 10, got %d ok=%v", next, ok)
	}
}

func TestAddDelNoOp(t *testing.T) {
	p := &PerCPU{}
	tm := &Timer{Expires: 5, Function: func(uint64) {}}
	p.Add(tm)
	if p.Len() != 1 {
		t.Fatalf("expected 1 pending timer")
	}
	if !p.Del(tm) {
		t.Fatalf("expected del to report removal")
	}
	if p.Len() != 0 {
		t.Fatalf("expected 0 pending timers after del")
	}
}

func TestExpireDueFiresInOrderAndOnlyOnce(t *testing.T) {
	p := &PerCPU{}
	var fired []uint64
	for _, exp := range []uint64{30, 10, 20} {
		e := exp
		p.Add(&Timer{Expires: e, Data: e, Function: func(d uint64) { fired = append(fired, d) }})
	}
	p.ExpireDue(25)
	if len(fired) != 2 || fired[0] != 10 || fired[1] != 20 {
		t.Fatalf("unexpected fire order: %v", fired)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 remaining timer, got %d", p.Len())
	}
	p.ExpireDue(30)
	if len(fired) != 3 || fired[2] != 30 {
		t.Fatalf("unexpected fire order after second pass: %v", fired)
	}
}

func TestDelRequestDuringCallbackSuppressesRearm(t *testing.T) {
	p := &PerCPU{}
	var selfTimer *Timer
	calls := 0
	selfTimer = &Timer{Expires: 10, Function: func(uint64) {
		calls++
		p.Del(selfTimer)
	}}
	p.Add(selfTimer)
	p.ExpireDue(10)
	if calls != 1 {
		t.Fatalf("expected callback to run exactly once, got %d", calls)
	}
	if p.Len() != 0 {
		t.Fatalf("expected wheel empty after self-delete, got %d", p.Len())
	}
}

func TestModMovesExpiryAndKeepsSorted(t *testing.T) {
	p := &PerCPU{}
	a := &Timer{Expires: 5, Function: func(uint64) {}}
	b := &Timer{Expires: 15, Function: func(uint64) {}}
	p.Add(a)
	p.Add(b)
	p.Mod(a, 20)
	if !p.Sorted() {
		t.Fatalf("expected sorted wheel after mod")
	}
	next, _ := p.NextExpiry()
	if next != 15 {
		t.Fatalf("expected b (15) to be next after moving a to 20, got %d", next)
	}
}
