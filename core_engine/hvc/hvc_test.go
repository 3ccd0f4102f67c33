package hvc

import "testing"

func TestDispatchRoutesByServiceType(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Register(&Desc{Name: "mailbox", TypeStart: 2, TypeEnd: 2, Handler: func(id uint32, args []uint64) (uint64, error) {
		return 0x42, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	funcID := uint32(2) << 24
	ret, err := tbl.Dispatch(funcID, nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if ret != 0x42 {
		t.Fatalf("got %#x, want 0x42", ret)
	}
}

func TestDispatchUnregisteredTypeIsInvalidArg(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Dispatch(uint32(5)<<24, nil); err == nil {
		t.Fatalf("expected error for unregistered service type")
	}
}

func TestRegisterRangeOverwritesAndLastWriterWins(t *testing.T) {
	tbl := NewTable()
	tbl.Register(&Desc{Name: "first", TypeStart: 0, TypeEnd: 3, Handler: func(uint32, []uint64) (uint64, error) { return 1, nil }})
	tbl.Register(&Desc{Name: "second", TypeStart: 2, TypeEnd: 2, Handler: func(uint32, []uint64) (uint64, error) { return 2, nil }})

	ret, _ := tbl.Dispatch(uint32(1)<<24, nil)
	if ret != 1 {
		t.Fatalf("expected type 1 still routed to first desc, got %d", ret)
	}
	ret, _ = tbl.Dispatch(uint32(2)<<24, nil)
	if ret != 2 {
		t.Fatalf("expected type 2 overwritten by second desc, got %d", ret)
	}
}

func TestDispatcherSelectsHVCOrSMCTable(t *testing.T) {
	d := NewDispatcher()
	d.HVC.Register(&Desc{Name: "hvc", TypeStart: 0, TypeEnd: 0, Handler: func(uint32, []uint64) (uint64, error) { return 10, nil }})
	d.SMC.Register(&Desc{Name: "smc", TypeStart: 0, TypeEnd: 0, Handler: func(uint32, []uint64) (uint64, error) { return 20, nil }})

	hvcRet, _ := d.Dispatch(false, 0, nil)
	smcRet, _ := d.Dispatch(true, 0, nil)
	if hvcRet != 10 || smcRet != 20 {
		t.Fatalf("expected hvc=10 smc=20, got hvc=%d smc=%d", hvcRet, smcRet)
	}
}
