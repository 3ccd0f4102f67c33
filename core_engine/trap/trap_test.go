package trap

import "testing"

func TestDispatchSelectsHandlerByECField(t *testing.T) {
	d := NewDispatcher()
	var got uint32
	d.Register(&Desc{EC: ECWFIWFE, Handler: func(vcpuID int, esr uint32) error {
		got = esr
		return nil
	}})

	esr := uint32(ECWFIWFE) << 26
	if _, err := d.Dispatch(0, esr); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != esr {
		t.Fatalf("handler received wrong esr: %#x", got)
	}
}

func TestDispatchUnregisteredECIsNotFound(t *testing.T) {
	d := NewDispatcher()
	esr := uint32(ECDataAbort) << 26
	if _, err := d.Dispatch(0, esr); err == nil {
		t.Fatalf("expected not-found for unregistered EC")
	}
}

func TestRegisterLastWriterWins(t *testing.T) {
	d := NewDispatcher()
	d.Register(&Desc{EC: ECHVC, Handler: func(int, uint32) error { return nil }, RetAddrAdjust: 4})
	d.Register(&Desc{EC: ECHVC, Handler: func(int, uint32) error { return nil }, RetAddrAdjust: 0})

	desc, err := d.Dispatch(0, uint32(ECHVC)<<26)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if desc.RetAddrAdjust != 0 {
		t.Fatalf("expected second registration to win, got adjust %d", desc.RetAddrAdjust)
	}
}

type fakeDev struct {
	base, size uint64
	mem        map[uint64]uint64
}

func (f *fakeDev) Covers(gpa uint64, size int) bool {
	return gpa >= f.base && gpa+uint64(size) <= f.base+f.size
}
func (f *fakeDev) Read(gpa uint64, size int) (uint64, error) { return f.mem[gpa], nil }
func (f *fakeDev) Write(gpa uint64, size int, val uint64) error {
	f.mem[gpa] = val
	return nil
}

func TestVDevRegistryEmulateReadWrite(t *testing.T) {
	r := NewVDevRegistry()
	dev := &fakeDev{base: 0x2000, size: 0x100, mem: map[uint64]uint64{}}
	r.Register(dev)

	if _, err := r.Emulate(0x2004, 4, true, 0xdead); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := r.Emulate(0x2004, 4, false, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xdead {
		t.Fatalf("got %#x, want 0xdead", got)
	}
}

func TestVDevRegistryEmulateMissReportsNotFound(t *testing.T) {
	r := NewVDevRegistry()
	if _, err := r.Emulate(0x9000, 4, false, 0); err == nil {
		t.Fatalf("expected not-found for unmapped address")
	}
}
