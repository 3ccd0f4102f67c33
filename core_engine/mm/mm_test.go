package mm

import "testing"

func TestCreateDestroyMappingRoundTrip(t *testing.T) {
	m := &MMStruct{}
	ram, err := AllocGuestRAM(pageSize * 4)
	if err != nil {
		t.Fatalf("alloc guest ram: %v", err)
	}
	for i := range ram {
		ram[i] = byte(i)
	}

	if err := m.CreateMapping(0x1000, ram, FlagRead|FlagWrite); err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	if len(m.Regions()) != 1 {
		t.Fatalf("expected 1 region, got %d", len(m.Regions()))
	}

	got, err := m.Translate(0x1000 + pageSize)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got[0] != ram[pageSize] {
		t.Fatalf("translate returned wrong byte: got %d want %d", got[0], ram[pageSize])
	}

	if err := m.DestroyMapping(0x1000, uint64(len(ram))); err != nil {
		t.Fatalf("destroy mapping: %v", err)
	}
	if len(m.Regions()) != 0 {
		t.Fatalf("expected 0 regions after destroy, got %d", len(m.Regions()))
	}
	if _, err := m.Translate(0x1000); err == nil {
		t.Fatalf("expected translate to fail after destroy")
	}
}

func TestCreateMappingRejectsOverlap(t *testing.T) {
	m := &MMStruct{}
	ram, _ := AllocGuestRAM(pageSize * 2)
	if err := m.CreateMapping(0x2000, ram, FlagRead); err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	overlap, _ := AllocGuestRAM(pageSize)
	if err := m.CreateMapping(0x2000+pageSize, overlap, FlagRead); err == nil {
		t.Fatalf("expected overlap to be rejected")
	}
}

func TestBlockAllocatorWindowsDisjointAndBounded(t *testing.T) {
	a := NewBlockAllocator(0x40000000, pageSize*2, 0x50000000, pageSize*2)

	b1, err := a.ReserveNormalWindow(pageSize)
	if err != nil {
		t.Fatalf("reserve normal: %v", err)
	}
	b2, err := a.ReserveNormalWindow(pageSize)
	if err != nil {
		t.Fatalf("reserve normal: %v", err)
	}
	if b1 == b2 {
		t.Fatalf("expected disjoint windows, got same base %#x", b1)
	}
	if _, err := a.ReserveNormalWindow(pageSize); err == nil {
		t.Fatalf("expected exhaustion error")
	}

	io, err := a.ReserveIOWindow(pageSize)
	if err != nil {
		t.Fatalf("reserve io: %v", err)
	}
	if io < 0x50000000 {
		t.Fatalf("io window base out of range: %#x", io)
	}
}

func TestVMMapSharesBytesWithoutCopy(t *testing.T) {
	a := NewBlockAllocator(0x40000000, pageSize*4, 0x50000000, pageSize*4)
	src := &MMStruct{}
	dst := &MMStruct{}

	ram, _ := AllocGuestRAM(pageSize)
	ram[0] = 0x42
	if err := src.CreateMapping(0x1000, ram, FlagRead|FlagWrite); err != nil {
		t.Fatalf("create mapping: %v", err)
	}

	base, err := VMMap(a, dst, src, 0x1000, pageSize, false)
	if err != nil {
		t.Fatalf("vm_mmap: %v", err)
	}

	got, err := dst.Translate(base)
	if err != nil {
		t.Fatalf("translate in dst: %v", err)
	}
	if got[0] != 0x42 {
		t.Fatalf("expected shared byte 0x42, got %#x", got[0])
	}

	ram[0] = 0x99
	if got[0] != 0x99 {
		t.Fatalf("expected vm_mmap to share backing memory, dst saw %#x", got[0])
	}
}
