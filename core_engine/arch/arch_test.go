package arch

import "testing"

func TestRegistrySelectAndActive(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Active(); err == nil {
		t.Fatalf("expected no active platform before Select")
	}

	p := NewRaspberry3(nil)
	r.Register(p)
	if err := r.Select(p.Name); err != nil {
		t.Fatalf("select: %v", err)
	}

	got, err := r.Active()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got != p {
		t.Fatalf("active platform mismatch")
	}
}

func TestSelectUnknownPlatformFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Select("nonexistent"); err == nil {
		t.Fatalf("expected select of unknown platform to fail")
	}
}

func TestRaspberry3CPUOnWritesReleaseSlot(t *testing.T) {
	var gotCPU int
	var gotAddr uint64
	p := NewRaspberry3(func(cpu int, addr uint64) error {
		gotCPU = cpu
		gotAddr = addr
		return nil
	})

	if err := p.CPUOn(1, 0x80000, 0); err != nil {
		t.Fatalf("cpu on: %v", err)
	}
	if gotCPU != 1 {
		t.Fatalf("cpu = %d, want 1", gotCPU)
	}
	if gotAddr != bcm2836ReleaseAddr+8 {
		t.Fatalf("release addr = %#x, want %#x", gotAddr, bcm2836ReleaseAddr+8)
	}
}

func TestRaspberry3CPUOnFailsWithoutWriter(t *testing.T) {
	p := NewRaspberry3(nil)
	if err := p.CPUOn(0, 0, 0); err == nil {
		t.Fatalf("expected failure with no release-address writer")
	}
}

func TestMaskedHVMVIRQsCoversExpectedRange(t *testing.T) {
	irqs := Raspberry3MaskedHVMVIRQs()
	if len(irqs) != 13 {
		t.Fatalf("expected 13 masked irqs, got %d", len(irqs))
	}
	if irqs[0] != 40 || irqs[len(irqs)-1] != 52 {
		t.Fatalf("expected range 40..52, got %d..%d", irqs[0], irqs[len(irqs)-1])
	}
}
