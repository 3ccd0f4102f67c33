package devices

import (
	"bytes"
	"testing"
)

type fakeRaiser struct{ raised []uint32 }

func (f *fakeRaiser) RaiseIRQ(irq uint32) { f.raised = append(f.raised, irq) }

func TestUARTWriteDataForwardsToOutput(t *testing.T) {
	var buf bytes.Buffer
	u := NewUART(0x9000000, 33, &buf, nil)

	if err := u.Write(0x9000000+uartOffData, 1, 'h'); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "h" {
		t.Fatalf("output = %q, want %q", buf.String(), "h")
	}
}

func TestUARTRaisesIRQWhenTHREEnabled(t *testing.T) {
	var buf bytes.Buffer
	raiser := &fakeRaiser{}
	u := NewUART(0x9000000, 33, &buf, raiser)

	u.Write(0x9000000+uartOffIER, 1, uint64(ierTHREEnable))
	u.Write(0x9000000+uartOffData, 1, 'x')

	if len(raiser.raised) != 1 || raiser.raised[0] != 33 {
		t.Fatalf("expected irq 33 raised once, got %v", raiser.raised)
	}
}

func TestUARTDLABSwitchesDataRegisterToDivisorLatch(t *testing.T) {
	u := NewUART(0x9000000, 33, nil, nil)
	u.Write(0x9000000+uartOffLCR, 1, uint64(lcrDLAB))
	u.Write(0x9000000+uartOffData, 1, 0x42)

	got, err := u.Read(0x9000000+uartOffData, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0x42 {
		t.Fatalf("dll = %#x, want 0x42", got)
	}
}

func TestUARTCoversOnlyItsWindow(t *testing.T) {
	u := NewUART(0x9000000, 33, nil, nil)
	if !u.Covers(0x9000000, 1) {
		t.Fatalf("expected base offset covered")
	}
	if u.Covers(0x9000000+uartSize, 1) {
		t.Fatalf("expected address past window to be uncovered")
	}
}
