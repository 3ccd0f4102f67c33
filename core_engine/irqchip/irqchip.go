// Package irqchip abstracts the interrupt controller behind the interface
// the rest of the kernel drives: mask/unmask, end-of-interrupt, SGI send,
// and IRQ domain classification (SGI/PPI/SPI/LPI). A real deployment backs
// Controller with MMIO reads/writes into a GICv2/GICv3 distributor and CPU
// interface; this module ships gicsim, a software model sufficient to boot
// and test the CORE without real EL2 hardware.
//
// Grounded on os/drivers/irq-chips/gicv2.c's operation set (gicv2_eoi_irq,
// gicv2_mask_irq, gicv2_send_sgi, gic_xlate_irq domain split) and an
// InterruptRaiser-style callback pattern for signaling a device's line.
package irqchip

// Domain classifies an IRQ number per the GICv2 numbering convention.
type Domain int

const (
	DomainSGI Domain = iota // 0-15: software generated, inter-processor
	DomainPPI                // 16-31: private peripheral, per-CPU
	DomainSPI                // 32-1019: shared peripheral
	DomainLPI                // >=8192: locality-specific (GICv3+), reserved here
)

func ClassifyIRQ(irq uint32) Domain {
	switch {
	case irq < 16:
		return DomainSGI
	case irq < 32:
		return DomainPPI
	case irq < 8192:
		return DomainSPI
	default:
		return DomainLPI
	}
}

// Controller is the interface the scheduler, virq router and trap dispatcher
// drive instead of touching GIC registers directly.
type Controller interface {
	// Mask/Unmask gate delivery of irq without losing its pending state.
	Mask(irq uint32)
	Unmask(irq uint32)

	// EOI signals completion of irq's handling on the calling CPU.
	EOI(irq uint32)

	// SendSGI raises a software-generated interrupt on the CPUs in target,
	// the Controller equivalent of gicv2_send_sgi.
	SendSGI(sgi uint32, target uint64)

	// SetTarget binds a DomainSPI irq to a physical CPU (GICD_ITARGETSRn).
	SetTarget(irq uint32, cpu int)

	// SetPriority sets the 8-bit priority of irq (GICD_IPRIORITYRn).
	SetPriority(irq uint32, prio uint8)

	// Pending reports whether irq is latched pending at the distributor.
	Pending(irq uint32) bool
}
