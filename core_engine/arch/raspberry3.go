package arch

import "hypercore/core_engine/herr"

// bcm2836ReleaseAddr is the spin-table release-address base the BCM2836
// boot protocol polls (BCM2836_RELEASE_ADDR), one uint64 slot per core.
const bcm2836ReleaseAddr = 0x4000008c

// NewRaspberry3 builds the raspberry3 board's platform hooks, the
// supplemented counterpart of platform_raspberry3: cpu_on via the
// spin-table protocol, and a stub reboot/shutdown (the original's bodies
// are themselves empty — CONFIG_VIRT's setup_hvm is the only hook with
// real logic). SetupHVM here returns the device tree unchanged and does no
// release-address redirect; the masked-vIRQ range setup_hvm reserves is
// exposed separately by Raspberry3MaskedHVMVIRQs.
func NewRaspberry3(writeReleaseAddr func(cpu int, addr uint64) error) *Platform {
	return &Platform{
		Name: "raspberrypi,3-model-b-plus",
		CPUOn: func(cpu int, entry uint64, arg uint64) error {
			if writeReleaseAddr == nil {
				return herr.New(herr.NotPermitted, "raspberry3: no release-address writer configured")
			}
			slot := bcm2836ReleaseAddr + uint64(cpu)*8
			return writeReleaseAddr(cpu, slot)
		},
		SystemReboot:   func(mode int, cmd string) {},
		SystemShutdown: func() {},
		ParseMemInfo:   func() {},
		// SetupHVM returns dtb unchanged and masks no vIRQs; the 40-52
		// range raspberry3_setup_hvm requests as internal use is listed by
		// Raspberry3MaskedHVMVIRQs.
		SetupHVM: func(vcpuCount int, dtb []byte) ([]byte, error) {
			return dtb, nil
		},
		NativeVirtualTimerVIRQ:  27,
		NativePhysicalTimerVIRQ: 30,
	}
}

// Raspberry3MaskedHVMVIRQs are the vIRQ lines raspberry3_setup_hvm reserves
// for internal platform use and requests with value 0 (unavailable) before
// a guest boots.
func Raspberry3MaskedHVMVIRQs() []uint32 {
	irqs := make([]uint32, 0, 13)
	for i := uint32(40); i <= 52; i++ {
		irqs = append(irqs, i)
	}
	return irqs
}
