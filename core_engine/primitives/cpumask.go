package primitives

import "math/bits"

// MaxCPUs bounds the physical CPU count the kernel will schedule across.
// The original sources size this via CONFIG_NR_CPUS; 64 covers every
// realistic ARM64 Type-1 hypervisor target while keeping CPUMask a single
// machine word.
const MaxCPUs = 64

// AffinityAny and AffinityPerCPU are the two affinity sentinels a task can
// carry instead of a concrete physical CPU id (Task.affinity).
const (
	AffinityAny    = -1
	AffinityPerCPU = -2
)

// CPUMask is a bitmap of physical CPU ids, mirroring minos' cpumask_t.
type CPUMask uint64

func (m *CPUMask) Set(cpu int)   { *m |= CPUMask(1) << uint(cpu) }
func (m *CPUMask) Clear(cpu int) { *m &^= CPUMask(1) << uint(cpu) }
func (m CPUMask) Test(cpu int) bool {
	return m&(CPUMask(1)<<uint(cpu)) != 0
}
func (m CPUMask) Empty() bool { return m == 0 }
func (m CPUMask) Count() int  { return bits.OnesCount64(uint64(m)) }

// FirstSet returns the lowest-numbered set CPU id, or -1 if none are set.
func (m CPUMask) FirstSet() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(m))
}
