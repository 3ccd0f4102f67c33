// Package arch is the platform-hooks seam: the handful of board-specific
// operations the core calls out to instead of hardcoding (bringing up a
// secondary physical CPU, system reboot/shutdown, native-timer vIRQ
// numbers, and any HVM device-tree rewriting a board needs to boot a
// guest).
//
// Grounded on os/include/minos/platform.h's struct platform and
// os/platform/raspberry3/raspberry3.c's platform_raspberry3 instance
// (DEFINE_PLATFORM registration replaced here by explicit construction).
package arch

import "hypercore/core_engine/herr"

// CPUOnFunc brings up a secondary physical CPU at entry with the given
// argument, the Go analogue of platform.cpu_on (here: spin_table_cpu_on).
type CPUOnFunc func(cpu int, entry uint64, arg uint64) error

// Platform is one board's set of hooks (struct platform).
type Platform struct {
	Name string

	CPUOn           CPUOnFunc
	SystemReboot    func(mode int, cmd string)
	SystemShutdown  func()
	ParseMemInfo    func()

	// SetupHVM rewrites a guest's device tree before boot (setup_hvm,
	// CONFIG_VIRT-gated in the original); nil on platforms that don't
	// run virtualized guests at all.
	SetupHVM func(vcpuCount int, dtb []byte) ([]byte, error)

	// NativeVirtualTimerVIRQ/NativePhysicalTimerVIRQ are the board's real
	// GIC vIRQ numbers for a native VM's timer (as opposed to the fixed
	// 27/30 virq package uses for non-native VMs).
	NativeVirtualTimerVIRQ  uint32
	NativePhysicalTimerVIRQ uint32
}

// Registry holds the boards known at boot, selected by name (platform
// selection in the original is a linker-section scan matching the board
// compatible string; here it's an explicit map populated at init time).
type Registry struct {
	platforms map[string]*Platform
	active    *Platform
}

func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]*Platform)}
}

func (r *Registry) Register(p *Platform) {
	r.platforms[p.Name] = p
}

// Select activates a registered platform by name, matching the original's
// compatible-string board match against the DTB root node.
func (r *Registry) Select(name string) error {
	p, ok := r.platforms[name]
	if !ok {
		return herr.New(herr.NotFound, "arch: no platform registered for %q", name)
	}
	r.active = p
	return nil
}

func (r *Registry) Active() (*Platform, error) {
	if r.active == nil {
		return nil, herr.New(herr.NotFound, "arch: no platform selected")
	}
	return r.active, nil
}
