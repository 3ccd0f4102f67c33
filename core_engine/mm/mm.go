// Package mm implements the host-side half of stage-2 guest memory
// management: anonymous-mmap-backed guest RAM blocks, a region list per VM,
// and the two HVM linear-allocator windows (normal memory + IO) that let
// VM0 see other VMs' guest memory.
//
// Grounded on os/virt/vmm.c's mem_block/mm_struct bookkeeping (alloc_pgd,
// vm_alloc_pages, create_guest_mapping, vm_mmap_init, create_hvm_iomem_map)
// and on mmap'd guest memory as used elsewhere in this module; real stage-2
// page tables are abstracted away, so a VM's mapping set is tracked as a
// sorted list of disjoint regions rather than walked pgd/pmd/pte levels.
package mm

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"hypercore/core_engine/herr"
)

const pageSize = 4096

func pageAlign(n uint64) uint64 {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// Region is one guest-physical-address range backed by host memory,
// the Go analogue of a minos mem_block entry threaded onto mm_struct.head.
type Region struct {
	GPA   uint64
	Size  uint64
	Host  []byte // host-mapped backing store
	Flags uint32
}

const (
	FlagRead = 1 << iota
	FlagWrite
	FlagExec
	FlagIO
)

func (r *Region) end() uint64 { return r.GPA + r.Size }

// MMStruct is one VM's guest address space bookkeeping: the region list
// (mm_struct.block_list) plus the HVM window base this VM was granted so
// VM0 can map its memory in (mm_struct.hvm_mmap_base).
type MMStruct struct {
	mu          sync.Mutex
	regions     []*Region
	hvmBase     uint64
	hvmSize     uint64
	shmemBase   uint64
	guestIOBase uint64
}

// BlockAllocator owns the two HVM linear-allocator windows
// (hvm_normal_mmap_base/size, hvm_iomem_mmap_base/size in vmm.c) shared
// across every VM's mm_struct, plus the global guest-RAM block pool
// alloc_mem_block/release_mem_block draw from.
type BlockAllocator struct {
	mu sync.Mutex

	normalBase, normalNext, normalEnd uint64
	ioBase, ioNext, ioEnd             uint64

	blocksUsed, maxBlocks int
}

// MemBlockSize is the fixed guest-RAM allocation granularity alloc_vm_memory
// carves a VM's region[0] into (MEM_BLOCK_SIZE).
const MemBlockSize = 2 * 1024 * 1024

// defaultMaxMemBlocks bounds the block pool the way a real free_mem_block
// list is bounded by physical RAM; chosen generously (8GiB at MemBlockSize)
// since nothing here models actual host RAM capacity.
const defaultMaxMemBlocks = 4096

// NewBlockAllocator creates an allocator whose two windows span
// [normalBase, normalBase+normalSize) and [ioBase, ioBase+ioSize), mirroring
// HVM_NORMAL_MMAP_START/SIZE and HVM_IO_MMAP_START/SIZE.
func NewBlockAllocator(normalBase, normalSize, ioBase, ioSize uint64) *BlockAllocator {
	return &BlockAllocator{
		normalBase: normalBase, normalNext: normalBase, normalEnd: normalBase + normalSize,
		ioBase: ioBase, ioNext: ioBase, ioEnd: ioBase + ioSize,
		maxBlocks: defaultMaxMemBlocks,
	}
}

// SetMaxMemBlocks overrides the guest-RAM block pool cap (for tests that
// want to exercise alloc_vm_memory's exhaustion/rollback path without
// actually mmapping gigabytes of backing memory).
func (a *BlockAllocator) SetMaxMemBlocks(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxBlocks = n
}

// allocBlock hands out one MemBlockSize host-backed block, the equivalent of
// alloc_mem_block(GFB_VM) returning NULL once the pool is exhausted.
func (a *BlockAllocator) allocBlock() ([]byte, error) {
	a.mu.Lock()
	if a.blocksUsed >= a.maxBlocks {
		a.mu.Unlock()
		return nil, herr.New(herr.NoMemory, "guest memory block pool exhausted (%d blocks)", a.maxBlocks)
	}
	a.blocksUsed++
	a.mu.Unlock()

	b, err := AllocGuestRAM(MemBlockSize)
	if err != nil {
		a.mu.Lock()
		a.blocksUsed--
		a.mu.Unlock()
		return nil, err
	}
	return b, nil
}

// freeBlock returns a block to the pool, the equivalent of release_mem_block.
func (a *BlockAllocator) freeBlock(b []byte) {
	FreeGuestRAM(b)
	a.mu.Lock()
	a.blocksUsed--
	a.mu.Unlock()
}

// ReserveNormalWindow grants size bytes of the normal HVM window to a VM,
// the Go equivalent of vm_mmap_init.
func (a *BlockAllocator) ReserveNormalWindow(size uint64) (uint64, error) {
	size = pageAlign(size)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.normalEnd-a.normalNext < size {
		return 0, herr.New(herr.NoMemory, "hvm normal window exhausted: need %d have %d", size, a.normalEnd-a.normalNext)
	}
	base := a.normalNext
	a.normalNext += size
	return base, nil
}

// ReserveIOWindow grants size bytes of the IO HVM window, the equivalent of
// create_hvm_iomem_map's base-allocation half (the guest mapping itself is
// created by the caller via CreateMapping on VM0's MMStruct).
func (a *BlockAllocator) ReserveIOWindow(size uint64) (uint64, error) {
	size = pageAlign(size)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ioEnd-a.ioNext < size {
		return 0, herr.New(herr.NoMemory, "hvm io window exhausted: need %d have %d", size, a.ioEnd-a.ioNext)
	}
	base := a.ioNext
	a.ioNext += size
	return base, nil
}

// AllocGuestRAM mmaps an anonymous, zero-filled block to back size bytes of
// guest RAM, the Go rendition of vm_alloc_pages' __get_free_pages call.
func AllocGuestRAM(size uint64) ([]byte, error) {
	size = pageAlign(size)
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, herr.New(herr.NoMemory, "mmap guest ram: %v", err)
	}
	return b, nil
}

// FreeGuestRAM releases a block returned by AllocGuestRAM.
func FreeGuestRAM(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return herr.New(herr.IoError, "munmap guest ram: %v", err)
	}
	return nil
}

// CreateMapping inserts a guest-physical-address region backed by host, the
// analogue of create_guest_mapping -> create_mem_mapping. It rejects any
// overlap with an existing region, mirroring the kernel's refusal to
// silently replace a live stage-2 entry.
func (m *MMStruct) CreateMapping(gpa uint64, host []byte, flags uint32) error {
	size := uint64(len(host))
	end := pageAlign(gpa + size)
	gpa = gpa &^ (pageSize - 1)
	size = end - gpa

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].GPA >= gpa })
	if idx < len(m.regions) && m.regions[idx].GPA < end {
		return herr.New(herr.InvalidArg, "guest mapping %#x-%#x overlaps existing region at %#x", gpa, end, m.regions[idx].GPA)
	}
	if idx > 0 && m.regions[idx-1].end() > gpa {
		return herr.New(herr.InvalidArg, "guest mapping %#x-%#x overlaps existing region at %#x", gpa, end, m.regions[idx-1].GPA)
	}

	r := &Region{GPA: gpa, Size: size, Host: host, Flags: flags}
	m.regions = append(m.regions, nil)
	copy(m.regions[idx+1:], m.regions[idx:])
	m.regions[idx] = r
	return nil
}

// DestroyMapping removes the region whose page-aligned bounds are exactly
// [gpa, gpa+size), the analogue of destroy_guest_mapping ->
// destroy_mem_mapping. A range that only partly covers a region, or spans
// several regions, removes nothing and returns NotFound.
func (m *MMStruct) DestroyMapping(gpa, size uint64) error {
	end := pageAlign(gpa + size)
	gpa = gpa &^ (pageSize - 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.regions {
		if r.GPA == gpa && r.end() == end {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return nil
		}
	}
	return herr.New(herr.NotFound, "no guest mapping at %#x-%#x", gpa, end)
}

// AllocVMMemory carves size bytes starting at base (region[0]'s vir_base)
// into MemBlockSize blocks drawn from a's pool and maps each one into m in
// order, the Go rendition of alloc_vm_memory. Unlike the C original's two
// separate passes (take every block, then map every block, with either
// pass's failure sent through release_vm_memory to free the whole list),
// this allocates and maps one block at a time and rolls back only the
// blocks it actually took — functionally identical for a VM that has not
// yet had any other mapping established at base, since no partial state
// can outlive a failed call.
func (a *BlockAllocator) AllocVMMemory(m *MMStruct, base, size uint64) error {
	base = base &^ (MemBlockSize - 1)
	count := int(size / MemBlockSize)

	type taken struct {
		gpa    uint64
		block  []byte
		mapped bool
	}
	var blocks []taken

	rollback := func() {
		for _, t := range blocks {
			if t.mapped {
				m.DestroyMapping(t.gpa, MemBlockSize)
			}
			a.freeBlock(t.block)
		}
	}

	gpa := base
	for i := 0; i < count; i++ {
		b, err := a.allocBlock()
		if err != nil {
			rollback()
			return err
		}
		blocks = append(blocks, taken{gpa: gpa, block: b})
		if err := m.CreateMapping(gpa, b, FlagRead|FlagWrite); err != nil {
			rollback()
			return err
		}
		blocks[len(blocks)-1].mapped = true
		gpa += MemBlockSize
	}
	return nil
}

// Translate finds the region covering gpa and returns the host-side slice
// offset to match, or NotFound. This stands in for a stage-2 page-table
// walk: real pgd/pmd/pte structures are out of scope here.
func (m *MMStruct) Translate(gpa uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].end() > gpa })
	if idx == len(m.regions) || m.regions[idx].GPA > gpa {
		return nil, herr.New(herr.NotFound, "no guest mapping covers %#x", gpa)
	}
	r := m.regions[idx]
	off := gpa - r.GPA
	return r.Host[off:], nil
}

// Regions returns a snapshot of the current region list, ordered by GPA.
func (m *MMStruct) Regions() []Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Region, len(m.regions))
	for i, r := range m.regions {
		out[i] = *r
	}
	return out
}

// VMMap copies a source VM's guest memory region into a destination VM's
// address space at a newly reserved HVM window offset, the Go analogue of
// vm_mmap: VM0 (or another privileged VM) gaining host-mapped visibility
// into another VM's memory without copying the underlying bytes.
func VMMap(alloc *BlockAllocator, dst *MMStruct, src *MMStruct, srcGPA, size uint64, io bool) (uint64, error) {
	hostSlice, err := src.Translate(srcGPA)
	if err != nil {
		return 0, err
	}
	size = pageAlign(size)
	if uint64(len(hostSlice)) < size {
		return 0, herr.New(herr.InvalidArg, "vm_mmap: requested %d bytes but only %d available at %#x", size, len(hostSlice), srcGPA)
	}

	var base uint64
	if io {
		base, err = alloc.ReserveIOWindow(size)
	} else {
		base, err = alloc.ReserveNormalWindow(size)
	}
	if err != nil {
		return 0, err
	}

	flags := uint32(FlagRead | FlagWrite)
	if io {
		flags |= FlagIO
	}
	if err := dst.CreateMapping(base, hostSlice[:size], flags); err != nil {
		return 0, err
	}
	return base, nil
}

func (r Region) String() string {
	return fmt.Sprintf("region{gpa:%#x size:%#x flags:%#x}", r.GPA, r.Size, r.Flags)
}
