package vm

import (
	"fmt"
	"sync"

	"kos/phys"
)

// table is one level of the page table tree: a full page's worth of PTEs.
// Its physical page number doubles as its identity in the Manager's table
// registry, the same way a real MMU treats a page-table page as both data
// and an addressable physical frame.
type table struct {
	entries [EntriesPerTable]PTE
}

// Tag is the opaque address-space identifier written to (and compared
// against) the MMU control register. Equal tags mean identical translation.
type Tag struct {
	Mode    int
	ASID    int
	RootPPN int
}

// AddrSpace is one page-table tree plus the tag that names it.
type AddrSpace struct {
	Tag Tag
	mgr *Manager
}

// Range describes a half-open virtual address interval, used for the user
// region and the identity-mapped global/MMIO region.
type Range struct {
	Low, High uintptr
}

func (r Range) Contains(va uintptr) bool { return va >= r.Low && va < r.High }

// Manager owns the physical allocator backing every page table in every
// address space it creates, plus the registry mapping a table's physical
// page number back to its in-memory representation.
type Manager struct {
	alloc *phys.Allocator

	mu     sync.Mutex
	tables map[int]*table
	nextASID int

	UserRange   Range
	GlobalRange Range

	active *AddrSpace
	main   *AddrSpace
}

// NewManager creates a Manager over alloc. userRange and globalRange carve
// the virtual address space into the region fork/clone deep-copies and the
// region that is shared (identity-mapped kernel/MMIO) and never freed by a
// space discard.
func NewManager(alloc *phys.Allocator, userRange, globalRange Range) *Manager {
	return &Manager{
		alloc:       alloc,
		tables:      map[int]*table{},
		UserRange:   userRange,
		GlobalRange: globalRange,
	}
}

func (m *Manager) newTable() (int, *table) {
	ppn := m.alloc.AllocPage()
	t := &table{}
	m.tables[ppn] = t
	return ppn, t
}

func (m *Manager) tableAt(ppn int) *table {
	t, ok := m.tables[ppn]
	if !ok {
		panic(fmt.Sprintf("vm: no table registered at ppn %d", ppn))
	}
	return t
}

// Init creates main_mspace, the distinguished address space pinned at boot,
// and makes it active.
func (m *Manager) Init() *AddrSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	ppn, _ := m.newTable()
	as := &AddrSpace{Tag: Tag{RootPPN: ppn, ASID: m.nextASID}, mgr: m}
	m.nextASID++
	m.main = as
	m.active = as
	return as
}

// Main returns main_mspace.
func (m *Manager) Main() *AddrSpace { return m.main }

// Active returns the currently installed address space.
func (m *Manager) Active() *AddrSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SwitchMspace installs as and returns the previously active space,
// invalidating any cached translations (a no-op in this simulation, since
// every walk re-reads the table registry).
func (m *Manager) SwitchMspace(as *AddrSpace) *AddrSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active
	m.active = as
	return prev
}

// walkAlloc walks from root down to the leaf slot for va, allocating any
// missing intermediate tables along the way, and returns a pointer to the
// leaf PTE.
func (m *Manager) walkAlloc(root int, va uintptr) *PTE {
	ppn := root
	for level := 0; level < Levels-1; level++ {
		t := m.tableAt(ppn)
		idx := VPN(va, level)
		e := &t.entries[idx]
		if e.Flags&Valid == 0 {
			childPPN, _ := m.newTable()
			*e = PTE{Flags: Valid, PPN: childPPN}
		}
		ppn = e.PPN
	}
	t := m.tableAt(ppn)
	return &t.entries[VPN(va, Levels-1)]
}

// walk walks from root down to the leaf slot for va without allocating;
// returns nil if any intermediate table is missing.
func (m *Manager) walk(root int, va uintptr) *PTE {
	ppn := root
	for level := 0; level < Levels-1; level++ {
		t := m.tableAt(ppn)
		e := &t.entries[VPN(va, level)]
		if e.Flags&Valid == 0 {
			return nil
		}
		ppn = e.PPN
	}
	t := m.tableAt(ppn)
	return &t.entries[VPN(va, Levels-1)]
}

// MapPage installs a single 4 KiB leaf PTE mapping va to physical page pp
// with the given R/W/X/U bits, allocating intermediate tables as needed.
// va must be page-aligned and well-formed.
func (as *AddrSpace) MapPage(va uintptr, pp int, rwxu Flags) {
	if va != PageAlign(va) {
		panic("vm: MapPage: va not page-aligned")
	}
	if !WellFormed(va) {
		panic("vm: MapPage: va not well-formed")
	}
	m := as.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.walkAlloc(as.Tag.RootPPN, va)
	*e = PTE{Flags: rwxu | Valid | Accessed | Dirty, PPN: pp}
}

// MapRange rounds size up to whole pages and maps them page-by-page,
// contiguous in both virtual and physical address.
func (as *AddrSpace) MapRange(va uintptr, size uintptr, pp int, rwxu Flags) {
	n := int(PageRoundUp(size) / phys.PageSize)
	for i := 0; i < n; i++ {
		as.MapPage(va+uintptr(i)*phys.PageSize, pp+i, rwxu)
	}
}

// AllocAndMapRange allocates a fresh zeroed physical page for each virtual
// page in [va, va+size) and maps it.
func (as *AddrSpace) AllocAndMapRange(va uintptr, size uintptr, rwxu Flags) {
	n := int(PageRoundUp(size) / phys.PageSize)
	m := as.mgr
	for i := 0; i < n; i++ {
		pp := m.alloc.AllocPage()
		as.MapPage(va+uintptr(i)*phys.PageSize, pp, rwxu)
	}
}

// SetRangeFlags updates the R/W/X/U bits on existing leaf PTEs within
// [va, va+size); entries that are invalid or Global are left untouched.
func (as *AddrSpace) SetRangeFlags(va uintptr, size uintptr, rwxu Flags) {
	n := int(PageRoundUp(size) / phys.PageSize)
	m := as.mgr
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		v := va + uintptr(i)*phys.PageSize
		e := m.walk(as.Tag.RootPPN, v)
		if e == nil || e.Flags&Valid == 0 || e.Flags&Global != 0 {
			continue
		}
		e.Flags = (e.Flags &^ (Read | Write | Exec | User)) | rwxu | Valid | Accessed | Dirty
	}
}

// UnmapAndFreeRange clears and frees every leaf-mapped, non-global page in
// [va, va+size).
func (as *AddrSpace) UnmapAndFreeRange(va uintptr, size uintptr) {
	n := int(PageRoundUp(size) / phys.PageSize)
	m := as.mgr
	m.mu.Lock()
	var freed []int
	for i := 0; i < n; i++ {
		v := va + uintptr(i)*phys.PageSize
		e := m.walk(as.Tag.RootPPN, v)
		if e == nil || e.Flags&Valid == 0 || e.Flags&Global != 0 {
			continue
		}
		freed = append(freed, e.PPN)
		*e = PTE{}
	}
	m.mu.Unlock()
	for _, pp := range freed {
		m.alloc.FreePage(pp)
	}
}

// forEachUserLeaf walks every leaf in the user range and invokes fn with
// (va, *PTE) for every valid, non-global entry. Must be called with m.mu
// held.
func (m *Manager) forEachUserLeaf(root int, fn func(va uintptr, e *PTE)) {
	low, high := m.UserRange.Low, m.UserRange.High
	for va := low; va < high; va += phys.PageSize {
		e := m.walk(root, va)
		if e == nil || e.Flags&Valid == 0 || e.Flags&Global != 0 {
			continue
		}
		fn(va, e)
	}
}

// CloneActiveMspace creates a new address space whose global entries are
// shallow-copied (shared) from the active space and whose valid, non-global
// user leaves are deep-copied: a fresh physical page is allocated, zeroed,
// and the original page's contents copied in, for true copy-on-clone (not
// copy-on-write) fork semantics.
func (m *Manager) CloneActiveMspace() *AddrSpace {
	m.mu.Lock()
	srcRoot := m.active.Tag.RootPPN
	dstPPN, _ := m.newTable()
	m.copyGlobals(srcRoot, dstPPN)
	m.nextASID++
	dst := &AddrSpace{Tag: Tag{RootPPN: dstPPN, ASID: m.nextASID - 1}, mgr: m}

	var leaves []struct {
		va uintptr
		e  PTE
	}
	m.forEachUserLeaf(srcRoot, func(va uintptr, e *PTE) {
		leaves = append(leaves, struct {
			va uintptr
			e  PTE
		}{va, *e})
	})
	m.mu.Unlock()

	for _, l := range leaves {
		newPP := m.alloc.AllocPage()
		copy(m.alloc.Page(newPP), m.alloc.Page(l.e.PPN))
		dst.MapPage(l.va, newPP, l.e.Flags&(Read|Write|Exec|User))
	}
	return dst
}

// copyGlobals shallow-copies every valid Global entry reachable from
// srcRoot into dstRoot's table tree, sharing the same leaf physical pages
// and intermediate tables are recreated (not shared) so later clones of
// dst don't disturb src's tree shape.
func (m *Manager) copyGlobals(srcRoot, dstRoot int) {
	low, high := m.GlobalRange.Low, m.GlobalRange.High
	for va := low; va < high; va += phys.PageSize {
		e := m.walk(srcRoot, va)
		if e == nil || e.Flags&Valid == 0 || e.Flags&Global == 0 {
			continue
		}
		dst := m.walkAlloc(dstRoot, va)
		*dst = *e
	}
}

// ResetActiveMspace unmaps and frees every non-global user page.
func (m *Manager) ResetActiveMspace() {
	as := m.Active()
	as.UnmapAndFreeRange(m.UserRange.Low, m.UserRange.High-m.UserRange.Low)
}

// DiscardActiveMspace resets the active space then switches to main_mspace.
func (m *Manager) DiscardActiveMspace() {
	m.ResetActiveMspace()
	m.SwitchMspace(m.main)
}
