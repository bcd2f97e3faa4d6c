package vm

// FaultOutcome is the result of handling a user-mode page fault.
type FaultOutcome int

const (
	// FaultFatal means the caller should terminate the faulting process.
	FaultFatal FaultOutcome = iota
	// FaultHandled means the faulting instruction should be restarted.
	FaultHandled
)

// HandleFault implements the lazy-allocation policy for a load/store fault
// at virtual address va in as: addresses outside the user range, or a
// fault on an already-valid PTE (a genuine permission violation), are not
// handled; anything else lazily allocates and maps a zeroed page with
// U|R|W and reports the instruction can be restarted.
func (as *AddrSpace) HandleFault(va uintptr) FaultOutcome {
	m := as.mgr
	if !m.UserRange.Contains(va) {
		return FaultFatal
	}
	page := PageAlign(va)

	m.mu.Lock()
	e := m.walk(as.Tag.RootPPN, page)
	if e != nil && e.Flags&Valid != 0 {
		m.mu.Unlock()
		return FaultFatal
	}
	m.mu.Unlock()

	pp := m.alloc.AllocPage()
	as.MapPage(page, pp, User|Read|Write)
	return FaultHandled
}
