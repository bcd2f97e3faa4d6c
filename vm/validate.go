package vm

import "kos/status"

// ValidatePtrLen rejects a null pointer and walks every page in
// [p, p+length) checking the leaf PTE is Valid and carries every bit set in
// required. Used before every syscall dereferences a user buffer.
func (as *AddrSpace) ValidatePtrLen(p uintptr, length uintptr, required Flags) status.Status {
	if p == 0 {
		return status.INVAL
	}
	if length == 0 {
		return status.OK
	}
	m := as.mgr
	m.mu.Lock()
	defer m.mu.Unlock()

	end := p + length
	for va := PageAlign(p); va < end; va += 1 << 12 {
		e := m.walk(as.Tag.RootPPN, va)
		if e == nil || e.Flags&Valid == 0 || e.Flags&required != required {
			return status.ACCESS
		}
	}
	return status.OK
}

// ValidateStr rejects a null pointer and validates a nul-terminated user
// string page-by-page, scanning bytes until the terminator is found or an
// invalid page is hit.
func (as *AddrSpace) ValidateStr(p uintptr, required Flags) status.Status {
	if p == 0 {
		return status.INVAL
	}
	m := as.mgr

	va := p
	for {
		page := PageAlign(va)
		m.mu.Lock()
		e := m.walk(as.Tag.RootPPN, page)
		valid := e != nil && e.Flags&Valid != 0 && e.Flags&required == required
		var pp int
		if valid {
			pp = e.PPN
		}
		m.mu.Unlock()
		if !valid {
			return status.ACCESS
		}

		buf := m.alloc.Page(pp)
		for off := int(PageOffset(va)); off < len(buf); off++ {
			if buf[off] == 0 {
				return status.OK
			}
			va++
		}
	}
}
