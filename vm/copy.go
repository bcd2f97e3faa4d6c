package vm

// CopyOut copies src into as's address space starting at virtual address
// va, one page at a time. Callers must validate the destination range
// (ValidatePtrLen with Write|User) first: CopyOut checks neither
// permissions nor that the pages it touches are mapped.
func (as *AddrSpace) CopyOut(va uintptr, src []byte) {
	m := as.mgr
	for len(src) > 0 {
		page := PageAlign(va)
		off := int(PageOffset(va))
		m.mu.Lock()
		e := m.walk(as.Tag.RootPPN, page)
		pp := e.PPN
		m.mu.Unlock()

		buf := m.alloc.Page(pp)
		n := copy(buf[off:], src)
		src = src[n:]
		va += uintptr(n)
	}
}

// CopyIn is CopyOut's dual: it fills dst from as's address space starting
// at virtual address va.
func (as *AddrSpace) CopyIn(dst []byte, va uintptr) {
	m := as.mgr
	for len(dst) > 0 {
		page := PageAlign(va)
		off := int(PageOffset(va))
		m.mu.Lock()
		e := m.walk(as.Tag.RootPPN, page)
		pp := e.PPN
		m.mu.Unlock()

		buf := m.alloc.Page(pp)
		n := copy(dst, buf[off:])
		dst = dst[n:]
		va += uintptr(n)
	}
}

// ReadCString reads a nul-terminated string starting at va. Callers should
// call ValidateStr first; this just collects the bytes ValidateStr already
// confirmed are there.
func (as *AddrSpace) ReadCString(va uintptr) string {
	m := as.mgr
	var out []byte
	for {
		page := PageAlign(va)
		m.mu.Lock()
		e := m.walk(as.Tag.RootPPN, page)
		pp := e.PPN
		m.mu.Unlock()

		buf := m.alloc.Page(pp)
		for off := int(PageOffset(va)); off < len(buf); off++ {
			if buf[off] == 0 {
				return string(out)
			}
			out = append(out, buf[off])
			va++
		}
	}
}
