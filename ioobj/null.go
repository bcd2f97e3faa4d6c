package ioobj

import "kos/status"

// Null creates the null endpoint: read always returns 0 bytes, write
// always discards its buffer and reports 0 bytes written, exactly the
// "bit bucket" semantics of /dev/null.
func Null() *Endpoint {
	return newEndpoint(Dispatch{
		Read: func(buf []byte) (int, status.Status) {
			return 0, status.OK
		},
		Write: func(buf []byte) (int, status.Status) {
			return 0, status.OK
		},
	})
}
