package asynctcpclient

// Payload is one byte range of a scatter write. A payload is either borrowed
// (the engine copies it at construction, so the caller may reuse the slice)
// or owned (the engine uses the slice directly and the caller must not touch
// it again). Owned payloads may carry a release function that runs exactly
// once at connection teardown, e.g. to return the slice to a pool.
type Payload struct {
	data    []byte
	release func([]byte)
}

// BorrowedBytes creates a payload from a slice the caller keeps ownership of.
// The bytes are copied immediately.
//
// Parameters:
//   - b: The bytes to write; the caller may modify or reuse b after this call
//
// Returns:
//   - A Payload holding a private copy of b
func BorrowedBytes(b []byte) Payload {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Payload{data: cp}
}

// OwnedBytes creates a zero-copy payload. Ownership of b transfers to the
// engine; the caller must not read or modify b afterwards.
//
// Parameters:
//   - b: The bytes to write
//
// Returns:
//   - A Payload referencing b directly
func OwnedBytes(b []byte) Payload {
	return Payload{data: b}
}

// OwnedBytesRelease creates a zero-copy payload with a release function. The
// release function is invoked exactly once with b when the connection is
// finalized, regardless of whether the write completed.
//
// Parameters:
//   - b: The bytes to write
//   - release: Function invoked with b at connection teardown
//
// Returns:
//   - A Payload referencing b directly
func OwnedBytesRelease(b []byte, release func([]byte)) Payload {
	return Payload{data: b, release: release}
}

// Len returns the length of the payload in bytes.
//
// Returns:
//   - The number of bytes the payload contributes to the write
func (p Payload) Len() int {
	return len(p.data)
}
