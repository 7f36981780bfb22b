package network

// Assembler rebuilds frames from the datagram stream produced by ChunkSender.
// Datagrams are appended to a buffer until a lone delimiter arrives; the
// buffer is then emitted as one frame and cleared. Loss or reordering is not
// detected; a damaged frame simply fails to decode downstream.
//
// A final chunk that happens to be exactly one delimiter byte is
// indistinguishable from a delimiter and ends the frame early.
type Assembler struct {
	buf     []byte
	maxSize int
	skip    bool
	frames  uint64
	dropped uint64
}

// NewAssembler creates an assembler that discards any frame growing beyond
// maxSize bytes. Zero means no limit.
func NewAssembler(maxSize int) *Assembler {
	return &Assembler{maxSize: maxSize}
}

// IsDelimiter reports whether datagram is a frame delimiter.
func IsDelimiter(datagram []byte) bool {
	return len(datagram) == 1 && datagram[0] == Delimiter
}

// Push adds one datagram. When it completes a frame, the frame is returned
// with ok set. The returned slice is owned by the caller.
func (a *Assembler) Push(datagram []byte) (frame []byte, ok bool) {
	if IsDelimiter(datagram) {
		a.skip = false
		return a.take()
	}
	if a.skip {
		return nil, false
	}
	if a.maxSize > 0 && len(a.buf)+len(datagram) > a.maxSize {
		// drop the rest of this frame up to the next delimiter
		a.buf = a.buf[:0]
		a.skip = true
		a.dropped++
		return nil, false
	}
	a.buf = append(a.buf, datagram...)
	return nil, false
}

// Flush returns whatever is buffered as a frame, as if a delimiter arrived.
func (a *Assembler) Flush() (frame []byte, ok bool) {
	a.skip = false
	return a.take()
}

func (a *Assembler) take() ([]byte, bool) {
	if len(a.buf) == 0 {
		return nil, false
	}
	frame := make([]byte, len(a.buf))
	copy(frame, a.buf)
	a.buf = a.buf[:0]
	a.frames++
	return frame, true
}

// Pending returns the number of buffered bytes.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Frames returns how many frames were emitted.
func (a *Assembler) Frames() uint64 {
	return a.frames
}

// Dropped returns how many oversized frames were discarded.
func (a *Assembler) Dropped() uint64 {
	return a.dropped
}
