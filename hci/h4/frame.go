package h4

import (
	"time"
)

const (
	aclPacket   = 0x02
	eventPacket = 0x04

	eventHeaderLength = 3
	aclHeaderLength   = 5

	frameTimeout = 500 * time.Millisecond
)

// frame reassembles H4 packets from a byte stream that may split or merge them.
type frame struct {
	b       []byte
	timeout time.Time
	out     chan<- []byte

	// dropped counts bytes discarded while hunting for a packet start
	dropped int
}

func newFrame(c chan<- []byte) *frame {
	return &frame{
		b:   make([]byte, 0, 256),
		out: c,
	}
}

// Assemble consumes b and emits every packet it completes.
func (f *frame) Assemble(b []byte) {
	if len(b) == 0 {
		return
	}

	// a partial packet that stalled is garbage
	if len(f.b) > 0 && time.Now().After(f.timeout) {
		f.dropped += len(f.b)
		f.reset()
	}
	if len(f.b) == 0 {
		f.timeout = time.Now().Add(frameTimeout)
	}
	f.b = append(f.b, b...)

	for {
		f.waitStart()
		if len(f.b) == 0 {
			return
		}

		tl, ok := f.length()
		if !ok || len(f.b) < tl {
			return
		}

		out := make([]byte, tl)
		copy(out, f.b[:tl])
		f.out <- out

		rem := f.b[tl:]
		f.reset()
		f.b = append(f.b, rem...)
		f.timeout = time.Now().Add(frameTimeout)
	}
}

func (f *frame) reset() {
	f.b = make([]byte, 0, 256)
	f.timeout = time.Time{}
}

// waitStart drops bytes up to the first packet type we can frame.
func (f *frame) waitStart() {
	for i, v := range f.b {
		if v == eventPacket || v == aclPacket {
			f.dropped += i
			f.b = f.b[i:]
			return
		}
	}
	f.dropped += len(f.b)
	f.b = f.b[:0]
}

// length is the full size of the packet at the head of the buffer, once the header is in.
func (f *frame) length() (int, bool) {
	switch f.b[0] {
	case eventPacket:
		if len(f.b) < eventHeaderLength {
			return 0, false
		}
		return int(f.b[2]) + eventHeaderLength, true

	case aclPacket:
		if len(f.b) < aclHeaderLength {
			return 0, false
		}
		l := int(f.b[3]) | (int(f.b[4]) << 8)
		return l + aclHeaderLength, true
	}
	return 0, false
}
