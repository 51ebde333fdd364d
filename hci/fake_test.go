package hci

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type ltkReply struct {
	handle uint16
	key    []byte
}

// fakeController answers commands and lets a test play the host side of the link.
type fakeController struct {
	t *testing.T

	mu     sync.Mutex
	cmds   []int
	params map[int][]byte
	fail   map[int]uint8

	addr    [6]byte
	bufSize uint16

	tx     chan []byte
	acl    chan []byte
	ltks   chan ltkReply
	closed chan struct{}
	once   sync.Once
}

func newFakeController(t *testing.T) *fakeController {
	return &fakeController{
		t:       t,
		params:  map[int][]byte{},
		fail:    map[int]uint8{},
		addr:    [6]byte{0x03, 0x02, 0x01, 0xdc, 0x1b, 0x00},
		bufSize: 27,
		tx:      make(chan []byte, 1024),
		acl:     make(chan []byte, 1024),
		ltks:    make(chan ltkReply, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeController) Read(p []byte) (int, error) {
	select {
	case b := <-f.tx:
		return copy(p, b), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeController) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	b := append([]byte(nil), p...)
	switch b[0] {
	case pktTypeCommand:
		f.command(b)
	case pktTypeACLData:
		f.acl <- b
	}
	return len(p), nil
}

func (f *fakeController) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeController) failCommand(op int, status uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = status
}

func (f *fakeController) sentCommands() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.cmds...)
}

func (f *fakeController) lastParams(op int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[op]
}

func (f *fakeController) command(b []byte) {
	op := int(binary.LittleEndian.Uint16(b[1:]))
	p := b[4:]

	f.mu.Lock()
	f.cmds = append(f.cmds, op)
	f.params[op] = p
	status := f.fail[op]
	f.mu.Unlock()

	rp := []byte{status}
	if status == 0 {
		switch op {
		case opReadBDADDR:
			rp = append(rp, f.addr[:]...)
		case opLEReadBufferSize:
			rp = append(rp, byte(f.bufSize), byte(f.bufSize>>8), 8)
		case opLELongTermKeyRequestReply:
			f.ltks <- ltkReply{binary.LittleEndian.Uint16(p), append([]byte(nil), p[2:18]...)}
			rp = append(rp, p[0], p[1])
		case opLELongTermKeyRequestNegativeReply:
			f.ltks <- ltkReply{binary.LittleEndian.Uint16(p), nil}
			rp = append(rp, p[0], p[1])
		}
	}

	ev := []byte{1, byte(op), byte(op >> 8)}
	f.event(commandCompleteCode, append(ev, rp...)...)
}

func (f *fakeController) event(code byte, params ...byte) {
	b := []byte{pktTypeEvent, code, byte(len(params))}
	f.tx <- append(b, params...)
}

func (f *fakeController) connect(handle uint16, status uint8, peerType uint8, peer [6]byte) {
	p := []byte{leConnectionCompleteSubCode, status, byte(handle), byte(handle >> 8), roleSlave, peerType}
	p = append(p, peer[:]...)
	// interval, latency, timeout, clock accuracy
	p = append(p, 0x18, 0x00, 0x00, 0x00, 0x48, 0x00, 0x00)
	f.event(leMetaCode, p...)
}

func (f *fakeController) disconnect(handle uint16, reason uint8) {
	f.event(disconnectionCompleteCode, 0, byte(handle), byte(handle>>8), reason)
}

func (f *fakeController) encrypt(handle uint16, status uint8, enabled uint8) {
	f.event(encryptionChangeCode, status, byte(handle), byte(handle>>8), enabled)
}

func (f *fakeController) ltkRequest(handle uint16, rand uint64, ediv uint16) {
	p := []byte{leLongTermKeyRequestSubCode, byte(handle), byte(handle >> 8)}
	var r [8]byte
	binary.LittleEndian.PutUint64(r[:], rand)
	p = append(p, r[:]...)
	p = append(p, byte(ediv), byte(ediv>>8))
	f.event(leMetaCode, p...)
}

// sendSMP delivers an SMP PDU from the host, split in 27 byte ACL fragments.
func (f *fakeController) sendSMP(handle uint16, pdu []byte) {
	l2 := []byte{byte(len(pdu)), byte(len(pdu) >> 8), 0x06, 0x00}
	l2 = append(l2, pdu...)

	pb := uint16(pbfControllerToHostStart)
	for off := 0; off < len(l2); {
		n := min(27, len(l2)-off)
		b := []byte{pktTypeACLData}
		b = binary.LittleEndian.AppendUint16(b, handle|pb<<12)
		b = binary.LittleEndian.AppendUint16(b, uint16(n))
		f.tx <- append(b, l2[off:off+n]...)
		off += n
		pb = pbfContinuing
	}
}

// readSMP reassembles the next SMP PDU the stack sent on handle.
func (f *fakeController) readSMP(handle uint16) []byte {
	f.t.Helper()

	var l2 []byte
	for {
		select {
		case b := <-f.acl:
			hf := binary.LittleEndian.Uint16(b[1:])
			require.Equal(f.t, handle, hf&0x0fff)
			pb := hf >> 12
			if l2 == nil {
				require.Equal(f.t, uint16(pbfHostToControllerStart), pb)
			} else {
				require.Equal(f.t, uint16(pbfContinuing), pb)
			}
			require.True(f.t, len(b)-5 <= int(f.bufSize), "fragment exceeds acl size")
			l2 = append(l2, b[5:]...)

		case <-time.After(2 * time.Second):
			f.t.Fatal("no smp pdu")
		}

		if len(l2) >= 4 && len(l2) >= int(binary.LittleEndian.Uint16(l2))+4 {
			require.Equal(f.t, uint16(0x0006), binary.LittleEndian.Uint16(l2[2:]))
			return l2[4:]
		}
	}
}

func (f *fakeController) nextLTK() ltkReply {
	f.t.Helper()
	select {
	case r := <-f.ltks:
		return r
	case <-time.After(2 * time.Second):
		f.t.Fatal("no ltk reply")
	}
	return ltkReply{}
}
