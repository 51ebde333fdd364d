package h4

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(c chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-c:
			out = append(out, b)
		default:
			return out
		}
	}
}

var (
	cmdComplete = []byte{0x04, 0x0e, 0x04, 0x01, 0x03, 0x0c, 0x00}
	aclSMP      = []byte{0x02, 0x40, 0x20, 0x06, 0x00, 0x02, 0x00, 0x06, 0x00, 0x0b, 0x0d}
)

func TestFrameSplit(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)

	f.Assemble(cmdComplete[:2])
	assert.Empty(t, collect(c))
	f.Assemble(cmdComplete[2:5])
	assert.Empty(t, collect(c))
	f.Assemble(cmdComplete[5:])
	assert.Equal(t, [][]byte{cmdComplete}, collect(c))
}

func TestFrameMerged(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)

	var b []byte
	b = append(b, cmdComplete...)
	b = append(b, aclSMP...)
	b = append(b, cmdComplete[:4]...)
	f.Assemble(b)
	assert.Equal(t, [][]byte{cmdComplete, aclSMP}, collect(c))

	f.Assemble(cmdComplete[4:])
	assert.Equal(t, [][]byte{cmdComplete}, collect(c))
}

func TestFrameSkipsNoise(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)

	f.Assemble(append([]byte{0x00, 0xff, 0x11}, aclSMP...))
	assert.Equal(t, [][]byte{aclSMP}, collect(c))
	assert.Equal(t, 3, f.dropped)
}

func TestFrameTimeout(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)

	f.Assemble(cmdComplete[:4])
	f.timeout = time.Now().Add(-time.Millisecond)
	f.Assemble(cmdComplete)
	assert.Equal(t, [][]byte{cmdComplete}, collect(c))
	assert.Equal(t, 4, f.dropped)
}

// pipePort is a serial port fed by the test.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu  sync.Mutex
	out bytes.Buffer
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *pipePort) Close() error { return p.r.Close() }

func TestH4ReadWrite(t *testing.T) {
	sp := newPipePort()
	h := New(sp)
	defer h.Close()

	go func() {
		sp.w.Write(cmdComplete[:3])
		sp.w.Write(append(cmdComplete[3:], aclSMP...))
	}()

	b := make([]byte, 64)
	n, err := h.Read(b)
	require.NoError(t, err)
	assert.Equal(t, cmdComplete, b[:n])

	n, err = h.Read(b)
	require.NoError(t, err)
	assert.Equal(t, aclSMP, b[:n])

	_, err = h.Write([]byte{0x01, 0x03, 0x0c, 0x00})
	require.NoError(t, err)
	sp.mu.Lock()
	assert.Equal(t, []byte{0x01, 0x03, 0x0c, 0x00}, sp.out.Bytes())
	sp.mu.Unlock()

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err = h.Read(b)
	assert.Equal(t, io.EOF, err)
}
