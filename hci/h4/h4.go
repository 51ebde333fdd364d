// Package h4 frames HCI packets over a UART speaking the H4 protocol.
package h4

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

const (
	rxQueueSize = 64
	readTimeout = time.Second
)

// DefaultOptions is 8N1 with hardware flow control, the usual HCI UART setup.
func DefaultOptions(path string, baud uint) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:          path,
		BaudRate:          baud,
		DataBits:          8,
		StopBits:          1,
		ParityMode:        serial.PARITY_NONE,
		RTSCTSFlowControl: true,
	}
}

// H4 is an io.ReadWriteCloser yielding one HCI packet per Read.
type H4 struct {
	sp     io.ReadWriteCloser
	logger periph.Logger

	rmu sync.Mutex
	wmu sync.Mutex

	rxQueue chan []byte

	done chan struct{}
	cmu  sync.Mutex
}

// Open opens the UART described by opts and flushes what the controller
// had queued before we attached.
func Open(opts serial.OpenOptions) (*H4, error) {
	// force these
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", opts.PortName)
	}

	h := New(sp)
	h.logger = h.logger.ChildLogger(map[string]interface{}{"port": opts.PortName})
	h.logger.Infof("opened at %d baud", opts.BaudRate)
	return h, nil
}

// New frames packets read from an already open byte stream.
func New(sp io.ReadWriteCloser) *H4 {
	h := &H4{
		sp:      sp,
		logger:  periph.GetLogger().ChildLogger(map[string]interface{}{"component": "h4"}),
		rxQueue: make(chan []byte, rxQueueSize),
		done:    make(chan struct{}),
	}
	go h.rxLoop()
	return h
}

// Read returns the next packet. It returns 0 and no error when nothing
// arrived within the read timeout.
func (h *H4) Read(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.rmu.Lock()
	defer h.rmu.Unlock()

	select {
	case t, ok := <-h.rxQueue:
		if !ok {
			return 0, io.EOF
		}
		if len(p) < len(t) {
			return 0, fmt.Errorf("buffer too small: %d < %d", len(p), len(t))
		}
		return copy(p, t), nil

	case <-h.done:
		return 0, io.EOF

	case <-time.After(readTimeout):
		return 0, nil
	}
}

func (h *H4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.sp.Write(p)
	return n, errors.Wrap(err, "can't write h4")
}

func (h *H4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil

	default:
		close(h.done)
		h.logger.Debug("closing")
		return errors.Wrap(h.sp.Close(), "can't close h4")
	}
}

func (h *H4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *H4) rxLoop() {
	defer close(h.rxQueue)

	fr := newFrame(h.rxQueue)
	tmp := make([]byte, 512)
	for {
		n, err := h.sp.Read(tmp)
		if !h.isOpen() {
			return
		}

		// a termios read timeout surfaces as io.EOF
		if err != nil && err != io.EOF {
			h.logger.Debugf("read: %v", err)
		}
		if n == 0 {
			continue
		}

		d := fr.dropped
		fr.Assemble(tmp[:n])
		if fr.dropped != d {
			h.logger.Debugf("dropped %d bytes of noise", fr.dropped-d)
		}
	}
}
