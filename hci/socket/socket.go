//go:build linux

// Package socket opens an HCI user channel, giving the process exclusive raw
// access to a local controller.
package socket

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"golang.org/x/sys/unix"
)

func ioW(t, nr, size uintptr) uintptr {
	return (1 << 30) | (t << 8) | nr | (size << 16)
}

func ioctl(fd, op, arg uintptr) error {
	if _, _, ep := unix.Syscall(unix.SYS_IOCTL, fd, op, arg); ep != 0 {
		return ep
	}
	return nil
}

const (
	ioctlSize      = 4
	typHCI         = 72 // 'H'
	readTimeout    = 1000
	openRetry      = time.Second
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)
)

var hciDownDevice = ioW(typHCI, 202, ioctlSize) // HCIDEVDOWN

// Socket implements a HCI User Channel as ReadWriteCloser.
type Socket struct {
	fd     int
	logger periph.Logger
	rmu    sync.Mutex
	wmu    sync.Mutex
	done   chan struct{}
	cmu    sync.Mutex
}

// Open binds the user channel of hciN, retrying for up to wait while the
// device is busy (bluetoothd may still hold it at boot).
func Open(id int, wait time.Duration) (*Socket, error) {
	to := time.Now().Add(wait)
	for {
		s, err := open(id)
		if err == nil {
			return s, nil
		}
		if time.Now().After(to) {
			return nil, errors.Wrapf(err, "hci%d", id)
		}
		periph.GetLogger().Debugf("hci%d: %v, retrying", id, err)
		<-time.After(openRetry)
	}
}

func open(id int) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket")
	}

	// HCI User Channel requires exclusive access to the device.
	// The device has to be down at the time of binding.
	if err := ioctl(uintptr(fd), hciDownDevice, uintptr(id)); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't down device")
	}

	sa := unix.SockaddrHCI{Dev: uint16(id), Channel: unix.HCI_CHANNEL_USER}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't bind socket to hci user channel")
	}

	// poll for 20ms to see if any data becomes available, then clear it
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unixPollDataIn}}
	unix.Poll(pfds, 20)
	evts := pfds[0].Revents

	switch {
	case evts&unixPollErrors != 0:
		unix.Close(fd)
		return nil, io.EOF

	case evts&unixPollDataIn != 0:
		b := make([]byte, 2048)
		unix.Read(fd, b)
	}

	return &Socket{
		fd:     fd,
		logger: periph.GetLogger().ChildLogger(map[string]interface{}{"component": "socket", "dev": id}),
		done:   make(chan struct{}),
	}, nil
}

// Read returns one packet, or 0 and no error when the read timed out.
func (s *Socket) Read(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	var err error
	n := 0
	s.rmu.Lock()
	defer s.rmu.Unlock()
	// dont need to add unixPollErrors, they are always returned
	pfds := []unix.PollFd{{Fd: int32(s.fd), Events: unixPollDataIn}}
	unix.Poll(pfds, readTimeout)
	evts := pfds[0].Revents

	switch {
	case evts&unixPollErrors != 0:
		s.logger.Errorf("poll events 0x%04x", evts)
		return 0, io.EOF

	case evts&unixPollDataIn != 0:
		n, err = unix.Read(s.fd, p)

	default:
		return 0, nil
	}

	// check if we are still open since the read takes a while
	if !s.isOpen() {
		return 0, io.EOF
	}
	return n, errors.Wrap(err, "can't read hci socket")
}

func (s *Socket) Write(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := unix.Write(s.fd, p)
	return n, errors.Wrap(err, "can't write hci socket")
}

func (s *Socket) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()

	select {
	case <-s.done:
		return nil

	default:
		close(s.done)
		s.logger.Debug("closing")
		s.rmu.Lock()
		err := unix.Close(s.fd)
		s.rmu.Unlock()

		return errors.Wrap(err, "can't close hci socket")
	}
}

func (s *Socket) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
