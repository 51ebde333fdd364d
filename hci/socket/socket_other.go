//go:build !linux

package socket

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// Socket is only available on linux.
type Socket struct {
	io.ReadWriteCloser
}

// Open fails on platforms without HCI user channels.
func Open(id int, wait time.Duration) (*Socket, error) {
	return nil, errors.Errorf("hci%d: hci user channel only available on linux", id)
}
