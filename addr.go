package periph

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddrType is the LE address type of a peer.
type AddrType uint8

const (
	AddrPublic AddrType = 0x00
	AddrRandom AddrType = 0x01
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Addr identifies a remote peer. Addr values are comparable.
type Addr struct {
	MAC  string
	Type AddrType
}

// NewAddr creates an Addr from a colon separated MAC string
func NewAddr(s string, t AddrType) Addr {
	return Addr{MAC: strings.ToLower(s), Type: t}
}

// AddrFromBytes builds an Addr from the little endian 6 byte form used on the wire.
func AddrFromBytes(b [6]byte, t AddrType) Addr {
	parts := make([]string, 0, 6)
	for i := 5; i >= 0; i-- {
		parts = append(parts, hex.EncodeToString(b[i:i+1]))
	}
	return NewAddr(strings.Join(parts, ":"), t)
}

func (a Addr) String() string {
	return fmt.Sprintf("%s (%s)", a.MAC, a.Type)
}

// Bytes returns the address in display (big endian) order.
func (a Addr) Bytes() []byte {
	hexStr := strings.Replace(a.MAC, ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		GetLogger().Errorf("error decoding address %v: %v", a.MAC, err)
	}

	return out
}

// Key is the bond store key: 12 lower case hex digits.
func (a Addr) Key() string {
	return strings.Replace(a.MAC, ":", "", -1)
}

func (a Addr) IsZero() bool {
	return a.MAC == ""
}
