package periph

import "fmt"

// UUID16 is an assigned 16-bit service identifier.
type UUID16 uint16

const (
	HIDService     UUID16 = 0x1812
	BatteryService UUID16 = 0x180F
)

// Bytes returns the little endian wire form.
func (u UUID16) Bytes() []byte {
	return []byte{byte(u), byte(u >> 8)}
}

func (u UUID16) String() string {
	return fmt.Sprintf("%04x", uint16(u))
}
