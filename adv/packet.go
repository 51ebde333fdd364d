package adv

import (
	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

// Packet is an advertising payload, either crafted from fields or decoded from bytes.
// Refer to Supplement to Bluetooth Core Specification | CSSv6, Part A.
type Packet struct {
	b []byte
	m map[byte][]byte
	u []periph.UUID16
}

// Bytes returns a copy of the packet bytes.
func (p *Packet) Bytes() []byte {
	out := make([]byte, len(p.b))
	copy(out, p.b)
	return out
}

// Len returns the length of the packet.
func (p *Packet) Len() int {
	return len(p.b)
}

// NewPacket returns a new advertising Packet.
func NewPacket(fields ...Field) (*Packet, error) {
	p := &Packet{b: make([]byte, 0, MaxEIRPacketLength)}
	for _, f := range fields {
		if err := f(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Field is an advertising field which can be appended to a packet.
type Field func(p *Packet) error

// Append appends a field to the packet. It returns ErrNotFit if the field
// doesn't fit into the packet, and leaves the packet intact.
func (p *Packet) Append(f Field) error {
	return f(p)
}

func (p *Packet) append(typ byte, b []byte) error {
	if p.Len()+1+1+len(b) > MaxEIRPacketLength {
		return ErrNotFit
	}
	p.b = append(p.b, byte(len(b)+1))
	p.b = append(p.b, typ)
	p.b = append(p.b, b...)
	return nil
}

// Flags is a flags field.
func Flags(f byte) Field {
	return func(p *Packet) error {
		return p.append(flags, []byte{f})
	}
}

// CompleteName is a complete local name.
func CompleteName(n string) Field {
	return func(p *Packet) error {
		if len(n) == 0 {
			return errors.Wrap(ErrInvalid, "empty name")
		}
		return p.append(completeName, []byte(n))
	}
}

// AllUUID16 is the complete list of 16-bit service UUIDs, in the given order.
// An empty list adds no field.
func AllUUID16(uu ...periph.UUID16) Field {
	return func(p *Packet) error {
		if len(uu) == 0 {
			return nil
		}
		b := make([]byte, 0, 2*len(uu))
		for _, u := range uu {
			b = append(b, u.Bytes()...)
		}
		return p.append(allUUID16, b)
	}
}

// CapabilityPayload is the fixed peripheral advertisement: the discoverability
// flags followed by the complete list of the registered services.
func CapabilityPayload(uu []periph.UUID16) ([]byte, error) {
	p, err := NewPacket(Flags(Capability), AllUUID16(uu...))
	if err != nil {
		return nil, errors.Wrap(err, "capability payload")
	}
	return p.Bytes(), nil
}

// Flags returns the flags of the packet.
func (p *Packet) Flags() (f byte, present bool) {
	if b, ok := p.m[flags]; ok {
		return b[0], true
	}
	return 0, false
}

// LocalName returns the complete or short name if it presents.
func (p *Packet) LocalName() string {
	if b, ok := p.m[completeName]; ok {
		return string(b)
	}
	if b, ok := p.m[shortName]; ok {
		return string(b)
	}
	return ""
}

// UUID16s returns the 16-bit service UUIDs in the order they appear in the packet.
func (p *Packet) UUID16s() []periph.UUID16 {
	out := make([]periph.UUID16, len(p.u))
	copy(out, p.u)
	return out
}
