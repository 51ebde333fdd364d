package periph

import "fmt"

// Event is a transport notification. The set of events is closed: only the
// types declared in this file implement it.
type Event interface {
	Address() Addr
	event()
}

// Connected reports a link establishment attempt. Err is the controller status, 0 on success.
type Connected struct {
	Addr Addr
	Err  uint8
}

// Disconnected reports link loss with the HCI reason code.
type Disconnected struct {
	Addr   Addr
	Reason uint8
}

// SecurityChanged reports the level the link is now encrypted at.
type SecurityChanged struct {
	Addr  Addr
	Level SecurityLevel
}

// PasskeyDisplay asks for a passkey to be shown to the user.
type PasskeyDisplay struct {
	Addr    Addr
	Passkey uint32
}

// PairingCancelled reports that the pairing procedure was aborted.
type PairingCancelled struct {
	Addr Addr
}

// PairingComplete reports the end of a successful pairing procedure.
type PairingComplete struct {
	Addr   Addr
	Bonded bool
}

func (e Connected) Address() Addr        { return e.Addr }
func (e Disconnected) Address() Addr     { return e.Addr }
func (e SecurityChanged) Address() Addr  { return e.Addr }
func (e PasskeyDisplay) Address() Addr   { return e.Addr }
func (e PairingCancelled) Address() Addr { return e.Addr }
func (e PairingComplete) Address() Addr  { return e.Addr }

func (Connected) event()        {}
func (Disconnected) event()     {}
func (SecurityChanged) event()  {}
func (PasskeyDisplay) event()   {}
func (PairingCancelled) event() {}
func (PairingComplete) event()  {}

func (e Connected) String() string {
	return fmt.Sprintf("connected %s err 0x%02x", e.Addr, e.Err)
}

func (e Disconnected) String() string {
	return fmt.Sprintf("disconnected %s reason 0x%02x", e.Addr, e.Reason)
}

func (e SecurityChanged) String() string {
	return fmt.Sprintf("security changed %s level %s", e.Addr, e.Level)
}

// String never includes the passkey.
func (e PasskeyDisplay) String() string {
	return fmt.Sprintf("passkey display %s", e.Addr)
}

func (e PairingCancelled) String() string {
	return fmt.Sprintf("pairing cancelled %s", e.Addr)
}

func (e PairingComplete) String() string {
	return fmt.Sprintf("pairing complete %s bonded %v", e.Addr, e.Bonded)
}
