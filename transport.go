package periph

// Transport is the radio stack the controller drives. Events are delivered in
// the order the stack generated them, on the channel returned by Events.
type Transport interface {
	Init() error
	Events() <-chan Event

	AdvertiseStart(payload []byte) error
	AdvertiseStop() error

	// RequestSecurity asks the stack to raise the link to level. It returns
	// once the request is submitted; the outcome arrives as SecurityChanged.
	RequestSecurity(a Addr, level SecurityLevel) error

	// AbortPairing ends the pairing in progress with a, if any. Keys it
	// produced are dropped and no further pairing events are reported for it.
	AbortPairing(a Addr) error

	Close() error
}

// Persistence restores and retains bonding state.
type Persistence interface {
	// Load is called once at bring-up, before the first advertise.
	Load() error
	// Retain keeps the credentials of a completed bonded pairing.
	Retain(a Addr) error
}

// Display presents a passkey to the user. ShowPasskey must not block.
type Display interface {
	ShowPasskey(a Addr, passkey uint32)
}

// LogDisplay shows passkeys through a Logger.
type LogDisplay struct {
	Logger Logger
}

func (d LogDisplay) ShowPasskey(a Addr, passkey uint32) {
	l := d.Logger
	if l == nil {
		l = GetLogger()
	}
	l.Infof("Passkey for %s: %06d", a.MAC, passkey)
}

// NopPersistence keeps nothing.
type NopPersistence struct{}

func (NopPersistence) Load() error       { return nil }
func (NopPersistence) Retain(Addr) error { return nil }
