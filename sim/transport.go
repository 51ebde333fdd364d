// Package sim is an in-memory radio stack with a scripted host on the other end.
// Pairing runs the real LE Secure Connections passkey entry math, so bonds it
// creates are usable by the other transports' bond store.
package sim

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/adv"
	"github.com/rigado/periph/bond"
	"github.com/rigado/periph/smp"
)

var (
	ErrNotAdvertising = errors.New("not advertising")
	ErrNotConnected   = errors.New("not connected")
	ErrNoPairing      = errors.New("no pairing in progress")
)

// BondStore is the subset of the bond store the stack needs.
type BondStore interface {
	Find(periph.Addr) (bond.Info, error)
	Save(periph.Addr, bond.Info) error
}

// Faults makes transport commands fail.
type Faults struct {
	Init            error
	AdvertiseStart  error
	RequestSecurity error
}

// Peer is a simulated host.
type Peer struct {
	Addr periph.Addr
	// Bond requests bonding during pairing.
	Bond bool

	keys *smp.Keys
}

// NewPeer creates a host with a fresh P-256 key pair.
func NewPeer(a periph.Addr, bond bool) (*Peer, error) {
	k, err := smp.GenerateKeys()
	if err != nil {
		return nil, err
	}
	return &Peer{Addr: a, Bond: bond, keys: k}, nil
}

type link struct {
	id      string
	peer    *Peer
	level   periph.SecurityLevel
	pairing bool
	passkey uint32
	logger  periph.Logger
}

// Transport implements periph.Transport.
type Transport struct {
	mu     sync.Mutex
	queue  *periph.EventQueue
	store  BondStore
	faults Faults

	local       periph.Addr
	keys        *smp.Keys
	initialized bool
	advertising bool
	payload     []byte
	conn        *link

	passkeys chan uint32
	logger   periph.Logger
}

// New returns a stack. store may be nil, in which case every connection pairs.
func New(store BondStore, l periph.Logger) *Transport {
	if l == nil {
		l = periph.GetLogger()
	}
	return &Transport{
		queue:    periph.NewEventQueue(),
		store:    store,
		passkeys: make(chan uint32, 1),
		logger:   l.ChildLogger(map[string]interface{}{"component": "sim"}),
	}
}

func (t *Transport) SetFaults(f Faults) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = f
}

// Init generates the local identity.
func (t *Transport) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.faults.Init != nil {
		return t.faults.Init
	}

	k, err := smp.GenerateKeys()
	if err != nil {
		return err
	}

	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return errors.Wrap(err, "local address")
	}
	//static random: two msb set
	b[5] |= 0xc0

	t.keys = k
	t.local = periph.AddrFromBytes(b, periph.AddrRandom)
	t.initialized = true
	t.logger.Infof("local address %s", t.local)
	return nil
}

func (t *Transport) Events() <-chan periph.Event {
	return t.queue.C()
}

func (t *Transport) Close() error {
	t.queue.Close()
	return nil
}

// LocalAddr is the identity chosen by Init.
func (t *Transport) LocalAddr() periph.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *Transport) AdvertiseStart(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return errors.New("stack not initialized")
	}
	if t.faults.AdvertiseStart != nil {
		return t.faults.AdvertiseStart
	}
	if t.conn != nil {
		return errors.New("connected")
	}

	p, err := adv.Decode(payload)
	if err != nil {
		return errors.Wrap(err, "advertising data")
	}

	t.payload = append([]byte(nil), payload...)
	t.advertising = true
	t.logger.Debugf("advertising services %v", p.UUID16s())
	return nil
}

func (t *Transport) AdvertiseStop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.advertising {
		return ErrNotAdvertising
	}
	t.advertising = false
	return nil
}

// Advertising reports whether a host could currently see the device.
func (t *Transport) Advertising() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertising
}

// AdvertisedServices decodes the service list a scanning host would see.
func (t *Transport) AdvertisedServices() ([]periph.UUID16, error) {
	t.mu.Lock()
	b := t.payload
	t.mu.Unlock()

	p, err := adv.Decode(b)
	if err != nil {
		return nil, err
	}
	return p.UUID16s(), nil
}

func (t *Transport) RequestSecurity(a periph.Addr, level periph.SecurityLevel) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.faults.RequestSecurity != nil {
		return t.faults.RequestSecurity
	}
	if t.conn == nil || t.conn.peer.Addr != a {
		return errors.Wrapf(ErrNotConnected, "%s", a)
	}
	if t.conn.level >= level {
		return nil
	}

	if t.store != nil {
		if bi, err := t.store.Find(a); err == nil {
			// encrypt with the stored key, no pairing needed
			lvl := periph.SecurityMedium
			if bi.Authenticated {
				lvl = periph.SecurityHigh
			}
			t.conn.level = lvl
			t.conn.logger.Infof("encrypted with stored key at %v", lvl)
			t.queue.Push(periph.SecurityChanged{Addr: a, Level: lvl})
			return nil
		}
	}

	if t.conn.pairing {
		return nil
	}

	passkey, err := smp.GeneratePasskey()
	if err != nil {
		return err
	}
	t.conn.pairing = true
	t.conn.passkey = passkey
	t.queue.Push(periph.PasskeyDisplay{Addr: a, Passkey: passkey})

	//keep only the latest passkey for WaitPasskey
	select {
	case <-t.passkeys:
	default:
	}
	t.passkeys <- passkey
	return nil
}

// Connect establishes a link from p. The device must be advertising.
func (t *Transport) Connect(p *Peer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return errors.New("already connected")
	}
	if !t.advertising {
		return ErrNotAdvertising
	}

	// the link layer stops advertising on connect
	t.advertising = false
	id := uuid.NewString()
	t.conn = &link{
		id:     id,
		peer:   p,
		logger: t.logger.ChildLogger(map[string]interface{}{"link": id, "addr": p.Addr.MAC}),
	}
	t.queue.Push(periph.Connected{Addr: p.Addr})
	return nil
}

// FailConnect reports a link establishment failure with the given status.
func (t *Transport) FailConnect(p *Peer, status uint8) {
	t.queue.Push(periph.Connected{Addr: p.Addr, Err: status})
}

// Disconnect drops the link with the given reason.
func (t *Transport) Disconnect(reason uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}
	a := t.conn.peer.Addr
	t.conn = nil
	t.queue.Push(periph.Disconnected{Addr: a, Reason: reason})
	return nil
}

// CancelPairing aborts the pairing from the host side.
func (t *Transport) CancelPairing() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || !t.conn.pairing {
		return ErrNoPairing
	}
	t.conn.pairing = false
	t.queue.Push(periph.PairingCancelled{Addr: t.conn.peer.Addr})
	return nil
}

// AbortPairing fails the pairing in progress from the device side. The host
// entering the passkey afterwards gets ErrNoPairing.
func (t *Transport) AbortPairing(a periph.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.conn.peer.Addr != a {
		return errors.Wrapf(ErrNotConnected, "%s", a)
	}
	if t.conn.pairing {
		t.conn.pairing = false
		t.conn.passkey = 0
		t.conn.logger.Info("pairing aborted")
	}
	return nil
}

// WaitPasskey returns the next passkey shown on the device.
func (t *Transport) WaitPasskey(ctx context.Context) (uint32, error) {
	select {
	case p := <-t.passkeys:
		return p, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// EnterPasskey is the user typing passkey on the host. A wrong passkey fails
// the confirm exchange and cancels the pairing.
func (t *Transport) EnterPasskey(passkey uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.conn
	if c == nil || !c.pairing {
		return ErrNoPairing
	}
	c.pairing = false
	a := c.peer.Addr

	host := smp.Party{
		Keys:    c.peer.keys,
		Addr:    smp.AddrBytes(a.Bytes(), uint8(a.Type)),
		IOCap:   []byte{smp.IOCapKeyboardOnly, 0x00, authReq(c.peer.Bond)},
		Passkey: passkey,
	}
	dev := smp.Party{
		Keys:    t.keys,
		Addr:    smp.AddrBytes(t.local.Bytes(), uint8(t.local.Type)),
		IOCap:   []byte{smp.IOCapDisplayOnly, 0x00, authReq(true)},
		Passkey: c.passkey,
	}

	ltk, err := smp.PasskeyEntry(host, dev)
	if err != nil {
		c.logger.Warnf("pairing failed: %v", err)
		t.queue.Push(periph.PairingCancelled{Addr: a})
		return err
	}

	bonded := c.peer.Bond && t.store != nil
	if bonded {
		if err := t.store.Save(a, bond.Info{LongTermKey: ltk, Authenticated: true}); err != nil {
			c.logger.Errorf("save keys: %v", err)
			bonded = false
		}
	}

	c.level = periph.SecurityHigh
	t.queue.Push(periph.SecurityChanged{Addr: a, Level: periph.SecurityHigh})
	t.queue.Push(periph.PairingComplete{Addr: a, Bonded: bonded})
	return nil
}

func authReq(bonding bool) byte {
	r := byte(smp.AuthReqMITM | smp.AuthReqSC)
	if bonding {
		r |= smp.AuthReqBonding
	}
	return r
}
