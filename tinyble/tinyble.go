// Package tinyble runs the peripheral on the host's own Bluetooth stack
// (BlueZ, CoreBluetooth or WinRT) through tinygo.org/x/bluetooth.
//
// The OS stack owns pairing, so RequestSecurity and AbortPairing are not
// supported and no security events are reported.
package tinyble

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/adv"
	"tinygo.org/x/bluetooth"
)

var ErrSecurityUnsupported = errors.New("security requests are handled by the host stack")

// Adapter abstracts the tinygo adapter for testing.
type Adapter interface {
	Enable() error
	// SetConnectHandler registers cb for link changes, mac in display order.
	SetConnectHandler(cb func(mac string, connected bool))
	Advertise(opts bluetooth.AdvertisementOptions) error
	StopAdvertising() error
}

// Transport implements periph.Transport on an Adapter.
type Transport struct {
	adapter Adapter
	name    string
	queue   *periph.EventQueue
	logger  periph.Logger

	mu   sync.Mutex
	peer periph.Addr
}

// New returns a transport advertising under name.
func New(a Adapter, name string) *Transport {
	return &Transport{
		adapter: a,
		name:    name,
		queue:   periph.NewEventQueue(),
		logger:  periph.GetLogger().ChildLogger(map[string]interface{}{"component": "tinyble"}),
	}
}

// NewDefault uses the system's default adapter.
func NewDefault(name string) *Transport {
	return New(&adapter{a: bluetooth.DefaultAdapter}, name)
}

func (t *Transport) Init() error {
	if err := t.adapter.Enable(); err != nil {
		return errors.Wrap(err, "enable adapter")
	}
	t.adapter.SetConnectHandler(t.onConnect)
	return nil
}

func (t *Transport) onConnect(mac string, connected bool) {
	// the adapter does not report the address type on every platform
	a := periph.NewAddr(mac, periph.AddrPublic)

	t.mu.Lock()
	defer t.mu.Unlock()

	if connected {
		t.logger.Infof("connected %s", a.MAC)
		t.peer = a
		t.queue.Push(periph.Connected{Addr: a})
		return
	}

	t.logger.Infof("disconnected %s", a.MAC)
	if t.peer == a {
		t.peer = periph.Addr{}
	}
	// reason codes are not exposed, report a remote user termination
	t.queue.Push(periph.Disconnected{Addr: a, Reason: 0x13})
}

func (t *Transport) Events() <-chan periph.Event {
	return t.queue.C()
}

// AdvertiseStart advertises the services listed in payload. The adapter
// builds its own AD structures, so only the UUID list is carried over.
func (t *Transport) AdvertiseStart(payload []byte) error {
	p, err := adv.Decode(payload)
	if err != nil {
		return errors.Wrap(err, "advertising data")
	}

	opts := bluetooth.AdvertisementOptions{LocalName: t.name}
	for _, u := range p.UUID16s() {
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, bluetooth.New16BitUUID(uint16(u)))
	}

	if err := t.adapter.Advertise(opts); err != nil {
		return errors.Wrap(err, "start advertising")
	}
	t.logger.Debugf("advertising %d services", len(opts.ServiceUUIDs))
	return nil
}

func (t *Transport) AdvertiseStop() error {
	return errors.Wrap(t.adapter.StopAdvertising(), "stop advertising")
}

func (t *Transport) RequestSecurity(a periph.Addr, level periph.SecurityLevel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer != a {
		return errors.Errorf("%s not connected", a)
	}
	return ErrSecurityUnsupported
}

// AbortPairing is not supported: the OS stack owns the pairing.
func (t *Transport) AbortPairing(a periph.Addr) error {
	return t.RequestSecurity(a, periph.SecurityNone)
}

func (t *Transport) Close() error {
	t.queue.Close()
	return nil
}

// adapter binds Adapter to a tinygo adapter.
type adapter struct {
	a   *bluetooth.Adapter
	adv *bluetooth.Advertisement
}

func (d *adapter) Enable() error {
	return d.a.Enable()
}

func (d *adapter) SetConnectHandler(cb func(mac string, connected bool)) {
	d.a.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		cb(device.Address.String(), connected)
	})
}

func (d *adapter) Advertise(opts bluetooth.AdvertisementOptions) error {
	if d.adv == nil {
		d.adv = d.a.DefaultAdvertisement()
	}
	if err := d.adv.Configure(opts); err != nil {
		return err
	}
	return d.adv.Start()
}

func (d *adapter) StopAdvertising() error {
	if d.adv == nil {
		return nil
	}
	return d.adv.Stop()
}
