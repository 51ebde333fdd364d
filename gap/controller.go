package gap

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

// Controller owns the connection, pairing and advertising state and
// dispatches transport events to the handlers that mutate it.
type Controller struct {
	mu sync.Mutex
	st State

	transport periph.Transport
	adv       Advertiser
	conn      ConnManager
	pairing   PairingController

	logger         periph.Logger
	display        periph.Display
	persistence    periph.Persistence
	pairingTimeout time.Duration
	onPhase        func(from, to Phase)
}

// NewController wires the default handlers around t. uuids are the
// registered services advertised in the capability payload.
func NewController(t periph.Transport, uuids []periph.UUID16, opts ...Option) (*Controller, error) {
	c := &Controller{
		transport:      t,
		pairingTimeout: DefaultPairingTimeout,
	}

	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, errors.Wrap(err, "controller option")
		}
	}

	if c.logger == nil {
		c.logger = periph.GetLogger()
	}

	if c.adv == nil {
		a, err := NewAdvertiser(t, uuids, c.logger, c.onPhase)
		if err != nil {
			return nil, err
		}
		c.adv = a
	}
	if c.conn == nil {
		c.conn = NewConnManager(t, c.adv, c.logger)
	}
	if c.pairing == nil {
		c.pairing = NewPairingController(c.display, c.persistence, c.pairingTimeout, c.expireSession, c.logger)
	}

	return c, nil
}

// Handle dispatches one event. Anomalous events return an AnomalousEvent
// error and leave the state untouched.
func (c *Controller) Handle(ev periph.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case periph.Connected:
		return c.conn.Connected(&c.st, e.Addr, e.Err)
	case periph.Disconnected:
		return c.conn.Disconnected(&c.st, e.Addr, e.Reason)
	case periph.SecurityChanged:
		return c.conn.SecurityChanged(&c.st, e.Addr, e.Level)
	case periph.PasskeyDisplay:
		return c.pairing.PasskeyDisplay(&c.st, e.Addr, e.Passkey)
	case periph.PairingCancelled:
		return c.pairing.PairingCancelled(&c.st, e.Addr)
	case periph.PairingComplete:
		return c.pairing.PairingComplete(&c.st, e.Addr, e.Bonded)
	default:
		return periph.Anomaly("unexpected event %T", ev)
	}
}

// Run handles events until the channel closes or ctx is done.
func (c *Controller) Run(ctx context.Context, events <-chan periph.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.logger.Debugf("event: %v", ev)
			if err := c.Handle(ev); err != nil {
				if periph.IsKind(err, periph.AnomalousEvent) {
					c.logger.Warn(err)
				} else {
					c.logger.Error(err)
				}
			}
		}
	}
}

// StartAdvertising starts advertising unless it is already active.
func (c *Controller) StartAdvertising() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adv.Start(&c.st)
}

// StopAdvertising stops advertising.
func (c *Controller) StopAdvertising() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adv.Stop(&c.st)
}

func (c *Controller) Payload() []byte {
	return c.adv.Payload()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.snapshot()
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Phase
}

// LastDisconnectReason returns the reason of the most recent disconnect, if any.
func (c *Controller) LastDisconnectReason() (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.LastDisconnectReason, c.st.Disconnects > 0
}

func (c *Controller) expireSession(a periph.Addr, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !expireSession(&c.st, a, id, c.logger) {
		return
	}
	if err := c.transport.AbortPairing(a); err != nil {
		c.logger.Warnf("abort pairing with %s: %v", a, err)
	}
}
