package gap

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

// ControllerOption is implemented by the controller to accept configuration options.
type ControllerOption interface {
	SetLogger(periph.Logger) error
	SetDisplay(periph.Display) error
	SetPersistence(periph.Persistence) error
	SetPairingTimeout(time.Duration) error
	SetPhaseHandler(func(from, to Phase)) error
	SetAdvertiser(Advertiser) error
	SetConnManager(ConnManager) error
	SetPairingController(PairingController) error
}

// An Option is a configuration function, which configures the controller.
type Option func(ControllerOption) error

// OptLogger sets the parent logger of every component.
func OptLogger(l periph.Logger) Option {
	return func(opt ControllerOption) error {
		return opt.SetLogger(l)
	}
}

// OptDisplay sets where passkeys are shown. Defaults to the log.
func OptDisplay(d periph.Display) Option {
	return func(opt ControllerOption) error {
		return opt.SetDisplay(d)
	}
}

// OptPersistence sets the store that retains bonded credentials.
func OptPersistence(p periph.Persistence) Option {
	return func(opt ControllerOption) error {
		return opt.SetPersistence(p)
	}
}

// OptPairingTimeout bounds the wait for passkey confirmation. Zero disables the timeout.
func OptPairingTimeout(d time.Duration) Option {
	return func(opt ControllerOption) error {
		return opt.SetPairingTimeout(d)
	}
}

// OptPhaseHandler observes advertising phase transitions. It is called with the controller locked.
func OptPhaseHandler(f func(from, to Phase)) Option {
	return func(opt ControllerOption) error {
		return opt.SetPhaseHandler(f)
	}
}

// OptAdvertiser replaces the advertising controller.
func OptAdvertiser(a Advertiser) Option {
	return func(opt ControllerOption) error {
		return opt.SetAdvertiser(a)
	}
}

// OptConnManager replaces the connection manager.
func OptConnManager(m ConnManager) Option {
	return func(opt ControllerOption) error {
		return opt.SetConnManager(m)
	}
}

// OptPairingController replaces the pairing controller. The pairing timeout does not apply to it.
func OptPairingController(p PairingController) Option {
	return func(opt ControllerOption) error {
		return opt.SetPairingController(p)
	}
}

func (c *Controller) SetLogger(l periph.Logger) error {
	if l == nil {
		return errors.New("nil logger")
	}
	c.logger = l
	return nil
}

func (c *Controller) SetDisplay(d periph.Display) error {
	c.display = d
	return nil
}

func (c *Controller) SetPersistence(p periph.Persistence) error {
	c.persistence = p
	return nil
}

func (c *Controller) SetPairingTimeout(d time.Duration) error {
	if d < 0 {
		return errors.Errorf("invalid pairing timeout %v", d)
	}
	c.pairingTimeout = d
	return nil
}

func (c *Controller) SetPhaseHandler(f func(from, to Phase)) error {
	c.onPhase = f
	return nil
}

func (c *Controller) SetAdvertiser(a Advertiser) error {
	c.adv = a
	return nil
}

func (c *Controller) SetConnManager(m ConnManager) error {
	c.conn = m
	return nil
}

func (c *Controller) SetPairingController(p PairingController) error {
	c.pairing = p
	return nil
}
