package gap

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

var ErrAlreadyStarted = errors.New("bring-up already ran")

// Registry initializes the application services.
type Registry interface {
	InitAll() error
}

// AdvertisingStarter is the entry point bring-up uses to start advertising.
type AdvertisingStarter interface {
	StartAdvertising() error
}

// Sequencer brings the device up once: transport, services, bonds, advertising.
type Sequencer struct {
	transport   periph.Transport
	registry    Registry
	persistence periph.Persistence
	adv         AdvertisingStarter
	logger      periph.Logger

	mu      sync.Mutex
	started bool
}

func NewSequencer(t periph.Transport, r Registry, p periph.Persistence, a AdvertisingStarter, l periph.Logger) *Sequencer {
	if l == nil {
		l = periph.GetLogger()
	}
	if p == nil {
		p = periph.NopPersistence{}
	}
	return &Sequencer{
		transport:   t,
		registry:    r,
		persistence: p,
		adv:         a,
		logger:      l.ChildLogger(map[string]interface{}{"component": "bootstrap"}),
	}
}

// BringUp returns an error only for fatal failures, or when called a second time.
// Bond restore and advertising failures are logged and the device keeps running.
func (s *Sequencer) BringUp() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	if err := s.transport.Init(); err != nil {
		return periph.NewError(periph.TransportInitFailed, err)
	}
	s.logger.Info("Bluetooth initialized")

	if err := s.registry.InitAll(); err != nil {
		return periph.NewError(periph.ServiceRegistrationFailed, err)
	}

	if err := s.persistence.Load(); err != nil {
		s.logger.Error(periph.NewError(periph.PersistenceLoadFailed, err))
	}

	if err := s.adv.StartAdvertising(); err != nil {
		s.logger.Error(err)
	}

	return nil
}
