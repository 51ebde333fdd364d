package services

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

// Service is an application capability exposed to the host.
type Service interface {
	UUID() periph.UUID16
	Name() string
	Init() error
}

// Registry holds the services in registration order.
type Registry struct {
	mu       sync.Mutex
	services []Service
	logger   periph.Logger
}

func NewRegistry(ss ...Service) *Registry {
	r := &Registry{
		logger: periph.GetLogger().ChildLogger(map[string]interface{}{"component": "services"}),
	}
	for _, s := range ss {
		r.Register(s)
	}
	return r
}

// Register appends s. A UUID that is already registered is ignored.
func (r *Registry) Register(s Service) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, have := range r.services {
		if have.UUID() == s.UUID() {
			r.logger.Warnf("service %s (%s) already registered", s.Name(), s.UUID())
			return false
		}
	}
	r.services = append(r.services, s)
	return true
}

// InitAll initializes every service in order and stops at the first failure.
func (r *Registry) InitAll() error {
	r.mu.Lock()
	ss := append([]Service(nil), r.services...)
	r.mu.Unlock()

	for _, s := range ss {
		if err := s.Init(); err != nil {
			return errors.Wrapf(err, "init %s service", s.Name())
		}
		r.logger.Debugf("%s service (%s) ready", s.Name(), s.UUID())
	}
	return nil
}

// UUIDs lists the service identifiers in registration order.
func (r *Registry) UUIDs() []periph.UUID16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]periph.UUID16, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s.UUID())
	}
	return out
}
