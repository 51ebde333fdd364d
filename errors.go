package periph

import "fmt"

// ErrorKind classifies controller failures.
type ErrorKind int

const (
	// TransportInitFailed is fatal: the device cannot run without its transport.
	TransportInitFailed ErrorKind = iota + 1
	// ServiceRegistrationFailed is fatal and aborts bring-up.
	ServiceRegistrationFailed
	// PersistenceLoadFailed leaves the device running unbonded.
	PersistenceLoadFailed
	// AdvertisingStartFailed leaves the device non-discoverable until the next start.
	AdvertisingStartFailed
	// SecurityUpgradeRequestFailed leaves the connection at its current level.
	SecurityUpgradeRequestFailed
	// AnomalousEvent is an event that does not match the current connection state.
	AnomalousEvent
)

func (k ErrorKind) String() string {
	switch k {
	case TransportInitFailed:
		return "transport init failed"
	case ServiceRegistrationFailed:
		return "service registration failed"
	case PersistenceLoadFailed:
		return "persistence load failed"
	case AdvertisingStartFailed:
		return "advertising start failed"
	case SecurityUpgradeRequestFailed:
		return "security upgrade request failed"
	case AnomalousEvent:
		return "anomalous event"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}

// Fatal reports whether the kind aborts bring-up.
func (k ErrorKind) Fatal() bool {
	return k == TransportInitFailed || k == ServiceRegistrationFailed
}

// Error is a classified failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func NewError(k ErrorKind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// Anomaly builds an AnomalousEvent error.
func Anomaly(format string, args ...interface{}) *Error {
	return &Error{Kind: AnomalousEvent, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

// Cause satisfies github.com/pkg/errors.
func (e *Error) Cause() error { return e.Err }

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether any error in err's chain is an *Error of kind k.
// It follows both Cause and Unwrap links.
func IsKind(err error, k ErrorKind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == k
		}
		switch x := err.(type) {
		case interface{ Cause() error }:
			err = x.Cause()
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		default:
			return false
		}
	}
	return false
}
