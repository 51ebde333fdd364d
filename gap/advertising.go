package gap

import (
	"github.com/rigado/periph"
	"github.com/rigado/periph/adv"
)

// Advertiser owns the advertising phase.
type Advertiser interface {
	// Start is a no-op while Active. A rejected start leaves the phase Failed.
	Start(st *State) error
	// Stop moves any phase to Stopped.
	Stop(st *State)
	Payload() []byte
}

type advertiser struct {
	transport periph.Transport
	payload   []byte
	onPhase   func(from, to Phase)
	logger    periph.Logger
}

// NewAdvertiser builds the capability payload once for the given services.
func NewAdvertiser(t periph.Transport, uuids []periph.UUID16, l periph.Logger, onPhase func(from, to Phase)) (Advertiser, error) {
	b, err := adv.CapabilityPayload(uuids)
	if err != nil {
		return nil, err
	}

	if l == nil {
		l = periph.GetLogger()
	}

	return &advertiser{
		transport: t,
		payload:   b,
		onPhase:   onPhase,
		logger:    l.ChildLogger(map[string]interface{}{"component": "adv"}),
	}, nil
}

func (a *advertiser) Payload() []byte {
	out := make([]byte, len(a.payload))
	copy(out, a.payload)
	return out
}

func (a *advertiser) setPhase(st *State, p Phase) {
	if st.Phase == p {
		return
	}
	from := st.Phase
	st.Phase = p
	a.logger.Debugf("advertising %v -> %v", from, p)
	if a.onPhase != nil {
		a.onPhase(from, p)
	}
}

func (a *advertiser) Start(st *State) error {
	if st.Phase == PhaseActive {
		return nil
	}

	a.setPhase(st, PhaseStarting)
	if err := a.transport.AdvertiseStart(a.Payload()); err != nil {
		a.setPhase(st, PhaseFailed)
		return periph.NewError(periph.AdvertisingStartFailed, err)
	}

	a.setPhase(st, PhaseActive)
	a.logger.Info("Advertising successfully started")
	return nil
}

func (a *advertiser) Stop(st *State) {
	switch st.Phase {
	case PhaseStopped:
		return
	case PhaseStarting, PhaseActive:
		// the link layer stops on connect, so a refusal here is expected
		if err := a.transport.AdvertiseStop(); err != nil {
			a.logger.Debugf("advertise stop: %v", err)
		}
	}
	a.setPhase(st, PhaseStopped)
}
