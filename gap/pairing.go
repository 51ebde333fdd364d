package gap

import (
	"time"

	"github.com/google/uuid"
	"github.com/rigado/periph"
)

// DefaultPairingTimeout bounds how long a displayed passkey waits for the peer.
const DefaultPairingTimeout = 60 * time.Second

// PairingController tracks the pairing handshake of the connection.
type PairingController interface {
	PasskeyDisplay(st *State, a periph.Addr, passkey uint32) error
	PairingCancelled(st *State, a periph.Addr) error
	PairingComplete(st *State, a periph.Addr, bonded bool) error
}

type pairingController struct {
	display     periph.Display
	persistence periph.Persistence
	timeout     time.Duration
	// expire is called from the session timer, outside any handler.
	expire func(a periph.Addr, id string)
	logger periph.Logger
}

func NewPairingController(d periph.Display, p periph.Persistence, timeout time.Duration, expire func(periph.Addr, string), l periph.Logger) PairingController {
	if l == nil {
		l = periph.GetLogger()
	}
	if d == nil {
		d = periph.LogDisplay{Logger: l}
	}
	if p == nil {
		p = periph.NopPersistence{}
	}
	return &pairingController{
		display:     d,
		persistence: p,
		timeout:     timeout,
		expire:      expire,
		logger:      l.ChildLogger(map[string]interface{}{"component": "pairing"}),
	}
}

func newSession(a periph.Addr) *PairingSession {
	return &PairingSession{ID: uuid.NewString(), Peer: a, State: SessionIdle}
}

func (p *pairingController) PasskeyDisplay(st *State, a periph.Addr, passkey uint32) error {
	c, ok := st.connFor(a)
	if !ok {
		return periph.Anomaly("passkey display for unknown peer %s", a)
	}
	if passkey > 999999 {
		return periph.Anomaly("passkey for %s out of range", a)
	}

	// a finished session is replaced, an open one gets the new passkey
	if st.Session == nil || st.Session.State.Terminal() {
		st.dropSession()
		st.Session = newSession(a)
	}

	s := st.Session
	s.State = SessionAwaitingConfirmation
	s.Passkey = passkey
	if c.State == ConnConnected {
		c.State = ConnSecurityUpgrading
	}

	s.stopTimer()
	if p.timeout > 0 && p.expire != nil {
		id := s.ID
		s.timer = time.AfterFunc(p.timeout, func() { p.expire(a, id) })
	}

	p.logger.ChildLogger(map[string]interface{}{"session": s.ID}).Debugf("awaiting passkey confirmation from %s", a)
	p.display.ShowPasskey(a, passkey)
	return nil
}

func (p *pairingController) PairingCancelled(st *State, a periph.Addr) error {
	if _, ok := st.connFor(a); !ok {
		return periph.Anomaly("pairing cancel for unknown peer %s", a)
	}

	s := st.Session
	if s == nil {
		p.logger.Infof("Pairing cancelled: %s", a)
		return nil
	}
	if s.State.Terminal() {
		return periph.Anomaly("pairing cancel for %s session already %v", a, s.State)
	}

	s.stopTimer()
	s.State = SessionCancelled
	s.Passkey = 0
	p.logger.Infof("Pairing cancelled: %s", a)
	return nil
}

func (p *pairingController) PairingComplete(st *State, a periph.Addr, bonded bool) error {
	if _, ok := st.connFor(a); !ok {
		return periph.Anomaly("pairing complete for unknown peer %s", a)
	}

	s := st.Session
	switch {
	case s == nil:
		// method without display confirmation
		s = newSession(a)
		st.Session = s
	case s.State == SessionCancelled && s.TimedOut:
		// the stack finished before it saw the abort, the link is paired
		p.logger.Warnf("pairing with %s completed after timing out", a)
	case s.State.Terminal():
		return periph.Anomaly("pairing complete for %s session already %v", a, s.State)
	}

	s.stopTimer()
	s.State = SessionComplete
	s.Passkey = 0
	s.Bonded = bonded
	p.logger.Infof("Pairing complete: %s bonded %v", a, bonded)

	// retained before the next event, a reconnect looks the bond up
	if bonded {
		if err := p.persistence.Retain(a); err != nil {
			p.logger.Errorf("retain bond for %s: %v", a, err)
		}
	}
	return nil
}

// expireSession cancels the session with the given id if it is still awaiting confirmation.
func expireSession(st *State, a periph.Addr, id string, l periph.Logger) bool {
	s := st.Session
	if s == nil || s.ID != id || s.Peer != a || s.State != SessionAwaitingConfirmation {
		return false
	}
	s.timer = nil
	s.State = SessionCancelled
	s.TimedOut = true
	s.Passkey = 0
	l.Warnf("pairing with %s timed out", a)
	return true
}
