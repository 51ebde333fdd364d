package gap

import (
	"time"

	"github.com/rigado/periph"
)

// ConnState is the lifecycle state of the connection.
type ConnState uint8

const (
	ConnDisconnected ConnState = iota
	ConnConnected
	ConnSecurityUpgrading
	ConnSecured
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "DISCONNECTED"
	case ConnConnected:
		return "CONNECTED"
	case ConnSecurityUpgrading:
		return "SECURITY_UPGRADING"
	case ConnSecured:
		return "SECURED"
	default:
		return "UNKNOWN"
	}
}

// Connection is the single link to the host.
type Connection struct {
	Peer  periph.Addr
	State ConnState
	// Level never decreases while the link is up.
	Level periph.SecurityLevel
	// Requested is the level asked of the stack on connect, None if the request failed.
	Requested periph.SecurityLevel
}

// SessionState is the state of a pairing session.
type SessionState uint8

const (
	SessionIdle SessionState = iota
	SessionAwaitingConfirmation
	SessionCancelled
	SessionComplete
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "IDLE"
	case SessionAwaitingConfirmation:
		return "AWAITING_CONFIRMATION"
	case SessionCancelled:
		return "CANCELLED"
	case SessionComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further pairing event may change the session.
func (s SessionState) Terminal() bool {
	return s == SessionCancelled || s == SessionComplete
}

// PairingSession tracks one pairing attempt on the connection.
type PairingSession struct {
	ID    string
	Peer  periph.Addr
	State SessionState
	// Passkey is only meaningful while awaiting confirmation.
	Passkey uint32
	Bonded  bool
	// TimedOut is set when the session was cancelled by the pairing timeout.
	TimedOut bool

	timer *time.Timer
}

func (s *PairingSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Phase is the advertising phase.
type Phase uint8

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseActive
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "STOPPED"
	case PhaseStarting:
		return "STARTING"
	case PhaseActive:
		return "ACTIVE"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// State is everything the handlers mutate. It is owned by one Controller and
// only touched with the controller lock held.
type State struct {
	Conn    *Connection
	Session *PairingSession
	Phase   Phase

	LastDisconnectReason uint8
	Disconnects          int
}

// connFor returns the connection if it belongs to a.
func (st *State) connFor(a periph.Addr) (*Connection, bool) {
	if st.Conn == nil || st.Conn.Peer != a {
		return nil, false
	}
	return st.Conn, true
}

func (st *State) dropSession() {
	if st.Session != nil {
		st.Session.stopTimer()
		st.Session = nil
	}
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Conn    *Connection
	Session *PairingSession
	Phase   Phase

	LastDisconnectReason uint8
	Disconnects          int
}

func (st *State) snapshot() Snapshot {
	s := Snapshot{
		Phase:                st.Phase,
		LastDisconnectReason: st.LastDisconnectReason,
		Disconnects:          st.Disconnects,
	}
	if st.Conn != nil {
		c := *st.Conn
		s.Conn = &c
	}
	if st.Session != nil {
		ps := *st.Session
		ps.timer = nil
		s.Session = &ps
	}
	return s
}
