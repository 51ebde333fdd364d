package gap

import (
	"github.com/rigado/periph"
)

// ConnManager reacts to link events.
type ConnManager interface {
	Connected(st *State, a periph.Addr, status uint8) error
	Disconnected(st *State, a periph.Addr, reason uint8) error
	SecurityChanged(st *State, a periph.Addr, level periph.SecurityLevel) error
}

// TargetLevel is the level requested from the stack on every new connection.
const TargetLevel = periph.SecurityMedium

type connManager struct {
	transport periph.Transport
	adv       Advertiser
	logger    periph.Logger
}

func NewConnManager(t periph.Transport, a Advertiser, l periph.Logger) ConnManager {
	if l == nil {
		l = periph.GetLogger()
	}
	return &connManager{
		transport: t,
		adv:       a,
		logger:    l.ChildLogger(map[string]interface{}{"component": "conn"}),
	}
}

func (m *connManager) Connected(st *State, a periph.Addr, status uint8) error {
	if status != 0 {
		m.logger.Errorf("Failed to connect to %s (err 0x%02x)", a, status)
		return nil
	}

	if st.Conn != nil {
		return periph.Anomaly("connect from %s while connected to %s", a, st.Conn.Peer)
	}

	st.Conn = &Connection{Peer: a, State: ConnConnected, Level: periph.SecurityNone}
	m.logger.Infof("Connected %s", a)

	m.adv.Stop(st)

	if err := m.transport.RequestSecurity(a, TargetLevel); err != nil {
		// the link stays usable at its current level
		m.logger.Error(periph.NewError(periph.SecurityUpgradeRequestFailed, err))
		return nil
	}
	st.Conn.Requested = TargetLevel
	return nil
}

func (m *connManager) Disconnected(st *State, a periph.Addr, reason uint8) error {
	c, ok := st.connFor(a)
	if !ok {
		return periph.Anomaly("disconnect from unknown peer %s (reason 0x%02x)", a, reason)
	}

	m.logger.Infof("Disconnected %s (reason 0x%02x)", c.Peer, reason)

	st.dropSession()
	st.Conn = nil
	st.LastDisconnectReason = reason
	st.Disconnects++

	if err := m.adv.Start(st); err != nil {
		m.logger.Error(err)
	}
	return nil
}

func (m *connManager) SecurityChanged(st *State, a periph.Addr, level periph.SecurityLevel) error {
	c, ok := st.connFor(a)
	if !ok {
		return periph.Anomaly("security change for unknown peer %s", a)
	}
	if !level.Valid() {
		return periph.Anomaly("invalid security level %d for %s", uint8(level), a)
	}
	if level < c.Level {
		return periph.Anomaly("security of %s dropped from %v to %v", a, c.Level, level)
	}

	c.Level = level
	if level >= periph.SecurityMedium {
		c.State = ConnSecured
	} else {
		// accepted as is, no retry
		c.State = ConnSecurityUpgrading
	}

	m.logger.Infof("Security changed: %s level %v", a, level)
	return nil
}
