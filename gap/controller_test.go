package gap

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/bond"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	peerX      = periph.NewAddr("c0:11:22:33:44:55", periph.AddrRandom)
	peerY      = periph.NewAddr("00:1b:dc:01:02:03", periph.AddrPublic)
	hidBattery = []periph.UUID16{periph.HIDService, periph.BatteryService}
)

type harness struct {
	t       *testing.T
	tr      *fakeTransport
	display *fakeDisplay
	persist *fakePersistence
	ctrl    *Controller

	phaseMu sync.Mutex
	phases  []Phase
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	l, _ := testLogger(t)
	h := &harness{
		t:       t,
		tr:      newFakeTransport(),
		display: &fakeDisplay{},
		persist: newFakePersistence(),
	}

	base := []Option{
		OptLogger(l),
		OptDisplay(h.display),
		OptPersistence(h.persist),
		OptPhaseHandler(func(_, to Phase) {
			h.phaseMu.Lock()
			defer h.phaseMu.Unlock()
			h.phases = append(h.phases, to)
		}),
	}

	c, err := NewController(h.tr, hidBattery, append(base, opts...)...)
	require.NoError(t, err)
	h.ctrl = c
	return h
}

func (h *harness) handle(ev periph.Event) {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.Handle(ev))
}

func (h *harness) anomaly(ev periph.Event) {
	h.t.Helper()
	err := h.ctrl.Handle(ev)
	require.Error(h.t, err)
	assert.True(h.t, periph.IsKind(err, periph.AnomalousEvent), "%v", err)
}

func (h *harness) phaseLog() []Phase {
	h.phaseMu.Lock()
	defer h.phaseMu.Unlock()
	return append([]Phase(nil), h.phases...)
}

func (h *harness) advertise() {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.StartAdvertising())
	require.Equal(h.t, PhaseActive, h.ctrl.Phase())
}

func TestPayload(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x05, 0x03, 0x12, 0x18, 0x0F, 0x18}, h.ctrl.Payload())

	h.advertise()
	require.Equal(t, 1, h.tr.startCount())
	assert.Equal(t, h.ctrl.Payload(), h.tr.starts[0])
}

func TestConnectRequestsSecurity(t *testing.T) {
	h := newHarness(t)
	h.advertise()

	h.handle(periph.Connected{Addr: peerX})

	s := h.ctrl.Snapshot()
	require.NotNil(t, s.Conn)
	assert.Equal(t, peerX, s.Conn.Peer)
	assert.Equal(t, ConnConnected, s.Conn.State)
	assert.Equal(t, periph.SecurityNone, s.Conn.Level)
	assert.Equal(t, periph.SecurityMedium, s.Conn.Requested)
	assert.Equal(t, []secRequest{{peerX, periph.SecurityMedium}}, h.tr.requests)
	assert.Equal(t, PhaseStopped, s.Phase)
	assert.Equal(t, 1, h.tr.stops)

	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityMedium})

	s = h.ctrl.Snapshot()
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Equal(t, periph.SecurityMedium, s.Conn.Level)
}

func TestDisconnectRestartsAdvertising(t *testing.T) {
	h := newHarness(t)
	h.advertise()

	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.Disconnected{Addr: peerX, Reason: 0x16})

	s := h.ctrl.Snapshot()
	assert.Nil(t, s.Conn)
	assert.Nil(t, s.Session)
	assert.Equal(t, PhaseActive, s.Phase)
	assert.Equal(t, 2, h.tr.startCount())
	assert.Equal(t, []Phase{PhaseStarting, PhaseActive, PhaseStopped, PhaseStarting, PhaseActive}, h.phaseLog())

	r, ok := h.ctrl.LastDisconnectReason()
	assert.True(t, ok)
	assert.Equal(t, uint8(0x16), r)
}

func TestPasskeyThenBondedComplete(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})

	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 123456})

	s := h.ctrl.Snapshot()
	require.NotNil(t, s.Session)
	assert.Equal(t, SessionAwaitingConfirmation, s.Session.State)
	assert.Equal(t, uint32(123456), s.Session.Passkey)
	assert.NotEmpty(t, s.Session.ID)
	assert.Equal(t, ConnSecurityUpgrading, s.Conn.State)
	assert.Equal(t, []uint32{123456}, h.display.shown)

	h.handle(periph.PairingComplete{Addr: peerX, Bonded: true})

	s = h.ctrl.Snapshot()
	assert.Equal(t, SessionComplete, s.Session.State)
	assert.True(t, s.Session.Bonded)
	assert.Equal(t, []periph.Addr{peerX}, h.persist.retainedAddrs())
}

func TestBondRetainedBeforeHandleReturns(t *testing.T) {
	l, _ := testLogger(t)
	store := bond.New(filepath.Join(t.TempDir(), "bonds.json"))
	c, err := NewController(newFakeTransport(), hidBattery, OptLogger(l), OptPersistence(store))
	require.NoError(t, err)

	key := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	for i := 0; i < 20; i++ {
		require.NoError(t, store.Save(peerX, bond.Info{LongTermKey: key, Authenticated: true}))
		require.NoError(t, c.Handle(periph.Connected{Addr: peerX}))
		require.NoError(t, c.Handle(periph.PairingComplete{Addr: peerX, Bonded: true}))
		require.True(t, store.Exists(peerX), "iteration %d", i)

		require.NoError(t, c.Handle(periph.Disconnected{Addr: peerX, Reason: 0x13}))
		require.NoError(t, store.Delete(peerX))
	}
}

func TestRetainFailureKeepsSession(t *testing.T) {
	l, hook := testLogger(t)
	p := newFakePersistence()
	p.retainErr = errors.New("read-only file system")
	c, err := NewController(newFakeTransport(), hidBattery, OptLogger(l), OptPersistence(p))
	require.NoError(t, err)

	require.NoError(t, c.Handle(periph.Connected{Addr: peerX}))
	require.NoError(t, c.Handle(periph.PairingComplete{Addr: peerX, Bonded: true}))

	assert.Equal(t, SessionComplete, c.Snapshot().Session.State)
	assert.Equal(t, 1, countLevel(hook, logrus.ErrorLevel))
}

func TestUnbondedCompleteNotRetained(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 1})
	h.handle(periph.PairingComplete{Addr: peerX, Bonded: false})

	assert.False(t, h.ctrl.Snapshot().Session.Bonded)
	assert.Empty(t, h.persist.retainedAddrs())
}

func TestRepairWhileSecured(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityMedium})
	require.Equal(t, ConnSecured, h.ctrl.Snapshot().Conn.State)

	// the stack reports security before the pairing result
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 4321})
	s := h.ctrl.Snapshot()
	assert.Equal(t, SessionAwaitingConfirmation, s.Session.State)
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Equal(t, periph.SecurityMedium, s.Conn.Level)

	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityHigh})
	h.handle(periph.PairingComplete{Addr: peerX, Bonded: true})
	s = h.ctrl.Snapshot()
	assert.Equal(t, SessionComplete, s.Session.State)
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Equal(t, periph.SecurityHigh, s.Conn.Level)
	assert.Equal(t, []periph.Addr{peerX}, h.persist.retainedAddrs())

	// a completion without display on a secured link opens and closes a session
	h.handle(periph.Disconnected{Addr: peerX, Reason: 0x13})
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityHigh})
	h.handle(periph.PairingComplete{Addr: peerX, Bonded: false})
	s = h.ctrl.Snapshot()
	require.NotNil(t, s.Session)
	assert.Equal(t, SessionComplete, s.Session.State)
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Len(t, h.persist.retainedAddrs(), 1)

	// the session goes with the link
	h.handle(periph.Disconnected{Addr: peerX, Reason: 0x13})
	assert.Nil(t, h.ctrl.Snapshot().Session)
}

func TestFailedConnect(t *testing.T) {
	h := newHarness(t)
	h.advertise()

	h.handle(periph.Connected{Addr: peerX, Err: 7})

	s := h.ctrl.Snapshot()
	assert.Nil(t, s.Conn)
	assert.Equal(t, PhaseActive, s.Phase)
	assert.Empty(t, h.tr.requests)
	assert.Equal(t, 0, h.tr.stops)
}

func TestConnectDisconnectCycles(t *testing.T) {
	h := newHarness(t)
	h.advertise()

	for i := 0; i < 10; i++ {
		a := peerX
		if i%2 == 1 {
			a = peerY
		}
		h.handle(periph.Connected{Addr: a})
		if i%3 == 0 {
			h.handle(periph.PasskeyDisplay{Addr: a, Passkey: uint32(i)})
		}
		h.handle(periph.Disconnected{Addr: a, Reason: uint8(i)})

		s := h.ctrl.Snapshot()
		assert.Nil(t, s.Conn)
		assert.Nil(t, s.Session)
		assert.Contains(t, []Phase{PhaseStarting, PhaseActive}, s.Phase)
	}
}

func TestSecurityNeverDecreases(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})

	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityLow})
	s := h.ctrl.Snapshot()
	assert.Equal(t, ConnSecurityUpgrading, s.Conn.State)
	assert.Equal(t, periph.SecurityLow, s.Conn.Level)

	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityHigh})
	h.anomaly(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityMedium})
	h.anomaly(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityNone})
	h.anomaly(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityLevel(7)})

	s = h.ctrl.Snapshot()
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Equal(t, periph.SecurityHigh, s.Conn.Level)

	// level resets with the connection
	h.handle(periph.Disconnected{Addr: peerX, Reason: 0x13})
	h.handle(periph.Connected{Addr: peerX})
	assert.Equal(t, periph.SecurityNone, h.ctrl.Snapshot().Conn.Level)
}

func TestEventsWithoutConnection(t *testing.T) {
	h := newHarness(t)
	h.advertise()

	h.anomaly(periph.PasskeyDisplay{Addr: peerX, Passkey: 123456})
	h.anomaly(periph.PairingCancelled{Addr: peerX})
	h.anomaly(periph.PairingComplete{Addr: peerX, Bonded: true})
	h.anomaly(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityHigh})
	h.anomaly(periph.Disconnected{Addr: peerX, Reason: 0x08})

	s := h.ctrl.Snapshot()
	assert.Nil(t, s.Conn)
	assert.Nil(t, s.Session)
	assert.Equal(t, PhaseActive, s.Phase)
	assert.Empty(t, h.display.shown)

	_, ok := h.ctrl.LastDisconnectReason()
	assert.False(t, ok)

	// wrong peer is the same as no connection
	h.handle(periph.Connected{Addr: peerX})
	h.anomaly(periph.PasskeyDisplay{Addr: peerY, Passkey: 1})
	h.anomaly(periph.Disconnected{Addr: peerY, Reason: 0x08})
	s = h.ctrl.Snapshot()
	assert.Nil(t, s.Session)
	assert.Equal(t, peerX, s.Conn.Peer)
}

func TestSecondConnectRejected(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityMedium})

	h.anomaly(periph.Connected{Addr: peerY})
	h.anomaly(periph.Connected{Addr: peerX})

	s := h.ctrl.Snapshot()
	assert.Equal(t, peerX, s.Conn.Peer)
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Len(t, h.tr.requests, 1)
}

func TestStartAdvertisingIdempotent(t *testing.T) {
	h := newHarness(t)
	h.advertise()
	before := h.ctrl.Snapshot()

	require.NoError(t, h.ctrl.StartAdvertising())

	assert.Equal(t, before, h.ctrl.Snapshot())
	assert.Equal(t, 1, h.tr.startCount())
}

func TestAdvertisingFailure(t *testing.T) {
	h := newHarness(t)
	h.tr.advErr = errors.New("command disallowed")

	err := h.ctrl.StartAdvertising()
	require.Error(t, err)
	assert.True(t, periph.IsKind(err, periph.AdvertisingStartFailed))
	assert.Equal(t, PhaseFailed, h.ctrl.Phase())
	assert.Equal(t, []Phase{PhaseStarting, PhaseFailed}, h.phaseLog())

	// no automatic retry, an explicit start recovers
	h.tr.advErr = nil
	require.NoError(t, h.ctrl.StartAdvertising())
	assert.Equal(t, PhaseActive, h.ctrl.Phase())

	// a failed start after disconnect leaves the controller operable
	h.handle(periph.Connected{Addr: peerX})
	h.tr.advErr = errors.New("busy")
	h.handle(periph.Disconnected{Addr: peerX, Reason: 0x13})
	assert.Equal(t, PhaseFailed, h.ctrl.Phase())
	h.handle(periph.Connected{Addr: peerY})
	assert.Equal(t, PhaseStopped, h.ctrl.Phase())
}

func TestSecurityRequestFailure(t *testing.T) {
	l, hook := testLogger(t)
	tr := newFakeTransport()
	tr.secErr = errors.New("not connected")

	c, err := NewController(tr, hidBattery, OptLogger(l))
	require.NoError(t, err)

	require.NoError(t, c.Handle(periph.Connected{Addr: peerX}))

	s := c.Snapshot()
	require.NotNil(t, s.Conn)
	assert.Equal(t, ConnConnected, s.Conn.State)
	assert.Equal(t, periph.SecurityNone, s.Conn.Level)
	assert.Equal(t, periph.SecurityNone, s.Conn.Requested)
	assert.Equal(t, 1, countLevel(hook, logrus.ErrorLevel))

	// the peer may still raise security on its own
	require.NoError(t, c.Handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityMedium}))
	assert.Equal(t, ConnSecured, c.Snapshot().Conn.State)
}

func TestPairingCancelledIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 999999})
	h.handle(periph.PairingCancelled{Addr: peerX})

	s := h.ctrl.Snapshot()
	assert.Equal(t, SessionCancelled, s.Session.State)
	assert.Zero(t, s.Session.Passkey)

	h.anomaly(periph.PairingComplete{Addr: peerX, Bonded: true})
	h.anomaly(periph.PairingCancelled{Addr: peerX})
	assert.Equal(t, SessionCancelled, h.ctrl.Snapshot().Session.State)

	// a new passkey starts a new attempt
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 42})
	s2 := h.ctrl.Snapshot()
	assert.Equal(t, SessionAwaitingConfirmation, s2.Session.State)
	assert.NotEqual(t, s.Session.ID, s2.Session.ID)
}

func TestPairingCompleteWithoutDisplay(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PairingComplete{Addr: peerX, Bonded: true})

	s := h.ctrl.Snapshot()
	require.NotNil(t, s.Session)
	assert.Equal(t, SessionComplete, s.Session.State)
	assert.True(t, s.Session.Bonded)
	assert.Empty(t, h.display.shown)

	h.anomaly(periph.PairingComplete{Addr: peerX, Bonded: true})
}

func TestCancelWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PairingCancelled{Addr: peerX})
	assert.Nil(t, h.ctrl.Snapshot().Session)
}

func TestPasskeyOutOfRange(t *testing.T) {
	h := newHarness(t)
	h.handle(periph.Connected{Addr: peerX})
	h.anomaly(periph.PasskeyDisplay{Addr: peerX, Passkey: 1000000})
	assert.Nil(t, h.ctrl.Snapshot().Session)
}

func TestPairingTimeout(t *testing.T) {
	h := newHarness(t, OptPairingTimeout(20*time.Millisecond))
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 123456})

	assert.Eventually(t, func() bool {
		s := h.ctrl.Snapshot()
		return s.Session != nil && s.Session.State == SessionCancelled
	}, time.Second, 5*time.Millisecond)

	// the connection itself is untouched, the stack is told to abort
	s := h.ctrl.Snapshot()
	assert.Equal(t, peerX, s.Conn.Peer)
	assert.True(t, s.Session.TimedOut)
	assert.Equal(t, []periph.Addr{peerX}, h.tr.aborts)

	// a host cancel after the abort is still anomalous
	h.anomaly(periph.PairingCancelled{Addr: peerX})
}

func TestPairingCompletesAfterTimeout(t *testing.T) {
	h := newHarness(t, OptPairingTimeout(20*time.Millisecond))
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 123456})

	require.Eventually(t, func() bool { return h.tr.abortCount() == 1 }, time.Second, 5*time.Millisecond)

	// the stack finished before the abort reached it
	h.handle(periph.SecurityChanged{Addr: peerX, Level: periph.SecurityHigh})
	h.handle(periph.PairingComplete{Addr: peerX, Bonded: true})

	s := h.ctrl.Snapshot()
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Equal(t, periph.SecurityHigh, s.Conn.Level)
	assert.Equal(t, SessionComplete, s.Session.State)
	assert.True(t, s.Session.Bonded)
	assert.Equal(t, []periph.Addr{peerX}, h.persist.retainedAddrs())

	h.anomaly(periph.PairingComplete{Addr: peerX, Bonded: true})
}

func TestPairingTimeoutStale(t *testing.T) {
	h := newHarness(t, OptPairingTimeout(30*time.Millisecond))
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 123456})
	h.handle(periph.PairingComplete{Addr: peerX, Bonded: false})

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, SessionComplete, h.ctrl.Snapshot().Session.State)
	assert.Zero(t, h.tr.abortCount())

	// expiry for a session that no longer exists is ignored
	id := h.ctrl.Snapshot().Session.ID
	h.handle(periph.Disconnected{Addr: peerX, Reason: 0x13})
	h.ctrl.expireSession(peerX, id)
	assert.Nil(t, h.ctrl.Snapshot().Session)
	assert.Zero(t, h.tr.abortCount())
}

func TestPairingTimeoutDisabled(t *testing.T) {
	h := newHarness(t, OptPairingTimeout(0))
	h.handle(periph.Connected{Addr: peerX})
	h.handle(periph.PasskeyDisplay{Addr: peerX, Passkey: 123456})

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, SessionAwaitingConfirmation, h.ctrl.Snapshot().Session.State)

	_, err := NewController(newFakeTransport(), hidBattery, OptPairingTimeout(-time.Second))
	assert.Error(t, err)
}

type bogusEvent struct {
	periph.Connected
}

func TestUnknownEvent(t *testing.T) {
	h := newHarness(t)
	h.anomaly(bogusEvent{periph.Connected{Addr: peerX}})
	h.anomaly(nil)
	assert.Nil(t, h.ctrl.Snapshot().Conn)
}

func TestRun(t *testing.T) {
	l, hook := testLogger(t)
	tr := newFakeTransport()
	c, err := NewController(tr, hidBattery, OptLogger(l))
	require.NoError(t, err)

	tr.events <- periph.PasskeyDisplay{Addr: peerX, Passkey: 1}
	tr.events <- periph.Connected{Addr: peerX}
	tr.events <- periph.SecurityChanged{Addr: peerX, Level: periph.SecurityHigh}
	close(tr.events)

	require.NoError(t, c.Run(context.Background(), tr.Events()))

	s := c.Snapshot()
	assert.Equal(t, ConnSecured, s.Conn.State)
	assert.Equal(t, periph.SecurityHigh, s.Conn.Level)
	assert.Equal(t, 1, countLevel(hook, logrus.WarnLevel))
}

func TestRunContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx, h.tr.Events()) }()
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

type recordingAdvertiser struct {
	starts, stops int
}

func (r *recordingAdvertiser) Start(st *State) error {
	r.starts++
	st.Phase = PhaseActive
	return nil
}

func (r *recordingAdvertiser) Stop(st *State) {
	r.stops++
	st.Phase = PhaseStopped
}

func (r *recordingAdvertiser) Payload() []byte { return nil }

func TestInjectedAdvertiser(t *testing.T) {
	ra := &recordingAdvertiser{}
	tr := newFakeTransport()
	c, err := NewController(tr, hidBattery, OptAdvertiser(ra))
	require.NoError(t, err)

	require.NoError(t, c.Handle(periph.Connected{Addr: peerX}))
	require.NoError(t, c.Handle(periph.Disconnected{Addr: peerX, Reason: 0x13}))

	assert.Equal(t, 1, ra.starts)
	assert.Equal(t, 1, ra.stops)
	assert.Zero(t, tr.startCount())
}
