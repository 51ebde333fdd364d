package gap

import (
	"sync"
	"testing"

	"github.com/rigado/periph"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type secRequest struct {
	addr  periph.Addr
	level periph.SecurityLevel
}

type fakeTransport struct {
	sync.Mutex
	events chan periph.Event

	initErr error
	advErr  error
	secErr  error
	stopErr error

	inits    int
	starts   [][]byte
	stops    int
	requests []secRequest
	aborts   []periph.Addr
	calls    *[]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan periph.Event, 16)}
}

func (f *fakeTransport) record(s string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, s)
	}
}

func (f *fakeTransport) Init() error {
	f.Lock()
	defer f.Unlock()
	f.record("transport.init")
	f.inits++
	return f.initErr
}

func (f *fakeTransport) Events() <-chan periph.Event { return f.events }

func (f *fakeTransport) AdvertiseStart(b []byte) error {
	f.Lock()
	defer f.Unlock()
	f.record("transport.advertise")
	if f.advErr != nil {
		return f.advErr
	}
	f.starts = append(f.starts, b)
	return nil
}

func (f *fakeTransport) AdvertiseStop() error {
	f.Lock()
	defer f.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeTransport) RequestSecurity(a periph.Addr, l periph.SecurityLevel) error {
	f.Lock()
	defer f.Unlock()
	if f.secErr != nil {
		return f.secErr
	}
	f.requests = append(f.requests, secRequest{a, l})
	return nil
}

func (f *fakeTransport) AbortPairing(a periph.Addr) error {
	f.Lock()
	defer f.Unlock()
	f.aborts = append(f.aborts, a)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) abortCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.aborts)
}

func (f *fakeTransport) startCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.starts)
}

type fakeDisplay struct {
	sync.Mutex
	shown []uint32
}

func (d *fakeDisplay) ShowPasskey(_ periph.Addr, p uint32) {
	d.Lock()
	defer d.Unlock()
	d.shown = append(d.shown, p)
}

type fakePersistence struct {
	sync.Mutex
	loadErr   error
	retainErr error
	retained  []periph.Addr
	calls     *[]string
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{}
}

func (p *fakePersistence) Load() error {
	if p.calls != nil {
		*p.calls = append(*p.calls, "persistence.load")
	}
	return p.loadErr
}

func (p *fakePersistence) Retain(a periph.Addr) error {
	p.Lock()
	defer p.Unlock()
	if p.retainErr != nil {
		return p.retainErr
	}
	p.retained = append(p.retained, a)
	return nil
}

func (p *fakePersistence) retainedAddrs() []periph.Addr {
	p.Lock()
	defer p.Unlock()
	return append([]periph.Addr(nil), p.retained...)
}

func testLogger(t *testing.T) (periph.Logger, *test.Hook) {
	t.Helper()
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return periph.NewLogger(l), hook
}

// countLevel counts captured entries at lvl.
func countLevel(hook *test.Hook, lvl logrus.Level) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == lvl {
			n++
		}
	}
	return n
}
