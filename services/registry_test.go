package services

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	uuid  periph.UUID16
	err   error
	calls *[]periph.UUID16
}

func (f *fakeService) UUID() periph.UUID16 { return f.uuid }
func (f *fakeService) Name() string        { return "fake" }

func (f *fakeService) Init() error {
	*f.calls = append(*f.calls, f.uuid)
	return f.err
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	assert.Equal(t, []periph.UUID16{periph.HIDService, periph.BatteryService}, r.UUIDs())
	require.NoError(t, r.InitAll())
}

func TestRegistryOrderAndFailFast(t *testing.T) {
	var calls []periph.UUID16
	boom := errors.New("boom")

	r := NewRegistry(
		&fakeService{uuid: 0x1801, calls: &calls},
		&fakeService{uuid: 0x1802, calls: &calls, err: boom},
		&fakeService{uuid: 0x1803, calls: &calls},
	)

	err := r.InitAll()
	assert.Equal(t, boom, errors.Cause(err))
	assert.Equal(t, []periph.UUID16{0x1801, 0x1802}, calls)
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry(&HID{})
	assert.False(t, r.Register(&HID{}))
	assert.True(t, r.Register(NewBattery(50)))
	assert.Len(t, r.UUIDs(), 2)
}

func TestBatteryLevel(t *testing.T) {
	b := NewBattery(150)
	assert.Equal(t, uint8(100), b.Level())
	b.SetLevel(42)
	assert.Equal(t, uint8(42), b.Level())

	assert.False(t, b.Ready())
	require.NoError(t, b.Init())
	assert.True(t, b.Ready())
}
