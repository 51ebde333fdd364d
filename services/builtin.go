package services

import (
	"sync/atomic"

	"github.com/rigado/periph"
)

// HID is the input report service. Report encoding lives outside this module.
type HID struct {
	ready atomic.Bool
}

func (h *HID) UUID() periph.UUID16 { return periph.HIDService }
func (h *HID) Name() string        { return "hid" }

func (h *HID) Init() error {
	h.ready.Store(true)
	return nil
}

func (h *HID) Ready() bool { return h.ready.Load() }

// Battery is the battery level service.
type Battery struct {
	ready atomic.Bool
	level atomic.Uint32
}

func NewBattery(level uint8) *Battery {
	b := &Battery{}
	b.SetLevel(level)
	return b
}

func (b *Battery) UUID() periph.UUID16 { return periph.BatteryService }
func (b *Battery) Name() string        { return "battery" }

func (b *Battery) Init() error {
	b.ready.Store(true)
	return nil
}

func (b *Battery) Ready() bool { return b.ready.Load() }

// SetLevel stores the charge percentage, clamped to 100.
func (b *Battery) SetLevel(level uint8) {
	if level > 100 {
		level = 100
	}
	b.level.Store(uint32(level))
}

func (b *Battery) Level() uint8 { return uint8(b.level.Load()) }

// Default returns the registry of the reference device: HID then battery.
func Default() *Registry {
	return NewRegistry(&HID{}, NewBattery(100))
}
