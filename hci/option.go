package hci

import (
	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/adv"
)

// Option configures an HCI before Init.
type Option func(*HCI) error

// OptLogger sets the parent logger.
func OptLogger(l periph.Logger) Option {
	return func(h *HCI) error {
		if l == nil {
			return errors.New("nil logger")
		}
		h.logger = l
		return nil
	}
}

// OptDeviceName puts the complete local name in the scan response.
func OptDeviceName(name string) Option {
	return func(h *HCI) error {
		if name == "" {
			return nil
		}
		sr, err := adv.NewPacket(adv.CompleteName(name))
		if err != nil {
			return errors.Wrapf(err, "device name %q", name)
		}

		b := sr.Bytes()
		h.params.Lock()
		defer h.params.Unlock()
		h.params.scanResp = LESetScanResponseData{ScanResponseDataLength: uint8(len(b))}
		copy(h.params.scanResp.ScanResponseData[:], b)
		return nil
	}
}

// OptAdvInterval overrides the advertising interval, in units of 0.625 ms.
func OptAdvInterval(lo, hi uint16) Option {
	return func(h *HCI) error {
		h.params.Lock()
		defer h.params.Unlock()
		p := h.params.advParams
		p.AdvertisingIntervalMin = lo
		p.AdvertisingIntervalMax = hi
		if err := ValidateAdvParams(p); err != nil {
			return err
		}
		h.params.advParams = p
		return nil
	}
}
