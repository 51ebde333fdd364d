package adv

import "github.com/pkg/errors"

// MaxEIRPacketLength is the maximum length of a legacy advertising or scan response payload.
const MaxEIRPacketLength = 31

// Advertising flags.
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagLEOnly              = 0x04
)

// Capability is the flags value of a peripheral that is generally discoverable and has no BR/EDR support.
const Capability = FlagGeneralDiscoverable | FlagLEOnly

// https://www.bluetooth.com/specifications/assigned-numbers/generic-access-profile/
const (
	flags        = 0x01
	someUUID16   = 0x02
	allUUID16    = 0x03
	shortName    = 0x08
	completeName = 0x09
	txPower      = 0x0a
	mfgData      = 0xff
)

var (
	ErrNotFit  = errors.New("field does not fit in the packet")
	ErrInvalid = errors.New("invalid field")
)
