package hci

import (
	"fmt"
	"sync"
)

const (
	AddressTypePublic     = 0
	AddressTypeRandom     = 1
	FilterPolicyAcceptAll = 0

	AdvIntervalMin = 0x0020
	AdvIntervalMax = 0x4000

	advTypeConnectableUndirected = 0x00
	advChannelMapAll             = 0x07
)

type params struct {
	sync.RWMutex

	advEnable LESetAdvertiseEnable
	advData   LESetAdvertisingData
	scanResp  LESetScanResponseData
	advParams LESetAdvertisingParameters
}

func (p *params) init() {
	p.advParams = LESetAdvertisingParameters{
		AdvertisingIntervalMin:  0x00a0,    // 0x0020 - 0x4000; N * 0.625 msec
		AdvertisingIntervalMax:  0x00f0,    // 0x0020 - 0x4000; N * 0.625 msec
		AdvertisingType:         0x00,      // 00: ADV_IND, 0x01: DIRECT(HIGH), 0x02: SCAN, 0x03: NONCONN, 0x04: DIRECT(LOW)
		OwnAddressType:          0x00,      // 0x00: public, 0x01: random
		DirectAddressType:       0x00,      // 0x00: public, 0x01: random
		DirectAddress:           [6]byte{}, // Public or Random Address of the Device to be connected
		AdvertisingChannelMap:   0x7,       // 0x07 0x01: ch37, 0x2: ch38, 0x4: ch39
		AdvertisingFilterPolicy: 0x00,
	}
}

func (p *params) validate() error {
	if p == nil {
		return fmt.Errorf("params nil")
	}
	p.RLock()
	defer p.RUnlock()
	return ValidateAdvParams(p.advParams)
}

// ValidateAdvParams checks the parameters a connectable peripheral may use.
func ValidateAdvParams(p LESetAdvertisingParameters) error {
	switch {
	case p.AdvertisingIntervalMin < AdvIntervalMin || p.AdvertisingIntervalMin > AdvIntervalMax:
		return fmt.Errorf("invalid AdvertisingIntervalMin %v", p.AdvertisingIntervalMin)

	case p.AdvertisingIntervalMax < AdvIntervalMin || p.AdvertisingIntervalMax > AdvIntervalMax:
		return fmt.Errorf("invalid AdvertisingIntervalMax %v", p.AdvertisingIntervalMax)

	case p.AdvertisingIntervalMin > p.AdvertisingIntervalMax:
		return fmt.Errorf("AdvertisingIntervalMin %v > AdvertisingIntervalMax %v", p.AdvertisingIntervalMin, p.AdvertisingIntervalMax)

	case p.AdvertisingType != advTypeConnectableUndirected:
		return fmt.Errorf("invalid AdvertisingType %v, only connectable undirected is supported", p.AdvertisingType)

	case p.OwnAddressType != AddressTypePublic && p.OwnAddressType != AddressTypeRandom:
		return fmt.Errorf("invalid OwnAddressType %v", p.OwnAddressType)

	case p.AdvertisingChannelMap == 0 || p.AdvertisingChannelMap&^advChannelMapAll != 0:
		return fmt.Errorf("invalid AdvertisingChannelMap %v", p.AdvertisingChannelMap)

	case p.AdvertisingFilterPolicy != FilterPolicyAcceptAll:
		return fmt.Errorf("invalid AdvertisingFilterPolicy %v", p.AdvertisingFilterPolicy)
	}

	return nil
}
