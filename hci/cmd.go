package hci

import (
	"encoding/binary"
	"fmt"
)

// Command ...
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP ...
type CommandRP interface {
	Unmarshal(b []byte) error
}

const (
	opReset                             = 0x0c03
	opSetEventMask                      = 0x0c01
	opReadBDADDR                        = 0x1009
	opLESetEventMask                    = 0x2001
	opLEReadBufferSize                  = 0x2002
	opLESetAdvertisingParameters        = 0x2006
	opLESetAdvertisingData              = 0x2008
	opLESetScanResponseData             = 0x2009
	opLESetAdvertiseEnable              = 0x200a
	opLELongTermKeyRequestReply         = 0x201a
	opLELongTermKeyRequestNegativeReply = 0x201b
)

func marshalLen(c Command, b []byte) error {
	if len(b) < c.Len() {
		return fmt.Errorf("cmd 0x%04x: buffer too small", c.OpCode())
	}
	return nil
}

// Reset implements Reset (0x03|0x0003) [Vol 2, Part E, 7.3.2]
type Reset struct{}

func (c *Reset) OpCode() int            { return opReset }
func (c *Reset) Len() int               { return 0 }
func (c *Reset) Marshal(b []byte) error { return nil }

// SetEventMask implements Set Event Mask (0x03|0x0001) [Vol 2, Part E, 7.3.1]
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) OpCode() int { return opSetEventMask }
func (c *SetEventMask) Len() int    { return 8 }
func (c *SetEventMask) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, c.EventMask)
	return nil
}

// ReadBDADDR implements Read BD_ADDR (0x04|0x0009) [Vol 2, Part E, 7.4.6]
type ReadBDADDR struct{}

func (c *ReadBDADDR) OpCode() int            { return opReadBDADDR }
func (c *ReadBDADDR) Len() int               { return 0 }
func (c *ReadBDADDR) Marshal(b []byte) error { return nil }

// ReadBDADDRRP returns the little endian public address.
type ReadBDADDRRP struct {
	Status uint8
	BDADDR [6]byte
}

func (rp *ReadBDADDRRP) Unmarshal(b []byte) error {
	if len(b) < 7 {
		return fmt.Errorf("read bdaddr: short response % X", b)
	}
	rp.Status = b[0]
	copy(rp.BDADDR[:], b[1:7])
	return nil
}

// LESetEventMask implements LE Set Event Mask (0x08|0x0001) [Vol 2, Part E, 7.8.1]
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) OpCode() int { return opLESetEventMask }
func (c *LESetEventMask) Len() int    { return 8 }
func (c *LESetEventMask) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, c.LEEventMask)
	return nil
}

// LEReadBufferSize implements LE Read Buffer Size (0x08|0x0002) [Vol 2, Part E, 7.8.2]
type LEReadBufferSize struct{}

func (c *LEReadBufferSize) OpCode() int            { return opLEReadBufferSize }
func (c *LEReadBufferSize) Len() int               { return 0 }
func (c *LEReadBufferSize) Marshal(b []byte) error { return nil }

type LEReadBufferSizeRP struct {
	Status                  uint8
	HCLEDataPacketLength    uint16
	HCTotalNumLEDataPackets uint8
}

func (rp *LEReadBufferSizeRP) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("le read buffer size: short response % X", b)
	}
	rp.Status = b[0]
	rp.HCLEDataPacketLength = binary.LittleEndian.Uint16(b[1:])
	rp.HCTotalNumLEDataPackets = b[3]
	return nil
}

// LESetAdvertisingParameters implements LE Set Advertising Parameters (0x08|0x0006) [Vol 2, Part E, 7.8.5]
type LESetAdvertisingParameters struct {
	AdvertisingIntervalMin  uint16
	AdvertisingIntervalMax  uint16
	AdvertisingType         uint8
	OwnAddressType          uint8
	DirectAddressType       uint8
	DirectAddress           [6]byte
	AdvertisingChannelMap   uint8
	AdvertisingFilterPolicy uint8
}

func (c *LESetAdvertisingParameters) OpCode() int { return opLESetAdvertisingParameters }
func (c *LESetAdvertisingParameters) Len() int    { return 15 }
func (c *LESetAdvertisingParameters) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b[0:], c.AdvertisingIntervalMin)
	binary.LittleEndian.PutUint16(b[2:], c.AdvertisingIntervalMax)
	b[4] = c.AdvertisingType
	b[5] = c.OwnAddressType
	b[6] = c.DirectAddressType
	copy(b[7:13], c.DirectAddress[:])
	b[13] = c.AdvertisingChannelMap
	b[14] = c.AdvertisingFilterPolicy
	return nil
}

// LESetAdvertisingData implements LE Set Advertising Data (0x08|0x0008) [Vol 2, Part E, 7.8.7]
type LESetAdvertisingData struct {
	AdvertisingDataLength uint8
	AdvertisingData       [31]byte
}

func (c *LESetAdvertisingData) OpCode() int { return opLESetAdvertisingData }
func (c *LESetAdvertisingData) Len() int    { return 32 }
func (c *LESetAdvertisingData) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	b[0] = c.AdvertisingDataLength
	copy(b[1:32], c.AdvertisingData[:])
	return nil
}

// LESetScanResponseData implements LE Set Scan Response Data (0x08|0x0009) [Vol 2, Part E, 7.8.8]
type LESetScanResponseData struct {
	ScanResponseDataLength uint8
	ScanResponseData       [31]byte
}

func (c *LESetScanResponseData) OpCode() int { return opLESetScanResponseData }
func (c *LESetScanResponseData) Len() int    { return 32 }
func (c *LESetScanResponseData) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	b[0] = c.ScanResponseDataLength
	copy(b[1:32], c.ScanResponseData[:])
	return nil
}

// LESetAdvertiseEnable implements LE Set Advertise Enable (0x08|0x000A) [Vol 2, Part E, 7.8.9]
type LESetAdvertiseEnable struct {
	AdvertisingEnable uint8
}

func (c *LESetAdvertiseEnable) OpCode() int { return opLESetAdvertiseEnable }
func (c *LESetAdvertiseEnable) Len() int    { return 1 }
func (c *LESetAdvertiseEnable) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	b[0] = c.AdvertisingEnable
	return nil
}

// LELongTermKeyRequestReply implements LE Long Term Key Request Reply (0x08|0x001A) [Vol 2, Part E, 7.8.25]
type LELongTermKeyRequestReply struct {
	ConnectionHandle uint16
	LongTermKey      [16]byte
}

func (c *LELongTermKeyRequestReply) OpCode() int { return opLELongTermKeyRequestReply }
func (c *LELongTermKeyRequestReply) Len() int    { return 18 }
func (c *LELongTermKeyRequestReply) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, c.ConnectionHandle)
	copy(b[2:18], c.LongTermKey[:])
	return nil
}

// LELongTermKeyRequestNegativeReply implements LE Long Term Key Request Negative Reply (0x08|0x001B) [Vol 2, Part E, 7.8.26]
type LELongTermKeyRequestNegativeReply struct {
	ConnectionHandle uint16
}

func (c *LELongTermKeyRequestNegativeReply) OpCode() int { return opLELongTermKeyRequestNegativeReply }
func (c *LELongTermKeyRequestNegativeReply) Len() int    { return 2 }
func (c *LELongTermKeyRequestNegativeReply) Marshal(b []byte) error {
	if err := marshalLen(c, b); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, c.ConnectionHandle)
	return nil
}
