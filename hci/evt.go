package hci

import (
	"encoding/binary"
	"fmt"
)

// Event parameter views. Each getter returns a default and an error when the
// packet is too short.

type CommandComplete []byte

func (e CommandComplete) NumHCICommandPackets() (uint8, error) { return getByte(e, 0, 0) }
func (e CommandComplete) CommandOpcode() (uint16, error)       { return getUint16LE(e, 1, 0xffff) }
func (e CommandComplete) ReturnParameters() ([]byte, error) {
	if len(e) == 3 {
		return nil, nil
	}
	return getBytes(e, 3, -1)
}

type CommandStatus []byte

func (e CommandStatus) Status() (uint8, error)               { return getByte(e, 0, 0xff) }
func (e CommandStatus) NumHCICommandPackets() (uint8, error) { return getByte(e, 1, 0) }
func (e CommandStatus) CommandOpcode() (uint16, error)       { return getUint16LE(e, 2, 0xffff) }

type DisconnectionComplete []byte

func (e DisconnectionComplete) Status() (uint8, error)            { return getByte(e, 0, 0xff) }
func (e DisconnectionComplete) ConnectionHandle() (uint16, error) { return getUint16LE(e, 1, 0xffff) }
func (e DisconnectionComplete) Reason() (uint8, error)            { return getByte(e, 3, 0) }

type EncryptionChange []byte

func (e EncryptionChange) Status() (uint8, error)            { return getByte(e, 0, 0xff) }
func (e EncryptionChange) ConnectionHandle() (uint16, error) { return getUint16LE(e, 1, 0xffff) }
func (e EncryptionChange) EncryptionEnabled() (uint8, error) { return getByte(e, 3, 0) }

type EncryptionKeyRefreshComplete []byte

func (e EncryptionKeyRefreshComplete) Status() (uint8, error) { return getByte(e, 0, 0xff) }
func (e EncryptionKeyRefreshComplete) ConnectionHandle() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

// LEConnectionComplete also reads LE Enhanced Connection Complete, which
// shares the layout up to the peer address.
type LEConnectionComplete []byte

func (e LEConnectionComplete) SubeventCode() (uint8, error)      { return getByte(e, 0, 0xff) }
func (e LEConnectionComplete) Status() (uint8, error)            { return getByte(e, 1, 0xff) }
func (e LEConnectionComplete) ConnectionHandle() (uint16, error) { return getUint16LE(e, 2, 0xffff) }
func (e LEConnectionComplete) Role() (uint8, error)              { return getByte(e, 4, 0xff) }
func (e LEConnectionComplete) PeerAddressType() (uint8, error)   { return getByte(e, 5, 0xff) }
func (e LEConnectionComplete) PeerAddress() ([6]byte, error) {
	var a [6]byte
	b, err := getBytes(e, 6, 6)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

type LELongTermKeyRequest []byte

func (e LELongTermKeyRequest) ConnectionHandle() (uint16, error) { return getUint16LE(e, 1, 0xffff) }
func (e LELongTermKeyRequest) RandomNumber() (uint64, error) {
	b, err := getBytes(e, 3, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
func (e LELongTermKeyRequest) EncryptedDiversifier() (uint16, error) { return getUint16LE(e, 11, 0) }

func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

// get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	return bytes[start:end], nil
}
