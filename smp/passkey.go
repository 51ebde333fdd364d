package smp

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"
)

const (
	// MaxPasskey is the largest six digit passkey.
	MaxPasskey = 999999
	// PasskeyRounds is the number of commitment rounds, one per passkey bit.
	PasskeyRounds = 20
)

var (
	ErrConfirmFailed = errors.New("confirm value failed")
	ErrDHKeyCheck    = errors.New("dhkey check failed")
)

// IO capability values.
const (
	IOCapDisplayOnly     = 0x00
	IOCapDisplayYesNo    = 0x01
	IOCapKeyboardOnly    = 0x02
	IOCapNoInputNoOutput = 0x03
	IOCapKeyboardDisplay = 0x04
)

// AuthReq bits.
const (
	AuthReqBonding = 0x01
	AuthReqMITM    = 0x04
	AuthReqSC      = 0x08
)

// GeneratePasskey returns a uniform passkey in [0, 999999].
func GeneratePasskey() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxPasskey+1))
	if err != nil {
		return 0, errors.Wrap(err, "passkey")
	}
	return uint32(n.Int64()), nil
}

// Nonce returns 16 random bytes.
func Nonce() ([]byte, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	return b, nil
}

// PasskeyR is the 128 bit passkey value used as R in the DHKey check.
func PasskeyR(passkey uint32) []byte {
	r := make([]byte, 16)
	binary.LittleEndian.PutUint32(r, passkey)
	return r
}

// passkeyZ is the f4 Z input for one commitment round.
func passkeyZ(passkey uint32, round int) uint8 {
	return 0x80 | uint8((passkey>>uint(round))&0x01)
}

// Commitment computes the confirm value a party sends in the given round.
// ownX and peerX are the little endian public key X coordinates.
func Commitment(ownX, peerX, nonce []byte, passkey uint32, round int) ([]byte, error) {
	return F4(ownX, peerX, nonce, passkeyZ(passkey, round))
}

// VerifyCommitment checks a confirm value received from the peer once its nonce is revealed.
func VerifyCommitment(confirm, peerX, ownX, nonce []byte, passkey uint32, round int) error {
	exp, err := Commitment(peerX, ownX, nonce, passkey, round)
	if err != nil {
		return err
	}
	if !bytes.Equal(exp, confirm) {
		return errors.Wrapf(ErrConfirmFailed, "round %d", round)
	}
	return nil
}

// Party is one side of a passkey entry pairing.
type Party struct {
	Keys *Keys
	// Addr is the little endian device address followed by the address type.
	Addr []byte
	// IOCap is the IO capability, OOB data flag and AuthReq in pairing PDU order.
	IOCap []byte
	// Passkey is the displayed or entered value.
	Passkey uint32
}

// PasskeyEntry runs the LE Secure Connections passkey entry exchange between
// an initiator and a responder held in memory and returns the LTK both derived.
// Passkeys that differ fail in the first round whose bits disagree.
func PasskeyEntry(initiator, responder Party) ([]byte, error) {
	pka := MarshalPublicKeyX(initiator.Keys.public)
	pkb := MarshalPublicKeyX(responder.Keys.public)

	var na, nb []byte
	for i := 0; i < PasskeyRounds; i++ {
		nai, err := Nonce()
		if err != nil {
			return nil, err
		}
		nbi, err := Nonce()
		if err != nil {
			return nil, err
		}

		cai, err := Commitment(pka, pkb, nai, initiator.Passkey, i)
		if err != nil {
			return nil, err
		}
		cbi, err := Commitment(pkb, pka, nbi, responder.Passkey, i)
		if err != nil {
			return nil, err
		}

		//initiator reveals first
		if err := VerifyCommitment(cai, pka, pkb, nai, responder.Passkey, i); err != nil {
			return nil, err
		}
		if err := VerifyCommitment(cbi, pkb, pka, nbi, initiator.Passkey, i); err != nil {
			return nil, err
		}

		na, nb = nai, nbi
	}

	dhA, err := GenerateSecret(initiator.Keys.private, responder.Keys.public)
	if err != nil {
		return nil, err
	}
	dhB, err := GenerateSecret(responder.Keys.private, initiator.Keys.public)
	if err != nil {
		return nil, err
	}

	macA, ltkA, err := F5(dhA, na, nb, initiator.Addr, responder.Addr)
	if err != nil {
		return nil, err
	}
	macB, ltkB, err := F5(dhB, na, nb, initiator.Addr, responder.Addr)
	if err != nil {
		return nil, err
	}

	ea, err := F6(macA, na, nb, PasskeyR(initiator.Passkey), initiator.IOCap, initiator.Addr, responder.Addr)
	if err != nil {
		return nil, err
	}
	expEa, err := F6(macB, na, nb, PasskeyR(responder.Passkey), initiator.IOCap, initiator.Addr, responder.Addr)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ea, expEa) {
		return nil, errors.Wrap(ErrDHKeyCheck, "initiator")
	}

	eb, err := F6(macB, nb, na, PasskeyR(responder.Passkey), responder.IOCap, responder.Addr, initiator.Addr)
	if err != nil {
		return nil, err
	}
	expEb, err := F6(macA, nb, na, PasskeyR(initiator.Passkey), responder.IOCap, responder.Addr, initiator.Addr)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(eb, expEb) {
		return nil, errors.Wrap(ErrDHKeyCheck, "responder")
	}

	if !bytes.Equal(ltkA, ltkB) {
		return nil, errors.Wrap(ErrDHKeyCheck, "ltk mismatch")
	}

	return ltkA, nil
}

// AddrBytes builds the 7 byte f5/f6 address input from a display order MAC.
func AddrBytes(mac []byte, typ uint8) []byte {
	out := swapBuf(mac)
	return append(out, typ)
}
