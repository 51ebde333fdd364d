package smp

import (
	"bytes"

	"github.com/pkg/errors"
)

// Initiator is the host side of passkey entry with a keyboard. It drives a
// Responder over a real or simulated link.
type Initiator struct {
	keys  *Keys
	local []byte
	peer  []byte

	ioCapA, ioCapB []byte
	passkey        uint32

	peerX, ownX []byte
	dhkey       []byte
	round       int
	peerConfirm []byte
	na, nb      []byte
	macKey      []byte
	ltk         []byte
	done        bool
}

func NewInitiator(keys *Keys, local, peer []byte, bond bool) *Initiator {
	auth := byte(AuthReqMITM | AuthReqSC)
	if bond {
		auth |= AuthReqBonding
	}
	return &Initiator{
		keys:   keys,
		local:  local,
		peer:   peer,
		ioCapA: []byte{IOCapKeyboardOnly, 0x00, auth},
	}
}

// Start returns the Pairing Request.
func (i *Initiator) Start() []byte {
	return pdu(pairingRequest, i.ioCapA, []byte{16, 0x00, 0x00})
}

// Handle consumes one PDU from the responder and returns the reply, if any.
// After the public keys are exchanged the exchange pauses until EnterPasskey.
func (i *Initiator) Handle(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, errors.New("empty pdu")
	}
	b := in[1:]

	switch in[0] {
	case pairingResponse:
		if len(b) != 6 {
			return nil, errors.Errorf("pairing response length %d", len(b))
		}
		i.ioCapB = append([]byte(nil), b[:3]...)
		return pdu(pairingPublicKey, MarshalPublicKeyXY(i.keys.Public())), nil

	case pairingPublicKey:
		pk, ok := UnmarshalPublicKey(b)
		if !ok {
			return nil, errors.New("bad public key")
		}
		dhkey, err := i.keys.Secret(pk)
		if err != nil {
			return nil, err
		}
		i.peerX = append([]byte(nil), b[:32]...)
		i.ownX = MarshalPublicKeyX(i.keys.Public())
		i.dhkey = dhkey
		return nil, nil

	case pairingConfirm:
		i.peerConfirm = append([]byte(nil), b...)
		return pdu(pairingRandom, i.na), nil

	case pairingRandom:
		nb := append([]byte(nil), b...)
		if err := VerifyCommitment(i.peerConfirm, i.peerX, i.ownX, nb, i.passkey, i.round); err != nil {
			return nil, err
		}
		i.nb = nb
		i.round++
		if i.round < PasskeyRounds {
			return i.confirm()
		}
		return i.dhkeyCheck()

	case pairingDHKeyCheck:
		exp, err := F6(i.macKey, i.nb, i.na, PasskeyR(i.passkey), i.ioCapB, i.peer, i.local)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(exp, b) {
			return nil, ErrDHKeyCheck
		}
		i.done = true
		return nil, nil

	case pairingFailed:
		f := &Failure{Reason: ReasonUnspecified, Remote: true}
		if len(b) > 0 {
			f.Reason = b[0]
		}
		return nil, f

	default:
		return nil, errors.Errorf("unexpected %s", CodeName(in))
	}
}

// EnterPasskey is the user typing the displayed passkey. It returns the first Pairing Confirm.
func (i *Initiator) EnterPasskey(passkey uint32) ([]byte, error) {
	if i.dhkey == nil {
		return nil, errors.New("public keys not exchanged")
	}
	i.passkey = passkey
	i.round = 0
	return i.confirm()
}

// LTK is nil until the responder's DHKey check verified.
func (i *Initiator) LTK() []byte {
	if !i.done {
		return nil
	}
	return i.ltk
}

func (i *Initiator) confirm() ([]byte, error) {
	na, err := Nonce()
	if err != nil {
		return nil, err
	}
	ca, err := Commitment(i.ownX, i.peerX, na, i.passkey, i.round)
	if err != nil {
		return nil, err
	}
	i.na = na
	return pdu(pairingConfirm, ca), nil
}

func (i *Initiator) dhkeyCheck() ([]byte, error) {
	macKey, ltk, err := F5(i.dhkey, i.na, i.nb, i.local, i.peer)
	if err != nil {
		return nil, err
	}
	i.macKey = macKey
	i.ltk = ltk

	ea, err := F6(macKey, i.na, i.nb, PasskeyR(i.passkey), i.ioCapA, i.local, i.peer)
	if err != nil {
		return nil, err
	}
	return pdu(pairingDHKeyCheck, ea), nil
}
