package smp

import (
	"bytes"
)

// Progress is what a handled PDU moved the responder to.
type Progress int

const (
	ProgressNone Progress = iota
	// ProgressPasskey means the passkey is ready to be displayed.
	ProgressPasskey
	// ProgressComplete means both DHKey checks passed and the LTK is ready.
	ProgressComplete
)

type responderState int

const (
	waitRequest responderState = iota
	waitPublicKey
	waitConfirm
	waitRandom
	waitDHKeyCheck
	paired
	failed
)

type smpDispatcher struct {
	desc    string
	handler func(*Responder, []byte) ([]byte, Progress, error)
}

var dispatcher = map[byte]smpDispatcher{
	pairingRequest:    {"pairing request", (*Responder).onPairingRequest},
	pairingConfirm:    {"pairing confirm", (*Responder).onPairingConfirm},
	pairingRandom:     {"pairing random", (*Responder).onPairingRandom},
	pairingFailed:     {"pairing failed", (*Responder).onPairingFailed},
	pairingPublicKey:  {"pairing pub key", (*Responder).onPairingPublicKey},
	pairingDHKeyCheck: {"pairing dhkey check", (*Responder).onDHKeyCheck},
	pairingKeypress:   {"pairing keypress", nil},
}

// Responder runs the peripheral side of LE Secure Connections passkey entry.
// The device is display only, so the host must be able to type the passkey.
// A Responder handles one pairing procedure and is not safe for concurrent use.
type Responder struct {
	keys  *Keys
	local []byte
	peer  []byte

	state   responderState
	bond    bool
	ioCapA  []byte
	ioCapB  []byte
	passkey uint32

	peerX, ownX []byte
	dhkey       []byte
	round       int
	peerConfirm []byte
	na, nb      []byte

	macKey []byte
	ltk    []byte
}

// NewResponder prepares a pairing between local and peer, both in the 7 byte
// form built by AddrBytes.
func NewResponder(keys *Keys, local, peer []byte) *Responder {
	return &Responder{keys: keys, local: local, peer: peer}
}

// Handle consumes one PDU from the initiator and returns the reply to send, if any.
// On a Failure the reply is the Pairing Failed PDU and the procedure is over.
func (r *Responder) Handle(in []byte) ([]byte, Progress, error) {
	if len(in) == 0 {
		return r.abort(failf(ReasonInvalidParameters, "empty pdu"))
	}

	d, ok := dispatcher[in[0]]
	if !ok {
		return r.abort(failf(ReasonCommandNotSupported, "unexpected %s", CodeName(in)))
	}
	if d.handler == nil {
		return nil, ProgressNone, nil
	}
	if r.state == paired || r.state == failed {
		return nil, ProgressNone, failf(ReasonUnspecified, "%s after pairing ended", d.desc)
	}

	out, p, err := d.handler(r, in[1:])
	if err != nil {
		f, ok := err.(*Failure)
		if !ok {
			f = fail(ReasonUnspecified, err)
		}
		return r.abort(f)
	}
	return out, p, nil
}

func (r *Responder) abort(f *Failure) ([]byte, Progress, error) {
	r.state = failed
	if f.Remote {
		return nil, ProgressNone, f
	}
	return PairingFailed(f.Reason), ProgressNone, f
}

// Abort ends an active procedure and returns the Pairing Failed PDU to send,
// or nil if nothing was in progress.
func (r *Responder) Abort(reason uint8) []byte {
	if !r.Active() {
		return nil
	}
	r.state = failed
	return PairingFailed(reason)
}

// Passkey is valid once Handle returned ProgressPasskey.
func (r *Responder) Passkey() uint32 {
	return r.passkey
}

// Bond reports whether both sides asked to bond.
func (r *Responder) Bond() bool {
	return r.bond
}

// LTK is nil until the procedure completed.
func (r *Responder) LTK() []byte {
	if r.state != paired {
		return nil
	}
	return r.ltk
}

// Active reports whether a procedure has started and not yet ended.
func (r *Responder) Active() bool {
	return r.state != waitRequest && r.state != paired && r.state != failed
}

func (r *Responder) expect(s responderState, what string) error {
	if r.state != s {
		return failf(ReasonUnspecified, "unexpected %s", what)
	}
	return nil
}

func (r *Responder) onPairingRequest(b []byte) ([]byte, Progress, error) {
	if err := r.expect(waitRequest, "pairing request"); err != nil {
		return nil, ProgressNone, err
	}
	if len(b) != 6 {
		return nil, ProgressNone, failf(ReasonInvalidParameters, "pairing request length %d", len(b))
	}

	io, auth, maxKey := b[0], b[2], b[3]
	if auth&AuthReqSC == 0 {
		return nil, ProgressNone, failf(ReasonAuthRequirements, "legacy pairing not supported")
	}
	if io != IOCapKeyboardOnly && io != IOCapKeyboardDisplay {
		//passkey entry needs a keyboard on the host
		return nil, ProgressNone, failf(ReasonAuthRequirements, "host io capability 0x%02x cannot enter a passkey", io)
	}
	if maxKey < 7 || maxKey > 16 {
		return nil, ProgressNone, failf(ReasonEncryptionKeySize, "max key size %d", maxKey)
	}

	r.bond = auth&AuthReqBonding != 0
	rsp := byte(AuthReqMITM | AuthReqSC)
	if r.bond {
		rsp |= AuthReqBonding
	}

	r.ioCapA = append([]byte(nil), b[:3]...)
	r.ioCapB = []byte{IOCapDisplayOnly, 0x00, rsp}
	r.state = waitPublicKey

	//no key distribution, the LTK comes from f5
	return pdu(pairingResponse, r.ioCapB, []byte{16, 0x00, 0x00}), ProgressNone, nil
}

func (r *Responder) onPairingPublicKey(b []byte) ([]byte, Progress, error) {
	if err := r.expect(waitPublicKey, "public key"); err != nil {
		return nil, ProgressNone, err
	}
	if len(b) != 64 {
		return nil, ProgressNone, failf(ReasonInvalidParameters, "public key length %d", len(b))
	}

	pk, ok := UnmarshalPublicKey(b)
	if !ok {
		return nil, ProgressNone, failf(ReasonInvalidParameters, "public key not on curve")
	}

	own := MarshalPublicKeyXY(r.keys.Public())
	if bytes.Equal(own, b) {
		return nil, ProgressNone, failf(ReasonInvalidParameters, "peer reflected our public key")
	}

	dhkey, err := r.keys.Secret(pk)
	if err != nil {
		return nil, ProgressNone, fail(ReasonInvalidParameters, err)
	}

	passkey, err := GeneratePasskey()
	if err != nil {
		return nil, ProgressNone, err
	}

	r.peerX = append([]byte(nil), b[:32]...)
	r.ownX = own[:32]
	r.dhkey = dhkey
	r.passkey = passkey
	r.round = 0
	r.state = waitConfirm

	return pdu(pairingPublicKey, own), ProgressPasskey, nil
}

func (r *Responder) onPairingConfirm(b []byte) ([]byte, Progress, error) {
	if err := r.expect(waitConfirm, "pairing confirm"); err != nil {
		return nil, ProgressNone, err
	}
	if len(b) != 16 {
		return nil, ProgressNone, failf(ReasonInvalidParameters, "confirm length %d", len(b))
	}

	nb, err := Nonce()
	if err != nil {
		return nil, ProgressNone, err
	}
	cb, err := Commitment(r.ownX, r.peerX, nb, r.passkey, r.round)
	if err != nil {
		return nil, ProgressNone, err
	}

	r.peerConfirm = append([]byte(nil), b...)
	r.nb = nb
	r.state = waitRandom

	return pdu(pairingConfirm, cb), ProgressNone, nil
}

func (r *Responder) onPairingRandom(b []byte) ([]byte, Progress, error) {
	if err := r.expect(waitRandom, "pairing random"); err != nil {
		return nil, ProgressNone, err
	}
	if len(b) != 16 {
		return nil, ProgressNone, failf(ReasonInvalidParameters, "random length %d", len(b))
	}

	na := append([]byte(nil), b...)
	if err := VerifyCommitment(r.peerConfirm, r.peerX, r.ownX, na, r.passkey, r.round); err != nil {
		return nil, ProgressNone, fail(ReasonConfirmValueFailed, err)
	}

	r.na = na
	r.round++
	if r.round < PasskeyRounds {
		r.state = waitConfirm
		return pdu(pairingRandom, r.nb), ProgressNone, nil
	}

	macKey, ltk, err := F5(r.dhkey, r.na, r.nb, r.peer, r.local)
	if err != nil {
		return nil, ProgressNone, err
	}
	r.macKey = macKey
	r.ltk = ltk
	r.state = waitDHKeyCheck

	return pdu(pairingRandom, r.nb), ProgressNone, nil
}

func (r *Responder) onDHKeyCheck(b []byte) ([]byte, Progress, error) {
	if err := r.expect(waitDHKeyCheck, "dhkey check"); err != nil {
		return nil, ProgressNone, err
	}
	if len(b) != 16 {
		return nil, ProgressNone, failf(ReasonInvalidParameters, "dhkey check length %d", len(b))
	}

	rv := PasskeyR(r.passkey)
	ea, err := F6(r.macKey, r.na, r.nb, rv, r.ioCapA, r.peer, r.local)
	if err != nil {
		return nil, ProgressNone, err
	}
	if !bytes.Equal(ea, b) {
		return nil, ProgressNone, fail(ReasonDHKeyCheckFailed, ErrDHKeyCheck)
	}

	eb, err := F6(r.macKey, r.nb, r.na, rv, r.ioCapB, r.local, r.peer)
	if err != nil {
		return nil, ProgressNone, err
	}

	r.state = paired
	return pdu(pairingDHKeyCheck, eb), ProgressComplete, nil
}

func (r *Responder) onPairingFailed(b []byte) ([]byte, Progress, error) {
	f := &Failure{Reason: ReasonUnspecified, Remote: true}
	if len(b) > 0 {
		f.Reason = b[0]
	}
	return nil, ProgressNone, f
}
