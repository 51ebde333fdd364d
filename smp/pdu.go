package smp

import (
	"fmt"

	"github.com/pkg/errors"
)

// CID is the fixed L2CAP channel of the security manager on LE links.
const CID = 0x0006

const (
	pairingRequest    = 0x01
	pairingResponse   = 0x02
	pairingConfirm    = 0x03
	pairingRandom     = 0x04
	pairingFailed     = 0x05
	securityRequest   = 0x0b
	pairingPublicKey  = 0x0c
	pairingDHKeyCheck = 0x0d
	pairingKeypress   = 0x0e
)

// Pairing Failed reasons.
const (
	ReasonPasskeyEntryFailed  = 0x01
	ReasonAuthRequirements    = 0x03
	ReasonConfirmValueFailed  = 0x04
	ReasonPairingNotSupported = 0x05
	ReasonEncryptionKeySize   = 0x06
	ReasonCommandNotSupported = 0x07
	ReasonUnspecified         = 0x08
	ReasonInvalidParameters   = 0x0a
	ReasonDHKeyCheckFailed    = 0x0b
)

var codeNames = map[byte]string{
	pairingRequest:    "pairing request",
	pairingResponse:   "pairing response",
	pairingConfirm:    "pairing confirm",
	pairingRandom:     "pairing random",
	pairingFailed:     "pairing failed",
	securityRequest:   "security req",
	pairingPublicKey:  "pairing pub key",
	pairingDHKeyCheck: "pairing dhkey check",
	pairingKeypress:   "pairing keypress",
}

// CodeName describes the PDU code of b, for logs.
func CodeName(b []byte) string {
	if len(b) == 0 {
		return "empty"
	}
	if n, ok := codeNames[b[0]]; ok {
		return n
	}
	return fmt.Sprintf("code 0x%02x", b[0])
}

// Failure ends a pairing procedure. Remote is set when the peer sent Pairing Failed.
type Failure struct {
	Reason uint8
	Remote bool
	Err    error
}

func (f *Failure) Error() string {
	side := "local"
	if f.Remote {
		side = "remote"
	}
	if f.Err == nil {
		return fmt.Sprintf("pairing failed (%s): reason 0x%02x", side, f.Reason)
	}
	return fmt.Sprintf("pairing failed (%s): reason 0x%02x: %v", side, f.Reason, f.Err)
}

func fail(reason uint8, err error) *Failure {
	return &Failure{Reason: reason, Err: err}
}

func failf(reason uint8, format string, args ...interface{}) *Failure {
	return fail(reason, errors.Errorf(format, args...))
}

// AsFailure returns the Failure at the root of err, if any.
func AsFailure(err error) (*Failure, bool) {
	f, ok := errors.Cause(err).(*Failure)
	return f, ok
}

// SecurityRequest builds the PDU a peripheral sends to ask the central to pair or encrypt.
func SecurityRequest(authReq byte) []byte {
	return []byte{securityRequest, authReq}
}

// PairingFailed builds a Pairing Failed PDU.
func PairingFailed(reason uint8) []byte {
	return []byte{pairingFailed, reason}
}

func pdu(code byte, payload ...[]byte) []byte {
	n := 1
	for _, p := range payload {
		n += len(p)
	}
	b := make([]byte, 0, n)
	b = append(b, code)
	for _, p := range payload {
		b = append(b, p...)
	}
	return b
}

// IsPairingRequest reports whether b starts a new pairing procedure.
func IsPairingRequest(b []byte) bool {
	return len(b) > 0 && b[0] == pairingRequest
}
