package smp

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/wsddn/go-ecdh"
)

// Keys is a P-256 key pair used for LE Secure Connections.
type Keys struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

func (k *Keys) Public() crypto.PublicKey {
	return k.public
}

// Secret computes the little endian DHKey shared with peer.
func (k *Keys) Secret(peer crypto.PublicKey) ([]byte, error) {
	return GenerateSecret(k.private, peer)
}

func GenerateKeys() (*Keys, error) {
	var err error
	kp := Keys{}
	e := ecdh.NewEllipticECDH(elliptic.P256())

	kp.private, kp.public, err = e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate p256 keys")
	}

	return &kp, nil
}

// UnmarshalPublicKey decodes the 64 byte little endian X || Y form sent in a Pairing Public Key PDU.
func UnmarshalPublicKey(b []byte) (crypto.PublicKey, bool) {
	if len(b) != 64 {
		return nil, false
	}

	e := ecdh.NewEllipticECDH(elliptic.P256())

	//uncompressed point header
	r := make([]byte, 0, 65)
	r = append(r, 0x04)
	r = append(r, swapBuf(b[:32])...)
	r = append(r, swapBuf(b[32:])...)

	return e.Unmarshal(r)
}

// MarshalPublicKeyXY encodes k as little endian X || Y.
func MarshalPublicKeyXY(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)[1:]
	out := make([]byte, 0, 64)
	out = append(out, swapBuf(ba[:32])...)
	out = append(out, swapBuf(ba[32:])...)

	return out
}

// MarshalPublicKeyX encodes the little endian X coordinate of k.
func MarshalPublicKeyX(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)[1:]
	return swapBuf(ba[:32])
}

// GenerateSecret computes the little endian DHKey.
func GenerateSecret(prv crypto.PrivateKey, pub crypto.PublicKey) ([]byte, error) {
	e := ecdh.NewEllipticECDH(elliptic.P256())
	b, err := e.GenerateSharedSecret(prv, pub)
	if err != nil {
		return nil, errors.Wrap(err, "dhkey")
	}
	return swapBuf(b), nil
}
