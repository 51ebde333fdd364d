package smp

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/aead/cmac"
)

// All toolbox inputs and outputs are little endian, as they appear in SMP PDUs.

// F4 is the LE Secure Connections confirm value generation function.
func F4(u, v, x []byte, z uint8) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, fmt.Errorf("length error")
	}

	m := make([]byte, 0, 65)
	m = append(m, z)
	m = append(m, v...)
	m = append(m, u...)

	return aesCMAC(x, m)
}

// F5 is the key generation function. It returns the MacKey and the LTK.
func F5(w, n1, n2, a1, a2 []byte) ([]byte, []byte, error) {
	switch {
	case len(w) != 32:
		return nil, nil, fmt.Errorf("length error w")
	case len(n1) != 16:
		return nil, nil, fmt.Errorf("length error n1")
	case len(n2) != 16:
		return nil, nil, fmt.Errorf("length error n2")
	case len(a1) != 7:
		return nil, nil, fmt.Errorf("length error a1")
	case len(a2) != 7:
		return nil, nil, fmt.Errorf("length error a2")
	}

	btle := []byte{0x65, 0x6c, 0x74, 0x62}
	salt := []byte{0xbe, 0x83, 0x60, 0x5a, 0xdb, 0x0b, 0x37, 0x60,
		0x38, 0xa5, 0xf5, 0xaa, 0x91, 0x83, 0x88, 0x6c}

	t, err := aesCMAC(salt, w)
	if err != nil {
		return nil, nil, fmt.Errorf("f5 key: %v", err)
	}

	m := make([]byte, 0, 53)
	m = append(m, 0x00, 0x01)
	m = append(m, a2...)
	m = append(m, a1...)
	m = append(m, n2...)
	m = append(m, n1...)
	m = append(m, btle...)
	m = append(m, 0x00)

	macKey, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, fmt.Errorf("f5 mackey: %v", err)
	}

	//counter 1 selects the ltk
	m[52] = 0x01

	ltk, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, fmt.Errorf("f5 ltk: %v", err)
	}

	return macKey, ltk, nil
}

// F6 is the DHKey check function.
func F6(w, n1, n2, r, ioCap, a1, a2 []byte) ([]byte, error) {
	if len(w) != 16 || len(n1) != 16 || len(n2) != 16 || len(r) != 16 || len(ioCap) != 3 || len(a1) != 7 || len(a2) != 7 {
		return nil, fmt.Errorf("length error")
	}

	// AES-CMAC W (N1 || N2 || R || IOcap || A1 || A2)
	m := make([]byte, 0, 65)
	m = append(m, a2...)
	m = append(m, a1...)
	m = append(m, ioCap...)
	m = append(m, r...)
	m = append(m, n2...)
	m = append(m, n1...)

	return aesCMAC(w, m)
}

// G2 is the numeric comparison value function.
func G2(u, v, x, y []byte) (uint32, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 || len(y) != 16 {
		return 0, fmt.Errorf("length error")
	}

	// AES-CMAC X (U || V || Y) mod 2^32
	m := make([]byte, 0, 80)
	m = append(m, y...)
	m = append(m, v...)
	m = append(m, u...)

	h, err := aesCMAC(x, m)
	if err != nil {
		return 0, err
	}

	out := binary.LittleEndian.Uint32(h[:4])
	return out % 1000000, nil
}

func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(swapBuf(key))
	if err != nil {
		return nil, err
	}

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}

	mMac.Write(swapBuf(msg))

	return swapBuf(mMac.Sum(nil)), nil
}

func swapBuf(in []byte) []byte {
	a := make([]byte, 0, len(in))
	a = append(a, in...)
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}

	return a
}
