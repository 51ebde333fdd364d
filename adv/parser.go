package adv

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

type pduRecord struct {
	arrayElementSz int
	minSz          int
}

var pduDecodeMap = map[byte]pduRecord{
	flags:        {0, 1},
	someUUID16:   {2, 2},
	allUUID16:    {2, 2},
	shortName:    {0, 1},
	completeName: {0, 1},
	txPower:      {0, 1},
	mfgData:      {0, 2},
}

func getArray(size int, bytes []byte) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size")
	}

	if len(bytes) == 0 {
		return nil, fmt.Errorf("nil/empty bytes")
	}

	count := len(bytes) / size
	rem := len(bytes) % size
	if rem != 0 || count == 0 {
		return nil, fmt.Errorf("incorrect size")
	}

	arr := make([][]byte, 0, count)
	for j := 0; j < len(bytes); j += size {
		arr = append(arr, bytes[j:(j+size)])
	}

	return arr, nil
}

// Decode parses an advertising payload. Unsupported AD types are skipped,
// malformed records fail the whole packet.
func Decode(pdu []byte) (*Packet, error) {
	if pdu == nil {
		return nil, fmt.Errorf("nil pdu")
	}

	b := make([]byte, len(pdu))
	copy(b, pdu)

	p := &Packet{b: b, m: make(map[byte][]byte)}
	for i := 0; i < len(b); {
		//length @ offset 0, type @ offset 1, data after
		length := int(b[i])

		//zero length marks early termination
		if length == 0 {
			break
		}

		if (i + length) >= len(b) {
			return nil, fmt.Errorf("buffer overflow: want %v, have %v", (i + length), len(b))
		}

		typ := b[i+1]
		start := i + 2
		end := start + length - 1
		data := b[start:end]
		i += length + 1

		dec, ok := pduDecodeMap[typ]
		if !ok {
			periph.GetLogger().Debugf("ignored unsupported adv type %#02x", typ)
			continue
		}

		if dec.minSz > len(data) {
			return nil, fmt.Errorf("adv type %#02x: min length %v, have %v", typ, dec.minSz, len(data))
		}

		if dec.arrayElementSz > 0 {
			arr, err := getArray(dec.arrayElementSz, data)
			if err != nil {
				return nil, errors.Wrapf(err, "adv type %#02x", typ)
			}
			if typ == allUUID16 || typ == someUUID16 {
				for _, u := range arr {
					p.u = append(p.u, periph.UUID16(uint16(u[0])|uint16(u[1])<<8))
				}
			}
		}
		p.m[typ] = data
	}

	return p, nil
}
