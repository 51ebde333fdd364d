package bond

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/periph"
)

var ErrNotFound = errors.New("bond not found")

// Info is the key material of a bond.
type Info struct {
	LongTermKey []byte
	EDiv        uint16
	Random      uint64
	Legacy      bool
	// Authenticated is set when the key came from a MITM protected pairing.
	Authenticated bool
}

// Entry is a retained bond.
type Entry struct {
	Addr periph.Addr
	Info Info
}

type bondFile struct {
	Bonds []remoteKeyInfo `json:"bonds"`
}

type remoteKeyInfo struct {
	Address               string `json:"address"`
	AddressType           uint8  `json:"addressType"`
	LongTermKey           string `json:"longTermKey"`
	EncryptionDiversifier string `json:"encryptionDiversifier"`
	RandomValue           string `json:"randomValue"`
	Legacy                bool   `json:"legacy"`
	Authenticated         bool   `json:"authenticated"`
}

// Store keeps bonds in a JSON file. A pairing stages its keys with Save;
// they are only written once the controller calls Retain.
type Store struct {
	filename string
	lock     sync.RWMutex
	bonds    map[periph.Addr]Info
	pending  map[periph.Addr]Info
	logger   periph.Logger
}

func New(filename string) *Store {
	return &Store{
		filename: filename,
		bonds:    map[periph.Addr]Info{},
		pending:  map[periph.Addr]Info{},
		logger:   periph.GetLogger().ChildLogger(map[string]interface{}{"component": "bond"}),
	}
}

// Load replaces the in-memory bonds with the file contents. A missing file is an empty store.
func (s *Store) Load() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	bonds, err := s.loadExisting()
	if err != nil {
		return err
	}

	s.bonds = bonds
	s.logger.Infof("loaded %d bonds from %s", len(bonds), s.filename)
	return nil
}

// Save stages the keys of a pairing in progress.
func (s *Store) Save(a periph.Addr, bi Info) error {
	if len(a.Key()) != 12 {
		return errors.Errorf("invalid address: %s", a.MAC)
	}
	if len(bi.LongTermKey) != 16 {
		return errors.Errorf("invalid long term key length %d", len(bi.LongTermKey))
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.pending[a] = bi
	return nil
}

// Retain persists the staged keys of a.
func (s *Store) Retain(a periph.Addr) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	bi, ok := s.pending[a]
	if !ok {
		return errors.Wrapf(ErrNotFound, "no pending keys for %s", a)
	}

	prev, had := s.bonds[a]
	s.bonds[a] = bi
	if err := s.storeBonds(); err != nil {
		if had {
			s.bonds[a] = prev
		} else {
			delete(s.bonds, a)
		}
		return err
	}

	delete(s.pending, a)
	s.logger.Infof("retained bond for %s", a)
	return nil
}

// Discard drops keys staged for a that will not be retained.
func (s *Store) Discard(a periph.Addr) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.pending[a]; ok {
		delete(s.pending, a)
		s.logger.Debugf("discarded staged keys for %s", a)
	}
}

func (s *Store) Find(a periph.Addr) (Info, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	bi, ok := s.bonds[a]
	if !ok {
		return Info{}, errors.Wrapf(ErrNotFound, "%s", a)
	}
	return bi, nil
}

func (s *Store) Exists(a periph.Addr) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	_, ok := s.bonds[a]
	return ok
}

func (s *Store) Delete(a periph.Addr) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	bi, ok := s.bonds[a]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s", a)
	}

	delete(s.bonds, a)
	if err := s.storeBonds(); err != nil {
		s.bonds[a] = bi
		return err
	}
	return nil
}

// List returns the retained bonds ordered by address.
func (s *Store) List() []Entry {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.listLocked()
}

func (s *Store) loadExisting() (map[periph.Addr]Info, error) {
	out := map[periph.Addr]Info{}

	in, err := os.ReadFile(s.filename)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read bond file")
	}
	if len(in) == 0 {
		return out, nil
	}

	var bf bondFile
	if err := jsoniter.Unmarshal(in, &bf); err != nil {
		return nil, errors.Wrap(err, "unmarshal bond file")
	}

	for _, rki := range bf.Bonds {
		a, bi, err := decodeRemoteKeyInfo(rki)
		if err != nil {
			return nil, err
		}
		out[a] = bi
	}

	return out, nil
}

func (s *Store) storeBonds() error {
	bf := bondFile{Bonds: make([]remoteKeyInfo, 0, len(s.bonds))}
	for _, e := range s.listLocked() {
		bf.Bonds = append(bf.Bonds, encodeRemoteKeyInfo(e.Addr, e.Info))
	}

	out, err := jsoniter.MarshalIndent(bf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal bonds")
	}

	if err := os.WriteFile(s.filename, out, 0600); err != nil {
		return errors.Wrap(err, "write bond file")
	}
	return nil
}

func (s *Store) listLocked() []Entry {
	out := make([]Entry, 0, len(s.bonds))
	for a, bi := range s.bonds {
		out = append(out, Entry{Addr: a, Info: bi})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Addr.MAC == out[j].Addr.MAC {
			return out[i].Addr.Type < out[j].Addr.Type
		}
		return out[i].Addr.MAC < out[j].Addr.MAC
	})
	return out
}

func encodeRemoteKeyInfo(a periph.Addr, bi Info) remoteKeyInfo {
	eDiv := make([]byte, 2)
	binary.LittleEndian.PutUint16(eDiv, bi.EDiv)

	randVal := make([]byte, 8)
	binary.LittleEndian.PutUint64(randVal, bi.Random)

	return remoteKeyInfo{
		Address:               a.Key(),
		AddressType:           uint8(a.Type),
		LongTermKey:           hex.EncodeToString(bi.LongTermKey),
		EncryptionDiversifier: hex.EncodeToString(eDiv),
		RandomValue:           hex.EncodeToString(randVal),
		Legacy:                bi.Legacy,
		Authenticated:         bi.Authenticated,
	}
}

func decodeRemoteKeyInfo(rki remoteKeyInfo) (periph.Addr, Info, error) {
	if len(rki.Address) != 12 {
		return periph.Addr{}, Info{}, errors.Errorf("invalid address in bond file: %q", rki.Address)
	}
	mac, err := hex.DecodeString(rki.Address)
	if err != nil {
		return periph.Addr{}, Info{}, errors.Wrapf(err, "invalid address in bond file: %q", rki.Address)
	}
	var b [6]byte
	for i := range b {
		b[i] = mac[5-i]
	}
	a := periph.AddrFromBytes(b, periph.AddrType(rki.AddressType))

	ltk, err := hex.DecodeString(rki.LongTermKey)
	if err != nil || len(ltk) != 16 {
		return a, Info{}, errors.Errorf("invalid long term key for %s", a)
	}

	eDiv, err := hex.DecodeString(rki.EncryptionDiversifier)
	if err != nil || len(eDiv) != 2 {
		return a, Info{}, errors.Errorf("invalid ediv for %s", a)
	}

	randVal, err := hex.DecodeString(rki.RandomValue)
	if err != nil || len(randVal) != 8 {
		return a, Info{}, errors.Errorf("invalid random value for %s", a)
	}

	return a, Info{
		LongTermKey:   ltk,
		EDiv:          binary.LittleEndian.Uint16(eDiv),
		Random:        binary.LittleEndian.Uint64(randVal),
		Legacy:        rki.Legacy,
		Authenticated: rki.Authenticated,
	}, nil
}
