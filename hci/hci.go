// Package hci drives a Bluetooth controller over a raw HCI packet stream
// (user channel socket or H4 UART) as a single-link LE peripheral.
package hci

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/adv"
	"github.com/rigado/periph/bond"
	"github.com/rigado/periph/smp"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("hci closed")
)

// BondStore is the subset of the bond store the stack needs.
type BondStore interface {
	Find(periph.Addr) (bond.Info, error)
	Save(periph.Addr, bond.Info) error
	Discard(periph.Addr)
}

type handlerFn func(b []byte) error

type pkt struct {
	cmd  Command
	done chan []byte
}

// HCI implements periph.Transport on top of a controller.
type HCI struct {
	skt    io.ReadWriteCloser
	store  BondStore
	queue  *periph.EventQueue
	logger periph.Logger

	params params
	keys   *smp.Keys

	// Host to Controller command flow control [Vol 2, Part E, 4.4]
	chCmdBufs chan []byte
	muSent    sync.Mutex
	sent      map[int]*pkt
	muWrite   sync.Mutex

	// evtHub
	evth map[int]handlerFn
	subh map[int]handlerFn

	// Device information or status.
	addr    periph.Addr
	bufSize int

	muConns sync.Mutex
	conns   map[uint16]*conn

	muErr sync.Mutex
	err   error

	muClose sync.Mutex
	done    chan bool

	sktRxChan chan []byte
}

// NewHCI returns a stack talking to a controller over skt, which must yield
// one complete HCI packet per Read. store may be nil, in which case nothing
// is bonded.
func NewHCI(skt io.ReadWriteCloser, store BondStore, opts ...Option) (*HCI, error) {
	h := &HCI{
		skt:       skt,
		store:     store,
		queue:     periph.NewEventQueue(),
		logger:    periph.GetLogger(),
		chCmdBufs: make(chan []byte, chCmdBufChanSize),
		sent:      make(map[int]*pkt),

		evth: map[int]handlerFn{},
		subh: map[int]handlerFn{},

		conns:     make(map[uint16]*conn),
		done:      make(chan bool),
		sktRxChan: make(chan []byte, 16),
	}
	h.params.init()
	if err := h.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	h.logger = h.logger.ChildLogger(map[string]interface{}{"component": "hci"})
	return h, nil
}

// Option sets the options specified.
func (h *HCI) Option(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return err
		}
	}
	return nil
}

// Init resets the controller and configures it for advertising.
func (h *HCI) Init() error {
	h.evth[leMetaCode] = h.handleLEMeta
	h.evth[commandCompleteCode] = h.handleCommandComplete
	h.evth[commandStatusCode] = h.handleCommandStatus
	h.evth[disconnectionCompleteCode] = h.handleDisconnectionComplete
	h.evth[numberOfCompletedPacketsCode] = h.handleNumberOfCompletedPackets
	h.evth[encryptionChangeCode] = h.handleEncryptionChange
	h.evth[encryptionKeyRefreshCompleteCode] = h.handleEncryptionKeyRefreshComplete
	h.evth[hardwareErrorCode] = h.handleHardwareError

	h.subh[leConnectionCompleteSubCode] = h.handleLEConnectionComplete
	h.subh[leEnhancedConnectionCompleteSubCode] = h.handleLEConnectionComplete
	h.subh[leConnectionUpdateCompleteSubCode] = h.handleLEConnectionUpdateComplete
	h.subh[leLongTermKeyRequestSubCode] = h.handleLELongTermKeyRequest

	if err := h.params.validate(); err != nil {
		return err
	}

	k, err := smp.GenerateKeys()
	if err != nil {
		return err
	}
	h.keys = k

	h.setAllowedCommands(1)

	go h.sktReadLoop()
	go h.sktProcessLoop()

	return h.init()
}

func (h *HCI) init() error {
	h.logger.Info("hci reset")
	if err := h.Send(&Reset{}, nil); err != nil {
		return errors.Wrap(err, "reset")
	}

	rp := ReadBDADDRRP{}
	if err := h.Send(&ReadBDADDR{}, &rp); err != nil {
		return errors.Wrap(err, "read bdaddr")
	}
	h.addr = periph.AddrFromBytes(rp.BDADDR, periph.AddrPublic)

	h.bufSize = defaultACLDataLength
	bs := LEReadBufferSizeRP{}
	if err := h.Send(&LEReadBufferSize{}, &bs); err != nil {
		h.logger.Warnf("le read buffer size: %v", err)
	} else if bs.HCLEDataPacketLength != 0 {
		h.bufSize = int(bs.HCLEDataPacketLength)
	}

	if err := h.Send(&SetEventMask{EventMask: 0x3dbff807fffbffff}, nil); err != nil {
		return errors.Wrap(err, "set event mask")
	}
	if err := h.Send(&LESetEventMask{LEEventMask: 0x000000000000021F}, nil); err != nil {
		return errors.Wrap(err, "le set event mask")
	}

	h.params.RLock()
	ap := h.params.advParams
	h.params.RUnlock()
	if err := h.Send(&ap, nil); err != nil {
		return errors.Wrap(err, "set advertising parameters")
	}

	h.logger.Infof("controller address %s, acl mtu %d", h.addr, h.bufSize)
	return nil
}

// Addr is the controller's public address, valid after Init.
func (h *HCI) Addr() periph.Addr {
	return h.addr
}

func (h *HCI) Events() <-chan periph.Event {
	return h.queue.C()
}

// Err is the error that stopped the stack, if any.
func (h *HCI) Err() error {
	h.muErr.Lock()
	defer h.muErr.Unlock()
	return h.err
}

func (h *HCI) setErr(err error) {
	h.muErr.Lock()
	defer h.muErr.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// AdvertiseStart loads payload as the advertising data and enables connectable advertising.
func (h *HCI) AdvertiseStart(payload []byte) error {
	if len(payload) > adv.MaxEIRPacketLength {
		return adv.ErrNotFit
	}
	if _, err := adv.Decode(payload); err != nil {
		return errors.Wrap(err, "advertising data")
	}

	ad := LESetAdvertisingData{AdvertisingDataLength: uint8(len(payload))}
	copy(ad.AdvertisingData[:], payload)

	h.params.Lock()
	h.params.advData = ad
	sr := h.params.scanResp
	h.params.Unlock()

	if err := h.Send(&ad, nil); err != nil {
		return errors.Wrap(err, "set advertising data")
	}
	if err := h.Send(&sr, nil); err != nil {
		return errors.Wrap(err, "set scan response")
	}
	return h.setAdvertiseEnable(1)
}

func (h *HCI) AdvertiseStop() error {
	return h.setAdvertiseEnable(0)
}

func (h *HCI) setAdvertiseEnable(v uint8) error {
	h.params.Lock()
	h.params.advEnable.AdvertisingEnable = v
	c := h.params.advEnable
	h.params.Unlock()
	return h.Send(&c, nil)
}

// RequestSecurity sends an SMP Security Request. A bonded host answers by
// encrypting with its stored key, others start pairing.
func (h *HCI) RequestSecurity(a periph.Addr, level periph.SecurityLevel) error {
	h.muConns.Lock()
	defer h.muConns.Unlock()

	c := h.connByAddr(a)
	if c == nil {
		return errors.Wrapf(ErrNotConnected, "%s", a)
	}
	if c.level >= level {
		return nil
	}

	c.logger.Debugf("security request for %v", level)
	return h.writeL2CAP(c.handle, smp.CID, smp.SecurityRequest(smp.AuthReqBonding|smp.AuthReqMITM|smp.AuthReqSC))
}

// AbortPairing fails the pairing in progress with a. Keys of a pairing that
// finished but has not encrypted the link yet are dropped.
func (h *HCI) AbortPairing(a periph.Addr) error {
	h.muConns.Lock()
	defer h.muConns.Unlock()

	c := h.connByAddr(a)
	if c == nil {
		return errors.Wrapf(ErrNotConnected, "%s", a)
	}
	if c.pendingResult {
		c.logger.Info("dropping keys of aborted pairing")
		h.dropPendingKeys(c)
		return nil
	}
	if c.pairing == nil {
		return nil
	}

	out := c.pairing.Abort(smp.ReasonUnspecified)
	if out == nil {
		return nil
	}
	c.logger.Info("pairing aborted")
	return h.writeL2CAP(c.handle, smp.CID, out)
}

// Close stops the stack and closes the controller stream.
func (h *HCI) Close() error {
	h.muClose.Lock()
	defer h.muClose.Unlock()

	select {
	case <-h.done:
		//already closed, nothing to do
		return nil
	default:
		close(h.done)
	}

	h.queue.Close()
	return h.skt.Close()
}

func (h *HCI) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Send issues c and waits for its Command Complete or Command Status. A non
// zero status is returned as ErrCommand.
func (h *HCI) Send(c Command, r CommandRP) error {
	b, err := h.send(c)
	if err != nil {
		return err
	}
	if len(b) > 0 && b[0] != 0x00 {
		return ErrCommand(b[0])
	}
	if r != nil {
		return r.Unmarshal(b)
	}
	return nil
}

func (h *HCI) checkOpCodeFree(opCode int) error {
	h.muSent.Lock()
	defer h.muSent.Unlock()

	if _, ok := h.sent[opCode]; ok {
		return fmt.Errorf("command with opcode 0x%04x pending", opCode)
	}
	return nil
}

func (h *HCI) send(c Command) ([]byte, error) {
	if err := h.Err(); err != nil {
		return nil, err
	}

	p := &pkt{c, make(chan []byte, 1)}

	//verify opcode is free before asking for the command buffer
	if err := h.checkOpCodeFree(c.OpCode()); err != nil {
		return nil, err
	}

	// get buffer w/timeout
	var b []byte
	select {
	case <-h.done:
		return nil, ErrClosed
	case b = <-h.chCmdBufs:
		//ok
	case <-time.After(chCmdBufTimeout):
		return nil, fmt.Errorf("chCmdBufs get timeout")
	}

	//HCI header
	b[0] = pktTypeCommand
	b[1] = byte(c.OpCode())
	b[2] = byte(c.OpCode() >> 8)
	b[3] = byte(c.Len())
	if err := c.Marshal(b[4:]); err != nil {
		return nil, errors.Wrap(err, "marshal cmd")
	}

	h.muSent.Lock()
	h.sent[c.OpCode()] = p
	h.muSent.Unlock()

	// clear sent table when done, late completions for a dropped command must not match
	defer func() {
		h.muSent.Lock()
		delete(h.sent, c.OpCode())
		h.muSent.Unlock()
	}()

	if err := h.write(b[:4+c.Len()]); err != nil {
		return nil, err
	}

	select {
	case <-time.After(cmdTimeout):
		h.logger.Errorf("no response to cmd 0x%04x: % X", c.OpCode(), b[:4+c.Len()])
		return nil, fmt.Errorf("hci: no response to command 0x%04x", c.OpCode())
	case <-h.done:
		return nil, ErrClosed
	case ret := <-p.done:
		return ret, nil
	}
}

func (h *HCI) write(b []byte) error {
	h.muWrite.Lock()
	defer h.muWrite.Unlock()

	if !h.isOpen() {
		return ErrClosed
	}
	n, err := h.skt.Write(b)
	switch {
	case err != nil:
		return errors.Wrap(err, "hci write")
	case n != len(b):
		return fmt.Errorf("hci: short write %d of %d", n, len(b))
	}
	return nil
}

func (h *HCI) sktProcessLoop() {
	defer h.cleanup()

	for {
		var p []byte
		var ok bool

		select {
		case <-h.done:
			return

		case p, ok = <-h.sktRxChan:
			if !ok {
				return
			}
		}

		if err := h.handlePkt(p); err != nil {
			h.logger.Warnf("skt: %v", err)
		}
	}
}

func (h *HCI) sktReadLoop() {
	defer close(h.sktRxChan)

	b := make([]byte, 4096)
	for {
		n, err := h.skt.Read(b)

		switch {
		case n == 0 && err == nil:
			// read timeout
			if !h.isOpen() {
				return
			}
			continue

		case err != nil:
			if h.isOpen() {
				h.setErr(errors.Wrap(err, "skt read"))
			}
			return

		default:
			p := make([]byte, n)
			copy(p, b)
			select {
			case h.sktRxChan <- p:
			case <-h.done:
				return
			}
		}
	}
}

// cleanup runs when the process loop exits. Closing the event queue ends the
// dispatcher, links die with the stream.
func (h *HCI) cleanup() {
	if err := h.Err(); err != nil {
		h.logger.Errorf("hci stopped: %v", err)
	}

	h.muConns.Lock()
	for handle := range h.conns {
		delete(h.conns, handle)
	}
	h.muConns.Unlock()

	h.Close()
}

func (h *HCI) handlePkt(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty packet")
	}

	// Strip the 1-byte HCI header and pass down the rest of the packet.
	t, b := b[0], b[1:]
	switch t {
	case pktTypeACLData:
		return h.handleACL(b)
	case pktTypeEvent:
		return h.handleEvt(b)

		//unhandled stuff
	case pktTypeCommand:
		return fmt.Errorf("unmanaged cmd: % X", b)
	case pktTypeSCOData:
		return fmt.Errorf("unsupported sco packet: % X", b)
	case pktTypeVendor:
		return fmt.Errorf("unsupported vendor packet: % X", b)
	default:
		return fmt.Errorf("invalid packet: 0x%02X % X", t, b)
	}
}

func (h *HCI) handleEvt(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("invalid event packet: % X", b)
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return fmt.Errorf("invalid event packet: % X", b)
	}

	if f := h.evth[code]; f != nil {
		return f(b[2:])
	}
	if code == vendorCode {
		return nil
	}
	h.logger.Debugf("unhandled event: % X", b)
	return nil
}

func (h *HCI) handleLEMeta(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty LE event")
	}
	subcode := int(b[0])
	if f := h.subh[subcode]; f != nil {
		return f(b)
	}
	h.logger.Debugf("unhandled LE event: % X", b)
	return nil
}

func (h *HCI) handleCommandComplete(b []byte) error {
	e := CommandComplete(b)
	n, err := e.NumHCICommandPackets()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	h.setAllowedCommands(int(n))

	op, err := e.CommandOpcode()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	// NOP command, used for flow control purpose [Vol 2, Part E, 4.4]
	if op == 0x0000 {
		return nil
	}

	rp, err := e.ReturnParameters()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	return h.complete(int(op), rp)
}

func (h *HCI) handleCommandStatus(b []byte) error {
	e := CommandStatus(b)
	status, err := e.Status()
	if err != nil {
		return errors.Wrap(err, "command status")
	}
	n, _ := e.NumHCICommandPackets()
	h.setAllowedCommands(int(n))

	op, err := e.CommandOpcode()
	if err != nil {
		return errors.Wrap(err, "command status")
	}
	if op == 0x0000 {
		return nil
	}
	return h.complete(int(op), []byte{status})
}

func (h *HCI) complete(op int, rp []byte) error {
	h.muSent.Lock()
	p, found := h.sent[op]
	h.muSent.Unlock()

	if !found {
		return fmt.Errorf("can't find the cmd for opcode 0x%04x", op)
	}

	select {
	case p.done <- rp:
	default:
		return fmt.Errorf("duplicate completion for opcode 0x%04x", op)
	}
	return nil
}

func (h *HCI) handleHardwareError(b []byte) error {
	h.logger.Errorf("controller hardware error: % X", b)
	return nil
}

func (h *HCI) handleNumberOfCompletedPackets(b []byte) error {
	return nil
}

func (h *HCI) handleLEConnectionUpdateComplete(b []byte) error {
	return nil
}

func (h *HCI) setAllowedCommands(n int) {
	if n > chCmdBufChanSize {
		h.logger.Debugf("setAllowedCommands: defaulting %d -> %d", n, chCmdBufChanSize)
		n = chCmdBufChanSize
	}

	for len(h.chCmdBufs) < n {
		select {
		case <-h.done:
			return
		case h.chCmdBufs <- make([]byte, chCmdBufElementSize):
		}
	}
}
