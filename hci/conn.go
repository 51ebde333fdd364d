package hci

import (
	"encoding/binary"
	"fmt"

	"github.com/rigado/periph"
	"github.com/rigado/periph/bond"
	"github.com/rigado/periph/smp"
)

// conn is one LE link. Fields are guarded by HCI.muConns.
type conn struct {
	handle uint16
	addr   periph.Addr
	logger periph.Logger

	// ACL reassembly of the L2CAP PDU in progress
	rx []byte

	pairing *smp.Responder
	// ltk from a pairing that finished but has not encrypted the link yet
	ltk           []byte
	bonded        bool
	pendingResult bool

	// authenticated is whether the key the link is being encrypted with came from MITM pairing
	authenticated bool
	level         periph.SecurityLevel
}

func (h *HCI) connByAddr(a periph.Addr) *conn {
	for _, c := range h.conns {
		if c.addr == a {
			return c
		}
	}
	return nil
}

func (h *HCI) handleLEConnectionComplete(b []byte) error {
	e := LEConnectionComplete(b)

	status, err := e.Status()
	if err != nil {
		return fmt.Errorf("invalid connection complete: % X", b)
	}
	handle, _ := e.ConnectionHandle()
	role, _ := e.Role()
	typ, _ := e.PeerAddressType()
	pa, _ := e.PeerAddress()

	// resolved identity addresses (0x02, 0x03) keep the public/random bit
	peer := periph.AddrFromBytes(pa, periph.AddrType(typ&0x01))

	if status != 0 {
		h.logger.Warnf("connection failed: %v", ErrCommand(status))
		h.queue.Push(periph.Connected{Addr: peer, Err: status})
		return nil
	}
	if role != roleSlave {
		return fmt.Errorf("unexpected central role link %04X", handle)
	}

	c := &conn{
		handle: handle,
		addr:   peer,
		logger: h.logger.ChildLogger(map[string]interface{}{"addr": peer.MAC, "handle": fmt.Sprintf("%04X", handle)}),
	}

	h.muConns.Lock()
	h.conns[handle] = c
	h.muConns.Unlock()

	// the controller leaves the advertising state on connect
	h.params.Lock()
	h.params.advEnable.AdvertisingEnable = 0
	h.params.Unlock()

	c.logger.Info("connected")
	h.queue.Push(periph.Connected{Addr: peer})
	return nil
}

func (h *HCI) handleDisconnectionComplete(b []byte) error {
	e := DisconnectionComplete(b)

	status, err := e.Status()
	if err != nil {
		return fmt.Errorf("invalid disconnection complete: % X", b)
	}
	if status != 0 {
		h.logger.Warnf("disconnect failed: %v", ErrCommand(status))
		return nil
	}
	handle, _ := e.ConnectionHandle()
	reason, _ := e.Reason()

	h.muConns.Lock()
	c, found := h.conns[handle]
	delete(h.conns, handle)
	if found {
		h.dropPendingKeys(c)
	}
	h.muConns.Unlock()

	if !found {
		h.logger.Debugf("disconnect complete for unknown handle %04X", handle)
		return nil
	}

	c.logger.Infof("disconnected: %v", ErrCommand(reason))
	h.queue.Push(periph.Disconnected{Addr: c.addr, Reason: reason})
	return nil
}

func (h *HCI) handleLELongTermKeyRequest(b []byte) error {
	e := LELongTermKeyRequest(b)

	handle, err := e.ConnectionHandle()
	if err != nil {
		return fmt.Errorf("invalid ltk request: % X", b)
	}
	rand, _ := e.RandomNumber()
	ediv, _ := e.EncryptedDiversifier()

	h.muConns.Lock()
	var ltk []byte
	if c, ok := h.conns[handle]; ok {
		ltk = h.lookupLTK(c, rand, ediv)
	}
	h.muConns.Unlock()

	// replying from the process loop would wait on our own command complete
	go h.replyLTK(handle, ltk)
	return nil
}

// lookupLTK returns the key for an encryption request on c, or nil.
func (h *HCI) lookupLTK(c *conn, rand uint64, ediv uint16) []byte {
	// secure connections keys are requested with zero rand and ediv
	if c.ltk != nil && rand == 0 && ediv == 0 {
		c.authenticated = true
		return c.ltk
	}

	if h.store == nil {
		return nil
	}
	bi, err := h.store.Find(c.addr)
	if err != nil {
		c.logger.Debugf("no bond: %v", err)
		return nil
	}
	if bi.Random != rand || bi.EDiv != ediv {
		c.logger.Warnf("ltk request does not match bond (ediv %04x)", ediv)
		return nil
	}
	c.authenticated = bi.Authenticated
	return bi.LongTermKey
}

func (h *HCI) replyLTK(handle uint16, ltk []byte) {
	if ltk == nil {
		if err := h.Send(&LELongTermKeyRequestNegativeReply{ConnectionHandle: handle}, nil); err != nil {
			h.logger.Errorf("ltk negative reply: %v", err)
		}
		return
	}

	c := LELongTermKeyRequestReply{ConnectionHandle: handle}
	copy(c.LongTermKey[:], ltk)
	if err := h.Send(&c, nil); err != nil {
		h.logger.Errorf("ltk reply: %v", err)
	}
}

func (h *HCI) handleEncryptionChange(b []byte) error {
	e := EncryptionChange(b)

	status, err := e.Status()
	if err != nil {
		return fmt.Errorf("invalid encryption change: % X", b)
	}
	handle, _ := e.ConnectionHandle()
	enabled, _ := e.EncryptionEnabled()

	h.muConns.Lock()
	defer h.muConns.Unlock()

	c, found := h.conns[handle]
	if !found {
		return fmt.Errorf("encryption changed event for unknown connection handle %04X", handle)
	}

	if status != 0 || enabled == 0 {
		c.logger.Warnf("encryption failed: %v", ErrCommand(status))
		if c.pendingResult {
			h.dropPendingKeys(c)
			h.queue.Push(periph.PairingCancelled{Addr: c.addr})
		}
		return nil
	}

	lvl := periph.SecurityMedium
	if c.authenticated {
		lvl = periph.SecurityHigh
	}
	c.level = lvl
	c.logger.Infof("encrypted at %v", lvl)
	h.queue.Push(periph.SecurityChanged{Addr: c.addr, Level: lvl})

	if c.pendingResult {
		c.pendingResult = false
		c.ltk = nil
		h.queue.Push(periph.PairingComplete{Addr: c.addr, Bonded: c.bonded})
	}
	return nil
}

func (h *HCI) handleEncryptionKeyRefreshComplete(b []byte) error {
	e := EncryptionKeyRefreshComplete(b)
	status, _ := e.Status()
	handle, _ := e.ConnectionHandle()
	h.logger.Debugf("key refresh %04X: status 0x%02x", handle, status)
	return nil
}

func (h *HCI) handleACL(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("invalid acl packet: % X", b)
	}
	hf := binary.LittleEndian.Uint16(b)
	handle, pb := hf&0x0fff, uint8(hf>>12)&0x03
	dlen := int(binary.LittleEndian.Uint16(b[2:]))
	data := b[4:]
	if dlen != len(data) {
		return fmt.Errorf("invalid acl length %d, have %d", dlen, len(data))
	}

	h.muConns.Lock()
	defer h.muConns.Unlock()

	c, ok := h.conns[handle]
	if !ok {
		h.logger.Warnf("invalid connection handle %04X on ACL packet", handle)
		return nil
	}

	p, ok := c.assemble(pb, data)
	if !ok {
		return nil
	}

	cid := binary.LittleEndian.Uint16(p[2:])
	if cid != smp.CID {
		c.logger.Debugf("dropping l2cap pdu on cid %04x", cid)
		return nil
	}
	h.handleSMP(c, p[4:])
	return nil
}

// assemble collects ACL fragments and returns a complete L2CAP PDU.
func (c *conn) assemble(pb uint8, data []byte) ([]byte, bool) {
	if pb == pbfContinuing {
		if c.rx == nil {
			c.logger.Warn("continuing fragment without start")
			return nil, false
		}
		c.rx = append(c.rx, data...)
	} else {
		c.rx = append([]byte(nil), data...)
	}

	if len(c.rx) < 4 {
		return nil, false
	}
	l := int(binary.LittleEndian.Uint16(c.rx)) + 4
	if len(c.rx) < l {
		return nil, false
	}

	p := c.rx[:l]
	c.rx = nil
	return p, true
}

// handleSMP runs one security manager PDU. Called with muConns held.
func (h *HCI) handleSMP(c *conn, in []byte) {
	c.logger.Debugf("smp rx: %s", smp.CodeName(in))

	if smp.IsPairingRequest(in) && (c.pairing == nil || !c.pairing.Active()) {
		c.pairing = smp.NewResponder(h.keys,
			smp.AddrBytes(h.addr.Bytes(), uint8(h.addr.Type)),
			smp.AddrBytes(c.addr.Bytes(), uint8(c.addr.Type)))
		h.dropPendingKeys(c)
	}
	if c.pairing == nil {
		c.logger.Warnf("%s without pairing request", smp.CodeName(in))
		if err := h.writeL2CAP(c.handle, smp.CID, smp.PairingFailed(smp.ReasonUnspecified)); err != nil {
			c.logger.Errorf("smp tx: %v", err)
		}
		return
	}

	active := c.pairing.Active() || smp.IsPairingRequest(in)
	out, p, err := c.pairing.Handle(in)
	if out != nil {
		if werr := h.writeL2CAP(c.handle, smp.CID, out); werr != nil {
			c.logger.Errorf("smp tx: %v", werr)
		}
	}
	if err != nil {
		c.logger.Warnf("pairing: %v", err)
		if active {
			h.queue.Push(periph.PairingCancelled{Addr: c.addr})
		}
		return
	}

	switch p {
	case smp.ProgressPasskey:
		h.queue.Push(periph.PasskeyDisplay{Addr: c.addr, Passkey: c.pairing.Passkey()})

	case smp.ProgressComplete:
		c.ltk = c.pairing.LTK()
		c.bonded = false
		if c.pairing.Bond() && h.store != nil {
			err := h.store.Save(c.addr, bond.Info{LongTermKey: c.ltk, Authenticated: true})
			if err != nil {
				c.logger.Errorf("save keys: %v", err)
			} else {
				c.bonded = true
			}
		}
		// the result is reported once the host encrypts with the new key
		c.pendingResult = true
		c.logger.Info("pairing keys ready")
	}
}

// dropPendingKeys forgets the result of a pairing that will never be reported.
// Called with muConns held.
func (h *HCI) dropPendingKeys(c *conn) {
	if !c.pendingResult {
		return
	}
	if c.bonded && h.store != nil {
		h.store.Discard(c.addr)
	}
	c.pendingResult = false
	c.bonded = false
	c.ltk = nil
}

// writeL2CAP sends an L2CAP PDU, fragmented to the controller's ACL size.
func (h *HCI) writeL2CAP(handle uint16, cid uint16, payload []byte) error {
	l2 := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(l2, uint16(len(payload)))
	binary.LittleEndian.PutUint16(l2[2:], cid)
	copy(l2[4:], payload)

	size := h.bufSize
	if size <= 0 {
		size = defaultACLDataLength
	}

	h.muWrite.Lock()
	defer h.muWrite.Unlock()

	pb := uint16(pbfHostToControllerStart)
	for off := 0; off < len(l2); {
		n := min(size, len(l2)-off)

		b := make([]byte, 5+n)
		b[0] = pktTypeACLData
		binary.LittleEndian.PutUint16(b[1:], handle&0x0fff|pb<<12)
		binary.LittleEndian.PutUint16(b[3:], uint16(n))
		copy(b[5:], l2[off:off+n])

		if !h.isOpen() {
			return ErrClosed
		}
		if _, err := h.skt.Write(b); err != nil {
			return err
		}

		off += n
		pb = pbfContinuing
	}
	return nil
}
