package hci

import (
	"fmt"
	"time"
)

// HCI Packet types
const (
	pktTypeCommand uint8 = 0x01
	pktTypeACLData uint8 = 0x02
	pktTypeSCOData uint8 = 0x03
	pktTypeEvent   uint8 = 0x04
	pktTypeVendor  uint8 = 0xFF
)

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	pbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	pbfContinuing            = 0x01 // Continuing fragment.
	pbfControllerToHostStart = 0x02 // Start of an automatically flushable from controller to host.
)

const (
	chCmdBufChanSize    = 16
	chCmdBufElementSize = 64
	chCmdBufTimeout     = time.Second * 5
	cmdTimeout          = time.Second * 3

	// LE-U minimum: 4 bytes of L2CAP header and 23 bytes of payload.
	defaultACLDataLength = 27
)

const (
	roleMaster = 0x00
	roleSlave  = 0x01
)

// Event codes [Vol 2, Part E, 7.7].
const (
	disconnectionCompleteCode        = 0x05
	encryptionChangeCode             = 0x08
	commandCompleteCode              = 0x0e
	commandStatusCode                = 0x0f
	hardwareErrorCode                = 0x10
	numberOfCompletedPacketsCode     = 0x13
	encryptionKeyRefreshCompleteCode = 0x30
	leMetaCode                       = 0x3e
	vendorCode                       = 0xff

	leConnectionCompleteSubCode         = 0x01
	leConnectionUpdateCompleteSubCode   = 0x03
	leLongTermKeyRequestSubCode         = 0x05
	leEnhancedConnectionCompleteSubCode = 0x0a
)

// ErrCommand is an HCI status code [Vol 2, Part D].
type ErrCommand byte

const (
	ErrUnknownCommand  ErrCommand = 0x01
	ErrConnID          ErrCommand = 0x02
	ErrAuthFailure     ErrCommand = 0x05
	ErrPinOrKeyMissing ErrCommand = 0x06
	ErrDisallowed      ErrCommand = 0x0c
	ErrInvalidParams   ErrCommand = 0x12
	ErrRemoteUser      ErrCommand = 0x13
	ErrLocalHost       ErrCommand = 0x16
	ErrUnspecified     ErrCommand = 0x1f
	ErrMIC             ErrCommand = 0x3d
)

var errCommandNames = map[ErrCommand]string{
	ErrUnknownCommand:  "unknown hci command",
	ErrConnID:          "unknown connection identifier",
	ErrAuthFailure:     "authentication failure",
	ErrPinOrKeyMissing: "pin or key missing",
	ErrDisallowed:      "command disallowed",
	ErrInvalidParams:   "invalid hci command parameters",
	ErrRemoteUser:      "remote user terminated connection",
	ErrLocalHost:       "connection terminated by local host",
	ErrUnspecified:     "unspecified error",
	ErrMIC:             "connection terminated due to mic failure",
}

func (e ErrCommand) Error() string {
	if s, ok := errCommandNames[e]; ok {
		return s
	}
	return fmt.Sprintf("hci status 0x%02x", uint8(e))
}
