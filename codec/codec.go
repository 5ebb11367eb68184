// Package codec holds the ESC/POS status commands and the decoders for their
// single-byte replies. Nothing here touches a transport.
package codec

import (
	"fmt"

	"github.com/nixxel-company-limited/escpos-status/status"
)

// Command is a fixed ESC/POS byte sequence.
type Command struct {
	Name  string
	Bytes []byte
}

// Reference: https://download4.epson.biz/sec_pubs/pos/reference_en/escpos/dle_eot.html
var (
	// ESC @
	CmdInitialize = Command{Name: "initialize", Bytes: []byte{0x1B, 0x40}}
	// FS q 1 clears the receive buffer and NV graphics.
	CmdClearBuffers = Command{Name: "clear", Bytes: []byte{0x1C, 0x71, 0x01}}
	// DLE EOT 1
	CmdGeneralStatus = Command{Name: "general", Bytes: []byte{0x10, 0x04, 0x01}}
	// DLE EOT 2
	CmdOfflineCause = Command{Name: "offline_cause", Bytes: []byte{0x10, 0x04, 0x02}}
	// DLE EOT 4
	CmdPaperStatus = Command{Name: "paper", Bytes: []byte{0x10, 0x04, 0x04}}
)

// Status byte masks.
const (
	fixedBit0 = 0x01 // must be 0
	fixedBit1 = 0x02 // must be 1
	fixedBit4 = 0x10 // must be 1
	fixedBit7 = 0x80 // must be 0

	fixedMask  = fixedBit0 | fixedBit1 | fixedBit4 | fixedBit7
	fixedValue = fixedBit1 | fixedBit4

	generalCoverOpen = 0x08 // bit 3
	offlineCoverOpen = 0x04 // bit 2

	paperOutMask     = 0x60 // bits 5-6
	paperNearEndMask = 0x0C // bits 2-3
)

// MalformedError reports a status byte whose fixed bits do not match.
type MalformedError struct {
	Command string
	Value   byte
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s status byte 0x%02X", e.Command, e.Value)
}

// GeneralStatus is the decoded DLE EOT 1 reply.
type GeneralStatus struct {
	Raw byte
	// CoverOpen mirrors bit 3. The engine does not use it to decide cover
	// state; the offline-cause query is authoritative.
	CoverOpen bool
}

// DecodeGeneralStatus validates the fixed bits of a DLE EOT 1 reply. A
// mismatch yields a *MalformedError and the reply must not be trusted.
func DecodeGeneralStatus(b byte) (GeneralStatus, error) {
	if b&fixedMask != fixedValue {
		return GeneralStatus{Raw: b}, &MalformedError{Command: CmdGeneralStatus.Name, Value: b}
	}
	return GeneralStatus{Raw: b, CoverOpen: b&generalCoverOpen != 0}, nil
}

// DecodeOfflineCause returns the cover state encoded in a DLE EOT 2 reply.
func DecodeOfflineCause(b byte) status.CoverStatus {
	if b&offlineCoverOpen != 0 {
		return status.CoverOpen
	}
	return status.CoverClosed
}

// DecodePaperStatus maps a DLE EOT 4 reply to a paper state. Out is tested
// before near-end because both patterns can be set at once.
func DecodePaperStatus(b byte) status.PaperStatus {
	switch {
	case b&paperOutMask == paperOutMask:
		return status.PaperOut
	case b&paperNearEndMask == paperNearEndMask:
		return status.PaperNearEnd
	case b&paperOutMask == 0:
		return status.PaperOK
	default:
		return status.PaperUnknown
	}
}
