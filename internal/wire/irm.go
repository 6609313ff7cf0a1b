/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package wire implements the IMS Connect binary protocol: the fixed IRM
// request header, the optional OTMA header, LL/ZZ-framed variable-length
// segments and the end-of-message trailer (spec.md §3, §4.2, §6). Every
// decoder in this package is a pure function over a byte slice; there is no
// cross-message state here (spec.md §4.2 "Codec state machine").
package wire

// CommFlags bits (IRM offset +7).
const (
	CommFlagNakReason byte = 0x08
	CommFlagSyncNak   byte = 0x04
	CommFlagSyncAsync byte = 0x02
	CommFlagSyncOnly  byte = 0x01
)

// InputFlags bits (IRM offset +20).
const (
	InputFlagSingleNoWait byte = 0x80
	InputFlagAutoFlow     byte = 0x40
	InputFlagNoAutoFlow   byte = 0x20
	InputFlagXID          byte = 0x10
	InputFlagSingleWait   byte = 0x08
	InputFlagNoTranslate  byte = 0x02
	InputFlagNoOTMA       byte = 0x01
)

// ConnType values (IRM offset +22).
const (
	ConnTypeTransaction     byte = 0x00
	ConnTypePersistent      byte = 0x10
	ConnTypeNonPersistent   byte = 0x40
)

// UserFlags1 bits (IRM offset +32). UserFlagCancelExistingID is the source's
// IRMF3CANCID-equivalent bit: the spec names the behavior ("duplicate
// client-id with cancel") without fixing which bit carries it; this
// implementation assigns it the next free bit in the user_flags1 byte and
// documents the choice in DESIGN.md as an Open Question resolution.
const (
	UserFlagClientIDRequest  byte = 0x02
	UserFlagCancelExistingID byte = 0x04
	UserFlagMFSModNameReq    byte = 0x40
)

// MsgType values (IRM offset +35) — selects the dispatcher transition (spec.md §4.11).
const (
	MsgTypeSendReceive  byte = 0x40
	MsgTypeAck          byte = 0xC1
	MsgTypeCancelTimer  byte = 0xC3
	MsgTypeDeallocate   byte = 0xC4
	MsgTypeNak          byte = 0xD5
	MsgTypeResumeTpipe  byte = 0xD9
	MsgTypeSendOnlyAck  byte = 0xD2
	MsgTypeSendOnly     byte = 0xE2
)

// Architecture-bound IRM header lengths (the value of the irm_length field,
// counted from offset +4 through the end of the user portion).
const (
	IRMLenArch0 uint16 = 80
	IRMLenArch1 uint16 = 96
	IRMLenArch2 uint16 = 112
	IRMLenArch3 uint16 = 120
)

// IRMLengthForArchitecture returns the canonical irm_length for the given
// architecture level. Architectures 3, 4 and 5 all carry the mod_name field
// introduced at level 3 and share its length (spec.md §3 invariant: IRM
// length is one of exactly four values).
func IRMLengthForArchitecture(arch uint8) uint16 {
	switch {
	case arch == 0:
		return IRMLenArch0
	case arch == 1:
		return IRMLenArch1
	case arch == 2:
		return IRMLenArch2
	default:
		return IRMLenArch3
	}
}

// IRM is the fixed-layout request/response header (spec.md §3, §6).
type IRM struct {
	TotalLength uint32
	IRMLength   uint16
	Architecture uint8
	CommFlags   uint8
	IRMID       string
	NakReason   uint16
	InputFlags  uint8
	Timeout     uint8
	ConnType    uint8
	Encoding    uint8
	ClientID    string

	UserFlags1 uint8
	CommitMode uint8
	SyncFlags  uint8
	MsgType    uint8

	TxnCode     string
	Destination string
	LTerm       string
	UserID      string
	GroupID     string
	Password    string

	ApplicationName string // arch >= 1
	RerouteName     string // arch >= 1
	TagAdapter      string // arch >= 2
	TagMap          string // arch >= 2
	ModName         string // arch >= 3
}

// HasNoOTMA reports whether the "no-OTMA" input flag is set.
func (h *IRM) HasNoOTMA() bool {
	return h.InputFlags&InputFlagNoOTMA != 0
}

// WantsClientID reports whether the caller asked the server to assign a
// client id (user_flags1 bit 0x02).
func (h *IRM) WantsClientID() bool {
	return h.UserFlags1&UserFlagClientIDRequest != 0
}

// WantsModName reports whether the caller asked for the MFS mod name in the response.
func (h *IRM) WantsModName() bool {
	return h.UserFlags1&UserFlagMFSModNameReq != 0
}

// OTMA flag bits (offset +3 of the OTMA header). The source protocol names
// eight flags without fixing bit numbers; this implementation assigns them
// LSB-first in the order spec.md's glossary lists them, and documents the
// choice in DESIGN.md as an Open Question resolution.
const (
	OTMAFlagHold        byte = 0x01
	OTMAFlagContinue    byte = 0x02
	OTMAFlagLast        byte = 0x04
	OTMAFlagFirst       byte = 0x08
	OTMAFlagAckRequired byte = 0x10
	OTMAFlagSync        byte = 0x20
	OTMAFlagDequeue     byte = 0x40
	OTMAFlagResponse    byte = 0x80
)

// OTMA is the optional secondary header (spec.md §3, §6), present iff the
// IRM's "no-OTMA" input flag is clear.
type OTMA struct {
	Length      uint16
	Version     uint8
	Flags       uint8
	ConvID      uint32
	LTerm       string
	MsgType     uint8
	SyncLevel   uint8
	CommitMode  uint8
	ResponseMode uint8
}

func (o *OTMA) IsFirst() bool    { return o.Flags&OTMAFlagFirst != 0 }
func (o *OTMA) IsLast() bool     { return o.Flags&OTMAFlagLast != 0 }
func (o *OTMA) IsHold() bool     { return o.Flags&OTMAFlagHold != 0 }
func (o *OTMA) IsAckRequired() bool { return o.Flags&OTMAFlagAckRequired != 0 }
