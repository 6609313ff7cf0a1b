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

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/imsconnect/gateway/internal/ebcdic"
)

// Control segment tags (spec.md §3 "Response segments", §6).
const (
	TagCSM = "*CSMOKY*"
	TagRSM = "*REQSTS*"
	TagCID = "*GENCID*"
	TagRMM = "*REQMOD*"
)

// MessageFieldLen is the fixed width of a human-readable error message
// field carried on every error frame (spec.md §7 "User-visible failure").
const MessageFieldLen = 80

func controlSegment(tag, rest string, width int) Segment {
	payload := make([]byte, 0, 8+width)
	payload = append(payload, ebcdic.ToFixedLength(tag, 8, ' ')...)
	if width > 0 {
		payload = append(payload, ebcdic.ToFixedLength(rest, width, ' ')...)
	}
	return Segment{Kind: KindStatus, Data: payload}
}

// Builder assembles response frames per spec.md §4.3: the total-length
// prefix is always written last (by Encode), CID/RMM segments are placed
// between CSM and any data segments, and MaxSegmentSize drives how data
// segments are chunked when a response carries one or more data payloads.
type Builder struct {
	MaxSegmentSize int
	LegacyTrailer  bool
}

// NewBuilder returns a Builder configured with the given segmentation
// ceiling (0 uses DefaultMaxSeg) and legacy-trailer mode (no OTMA header:
// the explicit 00 04 00 00 trailer closes the frame).
func NewBuilder(maxSegmentSize int, legacy bool) *Builder {
	return &Builder{MaxSegmentSize: maxSegmentSize, LegacyTrailer: legacy}
}

// replyIRM builds the skeleton IRM for a reply to req, carrying over the
// fields the client needs to correlate the response (architecture sizing,
// client id).
func (b *Builder) replyIRM(req *IRM) IRM {
	h := IRM{
		Architecture: req.Architecture,
		ClientID:     req.ClientID,
		IRMID:        req.IRMID,
		Encoding:     req.Encoding,
		ConnType:     req.ConnType,
	}
	return h
}

// Success builds a success frame: CSM, optionally CID (generated client id)
// and/or RMM (mod name), then any data segments.
func (b *Builder) Success(req *IRM, otma *OTMA, generatedClientID, modName string, data []byte) []byte {
	h := b.replyIRM(req)

	var segs []Segment
	segs = append(segs, controlSegment(TagCSM, "", 0))

	if generatedClientID != "" {
		segs = append(segs, controlSegment(TagCID, generatedClientID, 8))
	}
	if modName != "" {
		segs = append(segs, controlSegment(TagRMM, modName, 8))
	}

	if len(data) > 0 {
		segs = append(segs, Segmentize(data, b.MaxSegmentSize)...)
	}

	return Encode(&Message{IRM: h, OTMA: otma, Segs: segs}, b.LegacyTrailer)
}

// Error builds an error frame: RSM carrying return/reason codes and an
// 80-byte human-readable message (spec.md §7).
func (b *Builder) Error(req *IRM, otma *OTMA, returnCode, reasonCode uint16, message string) []byte {
	h := b.replyIRM(req)
	h.NakReason = reasonCode

	rest := fmt.Sprintf("%04d%04d%s", returnCode, reasonCode, message)
	if len(rest) > MessageFieldLen {
		rest = rest[:MessageFieldLen]
	}

	segs := []Segment{controlSegment(TagRSM, rest, MessageFieldLen)}

	return Encode(&Message{IRM: h, OTMA: otma, Segs: segs}, b.LegacyTrailer)
}

// Ack builds a bare acknowledgement frame (CSM only), optionally carrying a
// generated client id for a SEND_ONLY that also requested one.
func (b *Builder) Ack(req *IRM, otma *OTMA, generatedClientID string) []byte {
	return b.Success(req, otma, generatedClientID, "", nil)
}

// EmptyTrailer builds a success frame with no data segment, used to answer
// RECV_ONLY/RESUME_TPIPE when the client's queue is empty.
func (b *Builder) EmptyTrailer(req *IRM, otma *OTMA) []byte {
	return b.Success(req, otma, "", "", nil)
}

// returnCodeBytes is a small helper kept for callers that want the raw
// 4-byte big-endian encoding of a return/reason code pair (e.g. for audit
// logging), mirroring how the wire itself would encode them if ever framed
// as binary instead of digit text.
func returnCodeBytes(returnCode, reasonCode uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], returnCode)
	binary.BigEndian.PutUint16(b[2:4], reasonCode)
	return b
}
