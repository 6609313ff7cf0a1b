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

	liberr "github.com/imsconnect/gateway/errors"
	"github.com/imsconnect/gateway/internal/ebcdic"
)

const irmFixedLen = 32

// Message is a fully decoded request or response frame: IRM header, optional
// OTMA header, and the segment stream.
type Message struct {
	IRM  IRM
	OTMA *OTMA
	Segs []Segment
}

// Payload reassembles the data segments of the stream into one contiguous
// byte slice, skipping control segments (CSM/RSM/CID/RMM, Kind ==
// KindStatus) so callers get the business payload whether the message is a
// client request or a server response.
func (m *Message) Payload() []byte {
	var data []Segment
	for _, s := range m.Segs {
		if s.Kind != KindStatus {
			data = append(data, s)
		}
	}
	return Reassemble(data)
}

// IsLast reports whether the decoded message closed its conversational turn
// (OTMA last flag, or — when no OTMA header is present — a LAST/ONLY segment).
func (m *Message) IsLast() bool {
	if m.OTMA != nil {
		return m.OTMA.IsLast()
	}
	for _, s := range m.Segs {
		if s.IsTerminal() {
			return true
		}
	}
	return false
}

// Decode parses one complete frame from b. b must contain exactly one
// frame's worth of bytes (the caller is responsible for the "wait until
// total_length bytes are available" framing discipline — see Reader).
func Decode(b []byte) (*Message, liberr.Error) {
	if len(b) < 4 {
		return nil, CodeUnderflow.Error(nil)
	}

	total := binary.BigEndian.Uint32(b[0:4])
	if total < MinTotalLength || total > MaxTotalLength {
		return nil, CodeInvalidLength.Error(nil)
	}

	if uint64(len(b)) < uint64(total) {
		return nil, CodeUnderflow.Error(nil)
	}

	b = b[:total]

	if len(b) < 4+irmFixedLen {
		return nil, CodeBadIRM.Error(nil)
	}

	irmLen := binary.BigEndian.Uint16(b[4:6])
	arch := b[6]

	expect := IRMLengthForArchitecture(arch)
	if irmLen != expect {
		return nil, CodeUnsupportedArchitecture.Error(nil)
	}

	// irmLen is counted from offset 4 (i.e. excludes the 4-byte total_length
	// prefix); the user portion therefore ends at offset 4+irmLen.
	userEnd := 4 + int(irmLen)
	if userEnd > len(b) {
		return nil, CodeUnderflow.Error(nil)
	}

	h := IRM{
		TotalLength:  total,
		IRMLength:    irmLen,
		Architecture: arch,
		CommFlags:    b[7],
		IRMID:        ebcdic.FromFixedLength(b[8:16]),
		NakReason:    binary.BigEndian.Uint16(b[16:18]),
		InputFlags:   b[20],
		Timeout:      b[21],
		ConnType:     b[22],
		Encoding:     b[23],
		ClientID:     ebcdic.FromFixedLength(b[24:32]),
	}

	off := irmFixedLen
	if off+4 > userEnd {
		return nil, CodeBadIRM.Error(nil)
	}

	h.UserFlags1 = b[off]
	h.CommitMode = b[off+1]
	h.SyncFlags = b[off+2]
	h.MsgType = b[off+3]
	off += 4

	fields := []*string{&h.TxnCode, &h.Destination, &h.LTerm, &h.UserID, &h.GroupID, &h.Password}
	for _, f := range fields {
		if off+8 > userEnd {
			return nil, CodeBadIRM.Error(nil)
		}
		*f = ebcdic.FromFixedLength(b[off : off+8])
		off += 8
	}

	if arch >= 1 {
		for _, f := range []*string{&h.ApplicationName, &h.RerouteName} {
			if off+8 > userEnd {
				return nil, CodeBadIRM.Error(nil)
			}
			*f = ebcdic.FromFixedLength(b[off : off+8])
			off += 8
		}
	}

	if arch >= 2 {
		for _, f := range []*string{&h.TagAdapter, &h.TagMap} {
			if off+8 > userEnd {
				return nil, CodeBadIRM.Error(nil)
			}
			*f = ebcdic.FromFixedLength(b[off : off+8])
			off += 8
		}
	}

	if arch >= 3 {
		if off+8 > userEnd {
			return nil, CodeBadIRM.Error(nil)
		}
		h.ModName = ebcdic.FromFixedLength(b[off : off+8])
		off += 8
	}

	off = userEnd

	var otma *OTMA
	if h.InputFlags&InputFlagNoOTMA == 0 {
		o, n, e := decodeOTMA(b[off:])
		if e != nil {
			return nil, e
		}
		otma = o
		off += n
	}

	segs, _, e := decodeSegments(b[off:])
	if e != nil {
		return nil, e
	}

	return &Message{IRM: h, OTMA: otma, Segs: segs}, nil
}

const otmaLen = 20

func decodeOTMA(b []byte) (*OTMA, int, liberr.Error) {
	if len(b) < otmaLen {
		return nil, 0, CodeUnderflow.Error(nil)
	}

	o := &OTMA{
		Length:       binary.BigEndian.Uint16(b[0:2]),
		Version:      b[2],
		Flags:        b[3],
		ConvID:       binary.BigEndian.Uint32(b[4:8]),
		LTerm:        ebcdic.FromFixedLength(b[8:16]),
		MsgType:      b[16],
		SyncLevel:    b[17],
		CommitMode:   b[18],
		ResponseMode: b[19],
	}

	return o, otmaLen, nil
}

func encodeOTMA(o *OTMA) []byte {
	b := make([]byte, otmaLen)
	binary.BigEndian.PutUint16(b[0:2], otmaLen)
	b[2] = o.Version
	b[3] = o.Flags
	binary.BigEndian.PutUint32(b[4:8], o.ConvID)
	copy(b[8:16], ebcdic.ToFixedLength(o.LTerm, 8, ' '))
	b[16] = o.MsgType
	b[17] = o.SyncLevel
	b[18] = o.CommitMode
	b[19] = o.ResponseMode
	return b
}

// encodeIRM serializes the full 32-byte fixed prefix plus the user portion,
// i.e. bytes [4, 4+irmLen) of the final frame (the caller prepends the
// 4-byte total_length once the full frame size is known).
func encodeIRM(h *IRM) []byte {
	irmLen := IRMLengthForArchitecture(h.Architecture)
	b := make([]byte, irmLen)

	binary.BigEndian.PutUint16(b[0:2], irmLen)
	b[2] = h.Architecture
	b[3] = h.CommFlags
	copy(b[4:12], ebcdic.ToFixedLength(h.IRMID, 8, ' '))
	binary.BigEndian.PutUint16(b[12:14], h.NakReason)
	b[16] = h.InputFlags
	b[17] = h.Timeout
	b[18] = h.ConnType
	b[19] = h.Encoding
	copy(b[20:28], ebcdic.ToFixedLength(h.ClientID, 8, ' '))

	b[28] = h.UserFlags1
	b[29] = h.CommitMode
	b[30] = h.SyncFlags
	b[31] = h.MsgType

	off := 32
	for _, f := range []string{h.TxnCode, h.Destination, h.LTerm, h.UserID, h.GroupID, h.Password} {
		copy(b[off:off+8], ebcdic.ToFixedLength(f, 8, ' '))
		off += 8
	}

	if h.Architecture >= 1 {
		for _, f := range []string{h.ApplicationName, h.RerouteName} {
			copy(b[off:off+8], ebcdic.ToFixedLength(f, 8, ' '))
			off += 8
		}
	}

	if h.Architecture >= 2 {
		for _, f := range []string{h.TagAdapter, h.TagMap} {
			copy(b[off:off+8], ebcdic.ToFixedLength(f, 8, ' '))
			off += 8
		}
	}

	if h.Architecture >= 3 {
		copy(b[off:off+8], ebcdic.ToFixedLength(h.ModName, 8, ' '))
		off += 8
	}

	return b
}
