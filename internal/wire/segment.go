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
)

// SegmentPosition is the high-2-bit field of a segment's control word.
type SegmentPosition uint8

const (
	PosMiddle SegmentPosition = 0
	PosFirst  SegmentPosition = 1
	PosLast   SegmentPosition = 2
	PosOnly   SegmentPosition = 3
)

// SegmentKind is the low-14-bit optional segment type field.
type SegmentKind uint16

const (
	KindNone       SegmentKind = 0
	KindInput      SegmentKind = 1
	KindOutput     SegmentKind = 2
	KindScratchPad SegmentKind = 3
	KindStatus     SegmentKind = 4
)

// Segment is one LL/ZZ-framed variable-length message segment.
type Segment struct {
	Position SegmentPosition
	Kind     SegmentKind
	Data     []byte
}

func (s Segment) control() uint16 {
	return uint16(s.Position)<<14 | (uint16(s.Kind) & 0x3FFF)
}

func positionOf(control uint16) SegmentPosition {
	return SegmentPosition(control >> 14)
}

func kindOf(control uint16) SegmentKind {
	return SegmentKind(control & 0x3FFF)
}

// IsTerminal reports whether this segment ends the segment stream (LAST or ONLY).
func (s Segment) IsTerminal() bool {
	return s.Position == PosLast || s.Position == PosOnly
}

// trailerBytes is the explicit 4-byte end-of-message marker used by legacy
// (no-OTMA) responses that carry no terminal segment of their own.
var trailerBytes = []byte{0x00, 0x04, 0x00, 0x00}

// encodeSegment serializes one segment as LL|ZZ|data.
func encodeSegment(s Segment) []byte {
	ll := uint16(4 + len(s.Data))
	out := make([]byte, 4+len(s.Data))
	binary.BigEndian.PutUint16(out[0:2], ll)
	binary.BigEndian.PutUint16(out[2:4], s.control())
	copy(out[4:], s.Data)
	return out
}

// decodeSegments parses a run of LL/ZZ segments from b until a terminal
// segment (LAST/ONLY) is found or the explicit trailer is seen. It returns
// the parsed segments and the number of bytes consumed from b. It never
// reads past len(b).
func decodeSegments(b []byte) ([]Segment, int, liberr.Error) {
	var (
		segs []Segment
		off  int
	)

	for off < len(b) {
		if len(b)-off < 2 {
			return nil, 0, CodeUnderflow.Error(nil)
		}

		ll := binary.BigEndian.Uint16(b[off : off+2])

		if ll == 4 && off+4 <= len(b) {
			zz := binary.BigEndian.Uint16(b[off+2 : off+4])
			if zz == 0 {
				// explicit trailer: terminates the stream without being a data segment.
				off += 4
				return segs, off, nil
			}
		}

		if ll < MinSegmentLen || ll > MaxSegmentLen {
			return nil, 0, CodeBadSegmentLength.Error(nil)
		}

		if off+int(ll) > len(b) {
			return nil, 0, CodeUnderflow.Error(nil)
		}

		control := binary.BigEndian.Uint16(b[off+2 : off+4])
		data := make([]byte, int(ll)-4)
		copy(data, b[off+4:off+int(ll)])

		seg := Segment{
			Position: positionOf(control),
			Kind:     kindOf(control),
			Data:     data,
		}
		segs = append(segs, seg)
		off += int(ll)

		if seg.IsTerminal() {
			return segs, off, nil
		}
	}

	return segs, off, nil
}

// Reassemble concatenates segment payloads in receive order (spec.md §4.2,
// invariant 2 in §8).
func Reassemble(segs []Segment) []byte {
	var total int
	for _, s := range segs {
		total += len(s.Data)
	}

	out := make([]byte, 0, total)
	for _, s := range segs {
		out = append(out, s.Data...)
	}

	return out
}

// Segmentize splits payload into one ONLY segment, or a FIRST/MIDDLE*/LAST
// sequence, per the configured maximum segment size (spec.md §4.2
// "Segmentation algorithm"). max defaults to DefaultMaxSeg when <= 0 and is
// floored at MinMaxSeg.
func Segmentize(payload []byte, max int) []Segment {
	if max <= 0 {
		max = DefaultMaxSeg
	}
	if max < MinMaxSeg {
		max = MinMaxSeg
	}

	chunk := max - 4
	if chunk < 1 {
		chunk = 1
	}

	if len(payload) <= chunk {
		return []Segment{{Position: PosOnly, Data: payload}}
	}

	var segs []Segment
	off := 0
	first := true

	for off < len(payload) {
		end := off + chunk
		last := false
		if end >= len(payload) {
			end = len(payload)
			last = true
		}

		var pos SegmentPosition
		switch {
		case first && last:
			pos = PosOnly
		case first:
			pos = PosFirst
		case last:
			pos = PosLast
		default:
			pos = PosMiddle
		}

		segs = append(segs, Segment{Position: pos, Data: payload[off:end]})
		off = end
		first = false
	}

	return segs
}
