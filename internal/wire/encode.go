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
)

// Encode serializes m into a complete frame: total_length prefix, IRM
// header, optional OTMA header, and the segment stream with the last
// segment's position bit forced to LAST/ONLY. When m.OTMA is nil and
// legacyTrailer is true, the explicit 00 04 00 00 trailer is appended
// instead of relying on a terminal segment (spec.md §4.2 encode contract).
func Encode(m *Message, legacyTrailer bool) []byte {
	h := m.IRM
	if m.OTMA != nil {
		h.InputFlags &^= InputFlagNoOTMA
	} else {
		h.InputFlags |= InputFlagNoOTMA
	}

	irmBytes := encodeIRM(&h)

	var body []byte
	body = append(body, irmBytes...)

	if m.OTMA != nil {
		body = append(body, encodeOTMA(m.OTMA)...)
	}

	segs := finalizeSegments(m.Segs)
	for _, s := range segs {
		body = append(body, encodeSegment(s)...)
	}

	if m.OTMA == nil && legacyTrailer && (len(segs) == 0 || !segs[len(segs)-1].IsTerminal()) {
		body = append(body, trailerBytes...)
	}

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(4+len(body)))
	copy(out[4:], body)
	return out
}

// finalizeSegments forces the last segment's position to LAST (if more than
// one segment) or ONLY (if exactly one), guaranteeing the stream always
// ends on a terminal segment.
func finalizeSegments(segs []Segment) []Segment {
	if len(segs) == 0 {
		return segs
	}

	out := make([]Segment, len(segs))
	copy(out, segs)

	last := len(out) - 1
	if last == 0 {
		out[0].Position = PosOnly
	} else {
		out[last].Position = PosLast
	}

	return out
}
