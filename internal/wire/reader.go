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
	"bufio"
	"encoding/binary"
	"io"

	liberr "github.com/imsconnect/gateway/errors"
)

// Reader implements the "peek-length, wait-for-complete, slice, hand off"
// framing discipline over a streamed connection (spec.md §4.2 "Codec state
// machine"): it peeks the 4-byte length prefix without consuming it, then
// blocks until the whole declared frame has been read. A read error in the
// middle of a frame leaves the stream positioned inside that frame.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r with a small peek buffer used only to read the 4-byte
// total_length prefix without disturbing the stream on a short read.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 4096)
	}
	return &Reader{r: br}
}

// ReadFrame blocks until one complete frame is available, then returns its
// raw bytes (still including the total_length prefix). It returns a nil
// frame and nil error on a clean EOF with no bytes of a new frame pending.
func (fr *Reader) ReadFrame() ([]byte, liberr.Error) {
	head, err := fr.r.Peek(4)
	if err != nil {
		if err == io.EOF && len(head) == 0 {
			return nil, nil
		}
		return nil, CodeUnderflow.Error(err)
	}

	total := binary.BigEndian.Uint32(head)
	if total < MinTotalLength || total > MaxTotalLength {
		return nil, CodeInvalidLength.Error(nil)
	}

	frame := make([]byte, total)
	if _, err := io.ReadFull(fr.r, frame); err != nil {
		return nil, CodeUnderflow.Error(err)
	}

	return frame, nil
}
