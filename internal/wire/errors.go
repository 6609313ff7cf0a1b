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
	liberr "github.com/imsconnect/gateway/errors"
)

// Protocol error codes (spec.md §7 "Protocol" category). Recoverable only by
// closing the connection after emitting an error frame when possible.
const (
	CodeInvalidLength liberr.CodeError = liberr.MinPkgProtocol + iota
	CodeUnderflow
	CodeBadSegmentLength
	CodeUnsupportedArchitecture
	CodeBadIRM
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgProtocol, func(code liberr.CodeError) string {
		switch code {
		case CodeInvalidLength:
			return "total message length out of bounds"
		case CodeUnderflow:
			return "frame truncated: declared length exceeds available bytes"
		case CodeBadSegmentLength:
			return "segment LL out of bounds"
		case CodeUnsupportedArchitecture:
			return "unsupported IRM architecture level"
		case CodeBadIRM:
			return "malformed IRM header"
		default:
			return liberr.UnknownMessage
		}
	})
}

// Wire-level size bounds (spec.md §4.2 decode contract, §4.2 segmentation algorithm).
const (
	MinTotalLength = 36
	MaxTotalLength = 10 * 1024 * 1024
	MinSegmentLen  = 4
	MaxSegmentLen  = 32768
	DefaultMaxSeg  = 32768
	MinMaxSeg      = 8
)
