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

// Package ebcdic provides round-trip conversion between IBM code page 037
// (the "mainframe-encoded" character set used on the wire by IMS Connect)
// and local 8-bit ASCII text, plus fixed-length field padding helpers used
// by the IRM/OTMA header codec.
package ebcdic

import "strings"

// Pad is the default pad character used by ToFixedLength when the caller
// does not care which byte fills unused space.
const Pad byte = ' '

// toEBCDIC and toASCII are generated from IBM code page 037. Index i of
// toEBCDIC gives the cp037 byte for ASCII rune i; index i of toASCII gives
// the ASCII byte for cp037 byte i. The tables are inverses of one another
// everywhere a 1:1 mapping exists; each table leaves its own unmapped bytes
// unchanged, so an unmapped byte that is also the cp037 value of a mapped
// character (e.g. 0xC1, 'A') does not round-trip.
var toEBCDIC [256]byte
var toASCII [256]byte

func init() {
	// identity by default, overridden below for the printable range cp037 defines.
	for i := 0; i < 256; i++ {
		toEBCDIC[i] = byte(i)
		toASCII[i] = byte(i)
	}

	for a, e := range cp037AsciiToEbcdic {
		toEBCDIC[a] = e
		toASCII[e] = byte(a)
	}
}

// cp037AsciiToEbcdic maps the ASCII printable range (space through tilde)
// plus control characters used by the protocol (NUL, tab, CR, LF) to their
// IBM code page 037 byte value.
var cp037AsciiToEbcdic = map[int]byte{
	0x00: 0x00, 0x09: 0x05, 0x0A: 0x25, 0x0D: 0x0D,
	' ': 0x40, '!': 0x5A, '"': 0x7F, '#': 0x7B, '$': 0x5B, '%': 0x6C, '&': 0x50,
	'\'': 0x7D, '(': 0x4D, ')': 0x5D, '*': 0x5C, '+': 0x4E, ',': 0x6B, '-': 0x60,
	'.': 0x4B, '/': 0x61,
	'0': 0xF0, '1': 0xF1, '2': 0xF2, '3': 0xF3, '4': 0xF4,
	'5': 0xF5, '6': 0xF6, '7': 0xF7, '8': 0xF8, '9': 0xF9,
	':': 0x7A, ';': 0x5E, '<': 0x4C, '=': 0x7E, '>': 0x6E, '?': 0x6F, '@': 0x7C,
	'A': 0xC1, 'B': 0xC2, 'C': 0xC3, 'D': 0xC4, 'E': 0xC5, 'F': 0xC6, 'G': 0xC7,
	'H': 0xC8, 'I': 0xC9, 'J': 0xD1, 'K': 0xD2, 'L': 0xD3, 'M': 0xD4, 'N': 0xD5,
	'O': 0xD6, 'P': 0xD7, 'Q': 0xD8, 'R': 0xD9, 'S': 0xE2, 'T': 0xE3, 'U': 0xE4,
	'V': 0xE5, 'W': 0xE6, 'X': 0xE7, 'Y': 0xE8, 'Z': 0xE9,
	'[': 0xAD, '\\': 0xE0, ']': 0xBD, '^': 0x5F, '_': 0x6D, '`': 0x79,
	'a': 0x81, 'b': 0x82, 'c': 0x83, 'd': 0x84, 'e': 0x85, 'f': 0x86, 'g': 0x87,
	'h': 0x88, 'i': 0x89, 'j': 0x91, 'k': 0x92, 'l': 0x93, 'm': 0x94, 'n': 0x95,
	'o': 0x96, 'p': 0x97, 'q': 0x98, 'r': 0x99, 's': 0xA2, 't': 0xA3, 'u': 0xA4,
	'v': 0xA5, 'w': 0xA6, 'x': 0xA7, 'y': 0xA8, 'z': 0xA9,
	'{': 0xC0, '|': 0x6A, '}': 0xD0, '~': 0xA1,
}

// Encode converts local ASCII text to its IBM code page 037 byte
// representation, one byte per rune. Bytes outside the mapped table pass
// through unchanged (the wire protocol only ever carries the mapped
// subset: transaction codes, LTERM names, user ids, passwords).
func Encode(s string) []byte {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b[i] = toEBCDIC[s[i]]
	}
	return b
}

// Decode converts mainframe-encoded (cp037) bytes back to local ASCII text.
func Decode(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = toASCII[c]
	}
	return string(out)
}

// ToFixedLength mainframe-encodes s and right-pads (after translation) with
// pad to exactly n bytes. If s is longer than n it is truncated to n bytes
// before encoding.
func ToFixedLength(s string, n int, pad byte) []byte {
	if len(s) > n {
		s = s[:n]
	}

	out := make([]byte, n)
	ep := toEBCDIC[pad]

	for i := 0; i < n; i++ {
		out[i] = ep
	}

	enc := Encode(s)
	copy(out, enc)

	return out
}

// FromFixedLength decodes a fixed-length mainframe-encoded field and trims
// trailing ASCII spaces (the decoded form of the field's pad byte) and NUL
// bytes.
func FromFixedLength(b []byte) string {
	return strings.TrimRight(Decode(b), " \x00")
}
