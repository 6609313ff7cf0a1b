/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
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

package logger

import (
	"log"
	"strings"

	loglvl "github.com/imsconnect/gateway/logger/level"
)

// SetIOWriterLevel changes the level used when this logger is used as an io.Writer.
func (o *logger) SetIOWriterLevel(lvl loglvl.Level) {
	o.x.Store(keyWriter, lvl)
}

// GetIOWriterLevel returns the level used when this logger is used as an io.Writer.
func (o *logger) GetIOWriterLevel() loglvl.Level {
	if o == nil || o.x == nil {
		return loglvl.InfoLevel
	} else if i, l := o.x.Load(keyWriter); !l {
		return loglvl.InfoLevel
	} else if v, k := i.(loglvl.Level); !k {
		return loglvl.InfoLevel
	} else {
		return v
	}
}

// SetIOWriterFilter replaces the list of patterns that drop a message written
// through the io.Writer interface when matched.
func (o *logger) SetIOWriterFilter(pattern ...string) {
	o.x.Store(keyFilter, pattern)
}

// AddIOWriterFilter appends patterns to the io.Writer filter list.
func (o *logger) AddIOWriterFilter(pattern ...string) {
	o.x.Store(keyFilter, append(o.getIOWriterFilter(), pattern...))
}

func (o *logger) getIOWriterFilter() []string {
	if o == nil || o.x == nil {
		return nil
	} else if i, l := o.x.Load(keyFilter); !l {
		return nil
	} else if v, k := i.([]string); !k {
		return nil
	} else {
		return v
	}
}

// Write implements io.Writer so this logger can back a standard library *log.Logger.
func (o *logger) Write(p []byte) (n int, err error) {
	msg := strings.TrimRight(string(p), "\r\n")

	for _, pat := range o.getIOWriterFilter() {
		if pat != "" && strings.Contains(msg, pat) {
			return len(p), nil
		}
	}

	o.newEntryClean(msg).Log()

	return len(p), nil
}

// Close implements io.Closer. There is no underlying resource to release.
func (o *logger) Close() error {
	return nil
}

// GetStdLogger returns a standard library *log.Logger that writes through this logger.
func (o *logger) GetStdLogger(lvl loglvl.Level, logFlags int) *log.Logger {
	o.SetIOWriterLevel(lvl)
	return log.New(o, "", logFlags)
}

// SetStdLogger redirects the standard library's default logger through this logger.
func (o *logger) SetStdLogger(lvl loglvl.Level, logFlags int) {
	o.SetIOWriterLevel(lvl)
	log.SetOutput(o)
	log.SetPrefix("")
	log.SetFlags(logFlags)
}
