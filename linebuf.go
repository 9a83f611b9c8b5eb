// Copyright 2026 The Lunch Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lunch

import (
	"bytes"
)

// maxLineLength bounds the unterminated tail kept between chunks.  A
// longer line is delivered in pieces.
const maxLineLength = 64 * 1024

// lineBuffer reassembles lines from chunks of a byte stream.  The chunks
// delivered by a pipe or terminal need not end on a line boundary, so the
// unterminated tail of each chunk is carried over to the next one.
type lineBuffer struct {
	partial []byte
	max     int
}

// Feed appends a chunk and calls fn for every line it completes.  Line
// terminators, including a carriage return before the newline (which a
// pseudo-terminal adds), are stripped.  Empty lines are skipped.
func (lb *lineBuffer) Feed(chunk []byte, fn func(string)) {
	max := lb.max
	if max <= 0 {
		max = maxLineLength
	}
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			lb.partial = append(lb.partial, chunk...)
			for len(lb.partial) >= max {
				emitLine(lb.partial[:max], fn)
				lb.partial = append(lb.partial[:0], lb.partial[max:]...)
			}
			return
		}
		var line []byte
		if len(lb.partial) != 0 {
			line = append(lb.partial, chunk[:i]...)
			lb.partial = lb.partial[:0]
		} else {
			line = chunk[:i]
		}
		chunk = chunk[i+1:]
		emitLine(line, fn)
	}
}

// Pending returns the unterminated tail held back so far.
func (lb *lineBuffer) Pending() string {
	return string(lb.partial)
}

// Flush delivers the unterminated tail, if any, as a line of its own.
func (lb *lineBuffer) Flush(fn func(string)) {
	if len(lb.partial) != 0 {
		line := lb.partial
		lb.partial = nil
		emitLine(line, fn)
	}
}

func emitLine(line []byte, fn func(string)) {
	line = bytes.TrimRight(line, "\r")
	if len(line) != 0 {
		fn(string(line))
	}
}
