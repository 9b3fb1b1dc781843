// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import (
	"github.com/grailbio/hts/sam"
)

// ReadObservation is one aligned read's base at one reference locus.
// Offset is an index into the read's stored sequence (soft-clipped bases
// included), which is reverse-complemented relative to the sequencer output
// for reverse-strand reads.  Offset may lie outside [0, Len()); accessors
// treat such positions as absent rather than failing.
type ReadObservation struct {
	Rec    *sam.Record
	Seq    []byte // expanded ASCII sequence of Rec
	Offset int
}

// NewReadObservation expands rec's sequence and returns an observation at
// the given read offset.
func NewReadObservation(rec *sam.Record, offset int) ReadObservation {
	return ReadObservation{Rec: rec, Seq: rec.Seq.Expand(), Offset: offset}
}

// Name returns the read name.
func (o *ReadObservation) Name() string { return o.Rec.Name }

// Len returns the read length.
func (o *ReadObservation) Len() int { return len(o.Seq) }

// BaseAt returns the stored base at read offset i, or 'N' when i is out of
// range.
func (o *ReadObservation) BaseAt(i int) byte {
	if i < 0 || i >= len(o.Seq) {
		return 'N'
	}
	return o.Seq[i]
}

// Base returns the observed base, as stored.
func (o *ReadObservation) Base() byte { return o.BaseAt(o.Offset) }

// Qual returns the base quality at Offset.  ok is false if the read carries no
// qualities or Offset is out of range.
func (o *ReadObservation) Qual() (q byte, ok bool) {
	if o.Offset < 0 || o.Offset >= len(o.Rec.Qual) || o.Rec.Qual[0] == 0xff {
		return 0, false
	}
	return o.Rec.Qual[o.Offset], true
}

// Reverse is true iff the read is aligned to the reverse strand.
func (o *ReadObservation) Reverse() bool { return o.Rec.Flags&sam.Reverse != 0 }

// Paired is true iff the read has a mate.
func (o *ReadObservation) Paired() bool { return o.Rec.Flags&sam.Paired != 0 }

// Read1 is true for the first read of a pair.
func (o *ReadObservation) Read1() bool { return o.Rec.Flags&sam.Read1 != 0 }

// Read2 is true for the second read of a pair.
func (o *ReadObservation) Read2() bool { return o.Rec.Flags&sam.Read2 != 0 }

// Mapped is true iff the read itself is aligned.
func (o *ReadObservation) Mapped() bool { return o.Rec.Flags&sam.Unmapped == 0 }

// Secondary is true for secondary alignments.
func (o *ReadObservation) Secondary() bool { return o.Rec.Flags&sam.Secondary != 0 }

// Locus is one reference position together with every read base aligned to
// it.  Pos is 0-based.  Window holds the reference bases in
// [WindowStart, WindowStart+len(Window)), and always contains Pos when the
// reference sequence is known.
type Locus struct {
	Ref         *sam.Reference
	Pos         int
	RefBase     byte
	Window      []byte
	WindowStart int
	Reads       []ReadObservation
}

// RefID returns the reference ID of the locus, or -1 if it has none.
func (l *Locus) RefID() int {
	return l.Ref.ID()
}

// RefContext returns the reference bases in [Pos-before, Pos+after].  ok is
// false if the range extends past the retained window.
func (l *Locus) RefContext(before, after int) (ctx []byte, ok bool) {
	start := l.Pos - before - l.WindowStart
	end := l.Pos + after + 1 - l.WindowStart
	if start < 0 || end > len(l.Window) || start >= end {
		return nil, false
	}
	return l.Window[start:end], true
}
