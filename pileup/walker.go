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
	"fmt"
	"io"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/bamerror/interval"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// RecordIterator yields coordinate-sorted alignment records.
type RecordIterator interface {
	Scan() bool
	Record() *sam.Record
	Err() error
}

// BAMIterator adapts a bam.Reader to RecordIterator.
type BAMIterator struct {
	r   *bam.Reader
	rec *sam.Record
	err error
}

// NewBAMIterator returns a RecordIterator which reads every record in r.
func NewBAMIterator(r *bam.Reader) *BAMIterator {
	return &BAMIterator{r: r}
}

// Scan implements RecordIterator.
func (it *BAMIterator) Scan() bool {
	if it.err != nil {
		return false
	}
	rec, err := it.r.Read()
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		return false
	}
	it.rec = rec
	return true
}

// Record implements RecordIterator.
func (it *BAMIterator) Record() *sam.Record { return it.rec }

// Err implements RecordIterator.
func (it *BAMIterator) Err() error { return it.err }

// WalkerOpts controls which read bases are piled up.
type WalkerOpts struct {
	// FlagExclude is a sam.Flags mask; records with any of these bits set are
	// skipped.
	FlagExclude int
	// Mapq is the minimum mapping quality.
	Mapq int
	// MinBaseQual is the minimum base quality.  Bases below it are left out of
	// their locus.  Reads without qualities always pass.
	MinBaseQual int
	// Padding is the number of reference bases retained on each side of a
	// locus in Locus.Window.
	Padding int
	// Intervals, if non-nil, restricts piled-up bases to the loci it
	// contains.  It must have been built with the input's header.
	Intervals *interval.BEDUnion
}

// DefaultWalkerOpts excludes unmapped, secondary, supplementary, QC-failed
// and duplicate records.
var DefaultWalkerOpts = WalkerOpts{
	FlagExclude: int(sam.Unmapped | sam.Secondary | sam.QCFail | sam.Duplicate | sam.Supplementary),
	Mapq:        20,
	MinBaseQual: 20,
	Padding:     1,
}

// pendingLocus orders in-progress loci by position within the current
// reference.
type pendingLocus struct {
	pos   int
	locus *Locus
}

func (p pendingLocus) Compare(c llrb.Comparable) int {
	return p.pos - c.(pendingLocus).pos
}

// Walker turns a coordinate-sorted record stream into a stream of loci.  A
// locus is emitted once no later record can start at or before its position.
// Every aligned base passing the filters in WalkerOpts produces exactly one
// ReadObservation; deletions, skips and clips produce none.
//
// Usage:
//
//	w := pileup.NewWalker(iter, refSeqs, opts)
//	for w.Scan() {
//	  locus := w.Locus()
//	  ...
//	}
//	if err := w.Err(); err != nil { ... }
type Walker struct {
	iter    RecordIterator
	refSeqs []string
	opts    WalkerOpts

	pending llrb.Tree
	ready   []*Locus
	cur     *Locus
	curRef  *sam.Reference
	lastPos int
	done    bool
	err     error

	nRecords, nSkipped int
}

// NewWalker creates a Walker over iter.  refSeqs holds the reference sequence
// for each reference ID; a missing or empty entry makes every reference base
// on that reference 'N'.
func NewWalker(iter RecordIterator, refSeqs []string, opts WalkerOpts) *Walker {
	return &Walker{iter: iter, refSeqs: refSeqs, opts: opts}
}

// Scan advances to the next locus.  It returns false at the end of the input
// or on error.
func (w *Walker) Scan() bool {
	for len(w.ready) == 0 {
		if w.done {
			w.cur = nil
			return false
		}
		if !w.iter.Scan() {
			w.done = true
			if w.err = w.iter.Err(); w.err != nil {
				return false
			}
			w.flushBefore(-1)
			vlog.VI(1).Infof("pileup.Walker: %d records read, %d skipped", w.nRecords, w.nSkipped)
			continue
		}
		if err := w.add(w.iter.Record()); err != nil {
			w.err = err
			w.done = true
			w.ready = nil
			return false
		}
	}
	w.cur = w.ready[0]
	w.ready[0] = nil
	w.ready = w.ready[1:]
	return true
}

// Locus returns the current locus.  It is valid until the next call to Scan.
func (w *Walker) Locus() *Locus { return w.cur }

// Err returns the first error encountered.
func (w *Walker) Err() error { return w.err }

func (w *Walker) skip(rec *sam.Record) bool {
	return int(rec.Flags)&w.opts.FlagExclude != 0 ||
		int(rec.MapQ) < w.opts.Mapq ||
		rec.Ref == nil || rec.Pos < 0 || len(rec.Cigar) == 0
}

func (w *Walker) add(rec *sam.Record) error {
	w.nRecords++
	if w.skip(rec) {
		w.nSkipped++
		return nil
	}
	if w.curRef == nil || rec.Ref.ID() != w.curRef.ID() {
		if w.curRef != nil && rec.Ref.ID() < w.curRef.ID() {
			return fmt.Errorf("pileup.Walker: input not coordinate-sorted: %s on %s after %s", rec.Name, rec.Ref.Name(), w.curRef.Name())
		}
		w.flushBefore(-1)
		w.curRef = rec.Ref
		w.lastPos = rec.Pos
	}
	if rec.Pos < w.lastPos {
		return fmt.Errorf("pileup.Walker: input not coordinate-sorted: %s at %s:%d after position %d", rec.Name, rec.Ref.Name(), rec.Pos+1, w.lastPos+1)
	}
	w.lastPos = rec.Pos
	w.flushBefore(rec.Pos)

	seq := rec.Seq.Expand()
	posInRef := rec.Pos
	posInRead := 0
	for _, co := range rec.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				if w.passQual(rec, posInRead+i) && w.inIntervals(posInRef+i) {
					l := w.locusAt(posInRef + i)
					l.Reads = append(l.Reads, ReadObservation{Rec: rec, Seq: seq, Offset: posInRead + i})
				}
			}
			posInRef += n
			posInRead += n
		case sam.CigarInsertion, sam.CigarSoftClipped:
			posInRead += n
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += n
		case sam.CigarHardClipped, sam.CigarPadded:
		default:
			return fmt.Errorf("pileup.Walker: unexpected CIGAR operation %v in %s", co, rec.Name)
		}
	}
	return nil
}

func (w *Walker) passQual(rec *sam.Record, i int) bool {
	if w.opts.MinBaseQual <= 0 || i >= len(rec.Qual) || rec.Qual[0] == 0xff {
		return true
	}
	return int(rec.Qual[i]) >= w.opts.MinBaseQual
}

func (w *Walker) inIntervals(pos int) bool {
	return w.opts.Intervals == nil || w.opts.Intervals.ContainsByID(w.curRef.ID(), interval.PosType(pos))
}

// locusAt returns the pending locus at pos on the current reference, creating
// it if necessary.
func (w *Walker) locusAt(pos int) *Locus {
	key := pendingLocus{pos: pos}
	if c := w.pending.Get(key); c != nil {
		return c.(pendingLocus).locus
	}
	l := &Locus{Ref: w.curRef, Pos: pos, RefBase: 'N'}
	refID := w.curRef.ID()
	if refID >= 0 && refID < len(w.refSeqs) {
		if seq := w.refSeqs[refID]; pos < len(seq) {
			start := pos - w.opts.Padding
			if start < 0 {
				start = 0
			}
			end := pos + w.opts.Padding + 1
			if end > len(seq) {
				end = len(seq)
			}
			l.RefBase = seq[pos]
			l.Window = []byte(seq[start:end])
			l.WindowStart = start
		}
	}
	key.locus = l
	w.pending.Insert(key)
	return l
}

// flushBefore moves every pending locus at a position < pos to the ready
// queue.  A negative pos flushes everything.
func (w *Walker) flushBefore(pos int) {
	for w.pending.Len() > 0 {
		min := w.pending.Min().(pendingLocus)
		if pos >= 0 && min.pos >= pos {
			return
		}
		w.pending.DeleteMin()
		w.ready = append(w.ready, min.locus)
	}
}
