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
package errormetric

import (
	"github.com/grailbio/bamerror/pileup"
	"github.com/grailbio/hts/sam"
)

// MateLocator finds, for a read observed at a locus, the observation of its
// mate at the same locus.  It indexes the locus' reads by name once per
// locus and reuses the index for every lookup at that locus, so lookups cost
// O(1) amortized regardless of depth.  A MateLocator is not thread-safe.
type MateLocator struct {
	valid  bool
	refID  int
	pos    int
	reads  []pileup.ReadObservation
	byName map[string][]int

	nBuilds int
}

// NewMateLocator creates an empty MateLocator.
func NewMateLocator() *MateLocator {
	return &MateLocator{byName: make(map[string][]int)}
}

// FindMate returns the observation in locus.Reads that is obs' mate, or nil if
// there is none or the choice is ambiguous.
func (m *MateLocator) FindMate(obs *pileup.ReadObservation, locus *pileup.Locus) *pileup.ReadObservation {
	if !obs.Paired() {
		return nil
	}
	m.update(locus)
	var mate *pileup.ReadObservation
	for _, i := range m.byName[obs.Name()] {
		cand := &m.reads[i]
		if !AreMates(obs.Rec, cand.Rec) {
			continue
		}
		if mate != nil {
			return nil
		}
		mate = cand
	}
	return mate
}

func (m *MateLocator) update(locus *pileup.Locus) {
	if m.valid && m.refID == locus.RefID() && m.pos == locus.Pos && sameReads(m.reads, locus.Reads) {
		return
	}
	for name := range m.byName {
		delete(m.byName, name)
	}
	for i := range locus.Reads {
		name := locus.Reads[i].Name()
		m.byName[name] = append(m.byName[name], i)
	}
	m.valid = true
	m.refID = locus.RefID()
	m.pos = locus.Pos
	m.reads = locus.Reads
	m.nBuilds++
}

func sameReads(a, b []pileup.ReadObservation) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

// AreMates reports whether r1 and r2 are the two mapped, primary reads of
// one pair, with r1's recorded mate position matching r2's alignment.
func AreMates(r1, r2 *sam.Record) bool {
	return r1.Name == r2.Name &&
		r1.Flags&sam.Paired != 0 && r2.Flags&sam.Paired != 0 &&
		(r1.Flags&sam.Read1 != 0) != (r2.Flags&sam.Read1 != 0) &&
		(r1.Flags&sam.Read2 != 0) != (r2.Flags&sam.Read2 != 0) &&
		r1.Flags&sam.Unmapped == 0 && r2.Flags&sam.Unmapped == 0 &&
		r1.Flags&sam.Secondary == 0 && r2.Flags&sam.Secondary == 0 &&
		r1.MatePos == r2.Pos && r1.MateRef.ID() == r2.Ref.ID()
}
