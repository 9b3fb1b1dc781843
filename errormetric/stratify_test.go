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
package errormetric_test

import (
	"testing"

	"github.com/grailbio/bamerror/errormetric"
	"github.com/grailbio/bamerror/pileup"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var testRef, _ = sam.NewReference("chr1", "", "", 2000000, nil, nil)

// newObs returns an observation of a single-read locus.  A zero refBase
// means "the read base at offset, or N if out of range".
func newObs(seq string, offset int, forward bool, refBase byte) (*pileup.ReadObservation, *pileup.Locus) {
	var flags sam.Flags
	if !forward {
		flags |= sam.Reverse
	}
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = byte(30 + i)
	}
	rec := &sam.Record{
		Name:  "read",
		Ref:   testRef,
		Pos:   0,
		MapQ:  42,
		Flags: flags,
		Seq:   sam.NewSeq([]byte(seq)),
		Qual:  qual,
	}
	if refBase == 0 {
		refBase = 'N'
		if offset >= 0 && offset < len(seq) {
			refBase = seq[offset]
		}
	}
	obs := pileup.NewReadObservation(rec, offset)
	locus := &pileup.Locus{Ref: testRef, Pos: offset, RefBase: refBase, Reads: []pileup.ReadObservation{obs}}
	return &locus.Reads[0], locus
}

type stratCase struct {
	offset  int
	forward bool
	want    string // "" means absent
}

func checkStratifier(t *testing.T, s errormetric.Stratifier, seq string, refBase byte, cases []stratCase) {
	t.Helper()
	for _, c := range cases {
		obs, locus := newObs(seq, c.offset, c.forward, refBase)
		got, ok := s.Stratify(obs, locus)
		if c.want == "" {
			expect.False(t, ok, "%s offset=%d forward=%v: got %q", s.Suffix(), c.offset, c.forward, got)
			continue
		}
		expect.True(t, ok, "%s offset=%d forward=%v", s.Suffix(), c.offset, c.forward)
		expect.EQ(t, got, errormetric.Stratum(c.want), "%s offset=%d forward=%v", s.Suffix(), c.offset, c.forward)
	}
}

// expand builds cases for consecutive offsets starting at first.
func expand(first int, forward bool, wants ...string) []stratCase {
	cases := make([]stratCase, len(wants))
	for i, w := range wants {
		cases[i] = stratCase{first + i, forward, w}
	}
	return cases
}

func cat(cases ...[]stratCase) []stratCase {
	var all []stratCase
	for _, c := range cases {
		all = append(all, c...)
	}
	return all
}

const shortRead = "CATGGGGA"

func TestBaseStratifiers(t *testing.T) {
	tests := []struct {
		s     errormetric.Stratifier
		cases []stratCase
	}{
		{errormetric.ReadBaseStratifier, cat(
			expand(-1, true, "", "C", "A", "T", "G", "G", "G", "G", "A", ""),
			expand(-1, false, "", "G", "T", "A", "C", "C", "C", "C", "T", ""))},
		{errormetric.PreviousBaseStratifier, cat(
			expand(0, true, "", "C", "A", "T", "G", "G", "G", "G", "A", ""),
			expand(-2, false, "", "G", "T", "A", "C", "C", "C", "C", "T", ""))},
		{errormetric.NextBaseStratifier, cat(
			expand(-2, true, "", "C", "A", "T", "G", "G", "G", "G", "A", ""),
			expand(0, false, "", "G", "T", "A", "C", "C", "C", "C", "T", ""))},
		{errormetric.ReferenceBaseStratifier, cat(
			expand(-1, true, "", "C", "A", "T", "G", "G", "G", "G", "A", ""),
			expand(-1, false, "", "G", "T", "A", "C", "C", "C", "C", "T", ""))},
		{errormetric.PostDinucStratifier, cat(
			expand(-1, true, "", "CA", "AT", "TG", "GG", "GG", "GG", "GA", ""),
			expand(0, false, "", "TG", "AT", "CA", "CC", "CC", "CC", "TC", ""))},
		{errormetric.PreDinucStratifier, cat(
			expand(0, true, "", "CA", "AT", "TG", "GG", "GG", "GG", "GA", ""),
			expand(-1, false, "", "TG", "AT", "CA", "CC", "CC", "CC", "TC", ""))},
		{errormetric.HomopolymerLengthStratifier, cat(
			expand(-1, true, "", "1", "1", "1", "1", "2", "3", "4", "1", ""),
			expand(-1, false, "", "1", "1", "1", "4", "3", "2", "1", "1", ""))},
		{errormetric.HomopolymerStratifier, cat(
			expand(0, true, "", "CA,1", "AT,1", "TG,1", "GG,2", "GG,3", "GG,4", "GA,1", ""),
			expand(-1, false, "", "TG,1", "AT,1", "CA,1", "CC,4", "CC,3", "CC,2", "TC,1", ""))},
		{errormetric.OneBasePaddedContextStratifier, cat(
			expand(0, true, "", "CAT", "ATG", "TGG", "GGG", "GGG", "GGA", ""),
			expand(0, false, "", "ATG", "CAT", "CCA", "CCC", "CCC", "TCC", ""))},
		{errormetric.TwoBasePaddedContextStratifier, cat(
			expand(0, true, "", "", "CATGG", "ATGGG", "TGGGG", "GGGGA", "", ""),
			expand(0, false, "", "", "CCATG", "CCCAT", "CCCCA", "TCCCC", "", ""))},
		{errormetric.AllStratifier, cat(
			expand(0, true, "all", "all", "all", "all", "all", "all", "all", "all"),
			expand(0, false, "all", "all", "all", "all", "all", "all", "all", "all"))},
		{errormetric.ReadDirectionStratifier, []stratCase{{7, false, "NEGATIVE"}, {7, true, "POSITIVE"}}},
		{errormetric.CycleStratifier, cat(
			expand(-1, true, "", "1", "2", "3", "4", "5", "6", "7", "8", ""),
			expand(-1, false, "", "8", "7", "6", "5", "4", "3", "2", "1", ""))},
		{errormetric.BaseQualityStratifier, cat(
			expand(-1, true, "", "30", "31"),
			expand(7, false, "37", ""))},
		{errormetric.MappingQualityStratifier, []stratCase{{3, true, "42"}}},
	}
	for _, tt := range tests {
		checkStratifier(t, tt.s, shortRead, 0, tt.cases)
	}
}

func TestHomopolymerStratifiers(t *testing.T) {
	const read = "CATGGGGAAAAAAAAA"
	checkStratifier(t, errormetric.HomopolymerLengthStratifier, read, 'G', cat(
		expand(-1, true, "1", "1", "1", "1", "1", "2", "3", "4", "5", "1"),
		expand(-1, false, "1", "1", "1", "5", "4", "3", "2", "1", "1", "1")))

	binned := errormetric.NewBinnedHomopolymerStratifier(6)
	expect.EQ(t, binned.Suffix(), "binned_homopolymer")
	checkStratifier(t, binned, read, 'A', cat(
		expand(7, true, "GA,SHORT_HOMOPOLYMER"),
		expand(8, true, "AA,SHORT_HOMOPOLYMER", "AA,SHORT_HOMOPOLYMER", "AA,SHORT_HOMOPOLYMER", "AA,SHORT_HOMOPOLYMER"),
		expand(12, true, "AA,LONG_HOMOPOLYMER", "AA,LONG_HOMOPOLYMER", "AA,LONG_HOMOPOLYMER", "AA,LONG_HOMOPOLYMER", "AA,LONG_HOMOPOLYMER")))

	// A lower threshold moves the boundary.
	checkStratifier(t, errormetric.NewBinnedHomopolymerStratifier(2), read, 'A', cat(
		expand(7, true, "GA,SHORT_HOMOPOLYMER", "AA,LONG_HOMOPOLYMER")))

	// No-call reference.
	checkStratifier(t, errormetric.HomopolymerLengthStratifier, read, 'N', expand(3, true, ""))
	checkStratifier(t, binned, read, 'N', expand(3, true, ""))
}

func TestNoCallBases(t *testing.T) {
	const read = "CANGG"
	checkStratifier(t, errormetric.ReadBaseStratifier, read, 0, expand(1, true, "A", "", "G"))
	checkStratifier(t, errormetric.PreviousBaseStratifier, read, 0, expand(3, true, "", "G"))
	checkStratifier(t, errormetric.PostDinucStratifier, read, 0, expand(1, true, "", "", "GG"))
	checkStratifier(t, errormetric.ReferenceBaseStratifier, read, 0, expand(2, true, ""))
	// Padded contexts keep interior no-calls.
	checkStratifier(t, errormetric.OneBasePaddedContextStratifier, read, 0, expand(2, true, "ANG"))
}

func TestReadOrdinalityStratifier(t *testing.T) {
	tests := []struct {
		flags sam.Flags
		want  string
		ok    bool
	}{
		{0, "", false},
		{sam.Paired | sam.Read1, "FIRST", true},
		{sam.Paired | sam.Read2, "SECOND", true},
		{sam.Read1, "", false},
		{sam.Paired, "", false},
		{sam.Paired | sam.Read1 | sam.Read2, "", false},
	}
	for _, tt := range tests {
		obs, locus := newObs(shortRead, 1, true, 0)
		obs.Rec.Flags = tt.flags
		got, ok := errormetric.ReadOrdinalityStratifier.Stratify(obs, locus)
		expect.EQ(t, ok, tt.ok, "flags %v", tt.flags)
		expect.EQ(t, got, errormetric.Stratum(tt.want), "flags %v", tt.flags)
	}
}

func TestPairOrientationStratifier(t *testing.T) {
	obs, locus := newObs(shortRead, 1, true, 0)
	obs.Rec.MateRef = testRef
	obs.Rec.Flags = sam.Paired | sam.Read1 | sam.MateReverse
	got, ok := errormetric.PairOrientationStratifier.Stratify(obs, locus)
	expect.True(t, ok)
	expect.EQ(t, got, errormetric.Stratum("F1R2"))

	obs.Rec.Flags = sam.Paired | sam.Read2 | sam.MateReverse
	got, ok = errormetric.PairOrientationStratifier.Stratify(obs, locus)
	expect.True(t, ok)
	expect.EQ(t, got, errormetric.Stratum("F2R1"))

	// The mate's placement does not matter.
	other, err := sam.NewReference("chr2", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	obs.Rec.MateRef = other
	for _, tt := range []struct {
		flags sam.Flags
		want  errormetric.Stratum
	}{
		{sam.Paired | sam.Read1, "F1R2"},
		{sam.Paired | sam.Read1 | sam.Reverse | sam.MateReverse, "F2R1"},
		{sam.Paired | sam.Read2 | sam.Reverse, "F1R2"},
		{sam.Paired | sam.Read2, "F2R1"},
	} {
		obs.Rec.Flags = tt.flags
		got, ok = errormetric.PairOrientationStratifier.Stratify(obs, locus)
		expect.True(t, ok, tt.flags)
		expect.EQ(t, got, tt.want, tt.flags)
	}

	for _, flags := range []sam.Flags{0, sam.Read1, sam.Paired, sam.Paired | sam.Read1 | sam.Read2} {
		obs.Rec.Flags = flags
		_, ok = errormetric.PairOrientationStratifier.Stratify(obs, locus)
		expect.False(t, ok, flags)
	}
}

func TestReferenceContextStratifier(t *testing.T) {
	for _, tt := range []struct {
		forward bool
		window  string
		start   int
		want    string
	}{
		{true, "acGTa", 3, "CGT"},
		{false, "acGTa", 3, "ACG"},
		{true, "GT", 4, ""},
	} {
		obs, locus := newObs(shortRead, 2, tt.forward, 0)
		locus.Pos = 5
		locus.Window = []byte(tt.window)
		locus.WindowStart = tt.start
		got, ok := errormetric.ReferenceContextStratifier.Stratify(obs, locus)
		expect.EQ(t, ok, tt.want != "")
		expect.EQ(t, got, errormetric.Stratum(tt.want))
	}
}

func TestPairStratifier(t *testing.T) {
	s := errormetric.NewPairStratifier("", errormetric.ReadBaseStratifier, errormetric.CycleStratifier)
	expect.EQ(t, s.Suffix(), "read_base_and_cycle")
	checkStratifier(t, s, shortRead, 0, cat(
		expand(0, true, "C,1", "A,2"),
		expand(8, true, "")))
}

func TestNewStratifier(t *testing.T) {
	for _, name := range errormetric.StratifierNames() {
		s, err := errormetric.NewStratifier(name, 6)
		assert.NoError(t, err, name)
		expect.NotNil(t, s, name)
	}
	s, err := errormetric.NewStratifier(" cycle ", 6)
	assert.NoError(t, err)
	expect.EQ(t, s.Suffix(), "cycle")

	_, err = errormetric.NewStratifier("GC_CONTENT", 6)
	expect.NotNil(t, err)
	_, err = errormetric.NewStratifier("BINNED_HOMOPOLYMER", 0)
	expect.NotNil(t, err)
}
