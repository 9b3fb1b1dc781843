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
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bamerror/pileup"
)

// Stratum is the rendered value of one stratification dimension.
type Stratum string

// Stratifier assigns a read base to a bin along one dimension.
type Stratifier interface {
	// Stratify returns the bin of obs at locus.  ok is false when no value can
	// be computed, e.g. a neighbor base past the end of the read.
	Stratify(obs *pileup.ReadObservation, locus *pileup.Locus) (s Stratum, ok bool)
	// Suffix names the dimension in output file names.
	Suffix() string
}

type stratifyFunc func(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool)

type funcStratifier struct {
	suffix string
	fn     stratifyFunc
}

func (s funcStratifier) Stratify(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool) {
	return s.fn(obs, locus)
}

func (s funcStratifier) Suffix() string { return s.suffix }

// seqOffset returns the read offset delta bases away from obs.Offset in
// sequencing order.
func seqOffset(obs *pileup.ReadObservation, delta int) int {
	if obs.Reverse() {
		return obs.Offset - delta
	}
	return obs.Offset + delta
}

// readBase returns the uppercase base at read offset i in sequencing
// orientation.
func readBase(obs *pileup.ReadObservation, i int) (byte, bool) {
	if i < 0 || i >= obs.Len() {
		return 0, false
	}
	b := obs.Seq[i]
	if pileup.IsNoCall(b) {
		return 0, false
	}
	if obs.Reverse() {
		return pileup.Complement(b), true
	}
	return pileup.Upper(b), true
}

// refBase returns the locus reference base in the orientation of obs.
func refBase(obs *pileup.ReadObservation, locus *pileup.Locus) (byte, bool) {
	b := locus.RefBase
	if pileup.IsNoCall(b) {
		return 0, false
	}
	if obs.Reverse() {
		return pileup.Complement(b), true
	}
	return pileup.Upper(b), true
}

func baseStratum(b byte, ok bool) (Stratum, bool) {
	if !ok {
		return "", false
	}
	return Stratum([]byte{b}), true
}

func dinucStratum(a byte, aOK bool, b byte, bOK bool) (Stratum, bool) {
	if !aOK || !bOK {
		return "", false
	}
	return Stratum([]byte{a, b}), true
}

// homopolymerLength counts the bases equal to the reference base that precede
// obs.Offset in sequencing order, plus one.
func homopolymerLength(obs *pileup.ReadObservation, locus *pileup.Locus) (int, bool) {
	ref := locus.RefBase
	if pileup.IsNoCall(ref) {
		return 0, false
	}
	n := 1
	for {
		i := seqOffset(obs, -n)
		if i < 0 || i >= obs.Len() || !pileup.BasesEqual(obs.Seq[i], ref) {
			return n, true
		}
		n++
	}
}

// paddedContext returns the read bases in [Offset-pad, Offset+pad] in
// sequencing orientation.
func paddedContext(obs *pileup.ReadObservation, pad int) (Stratum, bool) {
	start, end := obs.Offset-pad, obs.Offset+pad+1
	if start < 0 || end > obs.Len() {
		return "", false
	}
	ctx := make([]byte, end-start)
	for i, b := range obs.Seq[start:end] {
		ctx[i] = pileup.Upper(b)
	}
	if obs.Reverse() {
		pileup.ReverseComp(ctx, ctx)
	}
	return Stratum(ctx), true
}

var (
	// AllStratifier puts every base in the single bin "all".
	AllStratifier Stratifier = funcStratifier{"all", func(*pileup.ReadObservation, *pileup.Locus) (Stratum, bool) {
		return "all", true
	}}

	// ReadBaseStratifier bins by the called base.
	ReadBaseStratifier Stratifier = funcStratifier{"read_base", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		return baseStratum(readBase(obs, obs.Offset))
	}}

	// PreviousBaseStratifier bins by the base sequenced just before.
	PreviousBaseStratifier Stratifier = funcStratifier{"prev_base", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		return baseStratum(readBase(obs, seqOffset(obs, -1)))
	}}

	// NextBaseStratifier bins by the base sequenced just after.
	NextBaseStratifier Stratifier = funcStratifier{"next_base", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		return baseStratum(readBase(obs, seqOffset(obs, 1)))
	}}

	// ReferenceBaseStratifier bins by the reference base, in read orientation.
	ReferenceBaseStratifier Stratifier = funcStratifier{"ref_base", func(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool) {
		return baseStratum(refBase(obs, locus))
	}}

	// PreDinucStratifier bins by the previous and current bases.
	PreDinucStratifier Stratifier = funcStratifier{"pre_dinuc", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		prev, prevOK := readBase(obs, seqOffset(obs, -1))
		cur, curOK := readBase(obs, obs.Offset)
		return dinucStratum(prev, prevOK, cur, curOK)
	}}

	// PostDinucStratifier bins by the current and next bases.
	PostDinucStratifier Stratifier = funcStratifier{"post_dinuc", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		cur, curOK := readBase(obs, obs.Offset)
		next, nextOK := readBase(obs, seqOffset(obs, 1))
		return dinucStratum(cur, curOK, next, nextOK)
	}}

	// HomopolymerLengthStratifier bins by the length of the reference-base run
	// ending at the current base.
	HomopolymerLengthStratifier Stratifier = funcStratifier{"homopolymer_length", func(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool) {
		n, ok := homopolymerLength(obs, locus)
		if !ok {
			return "", false
		}
		return Stratum(strconv.Itoa(n)), true
	}}

	// HomopolymerStratifier bins by (previous base, reference base) and the
	// homopolymer length.
	HomopolymerStratifier Stratifier = NewPairStratifier("homopolymer", prevAndRefStratifier, HomopolymerLengthStratifier)

	// OneBasePaddedContextStratifier bins by the 3-mer of read bases centered
	// on the current base.
	OneBasePaddedContextStratifier Stratifier = funcStratifier{"one_base_padded_context", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		return paddedContext(obs, 1)
	}}

	// TwoBasePaddedContextStratifier bins by the 5-mer of read bases centered
	// on the current base.
	TwoBasePaddedContextStratifier Stratifier = funcStratifier{"two_base_padded_context", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		return paddedContext(obs, 2)
	}}

	// CycleStratifier bins by 1-based sequencing cycle.
	CycleStratifier Stratifier = funcStratifier{"cycle", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		if obs.Offset < 0 || obs.Offset >= obs.Len() {
			return "", false
		}
		if obs.Reverse() {
			return Stratum(strconv.Itoa(obs.Len() - obs.Offset)), true
		}
		return Stratum(strconv.Itoa(obs.Offset + 1)), true
	}}

	// ReadDirectionStratifier bins by alignment strand.
	ReadDirectionStratifier Stratifier = funcStratifier{"read_direction", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		if obs.Reverse() {
			return "NEGATIVE", true
		}
		return "POSITIVE", true
	}}

	// ReadOrdinalityStratifier bins paired reads into FIRST and SECOND.
	ReadOrdinalityStratifier Stratifier = funcStratifier{"read_ordinality", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		switch {
		case !obs.Paired():
			return "", false
		case obs.Read1() && !obs.Read2():
			return "FIRST", true
		case obs.Read2() && !obs.Read1():
			return "SECOND", true
		}
		return "", false
	}}

	// PairOrientationStratifier bins paired reads by the orientation of the
	// fragment they imply: F1R2 for a forward first read or a reverse second
	// read, F2R1 otherwise.  Only the read's own flags are consulted.
	PairOrientationStratifier Stratifier = funcStratifier{"pair_orientation", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		if !obs.Paired() || obs.Read1() == obs.Read2() {
			return "", false
		}
		if obs.Read1() != obs.Reverse() {
			return "F1R2", true
		}
		return "F2R1", true
	}}

	// BaseQualityStratifier bins by base quality.
	BaseQualityStratifier Stratifier = funcStratifier{"base_quality", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		q, ok := obs.Qual()
		if !ok {
			return "", false
		}
		return Stratum(strconv.Itoa(int(q))), true
	}}

	// MappingQualityStratifier bins by read mapping quality.
	MappingQualityStratifier Stratifier = funcStratifier{"mapping_quality", func(obs *pileup.ReadObservation, _ *pileup.Locus) (Stratum, bool) {
		return Stratum(strconv.Itoa(int(obs.Rec.MapQ))), true
	}}

	// ReferenceContextStratifier bins by the reference 3-mer centered on the
	// locus, in read orientation.
	ReferenceContextStratifier Stratifier = funcStratifier{"ref_context", func(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool) {
		ref, ok := locus.RefContext(1, 1)
		if !ok {
			return "", false
		}
		ctx := make([]byte, len(ref))
		for i, b := range ref {
			ctx[i] = pileup.Upper(b)
		}
		if obs.Reverse() {
			pileup.ReverseComp(ctx, ctx)
		}
		return Stratum(ctx), true
	}}

	prevAndRefStratifier Stratifier = funcStratifier{"prev_and_ref_base", func(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool) {
		prev, prevOK := readBase(obs, seqOffset(obs, -1))
		ref, refOK := refBase(obs, locus)
		return dinucStratum(prev, prevOK, ref, refOK)
	}}
)

const (
	shortHomopolymerBin = "SHORT_HOMOPOLYMER"
	longHomopolymerBin  = "LONG_HOMOPOLYMER"
)

// NewBinnedHomopolymerStratifier returns a stratifier over (previous base,
// reference base) and whether the homopolymer length reaches threshold.
func NewBinnedHomopolymerStratifier(threshold int) Stratifier {
	binned := funcStratifier{"homopolymer_bin", func(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool) {
		n, ok := homopolymerLength(obs, locus)
		if !ok {
			return "", false
		}
		if n >= threshold {
			return longHomopolymerBin, true
		}
		return shortHomopolymerBin, true
	}}
	return NewPairStratifier("binned_homopolymer", prevAndRefStratifier, binned)
}

type pairStratifier struct {
	suffix string
	a, b   Stratifier
}

// NewPairStratifier combines two stratifiers into one whose bins are the
// comma-joined pairs of their bins.  The result is absent if either side is.
// An empty suffix defaults to "<a>_and_<b>".
func NewPairStratifier(suffix string, a, b Stratifier) Stratifier {
	if suffix == "" {
		suffix = a.Suffix() + "_and_" + b.Suffix()
	}
	return pairStratifier{suffix: suffix, a: a, b: b}
}

func (s pairStratifier) Stratify(obs *pileup.ReadObservation, locus *pileup.Locus) (Stratum, bool) {
	x, ok := s.a.Stratify(obs, locus)
	if !ok {
		return "", false
	}
	y, ok := s.b.Stratify(obs, locus)
	if !ok {
		return "", false
	}
	return x + "," + y, true
}

func (s pairStratifier) Suffix() string { return s.suffix }

// stratifierTable maps configuration names to stratifiers.  Entries which
// depend on options are nil here and built by NewStratifier.
var stratifierTable = map[string]Stratifier{
	"ALL":                     AllStratifier,
	"READ_BASE":               ReadBaseStratifier,
	"PREVIOUS_BASE":           PreviousBaseStratifier,
	"NEXT_BASE":               NextBaseStratifier,
	"REFERENCE_BASE":          ReferenceBaseStratifier,
	"PRE_DINUC":               PreDinucStratifier,
	"POST_DINUC":              PostDinucStratifier,
	"HOMOPOLYMER_LENGTH":      HomopolymerLengthStratifier,
	"HOMOPOLYMER":             HomopolymerStratifier,
	"BINNED_HOMOPOLYMER":      nil,
	"ONE_BASE_PADDED_CONTEXT": OneBasePaddedContextStratifier,
	"TWO_BASE_PADDED_CONTEXT": TwoBasePaddedContextStratifier,
	"CYCLE":                   CycleStratifier,
	"READ_DIRECTION":          ReadDirectionStratifier,
	"READ_ORDINALITY":         ReadOrdinalityStratifier,
	"PAIR_ORIENTATION":        PairOrientationStratifier,
	"BASE_QUALITY":            BaseQualityStratifier,
	"MAPPING_QUALITY":         MappingQualityStratifier,
	"REFERENCE_CONTEXT":       ReferenceContextStratifier,
}

// StratifierNames returns the sorted configuration names of all stratifiers.
func StratifierNames() []string {
	names := make([]string, 0, len(stratifierTable))
	for name := range stratifierTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStratifier returns the stratifier with the given configuration name
// (case-insensitive).  longHomopolymer is the threshold used by
// BINNED_HOMOPOLYMER.
func NewStratifier(name string, longHomopolymer int) (Stratifier, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	s, ok := stratifierTable[key]
	if !ok {
		return nil, errors.E(errors.Invalid, "unknown stratifier", name,
			"(valid: "+strings.Join(StratifierNames(), ", ")+")")
	}
	if key == "BINNED_HOMOPOLYMER" {
		if longHomopolymer < 1 {
			return nil, errors.E(errors.Invalid, "long homopolymer threshold must be positive, got", strconv.Itoa(longHomopolymer))
		}
		s = NewBinnedHomopolymerStratifier(longHomopolymer)
	}
	return s, nil
}
