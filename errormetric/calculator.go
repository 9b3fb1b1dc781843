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
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bamerror/pileup"
)

// Calculator accumulates counts for the bases in one stratum.
type Calculator interface {
	// AddBase counts obs at locus.  mate is the overlapping mate's observation
	// at the same locus, or nil.
	AddBase(obs *pileup.ReadObservation, locus *pileup.Locus, mate *pileup.ReadObservation)
	// Metric returns a snapshot of the counters.
	Metric() ErrorMetric
	// Suffix names the calculator kind in output file names.
	Suffix() string
}

// Kind selects a calculator implementation.
type Kind int

const (
	// Simple counts mismatches against the reference.
	Simple Kind = iota
	// OverlappingMatePair compares bases against the reference and against
	// the overlapping mate.
	OverlappingMatePair
)

var kindInfo = [...]struct {
	name, suffix, doc string
}{
	Simple:              {"ERROR", "error", "Mismatches between read bases and the reference."},
	OverlappingMatePair: {"OVERLAPPING_ERROR", "overlapping_error", "Disagreements among the reference and the two bases of an overlapping read pair."},
}

// ParseKind parses a kind name such as "ERROR" (case-insensitive).
func ParseKind(name string) (Kind, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for k, info := range kindInfo {
		if info.name == upper {
			return Kind(k), nil
		}
	}
	names := make([]string, len(kindInfo))
	for k, info := range kindInfo {
		names[k] = info.name
	}
	return 0, errors.E(errors.Invalid, "unknown metric kind", name, "(valid: "+strings.Join(names, ", ")+")")
}

// String returns the configuration name of the kind.
func (k Kind) String() string { return kindInfo[k].name }

// Suffix returns the file name component of the kind.
func (k Kind) Suffix() string { return kindInfo[k].suffix }

// Doc returns a one-line description of the kind.
func (k Kind) Doc() string { return kindInfo[k].doc }

// NeedsMate reports whether calculators of this kind use the overlapping
// mate.
func (k Kind) NeedsMate() bool { return k == OverlappingMatePair }

// New creates an empty calculator of this kind.
func (k Kind) New() Calculator {
	switch k {
	case Simple:
		return &SimpleCalculator{}
	case OverlappingMatePair:
		return &OverlappingCalculator{}
	}
	panic(k)
}

// SimpleCalculator counts callable bases and definite mismatches.
type SimpleCalculator struct {
	m SimpleErrorMetric
}

// AddBase implements Calculator.  mate is ignored.
func (c *SimpleCalculator) AddBase(obs *pileup.ReadObservation, locus *pileup.Locus, _ *pileup.ReadObservation) {
	b := obs.Base()
	if pileup.IsNoCall(b) {
		return
	}
	c.m.TotalBases++
	if pileup.IsDefinite(b) && pileup.IsDefinite(locus.RefBase) && !pileup.BasesEqual(b, locus.RefBase) {
		c.m.ErrorBases++
	}
}

// Metric implements Calculator.
func (c *SimpleCalculator) Metric() ErrorMetric { return c.m }

// Suffix implements Calculator.
func (c *SimpleCalculator) Suffix() string { return Simple.Suffix() }

// OverlappingCalculator counts, for bases covered by both reads of a pair,
// how the base, its mate base and the reference disagree.
type OverlappingCalculator struct {
	m OverlappingErrorMetric
}

// AddBase implements Calculator.
func (c *OverlappingCalculator) AddBase(obs *pileup.ReadObservation, locus *pileup.Locus, mate *pileup.ReadObservation) {
	b := obs.Base()
	if pileup.IsNoCall(b) {
		return
	}
	c.m.TotalBases++
	if mate == nil {
		return
	}
	mb := mate.Base()
	if pileup.IsNoCall(mb) {
		return
	}
	c.m.NumBasesWithOverlappingReads++

	// Ambiguous calls count as overlapping bases but never as disagreements,
	// as in SimpleCalculator.
	ref := locus.RefBase
	if !pileup.IsDefinite(b) || !pileup.IsDefinite(mb) || !pileup.IsDefinite(ref) || pileup.BasesEqual(b, ref) {
		return
	}
	switch {
	case pileup.BasesEqual(b, mb):
		c.m.NumDisagreesWithReferenceOnly++
	case pileup.BasesEqual(mb, ref):
		c.m.NumDisagreesWithRefAndMate++
	default:
		c.m.NumThreeWaysDisagreement++
	}
}

// Metric implements Calculator.
func (c *OverlappingCalculator) Metric() ErrorMetric { return c.m }

// Suffix implements Calculator.
func (c *OverlappingCalculator) Suffix() string { return OverlappingMatePair.Suffix() }
