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
	"math"
	"strconv"
)

// MaxQ is the phred score reported for a zero error rate.
const MaxQ = 93

// ErrorMetric is a snapshot of one calculator's counters.
type ErrorMetric interface {
	// Finalize returns a copy with derived fields filled in.  Counters are
	// left alone, so finalizing twice yields the same values.
	Finalize() ErrorMetric
	// Finalized reports whether derived fields are populated.
	Finalized() bool
	// Columns returns the TSV column names, parallel to Fields.
	Columns() []string
	// Fields renders the metric values.  Undefined values render as ".".
	Fields() []string
}

// Phred converts an error rate to a phred-scaled quality.  A zero rate maps to
// MaxQ and an undefined rate stays NaN.
func Phred(rate float64) float64 {
	if math.IsNaN(rate) {
		return rate
	}
	if rate <= 0 {
		return MaxQ
	}
	q := -10 * math.Log10(rate)
	if q > MaxQ {
		return MaxQ
	}
	return q
}

func ratio(num, denom int64) float64 {
	if denom == 0 {
		return math.NaN()
	}
	return float64(num) / float64(denom)
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "."
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// SimpleErrorMetric counts bases and mismatches against the reference.
type SimpleErrorMetric struct {
	TotalBases int64
	ErrorBases int64

	ErrorRate float64
	QScore    float64
	finalized bool
}

// Finalize implements ErrorMetric.
func (m SimpleErrorMetric) Finalize() ErrorMetric {
	m.ErrorRate = ratio(m.ErrorBases, m.TotalBases)
	m.QScore = Phred(m.ErrorRate)
	m.finalized = true
	return m
}

// Finalized implements ErrorMetric.
func (m SimpleErrorMetric) Finalized() bool { return m.finalized }

var simpleColumns = []string{"TOTAL_BASES", "ERROR_BASES", "ERROR_RATE", "Q_SCORE"}

// Columns implements ErrorMetric.
func (m SimpleErrorMetric) Columns() []string { return simpleColumns }

// Fields implements ErrorMetric.
func (m SimpleErrorMetric) Fields() []string {
	return []string{
		formatInt(m.TotalBases),
		formatInt(m.ErrorBases),
		formatFloat(m.ErrorRate),
		formatFloat(m.QScore),
	}
}

// OverlappingErrorMetric classifies disagreements among a base, its
// overlapping mate base and the reference.  Rates are over
// NumBasesWithOverlappingReads.
type OverlappingErrorMetric struct {
	TotalBases                    int64
	NumBasesWithOverlappingReads  int64
	NumDisagreesWithReferenceOnly int64
	NumDisagreesWithRefAndMate    int64
	NumThreeWaysDisagreement      int64

	DisagreesWithReferenceOnlyRate float64
	DisagreesWithRefAndMateRate    float64
	ThreeWaysDisagreementRate      float64
	DisagreesWithReferenceOnlyQ    float64
	DisagreesWithRefAndMateQ       float64
	ThreeWaysDisagreementQ         float64
	finalized                      bool
}

// Finalize implements ErrorMetric.
func (m OverlappingErrorMetric) Finalize() ErrorMetric {
	m.DisagreesWithReferenceOnlyRate = ratio(m.NumDisagreesWithReferenceOnly, m.NumBasesWithOverlappingReads)
	m.DisagreesWithRefAndMateRate = ratio(m.NumDisagreesWithRefAndMate, m.NumBasesWithOverlappingReads)
	m.ThreeWaysDisagreementRate = ratio(m.NumThreeWaysDisagreement, m.NumBasesWithOverlappingReads)
	m.DisagreesWithReferenceOnlyQ = Phred(m.DisagreesWithReferenceOnlyRate)
	m.DisagreesWithRefAndMateQ = Phred(m.DisagreesWithRefAndMateRate)
	m.ThreeWaysDisagreementQ = Phred(m.ThreeWaysDisagreementRate)
	m.finalized = true
	return m
}

// Finalized implements ErrorMetric.
func (m OverlappingErrorMetric) Finalized() bool { return m.finalized }

var overlappingColumns = []string{
	"TOTAL_BASES",
	"NUM_BASES_WITH_OVERLAPPING_READS",
	"NUM_DISAGREES_WITH_REFERENCE_ONLY",
	"NUM_DISAGREES_WITH_REF_AND_MATE",
	"NUM_THREE_WAYS_DISAGREEMENT",
	"DISAGREES_WITH_REFERENCE_ONLY_RATE",
	"DISAGREES_WITH_REF_AND_MATE_RATE",
	"THREE_WAYS_DISAGREEMENT_RATE",
	"DISAGREES_WITH_REFERENCE_ONLY_Q",
	"DISAGREES_WITH_REF_AND_MATE_Q",
	"THREE_WAYS_DISAGREEMENT_Q",
}

// Columns implements ErrorMetric.
func (m OverlappingErrorMetric) Columns() []string { return overlappingColumns }

// Fields implements ErrorMetric.
func (m OverlappingErrorMetric) Fields() []string {
	return []string{
		formatInt(m.TotalBases),
		formatInt(m.NumBasesWithOverlappingReads),
		formatInt(m.NumDisagreesWithReferenceOnly),
		formatInt(m.NumDisagreesWithRefAndMate),
		formatInt(m.NumThreeWaysDisagreement),
		formatFloat(m.DisagreesWithReferenceOnlyRate),
		formatFloat(m.DisagreesWithRefAndMateRate),
		formatFloat(m.ThreeWaysDisagreementRate),
		formatFloat(m.DisagreesWithReferenceOnlyQ),
		formatFloat(m.DisagreesWithRefAndMateQ),
		formatFloat(m.ThreeWaysDisagreementQ),
	}
}
