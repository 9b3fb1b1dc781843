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

	"github.com/grailbio/bamerror/pileup"
)

// keySep separates strata in map keys.  It never occurs in a rendered
// Stratum.
const keySep = 0

type aggEntry struct {
	strata []Stratum
	calc   Calculator
}

// Aggregation groups read bases by the combined strata of a stratifier set
// and keeps one calculator per distinct combination.
type Aggregation struct {
	kind        Kind
	stratifiers []Stratifier
	locator     *MateLocator

	entries map[string]*aggEntry
	strata  []Stratum
	key     []byte
}

// NewAggregation creates an aggregation of the given kind.  locator may be
// shared between aggregations; it must be non-nil when kind.NeedsMate().
// With no stratifiers every base lands in the "all" bin.
func NewAggregation(kind Kind, locator *MateLocator, stratifiers ...Stratifier) *Aggregation {
	if len(stratifiers) == 0 {
		stratifiers = []Stratifier{AllStratifier}
	}
	if locator == nil && kind.NeedsMate() {
		locator = NewMateLocator()
	}
	return &Aggregation{
		kind:        kind,
		stratifiers: stratifiers,
		locator:     locator,
		entries:     make(map[string]*aggEntry),
	}
}

// Kind returns the calculator kind.
func (a *Aggregation) Kind() Kind { return a.kind }

// Stratifiers returns the stratifiers, in key order.
func (a *Aggregation) Stratifiers() []Stratifier { return a.stratifiers }

// Suffix returns "<kind>_by_<stratifier>_and_<stratifier>...".
func (a *Aggregation) Suffix() string {
	names := make([]string, len(a.stratifiers))
	for i, s := range a.stratifiers {
		names[i] = s.Suffix()
	}
	return a.kind.Suffix() + "_by_" + strings.Join(names, "_and_")
}

// AddBase routes obs to the calculator for its strata.  Bases for which any
// stratifier has no value are dropped.
func (a *Aggregation) AddBase(obs *pileup.ReadObservation, locus *pileup.Locus) {
	a.strata = a.strata[:0]
	a.key = a.key[:0]
	for i, s := range a.stratifiers {
		v, ok := s.Stratify(obs, locus)
		if !ok {
			return
		}
		if i > 0 {
			a.key = append(a.key, keySep)
		}
		a.key = append(a.key, string(v)...)
		a.strata = append(a.strata, v)
	}
	e, ok := a.entries[string(a.key)]
	if !ok {
		e = &aggEntry{
			strata: append([]Stratum(nil), a.strata...),
			calc:   a.kind.New(),
		}
		a.entries[string(a.key)] = e
	}
	var mate *pileup.ReadObservation
	if a.kind.NeedsMate() {
		mate = a.locator.FindMate(obs, locus)
	}
	e.calc.AddBase(obs, locus, mate)
}

// Len returns the number of populated bins.
func (a *Aggregation) Len() int { return len(a.entries) }

// Row is one populated bin and its finalized metric.
type Row struct {
	Strata []Stratum
	Metric ErrorMetric
}

// Rows returns a finalized snapshot of every populated bin, sorted by strata.
// Numeric strata sort numerically.
func (a *Aggregation) Rows() []Row {
	rows := make([]Row, 0, len(a.entries))
	for _, e := range a.entries {
		rows = append(rows, Row{Strata: e.strata, Metric: e.calc.Metric().Finalize()})
	}
	sort.Slice(rows, func(i, j int) bool { return lessStrata(rows[i].Strata, rows[j].Strata) })
	return rows
}

func lessStrata(x, y []Stratum) bool {
	for i := range x {
		if c := compareStratum(x[i], y[i]); c != 0 {
			return c < 0
		}
	}
	return false
}

func compareStratum(x, y Stratum) int {
	xi, xErr := strconv.Atoi(string(x))
	yi, yErr := strconv.Atoi(string(y))
	switch {
	case xErr == nil && yErr == nil && xi != yi:
		if xi < yi {
			return -1
		}
		return 1
	case xErr == nil && yErr != nil:
		return -1
	case xErr != nil && yErr == nil:
		return 1
	}
	return strings.Compare(string(x), string(y))
}
