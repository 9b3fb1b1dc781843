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

// Opts configures a metrics collection run.
type Opts struct {
	// Aggregations lists the tables to compute, as directives of the form
	// KIND[:STRATIFIER[,STRATIFIER...]], e.g. "ERROR:READ_ORDINALITY,CYCLE".
	Aggregations []string
	// LongHomopolymer is the shortest homopolymer binned as long by
	// BINNED_HOMOPOLYMER.
	LongHomopolymer int

	FlagExclude int
	Mapq        int
	MinBaseQual int

	// BEDPath, if set, restricts collection to the loci covered by this BED
	// file (optionally gzipped).
	BEDPath string
	// Regions restricts collection to loci in these region strings, e.g.
	// "chr1:1000-2000".  It cannot be combined with BEDPath.
	Regions []string

	// Gzip compresses the metrics files.
	Gzip bool
	// Parallelism bounds the number of metrics files written at once; 0 means
	// one writer per file.
	Parallelism int
}

// DefaultOpts is the default configuration.
var DefaultOpts = Opts{
	Aggregations: []string{
		"ERROR",
		"ERROR:BASE_QUALITY",
		"ERROR:READ_DIRECTION",
		"ERROR:PAIR_ORIENTATION",
		"ERROR:HOMOPOLYMER",
		"ERROR:BINNED_HOMOPOLYMER",
		"ERROR:CYCLE",
		"ERROR:READ_ORDINALITY",
		"ERROR:READ_ORDINALITY,CYCLE",
		"ERROR:READ_ORDINALITY,HOMOPOLYMER",
		"ERROR:READ_ORDINALITY,PRE_DINUC",
		"ERROR:ONE_BASE_PADDED_CONTEXT",
		"OVERLAPPING_ERROR",
		"OVERLAPPING_ERROR:BASE_QUALITY",
		"OVERLAPPING_ERROR:READ_ORDINALITY",
		"OVERLAPPING_ERROR:READ_ORDINALITY,CYCLE",
		"OVERLAPPING_ERROR:READ_ORDINALITY,HOMOPOLYMER",
	},
	LongHomopolymer: 6,
	FlagExclude:     pileup.DefaultWalkerOpts.FlagExclude,
	Mapq:            pileup.DefaultWalkerOpts.Mapq,
	MinBaseQual:     pileup.DefaultWalkerOpts.MinBaseQual,
}

// Directive is a parsed aggregation directive.
type Directive struct {
	Kind        Kind
	Stratifiers []string
}

// ParseDirective parses "KIND[:STRATIFIER[,STRATIFIER...]]".  Names are
// case-insensitive; an empty stratifier list means ALL.
func ParseDirective(s string) (Directive, error) {
	var d Directive
	kindName, strats := s, ""
	if i := strings.IndexByte(s, ':'); i >= 0 {
		kindName, strats = s[:i], s[i+1:]
	}
	kind, err := ParseKind(kindName)
	if err != nil {
		return d, errors.E(err, "aggregation directive", s)
	}
	d.Kind = kind
	if strings.TrimSpace(strats) == "" {
		return d, nil
	}
	for _, name := range strings.Split(strats, ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			return d, errors.E(errors.Invalid, "empty stratifier name in aggregation directive", s)
		}
		d.Stratifiers = append(d.Stratifiers, name)
	}
	return d, nil
}

// NewAggregations builds the aggregations named by opts.Aggregations.  All
// mate-aware aggregations share one MateLocator.
func NewAggregations(opts *Opts) ([]*Aggregation, error) {
	if len(opts.Aggregations) == 0 {
		return nil, errors.E(errors.Invalid, "no aggregations requested")
	}
	locator := NewMateLocator()
	aggs := make([]*Aggregation, 0, len(opts.Aggregations))
	seen := make(map[string]string)
	for _, s := range opts.Aggregations {
		d, err := ParseDirective(s)
		if err != nil {
			return nil, err
		}
		strats := make([]Stratifier, len(d.Stratifiers))
		for i, name := range d.Stratifiers {
			if strats[i], err = NewStratifier(name, opts.LongHomopolymer); err != nil {
				return nil, errors.E(err, "aggregation directive", s)
			}
		}
		agg := NewAggregation(d.Kind, locator, strats...)
		if prev, ok := seen[agg.Suffix()]; ok {
			return nil, errors.E(errors.Invalid, "aggregation directives", prev, "and", s, "both produce", agg.Suffix())
		}
		seen[agg.Suffix()] = s
		aggs = append(aggs, agg)
	}
	return aggs, nil
}

// WalkerOpts returns the read filters for pileup.Walker.
func (o *Opts) WalkerOpts() pileup.WalkerOpts {
	w := pileup.DefaultWalkerOpts
	w.FlagExclude = o.FlagExclude
	w.Mapq = o.Mapq
	w.MinBaseQual = o.MinBaseQual
	return w
}
