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

// Package errormetric computes sequencing error metrics from piled-up read
// bases.  Each read base seen at a reference locus is assigned to bins along
// one or more dimensions (its cycle, its neighbors, the homopolymer it ends,
// ...) and counted by a calculator, either against the reference alone or
// also against the overlapping base of its mate.  One table of metrics is
// produced per requested combination of calculator and dimensions.
//
// A typical run walks a coordinate-sorted BAM:
//
//	err := errormetric.CollectBAM(ctx, "in.bam", "ref.fa", "out", &errormetric.DefaultOpts)
//
// which writes out.error_by_all, out.error_by_cycle, and so on.
package errormetric

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bamerror/interval"
	"github.com/grailbio/bamerror/pileup"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// LocusSource yields loci in ascending genomic order, each position at most
// once, and each locus must carry every observation at its position.
// pileup.Walker implements it.
type LocusSource interface {
	Scan() bool
	Locus() *pileup.Locus
	Err() error
}

// Collector feeds loci to a set of aggregations.  It is not thread-safe.
type Collector struct {
	aggs []*Aggregation

	nLoci, nBases int64
}

// NewCollector builds the aggregations configured in opts.
func NewCollector(opts *Opts) (*Collector, error) {
	aggs, err := NewAggregations(opts)
	if err != nil {
		return nil, err
	}
	return &Collector{aggs: aggs}, nil
}

// NewCollectorFromAggregations returns a Collector over existing
// aggregations.
func NewCollectorFromAggregations(aggs ...*Aggregation) *Collector {
	return &Collector{aggs: aggs}
}

// Aggregations returns the collector's aggregations.
func (c *Collector) Aggregations() []*Aggregation { return c.aggs }

// AddLocus offers every observation at locus to every aggregation.
func (c *Collector) AddLocus(locus *pileup.Locus) {
	c.nLoci++
	for i := range locus.Reads {
		obs := &locus.Reads[i]
		c.nBases++
		for _, agg := range c.aggs {
			agg.AddBase(obs, locus)
		}
	}
}

// Run consumes src until it is exhausted.  Cancellation of ctx is honored
// between loci.
func (c *Collector) Run(ctx context.Context, src LocusSource) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !src.Scan() {
			break
		}
		c.AddLocus(src.Locus())
	}
	if err := src.Err(); err != nil {
		return errors.E(err, "reading loci")
	}
	log.Printf("errormetric.Collector: %d loci, %d bases", c.nLoci, c.nBases)
	return nil
}

// CollectBAM computes the metrics configured in opts over a coordinate-sorted
// BAM file and writes them under outPrefix.
func CollectBAM(ctx context.Context, bamPath, faPath, outPrefix string, opts *Opts) (err error) {
	collector, err := NewCollector(opts)
	if err != nil {
		return err
	}

	fa, err := pileup.LoadFa(ctx, faPath)
	if err != nil {
		return errors.E(err, "loading reference", faPath)
	}
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return errors.E(err, "opening", bamPath)
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return errors.E(err, "reading BAM header", bamPath)
	}
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	refSeqs, err := pileup.FaToStringSlice(fa, reader.Header().Refs())
	if err != nil {
		return err
	}

	wopts := opts.WalkerOpts()
	if wopts.Intervals, err = loadIntervals(ctx, opts, reader.Header()); err != nil {
		return err
	}
	walker := pileup.NewWalker(pileup.NewBAMIterator(reader), refSeqs, wopts)
	if err = collector.Run(ctx, walker); err != nil {
		return errors.E(err, bamPath)
	}
	return WriteMetrics(ctx, outPrefix, collector.Aggregations(), opts)
}

// loadIntervals returns the locus restriction configured in opts, or nil.
func loadIntervals(ctx context.Context, opts *Opts, header *sam.Header) (*interval.BEDUnion, error) {
	var (
		u   *interval.BEDUnion
		err error
	)
	switch {
	case opts.BEDPath != "" && len(opts.Regions) > 0:
		return nil, errors.E(errors.Invalid, "a BED file and regions cannot both be given")
	case opts.BEDPath != "":
		if u, err = interval.NewBEDUnionFromPath(ctx, opts.BEDPath, interval.NewBEDOpts{SAMHeader: header}); err != nil {
			return nil, errors.E(err, "loading", opts.BEDPath)
		}
	case len(opts.Regions) > 0:
		if u, err = interval.NewBEDUnionFromRegions(opts.Regions, header); err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
	default:
		return nil, nil
	}
	log.Printf("errormetric: restricting to %d base(s) on %d contig(s)", u.NBases(), len(u.Chromosomes()))
	return u, nil
}
