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
	"fmt"
	"math/rand"
	"testing"

	"github.com/grailbio/bamerror/errormetric"
	"github.com/grailbio/bamerror/pileup"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestAggregationSuffix(t *testing.T) {
	expect.EQ(t, errormetric.NewAggregation(errormetric.Simple, nil).Suffix(), "error_by_all")
	expect.EQ(t, errormetric.NewAggregation(errormetric.OverlappingMatePair, nil,
		errormetric.ReadOrdinalityStratifier, errormetric.CycleStratifier).Suffix(),
		"overlapping_error_by_read_ordinality_and_cycle")
}

// randomLoci generates loci covered by random single-end reads.
func randomLoci(r *rand.Rand, nLoci, depth int) []*pileup.Locus {
	const bases = "ACGTNacgt"
	loci := make([]*pileup.Locus, nLoci)
	for i := range loci {
		l := &pileup.Locus{Ref: testRef, Pos: i, RefBase: "ACGTN"[r.Intn(5)]}
		for j := 0; j < depth; j++ {
			seq := make([]byte, 10)
			for k := range seq {
				seq[k] = bases[r.Intn(len(bases))]
			}
			var flags sam.Flags
			if r.Intn(2) == 0 {
				flags = sam.Reverse
			}
			rec := &sam.Record{Name: fmt.Sprintf("r%d_%d", i, j), Ref: testRef, Flags: flags, Seq: sam.NewSeq(seq)}
			l.Reads = append(l.Reads, pileup.NewReadObservation(rec, r.Intn(10)))
		}
		loci[i] = l
	}
	return loci
}

func TestAggregationPartition(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	loci := randomLoci(r, 200, 8)

	all := errormetric.NewAggregation(errormetric.Simple, nil)
	byBaseAndCycle := errormetric.NewAggregation(errormetric.Simple, nil,
		errormetric.ReadBaseStratifier, errormetric.CycleStratifier)
	collector := errormetric.NewCollectorFromAggregations(all, byBaseAndCycle)
	for _, l := range loci {
		collector.AddLocus(l)
	}

	allRows := all.Rows()
	require.Len(t, allRows, 1)
	expect.EQ(t, allRows[0].Strata, []errormetric.Stratum{"all"})
	want := allRows[0].Metric.(errormetric.SimpleErrorMetric)

	var total, errs int64
	seen := map[string]bool{}
	for _, row := range byBaseAndCycle.Rows() {
		require.Len(t, row.Strata, 2)
		key := fmt.Sprint(row.Strata)
		require.False(t, seen[key], "duplicate row %s", key)
		seen[key] = true
		m := row.Metric.(errormetric.SimpleErrorMetric)
		require.True(t, m.Finalized())
		total += m.TotalBases
		errs += m.ErrorBases
	}
	expect.EQ(t, total, want.TotalBases)
	expect.EQ(t, errs, want.ErrorBases)
	expect.EQ(t, byBaseAndCycle.Len(), len(seen))
}

func TestAggregationAbsentStratum(t *testing.T) {
	// Unpaired reads have no ordinality and are dropped.
	r := rand.New(rand.NewSource(2))
	agg := errormetric.NewAggregation(errormetric.Simple, nil, errormetric.ReadOrdinalityStratifier)
	for _, l := range randomLoci(r, 20, 3) {
		for i := range l.Reads {
			agg.AddBase(&l.Reads[i], l)
		}
	}
	expect.EQ(t, agg.Len(), 0)
	expect.EQ(t, len(agg.Rows()), 0)
}

func TestAggregationRowOrder(t *testing.T) {
	rec := &sam.Record{Name: "r", Ref: testRef, Seq: sam.NewSeq([]byte(refBases))}
	agg := errormetric.NewAggregation(errormetric.Simple, nil, errormetric.CycleStratifier)
	for _, l := range pairLoci(refBases, rec) {
		agg.AddBase(&l.Reads[0], l)
	}
	rows := agg.Rows()
	require.Len(t, rows, len(refBases))
	for i, row := range rows {
		expect.EQ(t, row.Strata, []errormetric.Stratum{errormetric.Stratum(fmt.Sprint(i + 1))})
	}
}

func TestOverlappingAggregation(t *testing.T) {
	r1, r2 := newPair("Read1234", mateA, mateB)
	agg := errormetric.NewAggregation(errormetric.OverlappingMatePair, errormetric.NewMateLocator(),
		errormetric.ReadOrdinalityStratifier)
	collector := errormetric.NewCollectorFromAggregations(agg)
	for _, l := range pairLoci(refBases, r1, r2) {
		collector.AddLocus(l)
	}
	rows := agg.Rows()
	require.Len(t, rows, 2)
	for i, want := range []errormetric.Stratum{"FIRST", "SECOND"} {
		expect.EQ(t, rows[i].Strata, []errormetric.Stratum{want})
		expect.EQ(t, rows[i].Metric.Fields(), []string{
			"16", "16", "2", "1", "1", "0.125000", "0.062500", "0.062500", "9.030900", "12.041200", "12.041200",
		})
	}
}

func TestAggregationSnapshot(t *testing.T) {
	rec := &sam.Record{Name: "r", Ref: testRef, Seq: sam.NewSeq([]byte(mateA))}
	loci := pairLoci(refBases, rec)
	agg := errormetric.NewAggregation(errormetric.Simple, nil)
	for _, l := range loci[:8] {
		agg.AddBase(&l.Reads[0], l)
	}
	before := agg.Rows()
	for _, l := range loci[8:] {
		agg.AddBase(&l.Reads[0], l)
	}
	after := agg.Rows()
	expect.EQ(t, before[0].Metric.(errormetric.SimpleErrorMetric).TotalBases, int64(8))
	expect.EQ(t, before[0].Metric.(errormetric.SimpleErrorMetric).ErrorBases, int64(2))
	expect.EQ(t, after[0].Metric.(errormetric.SimpleErrorMetric).TotalBases, int64(16))
	expect.EQ(t, after[0].Metric.(errormetric.SimpleErrorMetric).ErrorBases, int64(4))
}
