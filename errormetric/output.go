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
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
)

// MetricsPath returns the output path of agg: "<prefix>.<suffix>", plus
// ".gz" when compressed.
func MetricsPath(outPrefix string, agg *Aggregation, gz bool) string {
	path := outPrefix + "." + agg.Suffix()
	if gz {
		path += ".gz"
	}
	return path
}

// WriteMetrics writes one TSV file per aggregation.  Files are written
// concurrently; the aggregations must not be modified meanwhile.
func WriteMetrics(ctx context.Context, outPrefix string, aggs []*Aggregation, opts *Opts) error {
	if len(aggs) == 0 {
		return nil
	}
	limit := opts.Parallelism
	if limit <= 0 || limit > len(aggs) {
		limit = len(aggs)
	}
	return traverse.Limit(limit).Each(len(aggs), func(i int) error {
		path := MetricsPath(outPrefix, aggs[i], opts.Gzip)
		if err := writeAggregation(ctx, path, aggs[i], opts.Gzip); err != nil {
			return errors.E(err, "writing", path)
		}
		log.Debug.Printf("errormetric.WriteMetrics: wrote %s (%d rows)", path, aggs[i].Len())
		return nil
	})
}

func writeAggregation(ctx context.Context, path string, agg *Aggregation, gz bool) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)

	var w io.Writer = dst.Writer(ctx)
	if gz {
		gzw := gzip.NewWriter(w)
		defer func() {
			if e := gzw.Close(); e != nil && err == nil {
				err = e
			}
		}()
		w = gzw
	}
	return WriteAggregation(w, agg)
}

// WriteAggregation renders agg as TSV: a header line naming the stratifiers
// and metric columns, then one line per populated bin.
func WriteAggregation(w io.Writer, agg *Aggregation) error {
	tw := tsv.NewWriter(w)
	for _, s := range agg.Stratifiers() {
		tw.WriteString(strings.ToUpper(s.Suffix()))
	}
	for _, col := range agg.Kind().New().Metric().Columns() {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, row := range agg.Rows() {
		for _, s := range row.Strata {
			tw.WriteString(string(s))
		}
		for _, f := range row.Metric.Fields() {
			tw.WriteString(f)
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
