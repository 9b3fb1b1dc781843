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
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bamerror/errormetric"
)

var (
	aggregations    = flag.String("aggregation", strings.Join(errormetric.DefaultOpts.Aggregations, ";"), "';'-separated aggregation directives, each KIND[:STRATIFIER[,STRATIFIER...]]")
	longHomopolymer = flag.Int("long-homopolymer", errormetric.DefaultOpts.LongHomopolymer, "Shortest homopolymer counted as long by BINNED_HOMOPOLYMER")
	flagExclude     = flag.Int("flag-exclude", errormetric.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	mapq            = flag.Int("mapq", errormetric.DefaultOpts.Mapq, "Reads with MAPQ below this level are skipped")
	minBaseQual     = flag.Int("min-base-qual", errormetric.DefaultOpts.MinBaseQual, "Bases with quality below this level are skipped")
	bedPath         = flag.String("bed", "", "Only count loci covered by this BED file (optionally gzipped)")
	regions         = flag.String("regions", "", "Only count loci in these whitespace-separated regions, e.g. 'chr1:1000-2000 chr2'")
	outPrefix       = flag.String("out", "bio-bam-errors", "Output path prefix")
	gz              = flag.Bool("gzip", errormetric.DefaultOpts.Gzip, "Gzip-compress the metrics files")
	parallelism     = flag.Int("parallelism", errormetric.DefaultOpts.Parallelism, "Maximum number of metrics files written at once; 0 = one per file")
)

func bioBamErrorsUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath fapath\n", os.Args[0])
	fmt.Printf("\nMetric kinds:\n")
	for _, k := range []errormetric.Kind{errormetric.Simple, errormetric.OverlappingMatePair} {
		fmt.Printf("  %-18s %s\n", k, k.Doc())
	}
	fmt.Printf("\nStratifiers:\n  %s\n", strings.Join(errormetric.StratifierNames(), "\n  "))
	fmt.Printf("\nOther options:\n")
	flag.PrintDefaults()
}

// splitDirectives splits a ';'-separated directive list, dropping empty
// entries.
func splitDirectives(s string) []string {
	var directives []string
	for _, d := range strings.Split(s, ";") {
		if d = strings.TrimSpace(d); d != "" {
			directives = append(directives, d)
		}
	}
	return directives
}

func main() {
	flag.Usage = bioBamErrorsUsage
	shutdown := grail.Init()
	defer shutdown()

	positionalArgs := flag.Args()
	if len(positionalArgs) != 2 {
		log.Fatalf("Expected bampath and fapath positional arguments; please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
	}
	ctx := vcontext.Background()
	opts := errormetric.Opts{
		Aggregations:    splitDirectives(*aggregations),
		LongHomopolymer: *longHomopolymer,
		FlagExclude:     *flagExclude,
		Mapq:            *mapq,
		MinBaseQual:     *minBaseQual,
		BEDPath:         *bedPath,
		Regions:         strings.Fields(*regions),
		Gzip:            *gz,
		Parallelism:     *parallelism,
	}
	if err := errormetric.CollectBAM(ctx, positionalArgs[0], positionalArgs[1], *outPrefix, &opts); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
