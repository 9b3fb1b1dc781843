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

/*
Given a coordinate-sorted BAM and its reference FASTA, bio-bam-errors counts
how often read bases disagree with the reference, and, for bases covered by
both reads of a pair, how the two reads and the reference disagree.  Counts
are broken down by any combination of per-base properties such as sequencing
cycle, read ordinality, neighboring bases and homopolymer context.

Each -aggregation directive has the form KIND[:STRATIFIER[,STRATIFIER...]].
KIND is ERROR or OVERLAPPING_ERROR.  Directives are separated by ';'.  One TSV
file is written per directive, named <out>.<kind>_by_<stratifiers>, e.g.
out.error_by_read_ordinality_and_cycle.

-bed or -regions restricts counting to the given loci.

Sample usage:
bio-bam-errors \
    --aggregation 'ERROR;ERROR:CYCLE;OVERLAPPING_ERROR:READ_ORDINALITY' \
    --out output-prefix \
    my.bam \
    ref.fa
*/
package main
