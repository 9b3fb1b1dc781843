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
package pileup

import (
	"context"
	"fmt"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bamerror/encoding/fasta"
	"github.com/grailbio/hts/sam"
)

// Common pileup components.

// complementTable maps every ASCII base (IUPAC codes included) to its
// uppercase complement.  Bytes which aren't bases map to 'N'.
var complementTable [256]byte

// definiteTable is true for A/C/G/T in either case.
var definiteTable [256]bool

func init() {
	for i := range complementTable {
		complementTable[i] = 'N'
	}
	pairs := [...][2]byte{
		{'A', 'T'}, {'C', 'G'}, {'R', 'Y'}, {'K', 'M'},
		{'B', 'V'}, {'D', 'H'}, {'S', 'S'}, {'W', 'W'}, {'N', 'N'},
	}
	for _, p := range pairs {
		for _, lower := range [...]byte{0, 'a' - 'A'} {
			complementTable[p[0]+lower] = p[1]
			complementTable[p[1]+lower] = p[0]
		}
	}
	complementTable['.'] = '.'
	for _, b := range []byte("ACGTacgt") {
		definiteTable[b] = true
	}
}

// IsNoCall returns true for the no-call symbols 'N', 'n' and '.'.
func IsNoCall(b byte) bool {
	return b == 'N' || b == 'n' || b == '.'
}

// IsDefinite returns true iff b is an unambiguous A/C/G/T call.
func IsDefinite(b byte) bool {
	return definiteTable[b]
}

// Upper converts a lowercase ASCII letter to uppercase and leaves everything
// else alone.
func Upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// BasesEqual compares two bases case-insensitively.
func BasesEqual(a, b byte) bool {
	return Upper(a) == Upper(b)
}

// Complement returns the uppercase complement of an ASCII base.
func Complement(b byte) byte {
	return complementTable[b]
}

// ReverseComp reverse-complements src into dst, which must have the same
// length.  dst and src may be the same slice.
func ReverseComp(dst, src []byte) {
	n := len(src)
	nDiv2 := n >> 1
	for idx, invIdx := 0, n-1; idx != nDiv2; idx, invIdx = idx+1, invIdx-1 {
		dst[idx], dst[invIdx] = complementTable[src[invIdx]], complementTable[src[idx]]
	}
	if n&1 == 1 {
		dst[nDiv2] = complementTable[src[nDiv2]]
	}
}

// LoadFa opens fapath, decompressing it if necessary, and parses it with
// fasta.New().
func LoadFa(ctx context.Context, fapath string) (fa fasta.Fasta, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, fapath); err != nil {
		return
	}
	defer func() {
		if e := infile.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	reader, _ := compress.NewReader(infile.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fasta.New(reader, fasta.OptClean)
}

// FaToStringSlice returns the data in fa as a []string, using the reference
// order in headerRefs[].  References absent from fa are left empty; the
// walker reports 'N' reference bases for them.
func FaToStringSlice(fa fasta.Fasta, headerRefs []*sam.Reference) ([]string, error) {
	refSeqs := make([]string, len(headerRefs))
	nMissingFromFa := 0
	for i, curRef := range headerRefs {
		refName := curRef.Name()
		refLen, e := fa.Len(refName)
		if e != nil {
			nMissingFromFa++
			continue
		}
		if refLen != uint64(curRef.Len()) {
			return nil, fmt.Errorf("pileup.FaToStringSlice: inconsistent lengths for contig %s (%d in BAM header, %d in .fa)", refName, curRef.Len(), refLen)
		}
		refSeq, err := fa.Get(refName, 0, refLen)
		if err != nil {
			return nil, err
		}
		refSeqs[i] = refSeq
	}
	if nMissingFromFa != 0 {
		log.Printf("pileup.FaToStringSlice: warning: %d reference(s) present in BAM header but missing from .fa", nMissingFromFa)
	}
	return refSeqs, nil
}
