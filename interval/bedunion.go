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
package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// PosType is BEDUnion's coordinate type.  int32 is wide enough since that's
// what BAM is limited to.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// NewBEDOpts defines behavior of this package's BED-loading function(s).
type NewBEDOpts struct {
	// SAMHeader enables ID-based lookup.  It is required by ContainsByID.
	SAMHeader *sam.Header
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// BEDUnion is a collection of length-2N sequences, one per chromosome, where N
// is the number of disjoint intervals on that chromosome.  The start of
// interval #k is in element [2k] and its end in element [2k+1], in increasing
// order, so a position is covered iff the number of endpoints <= it is odd.
type BEDUnion struct {
	nameMap map[string][]PosType
	idMap   [][]PosType
	nBases  int

	// Search state for ContainsByID; queries in nondecreasing position order
	// within a chromosome are answered by a forward search from lastIdx.
	lastChrID        int
	lastChrIntervals []PosType
	lastPosPlus1     PosType
	lastIdx          int
}

// searchPosType returns the index of x in a[], or the position where x would
// be inserted if x isn't in a (this could be len(a)).
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// fwdsearchPosType checks a[idx], then a[idx + 1], then a[idx + 3], then
// a[idx + 7], etc., and then uses binary search to finish the job.
func fwdsearchPosType(a []PosType, x PosType, idx int) int {
	nextIncr := 1
	startIdx := idx
	endIdx := len(a)
	for idx < endIdx {
		if a[idx] >= x {
			endIdx = idx
			break
		}
		startIdx = idx + 1
		idx += nextIncr
		nextIncr *= 2
	}
	return startIdx + searchPosType(a[startIdx:endIdx], x)
}

// ContainsByID checks whether the (0-based) interval [pos, pos+1) is contained
// within the BEDUnion, where chromosome is specified by sam.Header ID.  IDs
// outside the header are never contained.
func (u *BEDUnion) ContainsByID(chrID int, pos PosType) bool {
	posPlus1 := pos + 1
	if chrID != u.lastChrID {
		u.lastChrID = chrID
		u.lastChrIntervals = nil
		if chrID >= 0 && chrID < len(u.idMap) {
			u.lastChrIntervals = u.idMap[chrID]
		}
		u.lastIdx = searchPosType(u.lastChrIntervals, posPlus1)
	} else if posPlus1 >= u.lastPosPlus1 {
		u.lastIdx = fwdsearchPosType(u.lastChrIntervals, posPlus1, u.lastIdx)
	} else {
		u.lastIdx = searchPosType(u.lastChrIntervals, posPlus1)
	}
	u.lastPosPlus1 = posPlus1
	return u.lastIdx&1 == 1
}

// Chromosomes returns the names of the chromosomes with at least one
// nonempty interval, sorted.
func (u *BEDUnion) Chromosomes() []string {
	var names []string
	for name, ivs := range u.nameMap {
		if len(ivs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NBases returns the number of positions covered.
func (u *BEDUnion) NBases() int { return u.nBases }

// unionBuilder accumulates sorted entries into a BEDUnion, merging
// touching/overlapping intervals and eliminating empty ones.
type unionBuilder struct {
	u          BEDUnion
	chr        string
	ivs        []PosType
	start, end PosType
}

func newUnionBuilder() *unionBuilder {
	return &unionBuilder{
		u:     BEDUnion{nameMap: make(map[string][]PosType), lastChrID: -1},
		start: -1,
		end:   -1,
	}
}

func (b *unionBuilder) add(e Entry) error {
	if e.Start0 < 0 {
		return fmt.Errorf("negative start coordinate %d", e.Start0)
	}
	if e.End < e.Start0 || e.End >= PosTypeMax {
		return fmt.Errorf("invalid coordinate pair [%d, %d)", e.Start0, e.End)
	}
	if e.ChrName != b.chr {
		b.flush()
		if _, found := b.u.nameMap[e.ChrName]; found {
			return fmt.Errorf("unsorted input (split chromosome %v)", e.ChrName)
		}
		b.chr = e.ChrName
		// An empty interval still marks the chromosome as mentioned.
		b.ivs = []PosType{}
		b.start, b.end = -1, -1
	}
	if e.End == e.Start0 {
		return nil
	}
	switch {
	case b.end < 0:
		b.start, b.end = e.Start0, e.End
		b.u.nBases += int(e.End - e.Start0)
	case e.Start0 > b.end:
		b.ivs = append(b.ivs, b.start, b.end)
		b.start, b.end = e.Start0, e.End
		b.u.nBases += int(e.End - e.Start0)
	case e.Start0 < b.start:
		return fmt.Errorf("unsorted input at %s:%d", e.ChrName, e.Start0+1)
	case e.End > b.end:
		b.u.nBases += int(e.End - b.end)
		b.end = e.End
	}
	return nil
}

func (b *unionBuilder) flush() {
	if b.chr == "" {
		return
	}
	if b.end >= 0 {
		b.ivs = append(b.ivs, b.start, b.end)
	}
	b.u.nameMap[b.chr] = b.ivs
}

func (b *unionBuilder) finish(header *sam.Header) *BEDUnion {
	b.flush()
	u := &b.u
	if header != nil {
		refs := header.Refs()
		u.idMap = make([][]PosType, len(refs))
		for _, ref := range refs {
			u.idMap[ref.ID()] = u.nameMap[ref.Name()]
		}
	}
	return u
}

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

var (
	bedComment = []byte("#")
	bedTrack   = []byte("track")
	bedBrowser = []byte("browser")
)

// NewBEDUnion loads just the intervals from a sorted (by first coordinate)
// interval-BED.  Header lines ("#", "track", "browser") are skipped.
func NewBEDUnion(reader io.Reader, opts NewBEDOpts) (*BEDUnion, error) {
	var startSubtract int
	if opts.OneBasedInput {
		startSubtract++
	}
	b := newUnionBuilder()
	scanner := bufio.NewScanner(reader)
	var tokens [3][]byte
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		// Bytes() does not allocate; curLine is only valid until the next Scan.
		curLine := scanner.Bytes()
		if bytes.HasPrefix(curLine, bedComment) || bytes.HasPrefix(curLine, bedTrack) || bytes.HasPrefix(curLine, bedBrowser) {
			continue
		}
		nToken := getTokens(tokens[:], curLine)
		if nToken != 3 {
			if nToken == 0 {
				continue
			}
			return nil, fmt.Errorf("interval.NewBEDUnion: line %d has fewer tokens than expected", lineIdx)
		}
		start, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewBEDUnion: line %d: %v", lineIdx, err)
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewBEDUnion: line %d: %v", lineIdx, err)
		}
		start -= startSubtract
		if end >= PosTypeMax {
			return nil, fmt.Errorf("interval.NewBEDUnion: line %d: end coordinate %d out of range", lineIdx, end)
		}
		// The chromosome name refers to bytes on curLine, so it must be copied
		// before it can persist as a map key; add only keeps it on a change.
		chr := gunsafe.BytesToString(tokens[0])
		if chr != b.chr {
			chr = string(tokens[0])
		} else {
			chr = b.chr
		}
		if err := b.add(Entry{ChrName: chr, Start0: PosType(start), End: PosType(end)}); err != nil {
			return nil, fmt.Errorf("interval.NewBEDUnion: line %d: %v", lineIdx, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	u := b.finish(opts.SAMHeader)
	log.Printf("BED loaded, %d base(s) covered.", u.nBases)
	return u, nil
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.  Gzipped files are decompressed.
func NewBEDUnionFromPath(ctx context.Context, path string, opts NewBEDOpts) (u *BEDUnion, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer gz.Close()
		reader = gz
	}
	return NewBEDUnion(reader, opts)
}

// NewBEDUnionFromEntries initializes a BEDUnion from a sorted []Entry.
// This ignores opts.OneBasedInput, since Start0 is defined to be zero-based.
func NewBEDUnionFromEntries(entries []Entry, opts NewBEDOpts) (*BEDUnion, error) {
	b := newUnionBuilder()
	for _, e := range entries {
		if err := b.add(e); err != nil {
			return nil, fmt.Errorf("interval.NewBEDUnionFromEntries: %v", err)
		}
	}
	return b.finish(opts.SAMHeader), nil
}

// NewBEDUnionFromRegions parses region strings (see ParseRegionString) and
// builds their union.  Regions may be given in any order; every contig must
// be present in header.
func NewBEDUnionFromRegions(regions []string, header *sam.Header) (*BEDUnion, error) {
	refIDs := make(map[string]int)
	for _, ref := range header.Refs() {
		refIDs[ref.Name()] = ref.ID()
	}
	entries := make([]Entry, len(regions))
	for i, region := range regions {
		e, err := ParseRegionString(region)
		if err != nil {
			return nil, err
		}
		if _, ok := refIDs[e.ChrName]; !ok {
			return nil, fmt.Errorf("interval.NewBEDUnionFromRegions: contig %q in region %q is not in the header", e.ChrName, region)
		}
		entries[i] = e
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if ci, cj := refIDs[entries[i].ChrName], refIDs[entries[j].ChrName]; ci != cj {
			return ci < cj
		}
		return entries[i].Start0 < entries[j].Start0
	})
	return NewBEDUnionFromEntries(entries, NewBEDOpts{SAMHeader: header})
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1) is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start1 || end >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}
