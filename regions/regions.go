// Package regions stores per-ZMW region annotations (high-quality region,
// adapter hits, insert calls) and derives adapter-delimited subread
// intervals from them.
//
// The on-disk region table is one tab-separated row per annotation:
//
//	<holeNumber> <type> <start> <end> <score>
//
// where <type> is one of "Adapter", "Insert", "HQRegion".  Rows must be
// sorted by (holeNumber, type rank, start); rows with equal keys keep their
// file order.  A ".gz" path is transparently decompressed.
package regions

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Type is the annotation class.  The numeric values define the secondary
// sort key of the table.
type Type int

const (
	// Adapter marks a known synthetic sequence interval.
	Adapter Type = iota
	// Insert marks a basecaller-called insert interval.
	Insert
	// HQRegion marks the high-quality sub-interval of the polymerase
	// read.  At most one per hole.
	HQRegion
)

func (t Type) String() string {
	switch t {
	case Adapter:
		return "Adapter"
	case Insert:
		return "Insert"
	case HQRegion:
		return "HQRegion"
	}
	return "Unknown"
}

func parseType(s string) (Type, error) {
	switch s {
	case "Adapter":
		return Adapter, nil
	case "Insert":
		return Insert, nil
	case "HQRegion":
		return HQRegion, nil
	}
	return 0, errors.Errorf("unknown region type %q", s)
}

// Interval is a half-open [Start, End) byte range within a ZMW's basecall.
type Interval struct {
	Start int
	End   int
}

// Len returns the interval length, or zero for degenerate intervals.
func (i Interval) Len() int {
	if i.End <= i.Start {
		return 0
	}
	return i.End - i.Start
}

// Annotation is one region table row.
type Annotation struct {
	Hole  uint32
	Type  Type
	Start int
	End   int
	Score int
}

type holeRegions struct {
	hq       Interval
	hasHQ    bool
	adapters []Interval
	inserts  []Interval
}

// Table is an immutable per-hole region lookup.
type Table struct {
	holes map[uint32]*holeRegions
}

// NewTable builds a table from pre-sorted annotations.  Rows must be
// ordered by (hole, type, start); ties keep their input order.  A second
// HQRegion row for a hole, an HQRegion row with end < start and nonzero
// span, or out-of-order rows are caller errors.
func NewTable(anns []Annotation) (*Table, error) {
	t := &Table{holes: make(map[uint32]*holeRegions)}
	for i, a := range anns {
		if i > 0 && less(a, anns[i-1]) {
			return nil, errors.Errorf("region table out of order at row %d: %+v after %+v", i, a, anns[i-1])
		}
		hr := t.holes[a.Hole]
		if hr == nil {
			hr = &holeRegions{}
			t.holes[a.Hole] = hr
		}
		switch a.Type {
		case HQRegion:
			if hr.hasHQ {
				return nil, errors.Errorf("hole %d has more than one HQRegion row", a.Hole)
			}
			if a.End < a.Start {
				return nil, errors.Errorf("hole %d has inverted HQRegion [%d, %d)", a.Hole, a.Start, a.End)
			}
			hr.hq = Interval{a.Start, a.End}
			hr.hasHQ = true
		case Adapter:
			if a.End < a.Start {
				return nil, errors.Errorf("hole %d has inverted Adapter [%d, %d)", a.Hole, a.Start, a.End)
			}
			hr.adapters = append(hr.adapters, Interval{a.Start, a.End})
		case Insert:
			hr.inserts = append(hr.inserts, Interval{a.Start, a.End})
		}
	}
	return t, nil
}

// less orders rows by the (hole, type rank, start) key.  Equal keys compare
// false both ways, so stable input order is preserved.
func less(a, b Annotation) bool {
	if a.Hole != b.Hole {
		return a.Hole < b.Hole
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.Start < b.Start
}

// HQRegion returns the hole's high-quality interval.  The second return is
// false when the hole is unknown or has no HQRegion row; a present but
// empty interval (end <= start) is returned as-is, so callers must check
// Len.
func (t *Table) HQRegion(hole uint32) (Interval, bool) {
	hr := t.holes[hole]
	if hr == nil || !hr.hasHQ {
		return Interval{}, false
	}
	return hr.hq, true
}

// Adapters returns the hole's adapter intervals in ascending start order
// (the load order; the table never re-sorts).  Unknown holes yield nil.
func (t *Table) Adapters(hole uint32) []Interval {
	hr := t.holes[hole]
	if hr == nil {
		return nil
	}
	return hr.adapters
}

// Inserts returns the hole's insert intervals in load order.
func (t *Table) Inserts(hole uint32) []Interval {
	hr := t.holes[hole]
	if hr == nil {
		return nil
	}
	return hr.inserts
}

// Load reads a region table file.  See the package comment for the format.
func Load(ctx context.Context, path string) (*Table, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	r := bufio.NewReader(in.Reader(ctx))
	var anns []Annotation
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: opening gzip", path)
		}
		defer gz.Close() // nolint: errcheck
		anns, err = parseRows(path, bufio.NewScanner(gz))
		if err != nil {
			return nil, err
		}
	} else {
		anns, err = parseRows(path, bufio.NewScanner(r))
		if err != nil {
			return nil, err
		}
	}
	return NewTable(anns)
}

func parseRows(path string, scanner *bufio.Scanner) ([]Annotation, error) {
	var anns []Annotation
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) < 4 {
			return nil, errors.Errorf("%s:%d: expected at least 4 columns, got %d", path, lineno, len(cols))
		}
		hole, err := strconv.ParseUint(cols[0], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: hole number", path, lineno)
		}
		typ, err := parseType(cols[1])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, lineno)
		}
		start, err := strconv.Atoi(cols[2])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: region start", path, lineno)
		}
		end, err := strconv.Atoi(cols[3])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: region end", path, lineno)
		}
		score := 0
		if len(cols) > 4 {
			if score, err = strconv.Atoi(cols[4]); err != nil {
				return nil, errors.Wrapf(err, "%s:%d: region score", path, lineno)
			}
		}
		anns = append(anns, Annotation{
			Hole:  uint32(hole),
			Type:  typ,
			Start: start,
			End:   end,
			Score: score,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s: reading region table", path)
	}
	return anns, nil
}
