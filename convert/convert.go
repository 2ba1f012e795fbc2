// Package convert drives the single-pass conversion of legacy per-movie
// trace containers into read-type-specific BAM files with companion
// indexes.
//
// One pass consumes a bax record stream and, per enabled read type, routes
// slices of each polymerase read to a primary stream and (for HQREGION and
// SUBREAD) a companion scrap stream.  Record emission is strictly ordered:
// ZMWs in upstream order, intervals ascending within a ZMW, no interleaving
// across ZMWs.  The index-building sink depends on this.
package convert

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bax2bam/bax"
	"github.com/grailbio/bax2bam/regions"
	"v.io/x/lib/vlog"
)

// Opts configures a conversion pass.
type Opts struct {
	// ReadType selects the derived read to emit.
	ReadType ReadType

	// EmitTrailingLQ also routes the (hqEnd, len) suffix to the scrap
	// stream in HQREGION mode.  Historical behavior emits only the
	// [0, hqStart) prefix, so this defaults to off.
	EmitTrailingLQ bool

	// Parallelism bounds the number of movies converted concurrently by
	// Convert.  Zero means one movie at a time.  Work within a movie is
	// always sequential.
	Parallelism int
}

// DefaultOpts holds the default conversion parameters.
var DefaultOpts = Opts{
	ReadType:       Subread,
	EmitTrailingLQ: false,
	Parallelism:    1,
}

// Movie names one movie's inputs and output location.
type Movie struct {
	// BaxPath is the bax recordio stream of raw ZMW records.
	BaxPath string
	// RegionsPath is the region table; empty defaults to BaxPath +
	// ".regions".  CCS and POLYMERASE passes never open it.
	RegionsPath string
	// OutPrefix is the output path prefix; empty defaults to BaxPath
	// with its extension removed.  Output files are OutPrefix plus a
	// read-type suffix (".subreads.bam"/".scraps.bam", etc.), each with
	// a ".pbi" companion.
	OutPrefix string
}

func (m Movie) regionsPath() string {
	if m.RegionsPath != "" {
		return m.RegionsPath
	}
	return m.BaxPath + ".regions"
}

func (m Movie) outPrefix() string {
	if m.OutPrefix != "" {
		return m.OutPrefix
	}
	return strings.TrimSuffix(m.BaxPath, filepath.Ext(m.BaxPath))
}

// Convert converts each movie in turn, up to opts.Parallelism at a time.
// Movies share no mutable state; a failed movie does not disturb the
// outputs of its siblings.  The first error is returned.
func Convert(ctx context.Context, movies []Movie, opts Opts) error {
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > len(movies) {
		parallelism = len(movies)
	}
	return traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(movies)) / parallelism
		endIdx := ((jobIdx + 1) * len(movies)) / parallelism
		for _, movie := range movies[startIdx:endIdx] {
			if err := ConvertMovie(ctx, movie, opts); err != nil {
				return err
			}
		}
		return nil
	})
}

// ConvertMovie runs one movie's conversion pass.  On error the movie's
// output pair is to be treated as failed; no partial cleanup or retry is
// attempted here.
func ConvertMovie(ctx context.Context, movie Movie, opts Opts) error {
	in, err := bax.OpenReader(ctx, movie.BaxPath)
	if err != nil {
		return err
	}
	defer in.Close(ctx) // nolint: errcheck

	info := in.RunInfo()
	if info.MovieName == "" {
		// Fall back to the file name so records still get usable names.
		base := filepath.Base(movie.BaxPath)
		info.MovieName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	rt := opts.ReadType
	var table *regions.Table
	if rt == HQRegion || rt == Subread {
		if table, err = regions.Load(ctx, movie.regionsPath()); err != nil {
			return err
		}
	}

	primaryRG := NewReadGroupInfo(rt, rt.Label(), info)
	primary, err := newBAMSink(ctx, movie.outPrefix()+rt.primarySuffix(), primaryRG)
	if err != nil {
		return err
	}
	var (
		scrap   Sink
		scrapRG *ReadGroupInfo
	)
	if rt.HasScrap() {
		scrapRG = NewReadGroupInfo(rt, scrapLabel, info)
		if scrap, err = newBAMSink(ctx, movie.outPrefix()+rt.scrapSuffix(), scrapRG); err != nil {
			primary.Close(ctx) // nolint: errcheck
			return err
		}
	}

	st := state{
		opts:      opts,
		table:     table,
		primaryRG: primaryRG,
		scrapRG:   scrapRG,
		primary:   primary,
		scrap:     scrap,
	}
	nZmws := 0
	for in.Scan() {
		if err = st.convertZmw(in.Record()); err != nil {
			break
		}
		nZmws++
	}
	if err == nil {
		err = in.Err()
	}
	if err != nil {
		// Sink or stream failure aborts this movie; sibling movies are
		// unaffected.
		primary.Close(ctx) // nolint: errcheck
		if scrap != nil {
			scrap.Close(ctx) // nolint: errcheck
		}
		return errors.E(err, "converting movie", info.MovieName)
	}
	if err = primary.Close(ctx); err != nil {
		return errors.E(err, "converting movie", info.MovieName)
	}
	if scrap != nil {
		if err = scrap.Close(ctx); err != nil {
			return errors.E(err, "converting movie", info.MovieName)
		}
	}
	vlog.Infof("%s: converted %d ZMWs as %s", info.MovieName, nZmws, rt.Label())
	return nil
}

// state bundles the per-movie conversion context.
type state struct {
	opts      Opts
	table     *regions.Table
	primaryRG *ReadGroupInfo
	scrapRG   *ReadGroupInfo
	primary   Sink
	scrap     Sink
}

func (st *state) convertZmw(z *bax.ZmwRecord) error {
	switch st.opts.ReadType {
	case CCS:
		return st.emitWhole(z, true)
	case Polymerase:
		return st.emitWhole(z, false)
	case HQRegion:
		return st.emitHQRegion(z)
	case Subread:
		return st.emitSubreads(z)
	}
	return errors.E("unknown read type", int(st.opts.ReadType))
}

// emitWhole covers the entire base sequence with one primary record; used
// for CCS and POLYMERASE, which have no scrap stream.
func (st *state) emitWhole(z *bax.ZmwRecord, ccs bool) error {
	if len(z.Basecall) == 0 {
		return nil
	}
	rec, err := project(z, st.primaryRG, projection{
		start:         0,
		end:           len(z.Basecall),
		withQualities: ccs,
	})
	if err != nil {
		return err
	}
	return st.primary.Write(rec)
}

// emitHQRegion routes the HQ interval to the primary sink and the
// low-quality prefix to the scrap sink.  A ZMW with no usable HQ interval
// contributes its whole read to scrap.
func (st *state) emitHQRegion(z *bax.ZmwRecord) error {
	n := len(z.Basecall)
	hq, ok := st.table.HQRegion(z.HoleNumber)
	if !ok || hq.Len() == 0 {
		// Nothing qualifies as high quality; the entire read is scrap.
		return st.writeScrapRange(z, 0, n)
	}
	rec, err := project(z, st.primaryRG, projection{start: hq.Start, end: min(hq.End, n)})
	if err != nil {
		return err
	}
	if err = st.primary.Write(rec); err != nil {
		return err
	}
	if err := st.writeScrapRange(z, 0, hq.Start); err != nil {
		return err
	}
	if st.opts.EmitTrailingLQ {
		return st.writeScrapRange(z, hq.End, n)
	}
	return nil
}

// emitSubreads writes one primary record per subread interval and the
// complement of those intervals over [0, len) to scrap.  A ZMW yielding no
// subread intervals contributes nothing to either sink.
func (st *state) emitSubreads(z *bax.ZmwRecord) error {
	ivs := regions.SubreadIntervals(z.HoleNumber, st.table)
	if len(ivs) == 0 {
		return nil
	}
	for _, iv := range ivs {
		rec, err := project(z, st.primaryRG, projection{
			start:       iv.Start,
			end:         iv.End,
			withContext: true,
			flags:       iv.Flags,
		})
		if err != nil {
			return err
		}
		if err = st.primary.Write(rec); err != nil {
			return err
		}
	}
	// Scrap is the literal complement: pre-HQ prefix, adapter spans
	// inside the HQ window, post-HQ suffix, in ascending order.
	prev := 0
	for _, iv := range ivs {
		if err := st.writeScrapRange(z, prev, iv.Start); err != nil {
			return err
		}
		prev = iv.End
	}
	return st.writeScrapRange(z, prev, len(z.Basecall))
}

// writeScrapRange emits [start, end) to the scrap sink, dropping degenerate
// ranges.
func (st *state) writeScrapRange(z *bax.ZmwRecord, start, end int) error {
	if end > len(z.Basecall) {
		end = len(z.Basecall)
	}
	if end <= start {
		return nil
	}
	rec, err := project(z, st.scrapRG, projection{start: start, end: end})
	if err != nil {
		return err
	}
	return st.scrap.Write(rec)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
