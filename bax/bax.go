// Package bax defines the in-memory and on-disk forms of raw per-ZMW
// sequencing traces.  A legacy instrument produces one polymerase read per
// ZMW (zero-mode waveguide), bundling the basecall string with a set of
// per-base quality features and frame-duration arrays.  The upstream
// extractor hands these to us as a recordio stream; this package owns the
// record type and its codec.
package bax

import (
	"github.com/grailbio/base/errors"
)

// ZmwRecord is one polymerase read.  All per-base feature arrays are either
// empty or exactly len(Basecall) long.  The record is read-only once handed
// to a converter.
type ZmwRecord struct {
	// HoleNumber identifies the ZMW, unique within one movie.
	HoleNumber uint32

	// NumPasses is the number of complete passes of the insert, set only
	// for circular-consensus (CCS) records.
	NumPasses int32

	// ReadQuality is the predicted read accuracy in [0, 1].
	ReadQuality float32

	// HQRegionSNR holds per-channel signal-to-noise of the high-quality
	// region, in A, C, G, T order.  All zeros when the ZMW has no
	// characterized HQ region.
	HQRegionSNR [4]float32

	// Basecall is the called sequence over {A,C,G,T,N}.
	Basecall []byte

	// Qualities are per-base quality values, populated for CCS records
	// only.
	Qualities []byte

	DeletionQV     []byte
	InsertionQV    []byte
	SubstitutionQV []byte
	MergeQV        []byte

	// DeletionTag and SubstitutionTag are per-base tag characters (the
	// most likely deleted/substituted base).
	DeletionTag     []byte
	SubstitutionTag []byte

	// PreBaseFrames is the inter-pulse duration preceding each base, in
	// frames.  WidthInFrames is each base's pulse width.
	PreBaseFrames []uint16
	WidthInFrames []uint16
}

// Validate checks the per-base array length invariant.
func (z *ZmwRecord) Validate() error {
	n := len(z.Basecall)
	check := func(name string, l int) error {
		if l != 0 && l != n {
			return errors.E("zmw", z.HoleNumber, name, "length", l, "does not match basecall length", n)
		}
		return nil
	}
	for _, f := range []struct {
		name string
		l    int
	}{
		{"Qualities", len(z.Qualities)},
		{"DeletionQV", len(z.DeletionQV)},
		{"InsertionQV", len(z.InsertionQV)},
		{"SubstitutionQV", len(z.SubstitutionQV)},
		{"MergeQV", len(z.MergeQV)},
		{"DeletionTag", len(z.DeletionTag)},
		{"SubstitutionTag", len(z.SubstitutionTag)},
		{"PreBaseFrames", len(z.PreBaseFrames)},
		{"WidthInFrames", len(z.WidthInFrames)},
	} {
		if err := check(f.name, f.l); err != nil {
			return err
		}
	}
	return nil
}

// RunInfo carries the per-movie scan metadata propagated into read groups.
// Every field is optional; absent values stay empty strings and are never an
// error.
type RunInfo struct {
	MovieName         string
	BindingKit        string
	SequencingKit     string
	BasecallerVersion string
	// FrameRateHz is kept as the verbatim string from the instrument so
	// downstream consumers see the exact same text (e.g. "75.00577").
	FrameRateHz string
}
