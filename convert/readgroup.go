package convert

import (
	"crypto/md5"
	"fmt"
	"strings"
	"time"

	"github.com/grailbio/bax2bam/bax"
	"github.com/grailbio/hts/sam"
)

// Platform is the platform string recorded in every read group.
const Platform = "PACBIO"

// frameCodecV1 is the only frame encoding in use; it is recorded whenever a
// frame-based feature (ip/pw) is present.
const frameCodecV1 = "V1"

// ReadGroupInfo is the per (movie, read type) identity attached to every
// emitted record of a stream.  It is built once before any record is
// emitted and never mutated.
type ReadGroupInfo struct {
	// ID is the 8-hex-character group identifier derived from the movie
	// name and read-type label.
	ID string
	// ReadType is the label stored verbatim ("SUBREAD", "SCRAP", ...).
	ReadType string
	// Movie is the movie name shared by all records of the group.
	Movie string

	// Run metadata propagated verbatim; empty when the source had no
	// value.
	FrameRateHz       string
	BasecallerVersion string
	BindingKit        string
	SequencingKit     string

	// Features maps each carried feature to its two-character tag.
	Features map[Feature]string
	// FrameCodec is "V1" when any frame-based feature is carried, else
	// empty.
	FrameCodec string

	featureOrder []Feature
}

// ReadGroupID derives the group identifier: the first 8 hex characters of
// MD5(movie + "//" + label).  The derivation is a bit-exact contract with
// existing consumers.
func ReadGroupID(movie, label string) string {
	sum := md5.Sum([]byte(movie + "//" + label))
	return fmt.Sprintf("%x", sum)[:8]
}

// NewReadGroupInfo builds the group identity for one stream.  rt determines
// the feature set; label is rt.Label() for a primary stream and "SCRAP" for
// its companion.  Missing run metadata is not an error; the affected fields
// stay empty.
func NewReadGroupInfo(rt ReadType, label string, info bax.RunInfo) *ReadGroupInfo {
	rg := &ReadGroupInfo{
		ID:                ReadGroupID(info.MovieName, label),
		ReadType:          label,
		Movie:             info.MovieName,
		FrameRateHz:       info.FrameRateHz,
		BasecallerVersion: info.BasecallerVersion,
		BindingKit:        info.BindingKit,
		SequencingKit:     info.SequencingKit,
		Features:          make(map[Feature]string),
		featureOrder:      rt.Features(),
	}
	for _, f := range rg.featureOrder {
		rg.Features[f] = f.Tag()
		if f.IsFrameFeature() {
			rg.FrameCodec = frameCodecV1
		}
	}
	return rg
}

// featureDescriptions maps features to their key in the DS description
// string, in the PacBio read-group convention.
var featureDescriptions = map[Feature]string{
	DeletionQV:      "DeletionQV",
	InsertionQV:     "InsertionQV",
	SubstitutionQV:  "SubstitutionQV",
	MergeQV:         "MergeQV",
	DeletionTag:     "DeletionTag",
	SubstitutionTag: "SubstitutionTag",
	IPD:             "Ipd",
	PulseWidth:      "PulseWidth",
}

// Description renders the DS read-group field: READTYPE first, then one
// KEY=tag pair per carried feature (frame features as KEY:Frames=tag), then
// the non-empty run metadata fields.  Order is fixed so the header is
// byte-stable across runs.
func (rg *ReadGroupInfo) Description() string {
	parts := []string{"READTYPE=" + rg.ReadType}
	for _, f := range rg.featureOrder {
		key := featureDescriptions[f]
		if f.IsFrameFeature() {
			key += ":Frames"
		}
		parts = append(parts, key+"="+rg.Features[f])
	}
	if rg.BindingKit != "" {
		parts = append(parts, "BINDINGKIT="+rg.BindingKit)
	}
	if rg.SequencingKit != "" {
		parts = append(parts, "SEQUENCINGKIT="+rg.SequencingKit)
	}
	if rg.BasecallerVersion != "" {
		parts = append(parts, "BASECALLERVERSION="+rg.BasecallerVersion)
	}
	if rg.FrameRateHz != "" {
		parts = append(parts, "FRAMERATEHZ="+rg.FrameRateHz)
	}
	return strings.Join(parts, ";")
}

// SamReadGroup renders the group as an hts read group for the output
// header.  PU carries the movie name per the platform convention; DS
// carries the Description string so the metadata round-trips through the
// header.
func (rg *ReadGroupInfo) SamReadGroup() (*sam.ReadGroup, error) {
	return sam.NewReadGroup(
		rg.ID,            // ID
		"",               // CN
		rg.Description(), // DS
		"",               // LB
		"",               // PG
		Platform,         // PL
		rg.Movie,         // PU
		"",               // SM
		"",               // FO
		"",               // KS
		time.Time{},      // DT
		0,                // PI
	)
}
