package convert

// ReadType selects which derived read a conversion pass emits.  Each value
// statically determines the primary stream's label, whether a companion
// scrap stream is active, and the per-base features carried by both.
type ReadType int

const (
	// CCS emits pre-computed circular-consensus reads, primary only.
	CCS ReadType = iota
	// HQRegion emits the high-quality interval to the primary stream and
	// the low-quality flanks to the scrap stream.
	HQRegion
	// Polymerase emits the whole raw basecall, primary only.
	Polymerase
	// Subread emits adapter-delimited subreads to the primary stream and
	// their complement to the scrap stream.
	Subread
)

// scrapLabel is the read-type label of every scrap companion stream.
const scrapLabel = "SCRAP"

// Label returns the read-type string recorded verbatim in group metadata.
func (rt ReadType) Label() string {
	switch rt {
	case CCS:
		return "CCS"
	case HQRegion:
		return "HQREGION"
	case Polymerase:
		return "POLYMERASE"
	case Subread:
		return "SUBREAD"
	}
	return "UNKNOWN"
}

// HasScrap reports whether the read type routes excluded material to a
// companion scrap stream.
func (rt ReadType) HasScrap() bool {
	return rt == HQRegion || rt == Subread
}

// primarySuffix returns the primary output file suffix expected by existing
// consumers next to a movie prefix.
func (rt ReadType) primarySuffix() string {
	switch rt {
	case CCS:
		return ".ccs.bam"
	case HQRegion:
		return ".hqregions.bam"
	case Polymerase:
		return ".polymerase.bam"
	case Subread:
		return ".subreads.bam"
	}
	return ".bam"
}

func (rt ReadType) scrapSuffix() string {
	switch rt {
	case HQRegion:
		return ".lqregions.bam"
	case Subread:
		return ".scraps.bam"
	}
	return ""
}

// Feature identifies one per-base quality feature.
type Feature int

const (
	// DeletionQV is the probability of a deleted base before the current
	// one.
	DeletionQV Feature = iota
	// InsertionQV is the probability that the current base is an
	// insertion.
	InsertionQV
	// SubstitutionQV is the probability that the current base is a
	// substitution.
	SubstitutionQV
	// MergeQV is the probability of a merged pulse at the current base.
	MergeQV
	// DeletionTag is the most likely deleted base character.
	DeletionTag
	// SubstitutionTag is the most likely substituted base character.
	SubstitutionTag
	// IPD is the inter-pulse duration before the base, in frames.
	IPD
	// PulseWidth is the base's pulse width, in frames.
	PulseWidth
)

// Tag returns the two-character BAM tag assigned to the feature.
func (f Feature) Tag() string {
	switch f {
	case DeletionQV:
		return "dq"
	case InsertionQV:
		return "iq"
	case SubstitutionQV:
		return "sq"
	case MergeQV:
		return "mq"
	case DeletionTag:
		return "dt"
	case SubstitutionTag:
		return "st"
	case IPD:
		return "ip"
	case PulseWidth:
		return "pw"
	}
	return ""
}

// IsFrameFeature reports whether the feature is frame-duration based and
// therefore subject to the frame codec.
func (f Feature) IsFrameFeature() bool {
	return f == IPD || f == PulseWidth
}

// Features returns the feature set carried by records of this read type, in
// the fixed order used when rendering group metadata.  The scrap companion
// of a stream carries the same set as its primary.
func (rt ReadType) Features() []Feature {
	switch rt {
	case CCS:
		return []Feature{DeletionQV, InsertionQV, SubstitutionQV}
	case HQRegion:
		return []Feature{DeletionQV, InsertionQV, SubstitutionQV, MergeQV, DeletionTag, IPD}
	case Polymerase, Subread:
		return []Feature{DeletionQV, InsertionQV, SubstitutionQV, MergeQV, DeletionTag, IPD, PulseWidth}
	}
	return nil
}
