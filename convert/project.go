package convert

import (
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bax2bam/bax"
	"github.com/grailbio/bax2bam/regions"
	"github.com/grailbio/hts/sam"
)

// unmappedMapQ is the mapping quality recorded on every emitted record;
// these reads are unaligned by construction.
const unmappedMapQ = 255

var (
	rgTag = sam.NewTag("RG")
	qsTag = sam.NewTag("qs")
	qeTag = sam.NewTag("qe")
	zmTag = sam.NewTag("zm")
	npTag = sam.NewTag("np")
	rqTag = sam.NewTag("rq")
	cxTag = sam.NewTag("cx")
	snTag = sam.NewTag("sn")
)

// projection describes one output record to slice out of a ZmwRecord.
type projection struct {
	start, end int
	// withContext attaches the cx flags; set only for SUBREAD records.
	withContext bool
	flags       regions.ContextFlags
	// withQualities keeps the record's own quality values; set only for
	// CCS records, which also carry NumPasses and no SNR.
	withQualities bool
}

// asciiOffset converts a raw quality value to its FASTQ character.
const asciiOffset = 33

func qvString(qv []byte) string {
	s := make([]byte, len(qv))
	for i, v := range qv {
		s[i] = v + asciiOffset
	}
	return string(s)
}

// project slices one byte range out of a raw record and builds the emitted
// BAM record: unaligned, named "<movie>/<hole>/<start>_<end>", carrying the
// read group id and exactly the feature tags enabled for the stream's read
// type.
func project(z *bax.ZmwRecord, rg *ReadGroupInfo, p projection) (*sam.Record, error) {
	if p.start < 0 || p.end > len(z.Basecall) || p.end < p.start {
		return nil, errors.E("zmw", z.HoleNumber, "projection", p.start, p.end,
			"out of range for basecall length", len(z.Basecall))
	}
	n := p.end - p.start

	r := sam.GetFromFreePool()
	r.Name = nameOf(rg.Movie, z.HoleNumber, p.start, p.end)
	r.Ref = nil
	r.MateRef = nil
	r.Pos = -1
	r.MatePos = -1
	r.MapQ = unmappedMapQ
	r.TempLen = 0
	r.Flags = sam.Unmapped
	r.Seq = sam.NewSeq(z.Basecall[p.start:p.end])
	if p.withQualities && len(z.Qualities) > 0 {
		r.Qual = z.Qualities[p.start:p.end]
	} else {
		qual := make([]byte, n)
		for i := range qual {
			qual[i] = 0xff
		}
		r.Qual = qual
	}

	aux := func(t sam.Tag, v interface{}) error {
		a, err := sam.NewAux(t, v)
		if err != nil {
			return errors.E(err, "zmw", z.HoleNumber, "building aux tag", t.String())
		}
		r.AuxFields = append(r.AuxFields, a)
		return nil
	}

	numPasses := int32(1)
	if p.withQualities {
		numPasses = z.NumPasses
	}
	if err := aux(rgTag, rg.ID); err != nil {
		return nil, err
	}
	if err := aux(qsTag, p.start); err != nil {
		return nil, err
	}
	if err := aux(qeTag, p.end); err != nil {
		return nil, err
	}
	if err := aux(zmTag, int(z.HoleNumber)); err != nil {
		return nil, err
	}
	if err := aux(npTag, int(numPasses)); err != nil {
		return nil, err
	}
	if err := aux(rqTag, z.ReadQuality); err != nil {
		return nil, err
	}
	if p.withContext {
		if err := aux(cxTag, int(p.flags)); err != nil {
			return nil, err
		}
	}
	if !p.withQualities && snrPresent(z.HQRegionSNR) {
		if err := aux(snTag, z.HQRegionSNR[:]); err != nil {
			return nil, err
		}
	}

	for _, f := range rg.featureOrder {
		var v interface{}
		switch f {
		case DeletionQV:
			v = sliceQV(z.DeletionQV, p.start, p.end)
		case InsertionQV:
			v = sliceQV(z.InsertionQV, p.start, p.end)
		case SubstitutionQV:
			v = sliceQV(z.SubstitutionQV, p.start, p.end)
		case MergeQV:
			v = sliceQV(z.MergeQV, p.start, p.end)
		case DeletionTag:
			v = sliceTag(z.DeletionTag, p.start, p.end)
		case SubstitutionTag:
			v = sliceTag(z.SubstitutionTag, p.start, p.end)
		case IPD:
			v = sliceFrames(z.PreBaseFrames, p.start, p.end)
		case PulseWidth:
			v = sliceFrames(z.WidthInFrames, p.start, p.end)
		}
		if v == nil {
			continue
		}
		if err := aux(sam.NewTag(f.Tag()), v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// nameOf formats the record name of one slice of a ZMW's read, a bit-exact
// contract with downstream consumers.
func nameOf(movie string, hole uint32, start, end int) string {
	return movie + "/" + strconv.FormatUint(uint64(hole), 10) + "/" +
		strconv.Itoa(start) + "_" + strconv.Itoa(end)
}

func snrPresent(snr [4]float32) bool {
	for _, v := range snr {
		if v != 0 {
			return true
		}
	}
	return false
}

func sliceQV(qv []byte, start, end int) interface{} {
	if len(qv) == 0 {
		return nil
	}
	return qvString(qv[start:end])
}

func sliceTag(tag []byte, start, end int) interface{} {
	if len(tag) == 0 {
		return nil
	}
	return string(tag[start:end])
}

func sliceFrames(frames []uint16, start, end int) interface{} {
	if len(frames) == 0 {
		return nil
	}
	return frames[start:end]
}
