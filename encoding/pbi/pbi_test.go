package pbi

import (
	"bytes"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func aux(t *testing.T, tag string, v interface{}) sam.Aux {
	t.Helper()
	a, err := sam.NewAux(sam.NewTag(tag), v)
	assert.NoError(t, err)
	return a
}

func testRecord(t *testing.T, name string, hole, qs, qe int32, cx uint8) *sam.Record {
	t.Helper()
	n := int(qe - qs)
	seq := make([]byte, n)
	qual := make([]byte, n)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
		qual[i] = 0xff
	}
	return &sam.Record{
		Name:    name,
		Pos:     -1,
		MatePos: -1,
		MapQ:    255,
		Flags:   sam.Unmapped,
		Seq:     sam.NewSeq(seq),
		Qual:    qual,
		AuxFields: []sam.Aux{
			aux(t, "RG", "eb68971f"),
			aux(t, "qs", qs),
			aux(t, "qe", qe),
			aux(t, "zm", hole),
			aux(t, "rq", float32(0.9)),
			aux(t, "cx", cx),
		},
	}
}

// writeBAM serializes the records into an in-memory BAM stream.
func writeBAM(t *testing.T, recs []*sam.Record) []byte {
	t.Helper()
	header, err := sam.NewHeader(nil, nil)
	assert.NoError(t, err)
	header.SortOrder = sam.UnknownOrder
	var buf bytes.Buffer
	bw, err := bam.NewWriter(&buf, header, 1)
	assert.NoError(t, err)
	for _, rec := range recs {
		assert.NoError(t, bw.Write(rec))
	}
	assert.NoError(t, bw.Close())
	return buf.Bytes()
}

func TestWriteReadRoundTrip(t *testing.T) {
	recs := []*sam.Record{
		testRecord(t, "m/7/0_100", 7, 0, 100, 0),
		testRecord(t, "m/7/120_200", 7, 120, 200, 3),
		testRecord(t, "m/9/0_50", 9, 0, 50, 0),
		testRecord(t, "m/12/10_30", 12, 10, 30, 1),
	}
	bamBytes := writeBAM(t, recs)

	var buf bytes.Buffer
	assert.NoError(t, WriteIndex(&buf, bytes.NewReader(bamBytes)))
	idx, err := ReadIndex(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)
	assert.EQ(t, len(idx), len(recs))

	// The read group id is the 8-hex string reinterpreted as a 32-bit value.
	expectedRGID := uint32(0xeb68971f)
	expect.EQ(t, idx[0].RGID, int32(expectedRGID))
	expect.EQ(t, idx[0].QStart, int32(0))
	expect.EQ(t, idx[0].QEnd, int32(100))
	expect.EQ(t, idx[0].Hole, int32(7))
	expect.EQ(t, idx[0].ReadQual, float32(0.9))
	expect.EQ(t, idx[1].QStart, int32(120))
	expect.EQ(t, idx[1].CtxFlags, uint8(3))
	expect.EQ(t, idx[3].Hole, int32(12))

	// Virtual offsets strictly increase in file order.
	for i := 1; i < len(idx); i++ {
		expect.True(t, idx[i].VOffset > idx[i-1].VOffset)
	}
}

func TestFind(t *testing.T) {
	recs := []*sam.Record{
		testRecord(t, "m/7/0_100", 7, 0, 100, 0),
		testRecord(t, "m/7/120_200", 7, 120, 200, 3),
		testRecord(t, "m/9/0_50", 9, 0, 50, 0),
	}
	var buf bytes.Buffer
	assert.NoError(t, WriteIndex(&buf, bytes.NewReader(writeBAM(t, recs))))
	idx, err := ReadIndex(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)

	got := idx.Find(7)
	assert.EQ(t, len(got), 2)
	expect.EQ(t, got[0].QStart, int32(0))
	expect.EQ(t, got[1].QStart, int32(120))
	expect.EQ(t, len(idx.Find(9)), 1)
	expect.EQ(t, len(idx.Find(8)), 0)
	expect.EQ(t, len(idx.Find(100)), 0)
}

func TestWriteIndexRejectsMissingHole(t *testing.T) {
	rec := testRecord(t, "m/7/0_10", 7, 0, 10, 0)
	var kept []sam.Aux
	for _, a := range rec.AuxFields {
		if a.Tag() != zmTag {
			kept = append(kept, a)
		}
	}
	rec.AuxFields = kept

	var buf bytes.Buffer
	err := WriteIndex(&buf, bytes.NewReader(writeBAM(t, []*sam.Record{rec})))
	expect.NotNil(t, err)
}

func TestReadIndexRejectsBadMagic(t *testing.T) {
	// A BAM stream is valid bgzf but has the wrong leading bytes.
	bamBytes := writeBAM(t, []*sam.Record{testRecord(t, "m/1/0_10", 1, 0, 10, 0)})
	_, err := ReadIndex(bytes.NewReader(bamBytes))
	expect.NotNil(t, err)
}

func TestEmptyIndex(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteIndex(&buf, bytes.NewReader(writeBAM(t, nil))))
	idx, err := ReadIndex(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)
	expect.EQ(t, len(idx), 0)
}
