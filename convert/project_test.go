package convert

import (
	"testing"

	"github.com/grailbio/bax2bam/bax"
	"github.com/grailbio/bax2bam/regions"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func testZmw(hole uint32, seq string) *bax.ZmwRecord {
	n := len(seq)
	z := &bax.ZmwRecord{
		HoleNumber:     hole,
		ReadQuality:    0.901,
		HQRegionSNR:    [4]float32{4.0, 6.5, 5.5, 10.25},
		Basecall:       []byte(seq),
		DeletionQV:     make([]byte, n),
		InsertionQV:    make([]byte, n),
		SubstitutionQV: make([]byte, n),
		MergeQV:        make([]byte, n),
		DeletionTag:    make([]byte, n),
		PreBaseFrames:  make([]uint16, n),
		WidthInFrames:  make([]uint16, n),
	}
	for i := 0; i < n; i++ {
		z.DeletionQV[i] = byte(i % 40)
		z.InsertionQV[i] = byte((i + 1) % 40)
		z.SubstitutionQV[i] = byte((i + 2) % 40)
		z.MergeQV[i] = byte((i + 3) % 40)
		z.DeletionTag[i] = "ACGT"[i%4]
		z.PreBaseFrames[i] = uint16(2 * i)
		z.WidthInFrames[i] = uint16(3*i + 1)
	}
	return z
}

func findAux(t *testing.T, r *sam.Record, tag string) (interface{}, bool) {
	t.Helper()
	for _, a := range r.AuxFields {
		if a.Tag() == sam.NewTag(tag) {
			return a.Value(), true
		}
	}
	return nil, false
}

func auxIntValue(t *testing.T, r *sam.Record, tag string) int64 {
	t.Helper()
	v, ok := findAux(t, r, tag)
	require.True(t, ok, "missing tag %s on %s", tag, r.Name)
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	}
	t.Fatalf("tag %s has non-integer value %v", tag, v)
	return 0
}

func TestProjectSubread(t *testing.T) {
	z := testZmw(42, "ACGTACGTACGTACGTACGT")
	rg := NewReadGroupInfo(Subread, "SUBREAD", bax.RunInfo{MovieName: testMovie})
	rec, err := project(z, rg, projection{
		start:       5,
		end:         15,
		withContext: true,
		flags:       regions.AdapterBefore | regions.AdapterAfter,
	})
	assert.NoError(t, err)

	expect.EQ(t, rec.Name, testMovie+"/42/5_15")
	expect.EQ(t, rec.Seq.Expand(), []byte("CGTACGTACG"))
	expect.EQ(t, rec.Pos, -1)
	expect.EQ(t, rec.MatePos, -1)
	expect.EQ(t, int(rec.MapQ), 255)
	expect.True(t, rec.Flags&sam.Unmapped != 0)

	// QUAL is the 0xff sentinel for non-CCS reads.
	for _, q := range rec.Qual {
		require.EqualValues(t, 0xff, q)
	}

	rgID, ok := findAux(t, rec, "RG")
	require.True(t, ok)
	expect.EQ(t, rgID, rg.ID)
	expect.EQ(t, auxIntValue(t, rec, "qs"), int64(5))
	expect.EQ(t, auxIntValue(t, rec, "qe"), int64(15))
	expect.EQ(t, auxIntValue(t, rec, "zm"), int64(42))
	expect.EQ(t, auxIntValue(t, rec, "np"), int64(1))
	expect.EQ(t, auxIntValue(t, rec, "cx"),
		int64(regions.AdapterBefore|regions.AdapterAfter))

	sn, ok := findAux(t, rec, "sn")
	require.True(t, ok)
	expect.EQ(t, sn, []float32{4.0, 6.5, 5.5, 10.25})

	// Round-trip: each feature slice must match direct indexed lookup on
	// the source arrays.
	dq, ok := findAux(t, rec, "dq")
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		require.EqualValues(t, z.DeletionQV[5+i]+33, dq.(string)[i])
	}
	dt, ok := findAux(t, rec, "dt")
	require.True(t, ok)
	expect.EQ(t, dt, string(z.DeletionTag[5:15]))
	ip, ok := findAux(t, rec, "ip")
	require.True(t, ok)
	expect.EQ(t, ip, z.PreBaseFrames[5:15])
	pw, ok := findAux(t, rec, "pw")
	require.True(t, ok)
	expect.EQ(t, pw, z.WidthInFrames[5:15])
}

func TestProjectCCS(t *testing.T) {
	z := testZmw(7, "ACGTACGT")
	z.NumPasses = 11
	z.Qualities = []byte{30, 31, 32, 33, 34, 35, 36, 37}
	rg := NewReadGroupInfo(CCS, "CCS", bax.RunInfo{MovieName: testMovie})
	rec, err := project(z, rg, projection{start: 0, end: 8, withQualities: true})
	assert.NoError(t, err)

	expect.EQ(t, rec.Name, testMovie+"/7/0_8")
	expect.EQ(t, rec.Qual, z.Qualities)
	expect.EQ(t, auxIntValue(t, rec, "np"), int64(11))

	// CCS records carry neither SNR nor context flags.
	_, ok := findAux(t, rec, "sn")
	expect.False(t, ok)
	_, ok = findAux(t, rec, "cx")
	expect.False(t, ok)
	// And no frame or tag features.
	_, ok = findAux(t, rec, "ip")
	expect.False(t, ok)
	_, ok = findAux(t, rec, "pw")
	expect.False(t, ok)
	_, ok = findAux(t, rec, "dt")
	expect.False(t, ok)
	_, ok = findAux(t, rec, "mq")
	expect.False(t, ok)
}

func TestProjectHQRegionFeatureSet(t *testing.T) {
	z := testZmw(3, "ACGTACGTAC")
	rg := NewReadGroupInfo(HQRegion, "HQREGION", bax.RunInfo{MovieName: testMovie})
	rec, err := project(z, rg, projection{start: 2, end: 8})
	assert.NoError(t, err)

	// HQREGION carries ip but not pw.
	_, ok := findAux(t, rec, "ip")
	expect.True(t, ok)
	_, ok = findAux(t, rec, "pw")
	expect.False(t, ok)
	// No context flags outside SUBREAD mode.
	_, ok = findAux(t, rec, "cx")
	expect.False(t, ok)
}

func TestProjectZeroSNROmitted(t *testing.T) {
	z := testZmw(3, "ACGTAC")
	z.HQRegionSNR = [4]float32{}
	rg := NewReadGroupInfo(Polymerase, "POLYMERASE", bax.RunInfo{MovieName: testMovie})
	rec, err := project(z, rg, projection{start: 0, end: 6})
	assert.NoError(t, err)
	_, ok := findAux(t, rec, "sn")
	expect.False(t, ok)
}

func TestProjectMissingFeatureArrays(t *testing.T) {
	// Absent feature arrays are skipped, not emitted empty.
	z := &bax.ZmwRecord{
		HoleNumber: 9,
		Basecall:   []byte("ACGT"),
	}
	rg := NewReadGroupInfo(Subread, "SUBREAD", bax.RunInfo{MovieName: testMovie})
	rec, err := project(z, rg, projection{start: 0, end: 4, withContext: true})
	assert.NoError(t, err)
	for _, tag := range []string{"dq", "iq", "sq", "mq", "dt", "ip", "pw"} {
		_, ok := findAux(t, rec, tag)
		expect.False(t, ok, "tag %s should be absent", tag)
	}
}

func TestProjectOutOfRange(t *testing.T) {
	z := testZmw(1, "ACGT")
	rg := NewReadGroupInfo(Subread, "SUBREAD", bax.RunInfo{MovieName: testMovie})
	_, err := project(z, rg, projection{start: 0, end: 5})
	expect.NotNil(t, err)
	_, err = project(z, rg, projection{start: 3, end: 2})
	expect.NotNil(t, err)
}
