package bax

// On-disk container for raw trace records: a recordio stream with the movie
// scan metadata in the header block and one marshaled ZmwRecord per record,
// in ascending hole-number order.  Records are zstd-compressed.

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

const (
	headerMovieName         = "bax-movie-name"
	headerBindingKit        = "bax-binding-kit"
	headerSequencingKit     = "bax-sequencing-kit"
	headerBasecallerVersion = "bax-basecaller-version"
	headerFrameRateHz       = "bax-frame-rate-hz"
)

func init() {
	recordiozstd.Init()
}

func marshalZmw(scratch []byte, v interface{}) ([]byte, error) {
	z := v.(*ZmwRecord)
	buf := bytes.NewBuffer(scratch[:0])
	b4 := make([]byte, 4)

	putU32 := func(x uint32) {
		binary.LittleEndian.PutUint32(b4, x)
		buf.Write(b4)
	}
	putBytes := func(b []byte) {
		putU32(uint32(len(b)))
		buf.Write(b)
	}
	putU16s := func(s []uint16) {
		putU32(uint32(len(s)))
		b2 := make([]byte, 2)
		for _, x := range s {
			binary.LittleEndian.PutUint16(b2, x)
			buf.Write(b2)
		}
	}

	putU32(z.HoleNumber)
	putU32(uint32(z.NumPasses))
	putU32(floatBits(z.ReadQuality))
	for _, snr := range z.HQRegionSNR {
		putU32(floatBits(snr))
	}
	putBytes(z.Basecall)
	putBytes(z.Qualities)
	putBytes(z.DeletionQV)
	putBytes(z.InsertionQV)
	putBytes(z.SubstitutionQV)
	putBytes(z.MergeQV)
	putBytes(z.DeletionTag)
	putBytes(z.SubstitutionTag)
	putU16s(z.PreBaseFrames)
	putU16s(z.WidthInFrames)
	return buf.Bytes(), nil
}

func unmarshalZmw(in []byte) (interface{}, error) {
	d := decoder{buf: in}
	z := &ZmwRecord{}
	z.HoleNumber = d.u32()
	z.NumPasses = int32(d.u32())
	z.ReadQuality = bitsFloat(d.u32())
	for i := range z.HQRegionSNR {
		z.HQRegionSNR[i] = bitsFloat(d.u32())
	}
	z.Basecall = d.bytes()
	z.Qualities = d.bytes()
	z.DeletionQV = d.bytes()
	z.InsertionQV = d.bytes()
	z.SubstitutionQV = d.bytes()
	z.MergeQV = d.bytes()
	z.DeletionTag = d.bytes()
	z.SubstitutionTag = d.bytes()
	z.PreBaseFrames = d.u16s()
	z.WidthInFrames = d.u16s()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, errors.E("bax record has", len(d.buf), "bytes of trailing garbage")
	}
	if err := z.Validate(); err != nil {
		return nil, err
	}
	return z, nil
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 4 {
		d.err = errors.E("bax record truncated")
		return 0
	}
	x := binary.LittleEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return x
}

func (d *decoder) bytes() []byte {
	n := int(d.u32())
	if d.err != nil || n == 0 {
		return nil
	}
	if len(d.buf) < n {
		d.err = errors.E("bax record truncated")
		return nil
	}
	b := make([]byte, n)
	copy(b, d.buf)
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u16s() []uint16 {
	n := int(d.u32())
	if d.err != nil || n == 0 {
		return nil
	}
	if len(d.buf) < 2*n {
		d.err = errors.E("bax record truncated")
		return nil
	}
	s := make([]uint16, n)
	for i := range s {
		s[i] = binary.LittleEndian.Uint16(d.buf[2*i:])
	}
	d.buf = d.buf[2*n:]
	return s
}

func floatBits(f float32) uint32 { return math.Float32bits(f) }
func bitsFloat(u uint32) float32 { return math.Float32frombits(u) }

// Writer produces a bax recordio stream.  Tests and upstream extractors use
// it; the converter only reads.
type Writer struct {
	w recordio.Writer
}

// NewWriter starts a stream with the given scan metadata in the header
// block.  Records appended later must be in ascending hole-number order;
// the reader enforces this.
func NewWriter(w io.Writer, info RunInfo) *Writer {
	rw := recordio.NewWriter(w, recordio.WriterOpts{
		Marshal:      marshalZmw,
		Transformers: []string{recordiozstd.Name},
	})
	rw.AddHeader(headerMovieName, info.MovieName)
	rw.AddHeader(headerBindingKit, info.BindingKit)
	rw.AddHeader(headerSequencingKit, info.SequencingKit)
	rw.AddHeader(headerBasecallerVersion, info.BasecallerVersion)
	rw.AddHeader(headerFrameRateHz, info.FrameRateHz)
	return &Writer{w: rw}
}

// Append queues one record for writing.
func (w *Writer) Append(z *ZmwRecord) {
	w.w.Append(z)
}

// Finish flushes the stream.
func (w *Writer) Finish() error {
	return w.w.Finish()
}

// Reader is a single-pass iterator over a bax recordio stream.
type Reader struct {
	in       file.File
	sc       recordio.Scanner
	info     RunInfo
	rec      *ZmwRecord
	lastHole int64
	err      error
}

// OpenReader opens the stream at path and parses its scan metadata.
func OpenReader(ctx context.Context, path string) (*Reader, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &Reader{in: in, lastHole: -1}
	r.sc = recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: unmarshalZmw,
	})
	for _, kv := range r.sc.Header() {
		s, ok := kv.Value.(string)
		if !ok {
			continue
		}
		switch kv.Key {
		case headerMovieName:
			r.info.MovieName = s
		case headerBindingKit:
			r.info.BindingKit = s
		case headerSequencingKit:
			r.info.SequencingKit = s
		case headerBasecallerVersion:
			r.info.BasecallerVersion = s
		case headerFrameRateHz:
			r.info.FrameRateHz = s
		}
	}
	return r, nil
}

// RunInfo returns the scan metadata from the stream header.  Missing fields
// are empty strings.
func (r *Reader) RunInfo() RunInfo { return r.info }

// Scan advances to the next record.  It returns false at end of stream or on
// error; check Err afterwards.
func (r *Reader) Scan() bool {
	if r.err != nil {
		return false
	}
	if !r.sc.Scan() {
		return false
	}
	z := r.sc.Get().(*ZmwRecord)
	if int64(z.HoleNumber) <= r.lastHole {
		r.err = errors.E("bax stream out of order: hole", z.HoleNumber, "after", r.lastHole)
		return false
	}
	r.lastHole = int64(z.HoleNumber)
	r.rec = z
	return true
}

// Record returns the record read by the last successful Scan.
func (r *Reader) Record() *ZmwRecord { return r.rec }

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.sc.Err()
}

// Close releases the underlying file.
func (r *Reader) Close(ctx context.Context) error {
	return r.in.Close(ctx)
}
