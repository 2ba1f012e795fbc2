// Package pbi reads and writes the random-access companion index placed
// next to each converted BAM.  The index maps every record of the BAM to
// its bgzf virtual offset together with the per-record fields downstream
// tools filter on (hole number, query interval, read quality, context
// flags, read group).
//
// The on-disk format is a bgzf stream whose payload is the magic byte
// sequence {'P', 'B', 'I', 0x01, 0xc2, 0x5d, 0x8e, 0x33} followed by a
// little-endian uint32 record count and one fixed-width entry per record:
//
//	int32   read-group id (the 8-hex group identifier parsed as hex)
//	int32   query start
//	int32   query end
//	int32   hole number
//	float32 read quality
//	uint8   local context flags
//	uint64  bgzf virtual offset of the record
//
// Entries appear in BAM file order, so virtual offsets are strictly
// increasing; the reader rejects anything else.
package pbi

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

var pbiMagic = []byte{'P', 'B', 'I', 0x01, 0xc2, 0x5d, 0x8e, 0x33}

// Entry is one record's index row.
type Entry struct {
	RGID     int32
	QStart   int32
	QEnd     int32
	Hole     int32
	ReadQual float32
	CtxFlags uint8
	VOffset  uint64
}

// Index is the parsed form, in BAM file order.
type Index []Entry

// Find returns the entries for the given hole number.  Entries for one hole
// are contiguous because the BAM is emitted in ascending hole order.
func (idx Index) Find(hole int32) []Entry {
	lo := sort.Search(len(idx), func(i int) bool { return idx[i].Hole >= hole })
	hi := sort.Search(len(idx), func(i int) bool { return idx[i].Hole > hole })
	return idx[lo:hi]
}

func toVOffset(off bgzf.Offset) uint64 {
	return uint64(off.File)<<16 | uint64(off.Block)
}

var (
	zmTag = sam.NewTag("zm")
	qsTag = sam.NewTag("qs")
	qeTag = sam.NewTag("qe")
	rqTag = sam.NewTag("rq")
	cxTag = sam.NewTag("cx")
	rgTag = sam.NewTag("RG")
)

func auxInt(r *sam.Record, tag sam.Tag) (int64, bool) {
	for _, a := range r.AuxFields {
		if a.Tag() != tag {
			continue
		}
		switch v := a.Value().(type) {
		case int:
			return int64(v), true
		case int8:
			return int64(v), true
		case int16:
			return int64(v), true
		case int32:
			return int64(v), true
		case uint8:
			return int64(v), true
		case uint16:
			return int64(v), true
		case uint32:
			return int64(v), true
		}
	}
	return 0, false
}

func auxFloat(r *sam.Record, tag sam.Tag) (float32, bool) {
	for _, a := range r.AuxFields {
		if a.Tag() == tag {
			if v, ok := a.Value().(float32); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func auxString(r *sam.Record, tag sam.Tag) (string, bool) {
	for _, a := range r.AuxFields {
		if a.Tag() == tag {
			if v, ok := a.Value().(string); ok {
				return v, true
			}
		}
	}
	return "", false
}

// entryOf derives one index row from a record and its virtual offset.
// Records written by this converter always carry zm/qs/qe; missing optional
// fields default to zero.
func entryOf(r *sam.Record, voffset uint64) (Entry, error) {
	e := Entry{VOffset: voffset}
	if id, ok := auxString(r, rgTag); ok {
		parsed, err := strconv.ParseUint(id, 16, 32)
		if err != nil {
			return Entry{}, errors.E(err, "record", r.Name, "has malformed read group id", id)
		}
		e.RGID = int32(parsed)
	}
	hole, ok := auxInt(r, zmTag)
	if !ok {
		return Entry{}, errors.E("record", r.Name, "has no zm tag")
	}
	e.Hole = int32(hole)
	if qs, ok := auxInt(r, qsTag); ok {
		e.QStart = int32(qs)
	}
	if qe, ok := auxInt(r, qeTag); ok {
		e.QEnd = int32(qe)
	}
	if rq, ok := auxFloat(r, rqTag); ok {
		e.ReadQual = rq
	}
	if cx, ok := auxInt(r, cxTag); ok {
		e.CtxFlags = uint8(cx)
	}
	return e, nil
}

// WriteIndex reads a finished BAM from r and writes its index to w.  The
// BAM must be complete; WriteIndex walks every record to capture its
// virtual offset.
func WriteIndex(w io.Writer, r io.Reader) error {
	br, err := bam.NewReader(r, 1)
	if err != nil {
		return err
	}
	var entries []Entry
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		e, err := entryOf(rec, toVOffset(br.LastChunk().Begin))
		if err != nil {
			return err
		}
		if n := len(entries); n > 0 && e.VOffset <= entries[n-1].VOffset {
			return errors.E("BAM records out of file order at", rec.Name)
		}
		entries = append(entries, e)
	}

	bw := bgzf.NewWriter(w, 1)
	if _, err := bw.Write(pbiMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}
	for i := range entries {
		if err := binary.Write(bw, binary.LittleEndian, &entries[i]); err != nil {
			return err
		}
	}
	return bw.Close()
}

// WriteIndexFile indexes the BAM at bamPath into indexPath.
func WriteIndexFile(ctx context.Context, indexPath, bamPath string) error {
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return err
	}
	defer in.Close(ctx) // nolint: errcheck
	out, err := file.Create(ctx, indexPath)
	if err != nil {
		return err
	}
	if err := WriteIndex(out.Writer(ctx), in.Reader(ctx)); err != nil {
		out.Close(ctx) // nolint: errcheck
		return err
	}
	return out.Close(ctx)
}

// ReadIndex parses an index stream, validating the magic and offset order.
func ReadIndex(r io.Reader) (Index, error) {
	br, err := bgzf.NewReader(r, 1)
	if err != nil {
		return nil, err
	}
	defer br.Close() // nolint: errcheck

	magic := make([]byte, len(pbiMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, pbiMagic) {
		return nil, errors.E("unexpected pbi magic", magic)
	}
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	idx := make(Index, 0, count)
	for i := uint32(0); i < count; i++ {
		var e Entry
		if err := binary.Read(br, binary.LittleEndian, &e); err != nil {
			return nil, err
		}
		if i > 0 && e.VOffset <= idx[i-1].VOffset {
			return nil, errors.E("pbi entries out of order at", i)
		}
		idx = append(idx, e)
	}
	return idx, nil
}

// ReadIndexFile parses the index at path.
func ReadIndexFile(ctx context.Context, path string) (Index, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	return ReadIndex(in.Reader(ctx))
}
