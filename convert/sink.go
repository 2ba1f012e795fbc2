package convert

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bax2bam/encoding/pbi"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Sink accepts one stream of emitted records.  Write calls arrive in
// emission order; Close finalizes the stream and its companion index.  A
// failed sink fails the whole movie.
type Sink interface {
	Write(*sam.Record) error
	Close(ctx context.Context) error
}

// bamSink writes records to a BAM file and, on successful close, builds the
// .pbi companion index next to it.
type bamSink struct {
	path string
	out  file.File
	bw   *bam.Writer
	n    int
}

// programName and programVersion identify the converter in the output
// header's @PG line.
const (
	programName    = "bax2bam"
	programVersion = "0.1.0"
)

// newBAMSink creates path and writes a header carrying the given read
// group, an unknown sort order, and no reference sequences.
func newBAMSink(ctx context.Context, path string, rg *ReadGroupInfo) (*bamSink, error) {
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		return nil, err
	}
	header.SortOrder = sam.UnknownOrder
	samRG, err := rg.SamReadGroup()
	if err != nil {
		return nil, errors.E(err, "building read group", rg.ID)
	}
	if err := header.AddReadGroup(samRG); err != nil {
		return nil, errors.E(err, "adding read group", rg.ID)
	}
	prog := sam.NewProgram(programName, programName, "", "", programVersion)
	if err := header.AddProgram(prog); err != nil {
		return nil, errors.E(err, "adding program record")
	}

	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	bw, err := bam.NewWriter(out.Writer(ctx), header, 1)
	if err != nil {
		out.Close(ctx) // nolint: errcheck
		return nil, errors.E(err, "creating BAM writer for", path)
	}
	return &bamSink{path: path, out: out, bw: bw}, nil
}

func (s *bamSink) Write(r *sam.Record) error {
	if err := s.bw.Write(r); err != nil {
		return errors.E(err, "writing record", r.Name, "to", s.path)
	}
	s.n++
	return nil
}

// Close flushes the BAM and builds the .pbi index.  The index is only
// written once the BAM has been committed in full, so a readable index
// implies a complete stream.
func (s *bamSink) Close(ctx context.Context) error {
	if err := s.bw.Close(); err != nil {
		s.out.Close(ctx) // nolint: errcheck
		return errors.E(err, "closing BAM writer for", s.path)
	}
	if err := s.out.Close(ctx); err != nil {
		return errors.E(err, "closing", s.path)
	}
	if err := pbi.WriteIndexFile(ctx, s.path+".pbi", s.path); err != nil {
		return errors.E(err, "building index for", s.path)
	}
	log.Debug.Printf("%s: wrote %d records", s.path, s.n)
	return nil
}
