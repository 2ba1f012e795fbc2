package main

// bax2bam converts legacy per-movie trace containers into read-type
// specific BAM files with .pbi companion indexes.
//
// Usage: bax2bam [-subread|-hqregion|-polymerase|-ccs] input.bax ...

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bax2bam/convert"
)

var (
	subreadFlag    = flag.Bool("subread", false, "Emit adapter-delimited subreads plus a scraps stream (default)")
	hqregionFlag   = flag.Bool("hqregion", false, "Emit the high-quality interval plus a low-quality scrap stream")
	polymeraseFlag = flag.Bool("polymerase", false, "Emit one record per ZMW covering the entire raw basecall")
	ccsFlag        = flag.Bool("ccs", false, "Emit pre-computed circular-consensus reads")

	regionsFlag = flag.String("regions", "",
		"Region table path; only valid with a single input. Defaults to <input>.regions per input")
	outFlag = flag.String("o", "",
		"Output prefix; only valid with a single input. Defaults to each input path with its extension removed")
	trailingLQFlag = flag.Bool("emit-trailing-lq", convert.DefaultOpts.EmitTrailingLQ,
		"In -hqregion mode, also emit the post-HQ suffix to the scrap stream")
	parallelismFlag = flag.Int("parallelism", convert.DefaultOpts.Parallelism,
		"Number of movies to convert concurrently")
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [OPTIONS] input.bax ...

Each input is one movie's trace record stream. The conversion writes, next
to each input (or under -o for a single input), a primary BAM for the
selected read type, a scraps BAM when the read type has one, and a .pbi
index per BAM.

Options:
`, os.Args[0])
	flag.PrintDefaults()
}

func readTypeFromFlags() (convert.ReadType, error) {
	var (
		rt  convert.ReadType
		set int
	)
	for _, f := range []struct {
		on bool
		rt convert.ReadType
	}{
		{*subreadFlag, convert.Subread},
		{*hqregionFlag, convert.HQRegion},
		{*polymeraseFlag, convert.Polymerase},
		{*ccsFlag, convert.CCS},
	} {
		if f.on {
			rt = f.rt
			set++
		}
	}
	switch set {
	case 0:
		return convert.DefaultOpts.ReadType, nil
	case 1:
		return rt, nil
	}
	return 0, fmt.Errorf("at most one of -subread, -hqregion, -polymerase, -ccs may be given")
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	inputs := flag.Args()
	if len(inputs) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	rt, err := readTypeFromFlags()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(inputs) > 1 && (*regionsFlag != "" || *outFlag != "") {
		log.Fatalf("-regions and -o require a single input")
	}

	movies := make([]convert.Movie, len(inputs))
	for i, in := range inputs {
		movies[i] = convert.Movie{
			BaxPath:     in,
			RegionsPath: *regionsFlag,
			OutPrefix:   *outFlag,
		}
	}
	opts := convert.Opts{
		ReadType:       rt,
		EmitTrailingLQ: *trailingLQFlag,
		Parallelism:    *parallelismFlag,
	}
	ctx := vcontext.Background()
	if err := convert.Convert(ctx, movies, opts); err != nil {
		log.Fatalf("conversion failed: %v", err)
	}
}
