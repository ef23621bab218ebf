// Command jdiff diffs and patches binary files.
//
//	jdiff diff  [options] <source> <destination> [<patch>]
//	jdiff patch [options] <source> <patch> [<destination>]
//
// The patch stream goes to stdout when no file is named. Do not diff
// compressed files: diff first, compress afterwards (-z does both).
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/itchio/headway/state"
	"github.com/itchio/headway/united"
	"github.com/itchio/savior"
	"github.com/itchio/savior/seeksource"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/jojodiff/jdiff/counter"
	"github.com/jojodiff/jdiff/jdiff"
	"github.com/jojodiff/jdiff/jfile"
	"github.com/jojodiff/jdiff/jpatch"
)

// Exit codes.
const (
	exitOK   = 0  // no error, generic
	exitDif  = 1  // no error, differences found
	exitEql  = 2  // no error, no differences found
	exitArg  = -2 // not enough arguments
	exitFrt  = -3 // error opening first file
	exitScd  = -4 // error opening second file
	exitOut  = -5 // error opening output file
	exitWri  = -9 // error writing output
	exitErr  = -20
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

func main() {
	app := cli.NewApp()
	app.Name = "jdiff"
	app.Usage = "binary diff and patch"
	app.Commands = []cli.Command{
		{
			Name:      "diff",
			Usage:     "create a patch so that <destination> can be recreated from <source>",
			ArgsUsage: "<source> <destination> [<patch>]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "verbose, v", Usage: "print statistics"},
				cli.BoolFlag{Name: "regions, r", Usage: "grouped human readable output instead of a patch"},
				cli.BoolFlag{Name: "lazy, f", Usage: "no unbuffered searching (often slower)"},
				cli.BoolFlag{Name: "lazier, ff", Usage: "no full index table"},
				cli.BoolFlag{Name: "no-backtrack", Usage: "backtrace only within the buffered source"},
				cli.BoolFlag{Name: "sequential-source, p", Usage: "sequential source (use - for stdin)"},
				cli.BoolFlag{Name: "sequential-dest, q", Usage: "sequential destination (use - for stdin)"},
				cli.BoolFlag{Name: "zstd, z", Usage: "compress the patch stream"},
				cli.IntFlag{Name: "index-size, i", Value: 32, Usage: "size (in MiB) for the index table"},
				cli.IntFlag{Name: "block-size, k", Value: jfile.DefaultBlockSize, Usage: "block size in bytes for reading"},
				cli.Int64Flag{Name: "buffer-size, m", Value: jfile.DefaultBufSize / 1024, Usage: "size (in KiB) for search buffers"},
				cli.Int64Flag{Name: "search-size, a", Usage: "size (in KiB) to search (default: buffer size)"},
				cli.IntFlag{Name: "search-min, n", Value: 2, Usage: "minimum number of matches to search"},
				cli.IntFlag{Name: "search-max, x", Value: 128, Usage: "maximum number of matches to search"},
			},
			Action: doDiff,
		},
		{
			Name:      "patch",
			Usage:     "recreate <destination> from <source> and <patch>",
			ArgsUsage: "<source> <patch> [<destination>]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "verbose, v", Usage: "print statistics"},
				cli.IntFlag{Name: "block-size, k", Value: jfile.DefaultBlockSize, Usage: "block size in bytes for reading"},
				cli.Int64Flag{Name: "buffer-size, m", Value: jfile.DefaultBufSize / 1024, Usage: "size (in KiB) for the source buffer"},
			},
			Action: doPatch,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "jdiff: %+v\n", err)
		os.Exit(exitErr)
	}
}

func makeConsumer(verbose bool) *state.Consumer {
	if !verbose {
		return &state.Consumer{}
	}
	return &state.Consumer{
		OnMessage: func(level string, message string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
		},
		OnProgressLabel: func(label string) {
			fmt.Fprintf(os.Stderr, "\r%-40s", label)
		},
	}
}

func openInput(name string, bufKiB int64, blkSize int, sequential bool) (*jfile.Buffered, *os.File, error) {
	if name == "-" {
		return jfile.New(os.Stdin, bufKiB*1024, blkSize, true), os.Stdin, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return jfile.New(f, bufKiB*1024, blkSize, sequential), f, nil
}

func doDiff(c *cli.Context) error {
	if c.NArg() < 2 {
		cli.ShowCommandHelp(c, "diff")
		os.Exit(exitArg)
	}
	verbose := c.Bool("verbose")
	consumer := makeConsumer(verbose)

	src, srcF, err := openInput(c.Args().Get(0), c.Int64("buffer-size"), c.Int("block-size"), c.Bool("sequential-source"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "jdiff: opening source: %v\n", err)
		os.Exit(exitFrt)
	}
	defer srcF.Close()

	dst, dstF, err := openInput(c.Args().Get(1), c.Int64("buffer-size"), c.Int("block-size"), c.Bool("sequential-dest"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "jdiff: opening destination: %v\n", err)
		os.Exit(exitScd)
	}
	defer dstF.Close()

	var outFile io.WriteCloser = os.Stdout
	if c.NArg() > 2 {
		f, err := os.Create(c.Args().Get(2))
		if err != nil {
			fmt.Fprintf(os.Stderr, "jdiff: opening output: %v\n", err)
			os.Exit(exitOut)
		}
		outFile = f
	}
	written := counter.NewWriter(outFile)

	var patchOut io.Writer = written
	var zw *zstd.Encoder
	if c.Bool("zstd") {
		zw, err = zstd.NewWriter(written)
		if err != nil {
			return errors.WithStack(err)
		}
		patchOut = zw
	}

	var out jdiff.OpWriter
	var stats func() jdiff.Stats
	if c.Bool("regions") {
		rw := jdiff.NewRegionWriter(patchOut)
		out = rw
		stats = rw.Stats
	} else {
		bw := jdiff.NewBinWriter(patchOut)
		out = bw
		stats = bw.Stats
	}

	scan := jdiff.ScanFull
	if c.Bool("lazier") {
		scan = jdiff.ScanIncremental
	}

	dctx, err := jdiff.NewDiffContext(jdiff.DiffParams{
		Source:      src,
		Dest:        dst,
		Output:      out,
		IndexSizeMB: c.Int("index-size"),
		MatchMax:    c.Int("search-max"),
		MatchMin:    c.Int("search-min"),
		AheadMax:    c.Int64("search-size") * 1024,
		NoBacktrack: c.Bool("no-backtrack"),
		Lazy:        c.Bool("lazy"),
		Scan:        scan,
		Consumer:    consumer,
	})
	if err != nil {
		return err
	}

	if err := dctx.Diff(); err != nil {
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "jdiff: writing output: %v\n", err)
			os.Exit(exitWri)
		}
	}
	if err := outFile.Close(); err != nil && outFile != os.Stdout {
		fmt.Fprintf(os.Stderr, "jdiff: writing output: %v\n", err)
		os.Exit(exitWri)
	}

	s := stats()
	if verbose {
		consumer.Infof("")
		consumer.Infof("equal      %s", united.FormatBytes(s.Eql))
		consumer.Infof("data       %s", united.FormatBytes(s.Data))
		consumer.Infof("deleted    %s", united.FormatBytes(s.Del))
		consumer.Infof("backtraced %s", united.FormatBytes(s.Bkt))
		consumer.Infof("overhead   %s (%s escaped)", united.FormatBytes(s.Control), united.FormatBytes(s.Escaped))
		consumer.Infof("patch size %s", united.FormatBytes(written.Count()))
		consumer.Infof("index hits %d, repairs %d, inaccurate %d",
			dctx.Index().Hits(), dctx.Repairs(), dctx.Inaccurate())
		consumer.Infof("seeks: %d source, %d destination", src.SeekCount(), dst.SeekCount())
	}

	if s.Data == 0 && s.Del == 0 && s.Bkt == 0 {
		os.Exit(exitEql)
	}
	os.Exit(exitDif)
	return nil
}

func doPatch(c *cli.Context) error {
	if c.NArg() < 2 {
		cli.ShowCommandHelp(c, "patch")
		os.Exit(exitArg)
	}
	verbose := c.Bool("verbose")
	consumer := makeConsumer(verbose)

	src, srcF, err := openInput(c.Args().Get(0), c.Int64("buffer-size"), c.Int("block-size"), false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jdiff: opening source: %v\n", err)
		os.Exit(exitFrt)
	}
	defer srcF.Close()

	patchSource, err := openPatch(c.Args().Get(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "jdiff: opening patch: %v\n", err)
		os.Exit(exitScd)
	}

	var outFile io.WriteCloser = os.Stdout
	if c.NArg() > 2 {
		f, err := os.Create(c.Args().Get(2))
		if err != nil {
			fmt.Fprintf(os.Stderr, "jdiff: opening output: %v\n", err)
			os.Exit(exitOut)
		}
		outFile = f
	}

	pctx, err := jpatch.NewPatchContext(jpatch.PatchParams{
		Source:   src,
		Patch:    patchSource,
		Output:   outFile,
		Consumer: consumer,
	})
	if err != nil {
		return err
	}

	if err := pctx.Apply(); err != nil {
		return err
	}
	if err := outFile.Close(); err != nil && outFile != os.Stdout {
		fmt.Fprintf(os.Stderr, "jdiff: writing output: %v\n", err)
		os.Exit(exitWri)
	}

	if verbose {
		consumer.Infof("reconstructed %s", united.FormatBytes(pctx.OutputSize()))
	}
	os.Exit(exitOK)
	return nil
}

// openPatch opens a patch file, transparently decompressing zstd frames.
func openPatch(name string) (savior.SeekSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var magic [4]byte
	n, _ := io.ReadFull(f, magic[:])
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.WithStack(err)
	}

	if n == len(magic) && string(magic[:]) == string(zstdMagic) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.WithStack(err)
		}
		raw, err := io.ReadAll(zr)
		zr.Close()
		f.Close()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return seeksource.FromBytes(raw), nil
	}

	return seeksource.FromFile(f), nil
}
