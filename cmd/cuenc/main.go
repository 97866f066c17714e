// Command cuenc encodes raw planar video and inspects the coded stream.
//
// Usage:
//
//	cuenc enc [options] <input.yuv>   raw I420 (or Y only) → unit stream (use "-" for stdin)
//	cuenc info <input.cue>            list the units of a coded stream
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/edaniels/golog"

	"github.com/deepteams/cuenc"
	"github.com/deepteams/cuenc/internal/nal"
	"github.com/deepteams/cuenc/internal/ratecontrol"
	"github.com/deepteams/cuenc/internal/wavefront"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "enc":
		err = runEnc(os.Args[2:])
	case "info":
		err = runInfo(os.Stdout, os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "cuenc: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "cuenc: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  cuenc enc [options] <input.yuv>   Encode raw planar video
  cuenc info <input.cue>            List the units of a coded stream

Use "-" as input to read from stdin, "-o -" to write to stdout.

Run "cuenc <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// parsePair parses "AxB" into two positive integers.
func parsePair(s string) (int, int, error) {
	a, b, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not of the form AxB", s)
	}
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: %w", s, err)
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: %w", s, err)
	}
	if x <= 0 || y <= 0 {
		return 0, 0, fmt.Errorf("%q must be positive", s)
	}
	return x, y, nil
}

// --- enc ---

func runEnc(args []string) error {
	fs := flag.NewFlagSet("enc", flag.ContinueOnError)
	size := fs.String("s", "", "picture size WxH (required)")
	bitDepth := fs.Int("bitdepth", 8, "sample bit depth 8 or 10 (10: 16-bit little-endian input)")
	chroma := fs.String("chroma", "420", "chroma format: 420/400")
	preset := fs.String("preset", "medium", "preset: fast/medium/slow/placebo")
	qp := fs.Int("qp", 32, "quantizer 0-51 (start QP for abr/cbr)")
	qpmin := fs.Int("qpmin", 0, "minimum QP")
	qpmax := fs.Int("qpmax", -1, "maximum QP (-1=51)")
	rc := fs.String("rc", "cqp", "rate control: cqp/abr/cbr")
	bitrate := fs.Float64("bitrate", 0, "target bitrate in kbit/s (abr/cbr)")
	fps := fs.Float64("fps", 25, "frame rate")
	vbv := fs.Int("vbv", -1, "cbr buffer size in ms (-1=1000)")
	filler := fs.Bool("filler", false, "pad cbr underflow with filler units")
	lcu := fs.Int("lcu", 64, "largest CU size 16-128")
	mincu := fs.Int("mincu", 8, "smallest CU size")
	btDepth := fs.Int("btdepth", -1, "binary/ternary split depth 0-4 (-1=preset)")
	tiles := fs.String("tiles", "1x1", "tile columns x rows")
	workers := fs.Int("workers", -1, "worker goroutines (-1=physical cores)")
	iperiod := fs.Int("iperiod", -1, "intra period (0=first only, -1=64)")
	bipred := fs.Bool("bipred", false, "code non-intra pictures as low-delay B")
	ibc := fs.Bool("ibc", false, "enable intra block copy")
	dqp := fs.Bool("dqp", false, "enable per-group delta QP")
	aq := fs.Float64("aq", 0, "adaptive QP strength 0-4 (needs -dqp)")
	tskip := fs.Bool("tskip", false, "enable transform skip")
	priority := fs.String("inter_priority", "", "inter tool order, e.g. skip,merge,amvp")
	noDeblock := fs.Bool("nodeblock", false, "disable the in-loop filter")
	frames := fs.Int("frames", 0, "stop after this many pictures (0=all)")
	tracePath := fs.String("trace", "", "write a compressed decision trace to this file")
	output := fs.String("o", "", `output path (default: <input>.cue, "-" for stdout)`)
	verbose := fs.Bool("v", false, "log every picture")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("enc: missing input file\nUsage: cuenc enc [options] <input.yuv>")
	}
	inputPath := fs.Arg(0)
	if *size == "" {
		return fmt.Errorf("enc: -s WxH is required")
	}
	width, height, err := parsePair(*size)
	if err != nil {
		return fmt.Errorf("enc: -s: %w", err)
	}
	tileCols, tileRows, err := parsePair(*tiles)
	if err != nil {
		return fmt.Errorf("enc: -tiles: %w", err)
	}
	p, err := cuenc.ParsePreset(*preset)
	if err != nil {
		return err
	}
	mode, err := ratecontrol.ParseMode(*rc)
	if err != nil {
		return err
	}

	// Start from preset defaults, then override with explicitly-set flags.
	opts := cuenc.OptionsForPreset(width, height, p, *qp)
	switch *chroma {
	case "420":
		opts.ChromaFormat = cuenc.Chroma420
	case "400":
		opts.ChromaFormat = cuenc.Chroma400
	default:
		return fmt.Errorf("enc: unknown chroma format %q", *chroma)
	}
	opts.BitDepth = *bitDepth
	opts.QPMin = *qpmin
	opts.QPMax = *qpmax
	opts.RateControl = mode
	opts.Bitrate = *bitrate * 1000
	opts.FPS = *fps
	opts.VBVBufferMs = *vbv
	opts.Filler = *filler
	opts.LCUSize = *lcu
	opts.MinCUSize = *mincu
	if *btDepth >= 0 {
		opts.MaxBTDepth = *btDepth
	}
	opts.TileColumns = tileCols
	opts.TileRows = tileRows
	opts.Workers = *workers
	opts.IPeriod = *iperiod
	opts.BiPred = opts.BiPred || *bipred
	opts.UseIBC = *ibc
	opts.UseDQP = *dqp
	opts.AQStrength = *aq
	opts.TransformSkip = opts.TransformSkip || *tskip
	opts.InterPriority = *priority
	opts.Deblock = !*noDeblock
	opts.TracePath = *tracePath
	if *verbose {
		opts.Logger = golog.NewDevelopmentLogger("cuenc")
	}

	outputPath := *output
	if outputPath == "" {
		if inputPath == "-" {
			return fmt.Errorf("enc: -o is required when reading stdin")
		}
		outputPath = strings.TrimSuffix(inputPath, ".yuv") + ".cue"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return encodeStream(ctx, inputPath, outputPath, opts, *frames, *verbose)
}

func encodeStream(ctx context.Context, inputPath, outputPath string, opts *cuenc.Options, limit int, verbose bool) error {
	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	enc, err := cuenc.NewEncoder(opts)
	if err != nil {
		return err
	}
	defer enc.Close()

	var out io.Writer
	var f *os.File
	if outputPath == "-" {
		out = os.Stdout
	} else {
		f, err = os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	buf := make([]byte, cuenc.FrameSize(opts.Width, opts.Height, opts.ChromaFormat, opts.BitDepth))
	var (
		n       int
		bytesN  int64
		psnrSum float64
		start   = time.Now()
	)
	for limit <= 0 || n < limit {
		if _, err := io.ReadFull(in, buf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("enc: picture %d: %w", n, err)
		}
		frame, err := cuenc.FrameFromRaw(buf, opts.Width, opts.Height, opts.ChromaFormat, opts.BitDepth)
		if err != nil {
			return err
		}
		pkt, err := enc.Encode(ctx, frame)
		if err != nil {
			return err
		}
		if _, err := out.Write(pkt.Data); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "%v\n", &pkt.Stats)
		}
		n++
		bytesN += int64(len(pkt.Data))
		psnrSum += pkt.Stats.PSNR[0]
	}
	if f != nil {
		if err := f.Close(); err != nil {
			return err
		}
	}
	if n == 0 {
		return fmt.Errorf("enc: no complete picture in %s", inputPath)
	}
	elapsed := time.Since(start)
	fmt.Fprintf(os.Stderr, "%d pictures, %d bytes, Y-PSNR %.2f dB, %.1f pictures/s\n",
		n, bytesN, psnrSum/float64(n), float64(n)/elapsed.Seconds())
	if opts.FPS > 0 {
		fmt.Fprintf(os.Stderr, "%.1f kbit/s at %g fps\n", float64(bytesN*8)/1000/(float64(n)/opts.FPS), opts.FPS)
	}
	return nil
}

// --- info ---

func runInfo(w io.Writer, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("info: missing input file\nUsage: cuenc info <input.cue>")
	}
	inputPath := args[0]

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	units, err := nal.ReadAll(data)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}

	var seq *nal.SequenceHeader
	pictures := 0
	for _, u := range units {
		switch u.Type {
		case nal.TypeSequence:
			if seq, err = nal.ParseSequenceHeader(u.Payload); err != nil {
				return fmt.Errorf("info: %w", err)
			}
			fmt.Fprintf(w, "sequence  %dx%d %d-bit chroma %d lcu %d min cu %d mtt %d tiles %v x %v dqp %v ibc %v deblock %v\n",
				seq.Width, seq.Height, seq.BitDepth, seq.ChromaFormat, 1<<uint(seq.LCULog2), 1<<uint(seq.MinCULog2),
				seq.MaxMTTDepth, seq.TileCols, seq.TileRows, seq.DQP, seq.IBC, seq.Deblock)
		case nal.TypePicture:
			ph, err := nal.ParsePictureHeader(u.Payload)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			pictures++
			fmt.Fprintf(w, "picture   poc %d %v qp %d refs %v %v\n",
				ph.POC, ratecontrol.SliceType(ph.SliceType), ph.QP, ph.RefPOCs[0], ph.RefPOCs[1])
		case nal.TypeTile:
			idx, frag, err := nal.ParseTilePayload(u.Payload)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			line := fmt.Sprintf("tile      %d: %d bytes", idx, len(frag))
			if seq != nil && idx < seq.NumTiles() {
				rows := seq.TileRows[idx/len(seq.TileCols)]
				if subs, err := wavefront.ParseFragment(frag, rows); err == nil {
					sizes := make([]int, len(subs))
					for i, s := range subs {
						sizes[i] = len(s)
					}
					line += fmt.Sprintf(", rows %v", sizes)
				}
			}
			fmt.Fprintln(w, line)
		case nal.TypeFiller:
			fmt.Fprintf(w, "filler    %d bytes\n", len(u.Payload))
		}
	}
	fmt.Fprintf(w, "%d pictures, %d units, %d bytes\n", pictures, len(units), len(data))
	return nil
}
