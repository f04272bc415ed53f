// Command imagecpr runs one image through the transformation pipeline:
//
//	imagecpr -in photo.png -config thumb.yaml -out thumb.jpg
//
// The config file is YAML or JSON with the same keys the HTTP API accepts.
// When it has no "format", the input file extension is used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/codec"
	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/dunamismax/imagecpr/internal/logging"
	"github.com/dunamismax/imagecpr/internal/pipeline"
	"github.com/fatih/color"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	in        string
	out       string
	config    string
	watermark string
	verbose   bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("imagecpr", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.in, "in", "", "input image path (required)")
	fs.StringVar(&opts.out, "out", "", "output path (default: <in>.out.<ext>)")
	fs.StringVar(&opts.config, "config", "", "pipeline config file, YAML or JSON (required)")
	fs.StringVar(&opts.watermark, "watermark", "", "image file used as watermark.content")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if opts.in == "" || opts.config == "" {
		fs.Usage()
		return 2
	}

	failColor := color.New(color.FgRed, color.Bold)
	if err := codec.Startup(); err != nil {
		failColor.Fprintf(stderr, "codec startup: %v\n", err)
		return 1
	}
	defer codec.Shutdown()

	summary, err := execute(opts, stderr)
	if err != nil {
		failColor.Fprint(stderr, "failed")
		if kind := domain.ErrorKind(err); kind != "internal" {
			color.New(color.FgHiBlack).Fprintf(stderr, " [%s]", kind)
		}
		fmt.Fprintf(stderr, ": %v\n", err)
		return 1
	}

	summary.print(stdout)
	return 0
}

type summary struct {
	in       string
	out      string
	inBytes  int
	result   pipeline.Result
	cfg      domain.Config
	duration time.Duration
}

func execute(opts options, stderr io.Writer) (summary, error) {
	logger, err := logging.NewCLI(stderr, opts.verbose)
	if err != nil {
		return summary{}, err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(opts)
	if err != nil {
		return summary{}, err
	}

	input, err := os.ReadFile(opts.in)
	if err != nil {
		return summary{}, fmt.Errorf("read input: %w", err)
	}

	start := time.Now()
	processor := pipeline.NewProcessor(pipeline.WithLogger(logger))
	res, err := processor.Process(context.Background(), input, cfg)
	if err != nil {
		return summary{}, err
	}

	out := opts.out
	if out == "" {
		out = strings.TrimSuffix(opts.in, filepath.Ext(opts.in)) + ".out." + res.Format.Extension()
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return summary{}, fmt.Errorf("write output: %w", err)
	}
	logger.Debug("wrote output", zap.String("path", out))

	return summary{
		in:       opts.in,
		out:      out,
		inBytes:  len(input),
		result:   res,
		cfg:      cfg,
		duration: time.Since(start),
	}, nil
}

func loadConfig(opts options) (domain.Config, error) {
	data, err := os.ReadFile(opts.config)
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	// YAML is a superset of JSON, so one decoder serves both file types.
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Config{}, fmt.Errorf("%w: parse config %s: %v", domain.ErrInvalidParameter, opts.config, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return domain.Config{}, fmt.Errorf("%w: config %s must be a mapping", domain.ErrInvalidParameter, opts.config)
	}

	if _, ok := obj["format"]; !ok {
		format, err := domain.ParseFormat(filepath.Ext(opts.in))
		if err != nil {
			return domain.Config{}, fmt.Errorf("config has no format and %s has no recognised extension: %w", opts.in, err)
		}
		obj["format"] = string(format)
	}

	if opts.watermark != "" {
		content, err := os.ReadFile(opts.watermark)
		if err != nil {
			return domain.Config{}, fmt.Errorf("read watermark: %w", err)
		}
		wm, ok := obj["watermark"].(map[string]any)
		if !ok {
			return domain.Config{}, errors.New("-watermark needs a watermark section in the config")
		}
		wm["content"] = content
	}

	return domain.ParseConfig(obj)
}

func (s summary) print(w io.Writer) {
	label := color.New(color.FgHiBlack)
	ok := color.New(color.FgGreen, color.Bold)

	ok.Fprint(w, "ok ")
	fmt.Fprintf(w, "%s -> %s\n", s.in, s.out)

	stages := []string{}
	if s.cfg.Crop != nil {
		stages = append(stages, "crop "+s.cfg.Crop.String())
	}
	if s.cfg.Size != nil {
		stages = append(stages, "resize "+s.cfg.Size.String())
	}
	if s.cfg.Watermark != nil {
		stages = append(stages, "watermark "+s.cfg.Watermark.Position.String())
	}
	if len(stages) == 0 {
		stages = append(stages, "transcode")
	}

	label.Fprint(w, "  stages  ")
	fmt.Fprintln(w, strings.Join(stages, ", "))
	label.Fprint(w, "  format  ")
	fmt.Fprintf(w, "%s -> %s\n", s.cfg.Format, s.result.Format)
	label.Fprint(w, "  size    ")
	fmt.Fprintf(w, "%dx%d\n", s.result.Width, s.result.Height)
	label.Fprint(w, "  bytes   ")
	fmt.Fprintf(w, "%d -> %d\n", s.inBytes, len(s.result.Data))
	label.Fprint(w, "  took    ")
	fmt.Fprintln(w, s.duration.Round(time.Millisecond))
}
