package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/imagecpr/internal/domain"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Request identifies one job run: where the source lives and how to process it.
type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Config     domain.Config
}

// Output describes where an emitted result was written.
type Output struct {
	Format domain.Format
	Path   string
	Bytes  int
	Width  int
	Height int
}

type RunResult struct {
	SourceBytes int
	Output      Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, res Result) (Output, error)
}

// Runner is fetch, Process, emit for a single job.
type Runner struct {
	fetcher   Fetcher
	processor *Processor
	emitter   Emitter
}

func NewRunner(fetcher Fetcher, processor *Processor, emitter Emitter) *Runner {
	if processor == nil {
		processor = NewProcessor()
	}
	return &Runner{fetcher: fetcher, processor: processor, emitter: emitter}
}

func NewLocalRunner(outputDir string, processor *Processor) *Runner {
	return NewRunner(LocalFileFetcher{}, processor, LocalFileEmitter{OutputDir: outputDir})
}

func NewObjectStoreRunner(store ObjectStore, outputPrefix string, processor *Processor) *Runner {
	return NewRunner(
		ObjectStoreFetcher{Storage: store},
		processor,
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
	)
}

func (r *Runner) Run(ctx context.Context, req Request) (RunResult, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return RunResult{}, errors.New("job_id is required")
	}

	source, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return RunResult{}, fmt.Errorf("fetch stage: %w", err)
	}

	res, err := r.processor.Process(ctx, source, req.Config)
	if err != nil {
		return RunResult{}, err
	}

	out, err := r.emitter.Emit(ctx, req, res)
	if err != nil {
		return RunResult{}, fmt.Errorf("emit stage: %w", err)
	}

	return RunResult{SourceBytes: len(source), Output: out}, nil
}

func outputName(format domain.Format) string {
	return "output." + format.Extension()
}

func (res Result) output(path string) Output {
	return Output{
		Format: res.Format,
		Path:   path,
		Bytes:  len(res.Data),
		Width:  res.Width,
		Height: res.Height,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
