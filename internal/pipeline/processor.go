// Package pipeline turns encoded image bytes and a domain.Config into encoded
// output bytes: decode, then crop, resize and watermark as configured, then
// encode. Runner wraps it with the fetch and emit stages used by the worker.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/dunamismax/imagecpr/internal/codec"
	"github.com/dunamismax/imagecpr/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/dunamismax/imagecpr/internal/pipeline"

// Result is the encoded output of one run and its pixel dimensions.
type Result struct {
	Data   []byte
	Format domain.Format
	Width  int
	Height int
}

type Processor struct {
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	maxPixels int64
}

type Option func(*Processor)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records stage latency and failures into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithMaxPixels caps the area of the input, the requested size and the
// watermark. Values <= 0 keep domain.DefaultMaxPixels.
func WithMaxPixels(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxPixels = int64(n)
		}
	}
}

func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		maxPixels: domain.DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultProcessor = NewProcessor()

// Process runs input through cfg and returns the encoded bytes. ctx only
// carries tracing; a run is never interrupted once started.
func Process(ctx context.Context, input []byte, cfg domain.Config) ([]byte, error) {
	res, err := defaultProcessor.Process(ctx, input, cfg)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (p *Processor) Process(ctx context.Context, input []byte, cfg domain.Config) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("image.format", string(cfg.Format)),
		attribute.String("image.target_format", string(cfg.Target())),
		attribute.Int("image.input_bytes", len(input)),
	)

	res, err := p.process(ctx, input, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorKind(err))
		p.metrics.observeFailure(err)
		p.logger.Debug("pipeline failed",
			zap.String("format", string(cfg.Format)),
			zap.String("kind", domain.ErrorKind(err)),
			zap.Error(err),
		)
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int("image.output_bytes", len(res.Data)),
		attribute.Int("image.width", res.Width),
		attribute.Int("image.height", res.Height),
	)
	p.logger.Debug("pipeline finished",
		zap.String("format", string(res.Format)),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
		zap.Int("bytes", len(res.Data)),
	)
	return res, nil
}

func (p *Processor) process(ctx context.Context, input []byte, cfg domain.Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if cfg.Size != nil {
		if err := p.checkPixels("size", *cfg.Size); err != nil {
			return Result{}, err
		}
	}

	var img *image.NRGBA
	err := p.stage(ctx, "decode", func() error {
		if err := p.checkHeader("input", input, cfg.Format); err != nil {
			return err
		}
		var err error
		img, err = codec.Decode(input, cfg.Format)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	for _, st := range p.stagesFor(cfg) {
		err := p.stage(ctx, st.name, func() error {
			next, err := st.apply(img)
			if err != nil {
				return err
			}
			img = next
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	target := cfg.Target()
	var data []byte
	err = p.stage(ctx, "encode", func() error {
		var err error
		data, err = codec.Encode(img, target, cfg.Quality)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Data:   data,
		Format: target,
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
	}, nil
}

func (p *Processor) checkPixels(field string, size domain.Size) error {
	if size.Pixels() > p.maxPixels {
		return fmt.Errorf("%w: %s %s exceeds %d pixels", domain.ErrInvalidParameter, field, size, p.maxPixels)
	}
	return nil
}

// checkHeader reads only the image header so oversized images are refused
// before their pixels are allocated.
func (p *Processor) checkHeader(field string, data []byte, format domain.Format) error {
	if len(data) == 0 {
		return nil
	}
	hdr, err := codec.DecodeConfig(data, format)
	if err != nil {
		return err
	}
	return p.checkPixels(field, domain.Size{Width: hdr.Width, Height: hdr.Height})
}

func (p *Processor) stage(ctx context.Context, name string, fn func() error) error {
	_, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn()
	p.metrics.observeStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s stage: %w", name, err)
	}
	return nil
}
