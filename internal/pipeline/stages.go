package pipeline

import (
	"fmt"
	"image"

	"github.com/dunamismax/imagecpr/internal/codec"
	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/dunamismax/imagecpr/internal/imageops"
)

type stage struct {
	name  string
	apply func(*image.NRGBA) (*image.NRGBA, error)
}

// stagesFor lists the enabled transforms in their fixed order: crop, resize,
// watermark.
func (p *Processor) stagesFor(cfg domain.Config) []stage {
	stages := make([]stage, 0, 3)

	if cfg.Crop != nil {
		r := *cfg.Crop
		stages = append(stages, stage{name: "crop", apply: func(img *image.NRGBA) (*image.NRGBA, error) {
			return imageops.Crop(img, r)
		}})
	}

	if cfg.Size != nil {
		size := *cfg.Size
		stages = append(stages, stage{name: "resize", apply: func(img *image.NRGBA) (*image.NRGBA, error) {
			return imageops.Resize(img, size)
		}})
	}

	if cfg.Watermark != nil {
		wm := *cfg.Watermark
		stages = append(stages, stage{name: "watermark", apply: func(img *image.NRGBA) (*image.NRGBA, error) {
			if format, ok := codec.Sniff(wm.Content); ok {
				if err := p.checkHeader("watermark", wm.Content, format); err != nil {
					return nil, fmt.Errorf("watermark content: %w", err)
				}
			}
			mark, _, err := codec.DecodeAuto(wm.Content)
			if err != nil {
				return nil, fmt.Errorf("watermark content: %w", err)
			}
			return imageops.Composite(img, mark, wm)
		}})
	}

	return stages
}
