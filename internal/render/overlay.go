// Package render draws cell outlines and spots as PNG overlays using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
	"github.com/soma-tiles/spotcoloc/internal/coloc"
	"github.com/soma-tiles/spotcoloc/internal/data/cells"
	"github.com/soma-tiles/spotcoloc/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	Size         int     // output width and height in pixels
	SpotRadius   float64 // in output pixels
	OutlineWidth float64 // in output pixels
	Colormap     string  // colors colocalized spots by fraction
}

// OverlayRenderer renders analysis overlays.
type OverlayRenderer struct {
	config      Config
	cmap        colormap.Colormap
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewOverlayRenderer creates a new overlay renderer. An unknown colormap
// name is an error.
func NewOverlayRenderer(cfg Config) (*OverlayRenderer, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("invalid overlay size %d", cfg.Size)
	}
	cmap, err := colormap.ByName(cfg.Colormap)
	if err != nil {
		return nil, err
	}
	if cfg.SpotRadius <= 0 {
		cfg.SpotRadius = 1.5
	}
	if cfg.OutlineWidth <= 0 {
		cfg.OutlineWidth = 1
	}

	return &OverlayRenderer{
		config: cfg,
		cmap:   cmap,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Size, cfg.Size)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}, nil
}

// Size returns the output edge length in pixels.
func (r *OverlayRenderer) Size() int { return r.config.Size }

// RenderOverlay draws every region outline and every spot. Image
// coordinates [0, extent) map onto the output square. Colocalized spots are
// colored by fraction, the others grey.
func (r *OverlayRenderer) RenderOverlay(regions []cells.Region, spots []coloc.Spot, threshold float64, extent int) ([]byte, error) {
	if extent <= 0 {
		return nil, fmt.Errorf("invalid overlay extent %d", extent)
	}

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	scale := float64(r.config.Size) / float64(extent)

	dc.SetLineWidth(r.config.OutlineWidth)
	for i, region := range regions {
		if len(region.Vertices) < 2 {
			continue
		}
		dc.NewSubPath()
		for j, v := range region.Vertices {
			if j == 0 {
				dc.MoveTo(v.X*scale, v.Y*scale)
			} else {
				dc.LineTo(v.X*scale, v.Y*scale)
			}
		}
		dc.ClosePath()
		dc.SetColor(colormap.Categorical.AtIndex(i))
		dc.Stroke()
	}

	for _, s := range spots {
		if !s.Valid() {
			continue
		}
		if s.Fraction > threshold {
			dc.SetColor(r.cmap.At(s.Fraction))
		} else {
			dc.SetColor(colormap.Missed)
		}
		dc.DrawCircle(s.X*scale, s.Y*scale, r.config.SpotRadius)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *OverlayRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
