// Package render burns detected objects into an image: one outlined
// rectangle and one text label per object, each in a randomly drawn named
// color.
//
// Coordinates come from the model on a 0-1000 scale and are mapped to pixels
// with ToPixelRect. Drawing is sequential in object order, so later objects
// are drawn over earlier ones.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"os"
	"sync"

	"golang.org/x/image/colornames"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/vision-studio/pkg/types"
)

// BundledFont names the font compiled into the binary
const BundledFont = "goregular.ttf"

// RandSource picks palette indexes. *rand.Rand satisfies it.
type RandSource interface {
	Intn(n int) int
}

// globalRand draws from the unseeded package-level source
type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// Config holds renderer settings
type Config struct {
	// FontPath overrides the bundled font with a TTF/OTF file
	FontPath    string
	FontSize    float64
	StrokeWidth int
	LabelOffset image.Point
	// Palette lists color names from golang.org/x/image/colornames.
	// Empty means every named color.
	Palette []string
	Rand    RandSource
}

// DefaultConfig returns the standard 14pt label, 4px stroke setup
func DefaultConfig() Config {
	return Config{
		FontSize:    14,
		StrokeWidth: 4,
		LabelOffset: image.Pt(8, 6),
	}
}

// Renderer draws annotations. It is safe for concurrent use; draws are
// serialized because font faces keep internal glyph caches.
type Renderer struct {
	mu      sync.Mutex
	face    font.Face
	ascent  int
	palette []string
	rnd     RandSource
	stroke  int
	offset  image.Point
}

// New creates a Renderer with the bundled font and default settings
func New() (*Renderer, error) {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Renderer. A missing or unparsable font yields
// *types.RenderResourceError so callers can fail at startup.
func NewWithConfig(cfg Config) (*Renderer, error) {
	defaults := DefaultConfig()
	if cfg.FontSize <= 0 {
		cfg.FontSize = defaults.FontSize
	}
	if cfg.StrokeWidth <= 0 {
		cfg.StrokeWidth = defaults.StrokeWidth
	}
	if cfg.LabelOffset == (image.Point{}) {
		cfg.LabelOffset = defaults.LabelOffset
	}
	if cfg.Rand == nil {
		cfg.Rand = globalRand{}
	}

	face, err := loadFace(cfg.FontPath, cfg.FontSize)
	if err != nil {
		return nil, err
	}

	palette := cfg.Palette
	if len(palette) == 0 {
		palette = colornames.Names
	}
	for _, name := range palette {
		if _, ok := colornames.Map[name]; !ok {
			return nil, &types.RenderResourceError{
				Resource: "color " + name,
				Err:      fmt.Errorf("not a known color name"),
			}
		}
	}

	return &Renderer{
		face:    face,
		ascent:  face.Metrics().Ascent.Ceil(),
		palette: palette,
		rnd:     cfg.Rand,
		stroke:  cfg.StrokeWidth,
		offset:  cfg.LabelOffset,
	}, nil
}

func loadFace(path string, size float64) (font.Face, error) {
	data := goregular.TTF
	resource := BundledFont
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &types.RenderResourceError{Resource: path, Err: err}
		}
		data = b
		resource = path
	}

	f, err := opentype.Parse(data)
	if err != nil {
		return nil, &types.RenderResourceError{Resource: resource, Err: err}
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, &types.RenderResourceError{Resource: resource, Err: err}
	}
	return face, nil
}

// Render draws every object onto img in place and returns what was drawn.
// The caller's image is consumed: it is both input and output.
func (r *Renderer) Render(img draw.Image, objects []types.DetectedObject) []types.Annotation {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	r.mu.Lock()
	defer r.mu.Unlock()

	annotations := make([]types.Annotation, 0, len(objects))
	for _, obj := range objects {
		name := r.palette[r.rnd.Intn(len(r.palette))]
		c := colornames.Map[name]

		rect := PixelRectOf(obj.Box, width, height)
		at := image.Pt(rect.X1+r.offset.X, rect.Y1+r.offset.Y)

		drawRect(img, image.Rect(rect.X1, rect.Y1, rect.X2, rect.Y2).Add(b.Min), c, r.stroke)
		r.drawLabel(img, at.Add(b.Min), obj.Label, c)

		annotations = append(annotations, types.Annotation{
			Label:     obj.Label,
			ColorName: name,
			Color:     c,
			Rect:      rect,
			LabelAt:   at,
		})
	}
	return annotations
}

// drawLabel draws text with its top-left corner at p
func (r *Renderer) drawLabel(img draw.Image, p image.Point, text string, c color.RGBA) {
	if text == "" {
		return
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(p.X, p.Y+r.ascent),
	}
	d.DrawString(text)
}

// PaletteSize reports how many colors the renderer draws from
func (r *Renderer) PaletteSize() int {
	return len(r.palette)
}
