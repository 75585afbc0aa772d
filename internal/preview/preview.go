// Package preview draws a top-down PNG of a city: cells by kind, the
// utility overlay and vehicles.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/fogleman/gg"
	"golang.org/x/image/colornames"

	"github.com/talgya/cityforge/internal/layout"
	"github.com/talgya/cityforge/internal/project"
	"github.com/talgya/cityforge/internal/traffic"
	"github.com/talgya/cityforge/internal/utility"
)

// DefaultPxPerCell is used when a non-positive cell size is requested.
const DefaultPxPerCell = 16

// MaxPxPerCell bounds the output image.
const MaxPxPerCell = 64

// Scheme colours the preview.
type Scheme struct {
	Background color.Color
	Kinds      map[layout.Kind]color.Color
	Signal     color.Color
	Power      color.Color
	Water      color.Color
	Substation color.Color
}

// DefaultScheme returns the standard palette.
func DefaultScheme() *Scheme {
	return &Scheme{
		Background: colornames.Whitesmoke,
		Kinds: map[layout.Kind]color.Color{
			layout.KindResidential: colornames.Steelblue,
			layout.KindCommercial:  colornames.Hotpink,
			layout.KindIndustrial:  colornames.Firebrick,
			layout.KindSkyscraper:  colornames.Indigo,
			layout.KindPark:        colornames.Lightgreen,
			layout.KindRoad:        colornames.Dimgray,
		},
		Signal:     colornames.Gold,
		Power:      colornames.Orange,
		Water:      colornames.Deepskyblue,
		Substation: colornames.Crimson,
	}
}

// Renderer draws layouts with a scheme, honouring view layers.
type Renderer struct {
	Scheme    *Scheme
	PxPerCell int
	Layers    project.ViewLayers
}

// NewRenderer returns a renderer with every layer enabled.
func NewRenderer(pxPerCell int) *Renderer {
	if pxPerCell <= 0 {
		pxPerCell = DefaultPxPerCell
	}
	if pxPerCell > MaxPxPerCell {
		pxPerCell = MaxPxPerCell
	}
	return &Renderer{
		Scheme:    DefaultScheme(),
		PxPerCell: pxPerCell,
		Layers:    project.ViewLayers{Zoning: true, Infrastructure: true, Greenspace: true, Utilities: true},
	}
}

// Render draws l with every layer enabled.
func Render(l *layout.Layout, net utility.Network, vehicles []traffic.Vehicle, pxPerCell int) *image.RGBA {
	return NewRenderer(pxPerCell).Draw(l, net, vehicles)
}

// Draw renders one frame. Cell (x, z) occupies the square whose top-left
// corner is (x·px, z·px).
func (r *Renderer) Draw(l *layout.Layout, net utility.Network, vehicles []traffic.Vehicle) *image.RGBA {
	px := float64(r.PxPerCell)
	side := l.Size * r.PxPerCell
	if side <= 0 {
		side = 1
	}
	dc := gg.NewContext(side, side)
	dc.SetColor(r.Scheme.Background)
	dc.Clear()

	for _, c := range l.Cells {
		if !r.showCell(c.Kind) {
			continue
		}
		dc.SetColor(r.Scheme.Kinds[c.Kind])
		dc.DrawRectangle(float64(c.GridX)*px, float64(c.GridZ)*px, px, px)
		dc.Fill()
		if c.HasSignal && r.Layers.Infrastructure {
			dc.SetColor(r.Scheme.Signal)
			dc.DrawCircle(float64(c.GridX)*px+px/2, float64(c.GridZ)*px+px/2, px/6)
			dc.Fill()
		}
	}

	f := l.Frame()
	toPx := func(x, z float64) (float64, float64) {
		return r.worldToPx(f, x), r.worldToPx(f, z)
	}

	if r.Layers.Utilities {
		dc.SetLineWidth(px / 8)
		dc.SetColor(r.Scheme.Water)
		for _, e := range net.WaterEdges {
			x1, y1 := toPx(e.From.X, e.From.Z)
			x2, y2 := toPx(e.To.X, e.To.Z)
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}
		dc.SetColor(r.Scheme.Power)
		for _, e := range net.PowerEdges {
			x1, y1 := toPx(e.From.X, e.From.Z)
			x2, y2 := toPx(e.To.X, e.To.Z)
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}
		dc.SetColor(r.Scheme.Substation)
		for _, s := range net.Substations {
			x, y := toPx(s.X, s.Z)
			dc.DrawRectangle(x-px/4, y-px/4, px/2, px/2)
			dc.Fill()
		}
	}

	for _, v := range vehicles {
		x, y := toPx(v.Position.X, v.Position.Z)
		dc.SetHexColor(v.Color)
		dc.DrawCircle(x, y, px/4)
		dc.Fill()
	}

	return dc.Image().(*image.RGBA)
}

func (r *Renderer) showCell(k layout.Kind) bool {
	switch {
	case k == layout.KindRoad:
		return r.Layers.Infrastructure
	case k == layout.KindPark:
		return r.Layers.Greenspace
	case k.IsBuilding():
		return r.Layers.Zoning
	}
	return false
}

// worldToPx converts a world coordinate to the pixel at the centre of the
// matching cell.
func (r *Renderer) worldToPx(f layout.Frame, w float64) float64 {
	px := float64(r.PxPerCell)
	return (w/f.Spacing+float64(f.Size)/2)*px + px/2
}

// WritePNG encodes img to w.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

// SavePNG renders img to a file.
func SavePNG(path string, img *image.RGBA) error {
	return gg.NewContextForRGBA(img).SavePNG(path)
}
