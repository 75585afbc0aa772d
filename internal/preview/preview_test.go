package preview

import (
	"bytes"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"golang.org/x/image/colornames"

	"github.com/talgya/cityforge/internal/layout"
	"github.com/talgya/cityforge/internal/params"
	"github.com/talgya/cityforge/internal/project"
	"github.com/talgya/cityforge/internal/traffic"
	"github.com/talgya/cityforge/internal/utility"
)

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func mustLayout(t *testing.T) *layout.Layout {
	t.Helper()
	l, err := layout.Synthesize(params.Default())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func firstOfKind(l *layout.Layout, match func(layout.Kind) bool) layout.Cell {
	for _, c := range l.Cells {
		if match(c.Kind) && !c.HasSignal {
			return c
		}
	}
	return layout.Cell{}
}

func TestRenderSize(t *testing.T) {
	l := mustLayout(t)
	tests := []struct {
		px, want int
	}{
		{4, 80},
		{0, 20 * DefaultPxPerCell},
		{1000, 20 * MaxPxPerCell},
	}
	for _, tt := range tests {
		img := Render(l, utility.Network{}, nil, tt.px)
		if b := img.Bounds(); b.Dx() != tt.want || b.Dy() != tt.want {
			t.Errorf("px=%d: bounds %v, want %dx%d", tt.px, b, tt.want, tt.want)
		}
	}
}

func TestCellColours(t *testing.T) {
	l := mustLayout(t)
	r := NewRenderer(16)
	r.Layers.Utilities = false
	img := r.Draw(l, utility.Network{}, nil)

	road := firstOfKind(l, func(k layout.Kind) bool { return k == layout.KindRoad })
	if got := img.At(road.GridX*16+1, road.GridZ*16+1); !sameColor(got, colornames.Dimgray) {
		t.Errorf("road pixel = %v", got)
	}
	b := firstOfKind(l, layout.Kind.IsBuilding)
	want := r.Scheme.Kinds[b.Kind]
	if got := img.At(b.GridX*16+1, b.GridZ*16+1); !sameColor(got, want) {
		t.Errorf("%s pixel = %v, want %v", b.Kind, got, want)
	}
}

func TestLayersHideCells(t *testing.T) {
	l := mustLayout(t)
	r := NewRenderer(8)
	r.Layers.Zoning = false
	r.Layers.Utilities = false
	img := r.Draw(l, utility.Network{}, nil)

	b := firstOfKind(l, layout.Kind.IsBuilding)
	if got := img.At(b.GridX*8+1, b.GridZ*8+1); !sameColor(got, r.Scheme.Background) {
		t.Errorf("hidden building drawn as %v", got)
	}
}

func TestVehiclesDrawn(t *testing.T) {
	l := mustLayout(t)
	routes := traffic.BuildRoutes(l.Frame(), l.Spacing)
	fleet := traffic.NewFleet(1, routes, 1)
	fleet[0].Color = "#ff0000"

	r := NewRenderer(16)
	r.Layers = project.ViewLayers{}
	img := r.Draw(l, utility.Network{}, fleet)
	f := l.Frame()
	x := int(r.worldToPx(f, fleet[0].Position.X))
	y := int(r.worldToPx(f, fleet[0].Position.Z))
	if got := img.At(x, y); !sameColor(got, color.RGBA{255, 0, 0, 255}) {
		t.Errorf("vehicle pixel = %v", got)
	}
}

func TestWritePNG(t *testing.T) {
	l := mustLayout(t)
	img := Render(l, utility.BuildNetwork(l), nil, 2)

	var buf bytes.Buffer
	if err := WritePNG(&buf, img); err != nil {
		t.Fatal(err)
	}
	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded bounds %v", decoded.Bounds())
	}

	path := filepath.Join(t.TempDir(), "city.png")
	if err := SavePNG(path, img); err != nil {
		t.Fatal(err)
	}
}
