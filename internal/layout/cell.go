// Package layout synthesizes the city grid: a complete, deterministic
// classification of every cell into roads, buildings and parks.
package layout

import (
	"fmt"
	"math"

	"github.com/talgya/cityforge/internal/params"
)

// CellSpacing is the world-space distance between adjacent cell centers.
// Placement mapping and traffic routes use the same constant.
const CellSpacing = 4.0

// Kind classifies a cell.
type Kind uint8

const (
	KindEmpty       Kind = iota // Never produced by the synthesizer
	KindResidential             // Low-rise housing
	KindCommercial              // Mid-rise offices and retail
	KindIndustrial              // Warehouses, plants
	KindSkyscraper              // Towers near the core
	KindPark                    // Green space
	KindRoad                    // Arterial, local street or connector
)

var kindNames = [...]string{"empty", "residential", "commercial", "industrial", "skyscraper", "park", "road"}

// String returns the lower-case kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsBuilding reports whether k is one of the four building kinds.
func (k Kind) IsBuilding() bool {
	switch k {
	case KindResidential, KindCommercial, KindIndustrial, KindSkyscraper:
		return true
	}
	return false
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown cell kind %q", b)
}

// Orientation describes which way a road cell runs.
type Orientation uint8

const (
	OrientationNone         Orientation = iota // Non-road cells
	OrientationHorizontal                      // Runs along X (constant Z)
	OrientationVertical                        // Runs along Z (constant X)
	OrientationIntersection                    // Joins both axes
)

var orientationNames = [...]string{"", "horizontal", "vertical", "intersection"}

func (o Orientation) String() string {
	if int(o) < len(orientationNames) {
		return orientationNames[o]
	}
	return "unknown"
}

func (o Orientation) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Orientation) UnmarshalText(b []byte) error {
	for i, n := range orientationNames {
		if n == string(b) {
			*o = Orientation(i)
			return nil
		}
	}
	return fmt.Errorf("unknown orientation %q", b)
}

// RoadClass distinguishes the arterial grid from the filler streets.
type RoadClass uint8

const (
	RoadNone      RoadClass = iota
	RoadArterial            // On an arterial line
	RoadLocal               // Low-density local street
	RoadConnector           // Corner diagonal connector
)

var roadClassNames = [...]string{"", "arterial", "local", "connector"}

func (r RoadClass) String() string {
	if int(r) < len(roadClassNames) {
		return roadClassNames[r]
	}
	return "unknown"
}

func (r RoadClass) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RoadClass) UnmarshalText(b []byte) error {
	for i, n := range roadClassNames {
		if n == string(b) {
			*r = RoadClass(i)
			return nil
		}
	}
	return fmt.Errorf("unknown road class %q", b)
}

// Point is a position on the ground plane in world units.
type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Cell is one classified grid unit.
type Cell struct {
	GridX       int         `json:"gridX"`
	GridZ       int         `json:"gridZ"`
	Kind        Kind        `json:"kind"`
	Height      float64     `json:"height"`
	Orientation Orientation `json:"orientation,omitempty"` // roads only
	HasSignal   bool        `json:"hasSignal,omitempty"`   // roads only
	Road        RoadClass   `json:"road,omitempty"`        // roads only
	Color       string      `json:"color"`
	Position    Point       `json:"position"`
	Seed        float64     `json:"seed"` // per-cell hash value in [0,1)
}

// Frame maps grid indices to world coordinates for a layout of a given size.
type Frame struct {
	Size    int     `json:"size"`
	Spacing float64 `json:"spacing"`
}

// NewFrame returns the frame for a size×size grid at CellSpacing.
func NewFrame(size int) Frame {
	return Frame{Size: size, Spacing: CellSpacing}
}

// WorldCoord converts a grid index to its world coordinate.
func (f Frame) WorldCoord(i int) float64 {
	return (float64(i) - float64(f.Size)/2) * f.Spacing
}

// Position returns the world position of cell (x, z).
func (f Frame) Position(x, z int) Point {
	return Point{X: f.WorldCoord(x), Z: f.WorldCoord(z)}
}

// Bounds returns the world coordinates of the first and last grid lines.
func (f Frame) Bounds() (lo, hi float64) {
	return f.WorldCoord(0), f.WorldCoord(f.Size - 1)
}

// IndexOf returns the grid index nearest to a world coordinate, clamped to
// the grid.
func (f Frame) IndexOf(coord float64) int {
	if f.Size <= 0 || f.Spacing == 0 {
		return 0
	}
	i := int(math.Round(coord/f.Spacing + float64(f.Size)/2))
	return params.Clamp(i, 0, f.Size-1)
}

// Layout is the complete classified grid: exactly Size² cells, ordered by
// GridX then GridZ.
type Layout struct {
	Size    int            `json:"size"`
	Spacing params.Spacing `json:"spacing"`
	Cells   []Cell         `json:"cells"`
}

// Frame returns the coordinate frame of the layout.
func (l *Layout) Frame() Frame {
	return NewFrame(l.Size)
}

// At returns the cell at (x, z), or nil when out of bounds.
func (l *Layout) At(x, z int) *Cell {
	if x < 0 || z < 0 || x >= l.Size || z >= l.Size {
		return nil
	}
	return &l.Cells[x*l.Size+z]
}

// Buildings returns the building cells in layout order.
func (l *Layout) Buildings() []Cell {
	var out []Cell
	for _, c := range l.Cells {
		if c.Kind.IsBuilding() {
			out = append(out, c)
		}
	}
	return out
}

// CellAt returns the cell under a world position.
func (l *Layout) CellAt(p Point) *Cell {
	f := l.Frame()
	return l.At(f.IndexOf(p.X), f.IndexOf(p.Z))
}
