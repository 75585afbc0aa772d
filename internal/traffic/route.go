// Package traffic builds drivable routes over the arterial grid and advances
// vehicles along them.
package traffic

import (
	"fmt"
	"strings"

	"github.com/talgya/cityforge/internal/layout"
	"github.com/talgya/cityforge/internal/params"
)

// Orientation is the direction class of a route.
type Orientation string

const (
	Horizontal Orientation = "horizontal" // constant Z
	Vertical   Orientation = "vertical"   // constant X
	Diagonal   Orientation = "diagonal"   // corner connector
)

// Route is a straight drivable segment between two world points. For
// horizontal and vertical routes Axis is the exact constant coordinate.
type Route struct {
	ID          string       `json:"id"`
	Start       layout.Point `json:"start"`
	End         layout.Point `json:"end"`
	Orientation Orientation  `json:"orientation"`
	Axis        float64      `json:"axis"`
	Index       int          `json:"index"` // grid line, or connector length for diagonals
}

// Length returns the world-space length of the route.
func (r Route) Length() float64 {
	return distance(r.Start, r.End)
}

// BuildRoutes lays one horizontal and one vertical route along every
// arterial grid line, using the same spacing the synthesizer used, then adds
// the two corner connectors. Zero-length routes are omitted.
func BuildRoutes(f layout.Frame, sp params.Spacing) []Route {
	if f.Size <= 0 {
		return nil
	}
	step := max(sp.ArterialStep, 1)
	lo, hi := f.Bounds()

	var routes []Route
	if hi > lo {
		for i := 0; i < f.Size; i += step {
			c := f.WorldCoord(i)
			routes = append(routes,
				Route{
					ID:          fmt.Sprintf("h-%d", i),
					Start:       layout.Point{X: lo, Z: c},
					End:         layout.Point{X: hi, Z: c},
					Orientation: Horizontal,
					Axis:        c,
					Index:       i,
				},
				Route{
					ID:          fmt.Sprintf("v-%d", i),
					Start:       layout.Point{X: c, Z: lo},
					End:         layout.Point{X: c, Z: hi},
					Orientation: Vertical,
					Axis:        c,
					Index:       i,
				},
			)
		}
	}

	n := min(sp.ConnectorCells, f.Size-1)
	if n > 0 {
		near := f.WorldCoord(n)
		far := f.WorldCoord(f.Size - 1 - n)
		routes = append(routes,
			Route{
				ID:          "d1",
				Start:       layout.Point{X: lo, Z: lo},
				End:         layout.Point{X: near, Z: near},
				Orientation: Diagonal,
				Index:       n,
			},
			Route{
				ID:          "d2",
				Start:       layout.Point{X: hi, Z: hi},
				End:         layout.Point{X: far, Z: far},
				Orientation: Diagonal,
				Index:       n,
			},
		)
	}
	return routes
}

// OrientationOf derives the orientation class from a route ID.
func OrientationOf(id string) Orientation {
	switch {
	case strings.HasPrefix(id, "h-"):
		return Horizontal
	case strings.HasPrefix(id, "v-"):
		return Vertical
	case strings.HasPrefix(id, "d"):
		return Diagonal
	}
	return ""
}

// PointAt returns the position at progress t along r, with the constant axis
// snapped exactly to r.Axis.
func (r Route) PointAt(t float64) layout.Point {
	p := layout.Point{
		X: r.Start.X + (r.End.X-r.Start.X)*t,
		Z: r.Start.Z + (r.End.Z-r.Start.Z)*t,
	}
	switch r.Orientation {
	case Horizontal:
		p.Z = r.Axis
	case Vertical:
		p.X = r.Axis
	}
	return p
}

// Direction returns the unit vector from Start to End, or zero for a
// degenerate route.
func (r Route) Direction() layout.Point {
	d := layout.Point{X: r.End.X - r.Start.X, Z: r.End.Z - r.Start.Z}
	l := distance(r.Start, r.End)
	if l == 0 {
		return layout.Point{}
	}
	return layout.Point{X: d.X / l, Z: d.Z / l}
}
