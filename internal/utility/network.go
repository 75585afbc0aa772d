// Package utility lays power lines, water pipes and substations over the
// buildings of a layout.
//
// The network is a sequential proximity graph, not a minimum spanning tree:
// buildings are walked in layout order and each is linked only to the next
// one when the pair is close on at least one axis. The result can contain
// redundant edges and disconnected islands depending on ordering. That is
// the intended look of the overlay and should not be replaced by an
// optimal construction.
package utility

import (
	"math"

	"github.com/talgya/cityforge/internal/layout"
)

const (
	PowerThreshold = 8.0 // world units
	WaterThreshold = 6.0

	PowerLift        = 2.0  // power lines hang above the roof line
	WaterDepth       = -0.5 // pipes run below ground
	SubstationStride = 10
	SubstationOffset = 2.0
	SubstationHeight = 1.0
)

// Vec3 is a point in world space; Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Edge joins two points.
type Edge struct {
	From Vec3 `json:"from"`
	To   Vec3 `json:"to"`
}

// Network is the utility overlay for one layout.
type Network struct {
	PowerEdges  []Edge `json:"powerEdges"`
	WaterEdges  []Edge `json:"waterEdges"`
	Substations []Vec3 `json:"substations"`
}

// BuildNetwork derives the utility overlay from l. It is deterministic in the
// layout.
func BuildNetwork(l *layout.Layout) Network {
	var n Network
	buildings := l.Buildings()

	for i := 0; i+1 < len(buildings); i++ {
		a, b := buildings[i], buildings[i+1]
		if near(a, b, PowerThreshold) {
			n.PowerEdges = append(n.PowerEdges, Edge{
				From: Vec3{X: a.Position.X, Y: a.Height + PowerLift, Z: a.Position.Z},
				To:   Vec3{X: b.Position.X, Y: b.Height + PowerLift, Z: b.Position.Z},
			})
		}
		if near(a, b, WaterThreshold) {
			n.WaterEdges = append(n.WaterEdges, Edge{
				From: Vec3{X: a.Position.X, Y: WaterDepth, Z: a.Position.Z},
				To:   Vec3{X: b.Position.X, Y: WaterDepth, Z: b.Position.Z},
			})
		}
	}

	for i := 0; i < len(buildings); i += SubstationStride {
		b := buildings[i]
		n.Substations = append(n.Substations, Vec3{
			X: b.Position.X + SubstationOffset,
			Y: SubstationHeight,
			Z: b.Position.Z + SubstationOffset,
		})
	}
	return n
}

// near reports whether a and b are within threshold on either axis.
func near(a, b layout.Cell, threshold float64) bool {
	return math.Abs(a.Position.X-b.Position.X) < threshold ||
		math.Abs(a.Position.Z-b.Position.Z) < threshold
}
