package traffic

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/talgya/cityforge/internal/layout"
)

// Speeds are fractions of a route per frame.
const (
	MinSpeed   = 0.004
	SpeedRange = 0.007

	DefaultFleetSize = 16
)

var palette = []string{"#ef4444", "#3b82f6", "#10b981", "#f59e0b"}

// Vehicle is one moving agent. Position, Direction and Heading are derived
// from the route and progress on every tick.
type Vehicle struct {
	ID        string       `json:"id"`
	RouteID   string       `json:"routeId"`
	Progress  float64      `json:"progress"`
	Speed     float64      `json:"speed"`
	Color     string       `json:"color"`
	Position  layout.Point `json:"position"`
	Direction layout.Point `json:"direction"`
	Heading   float64      `json:"heading"` // radians, atan2(dx, dz)
}

// NewFleet creates n vehicles spread across routes. The same seed always
// yields the same fleet.
func NewFleet(n int, routes []Route, seed int64) []Vehicle {
	rng := rand.New(rand.NewSource(seed))
	fleet := make([]Vehicle, n)
	for i := range fleet {
		v := Vehicle{
			ID:       fmt.Sprintf("vehicle-%d", i),
			Progress: rng.Float64(),
			Speed:    MinSpeed + rng.Float64()*SpeedRange,
			Color:    palette[i%len(palette)],
		}
		if len(routes) > 0 {
			v = place(v, routes[i%len(routes)])
		}
		fleet[i] = v
	}
	return fleet
}

// Tick advances every vehicle by speed·dt and returns the new fleet; the
// input slice is not modified. Progress past the end of a route wraps into
// [0,1) and the vehicle moves to another route of the same orientation,
// picked with rng or round robin when rng is nil. With no routes the
// vehicles are returned unchanged.
func Tick(vehicles []Vehicle, routes []Route, dt float64, rng *rand.Rand) []Vehicle {
	out := make([]Vehicle, len(vehicles))
	copy(out, vehicles)
	if len(routes) == 0 {
		return out
	}
	idx := indexRoutes(routes)
	if dt < 0 {
		dt = 0
	}

	for i, v := range out {
		ri, ok := idx[v.RouteID]
		if !ok {
			ri = reseatIndex(v.RouteID, i, routes)
		}
		v.Progress += v.Speed * dt
		if v.Progress >= 1 {
			v.Progress -= math.Floor(v.Progress)
			ri = nextRoute(ri, routes, rng)
		}
		out[i] = place(v, routes[ri])
	}
	return out
}

// Reseat maps vehicles onto a rebuilt route set. Vehicles whose route still
// exists keep it; the rest move to a route of the same orientation class.
// Progress is preserved.
func Reseat(vehicles []Vehicle, routes []Route) []Vehicle {
	out := make([]Vehicle, len(vehicles))
	copy(out, vehicles)
	if len(routes) == 0 {
		return out
	}
	idx := indexRoutes(routes)
	for i, v := range out {
		ri, ok := idx[v.RouteID]
		if !ok {
			ri = reseatIndex(v.RouteID, i, routes)
		}
		out[i] = place(v, routes[ri])
	}
	return out
}

func indexRoutes(routes []Route) map[string]int {
	idx := make(map[string]int, len(routes))
	for i, r := range routes {
		idx[r.ID] = i
	}
	return idx
}

// reseatIndex chooses a route for a vehicle whose route vanished, keyed on
// the vehicle slot so the choice is stable.
func reseatIndex(oldID string, slot int, routes []Route) int {
	want := OrientationOf(oldID)
	var same []int
	for i, r := range routes {
		if r.Orientation == want {
			same = append(same, i)
		}
	}
	if len(same) > 0 {
		return same[slot%len(same)]
	}
	return slot % len(routes)
}

// nextRoute picks a replacement for routes[cur] with the same orientation,
// falling back to any route when none share it.
func nextRoute(cur int, routes []Route, rng *rand.Rand) int {
	want := routes[cur].Orientation
	var same []int
	for i, r := range routes {
		if r.Orientation == want {
			same = append(same, i)
		}
	}
	if len(same) == 0 {
		if rng != nil {
			return rng.Intn(len(routes))
		}
		return (cur + 1) % len(routes)
	}
	if rng != nil {
		return same[rng.Intn(len(same))]
	}
	for k, i := range same {
		if i == cur {
			return same[(k+1)%len(same)]
		}
	}
	return same[0]
}

func place(v Vehicle, r Route) Vehicle {
	v.RouteID = r.ID
	v.Position = r.PointAt(v.Progress)
	v.Direction = r.Direction()
	v.Heading = math.Atan2(v.Direction.X, v.Direction.Z)
	return v
}

func distance(a, b layout.Point) float64 {
	return math.Hypot(b.X-a.X, b.Z-a.Z)
}
