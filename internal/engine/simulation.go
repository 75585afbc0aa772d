package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/talgya/cityforge/internal/layout"
	"github.com/talgya/cityforge/internal/params"
	"github.com/talgya/cityforge/internal/placement"
	"github.com/talgya/cityforge/internal/project"
	"github.com/talgya/cityforge/internal/traffic"
	"github.com/talgya/cityforge/internal/utility"
)

// Options tune a new Simulation.
type Options struct {
	Seed      int64 // drives the fleet, route choice and population drift
	FleetSize int
	CacheSize int // layouts memoized across parameter changes
}

// DefaultOptions returns the options used by the server.
func DefaultOptions() Options {
	return Options{Seed: 1, FleetSize: traffic.DefaultFleetSize, CacheSize: 16}
}

// Simulation owns the city state: parameters, the derived layout, network and
// routes, the vehicle fleet and the placement board. Derived state is
// replaced wholesale whenever the parameters change; placements survive.
//
// The lock exists because the HTTP API reads state from other goroutines.
type Simulation struct {
	mu sync.RWMutex

	params   params.CityParameters
	spacing  params.Spacing
	layout   *layout.Layout
	stats    layout.Stats
	network  utility.Network
	routes   []traffic.Route
	vehicles []traffic.Vehicle
	board    *placement.Board
	layers   project.ViewLayers

	generating    bool
	genSeq        uint64
	frame         uint64
	trafficFactor float64 // weather slowdown applied to dt

	trafficRNG *rand.Rand
	driftRNG   *rand.Rand
	cache      *layout.Cache

	events   []Event
	eventSeq uint64

	// OnVehicles, when set, receives the fleet after every frame. It runs
	// outside the lock.
	OnVehicles func(frame uint64, vehicles []traffic.Vehicle)
}

// Event is a notable change in the city.
type Event struct {
	Seq         uint64 `json:"seq"`
	Frame       uint64 `json:"frame"`
	Description string `json:"description"`
	Category    string `json:"category"` // "params", "generate", "placement", "drift", "project"
}

const maxEvents = 1000

// NewSimulation synthesizes the city for p and seats a fresh fleet on it.
func NewSimulation(p params.CityParameters, opts Options) (*Simulation, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("new simulation: %w", err)
	}
	s := &Simulation{
		board:      placement.NewBoard(),
		layers:     project.DefaultLayers(),
		trafficRNG: rand.New(rand.NewSource(opts.Seed + 100)),
		driftRNG:   rand.New(rand.NewSource(opts.Seed + 200)),
		cache:      layout.NewCache(opts.CacheSize),

		trafficFactor: 1,
	}
	s.rebuild(p)
	s.vehicles = traffic.NewFleet(opts.FleetSize, s.routes, opts.Seed)
	return s, nil
}

// rebuild replaces all derived state for p. Callers hold the write lock, or
// own s exclusively.
func (s *Simulation) rebuild(p params.CityParameters) {
	sp := p.Spacing()
	l := s.cache.Get(p, sp)

	s.params = p
	s.spacing = sp
	s.layout = l
	s.stats = layout.Summarize(l)
	s.network = utility.BuildNetwork(l)
	s.routes = traffic.BuildRoutes(l.Frame(), sp)
	s.vehicles = traffic.Reseat(s.vehicles, s.routes)
}

func (s *Simulation) record(category, format string, args ...any) {
	s.eventSeq++
	s.events = append(s.events, Event{
		Seq:         s.eventSeq,
		Frame:       s.frame,
		Category:    category,
		Description: fmt.Sprintf(format, args...),
	})
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

// UpdateParams merges u into the current parameters and resynthesizes. The
// result is always valid because Apply clamps.
func (s *Simulation) UpdateParams(u params.Update) params.CityParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Empty() {
		return s.params
	}
	next := s.params.Apply(u)
	if next != s.params {
		s.rebuild(next)
		s.record("params", "parameters updated: size %d, %s, %s", next.Size, next.Climate, next.Terrain)
	}
	return s.params
}

// TickFrame advances the fleet by dt frames and returns the new fleet.
func (s *Simulation) TickFrame(dt float64) []traffic.Vehicle {
	s.mu.Lock()
	s.frame++
	s.vehicles = traffic.Tick(s.vehicles, s.routes, dt*s.trafficFactor, s.trafficRNG)
	frame := s.frame
	out := s.copyVehicles()
	s.mu.Unlock()

	if s.OnVehicles != nil {
		s.OnVehicles(frame, out)
	}
	return out
}

// SetTrafficFactor scales vehicle speed, e.g. for weather. Values are clamped
// into [0.1, 1].
func (s *Simulation) SetTrafficFactor(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trafficFactor = params.Clamp(f, 0.1, 1)
}

// Population drift bounds.
const (
	DriftSpan      = 500 // delta drawn from [-DriftSpan, DriftSpan]
	DriftThreshold = 100 // smaller deltas are discarded
	DriftSeconds   = 10
)

// DriftPopulation applies one slow random population change. It is skipped
// while a generation is pending and returns the applied delta, or 0.
func (s *Simulation) DriftPopulation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generating {
		return 0
	}
	delta := s.driftRNG.Intn(2*DriftSpan+1) - DriftSpan
	if delta >= -DriftThreshold && delta <= DriftThreshold {
		return 0
	}
	before := s.params.Population
	s.params.Population = max(before+delta, params.MinDriftPopulation)
	if s.params.Population == before {
		return 0
	}
	s.record("drift", "population %d → %d", before, s.params.Population)
	return s.params.Population - before
}

// AddPlacement puts p on the board, replacing anything at its coordinate.
func (s *Simulation) AddPlacement(p placement.Placement) (placement.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added, err := s.board.Add(p)
	if err != nil {
		return placement.Placement{}, fmt.Errorf("add placement: %w", err)
	}
	s.record("placement", "%s placed at (%d,%d)", added.Kind, added.X, added.Y)
	return added, nil
}

// RemovePlacementAt clears the placement at (x, y), if any.
func (s *Simulation) RemovePlacementAt(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.board.Len()
	if err := s.board.RemoveAt(x, y); err != nil {
		return fmt.Errorf("remove placement: %w", err)
	}
	if s.board.Len() < before {
		s.record("placement", "cleared (%d,%d)", x, y)
	}
	return nil
}

// ClearPlacements removes every placement.
func (s *Simulation) ClearPlacements() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board.Clear()
	s.record("placement", "all placements cleared")
}

// PlacementWorld returns where the placement at (x, y) sits in the current
// layout.
func (s *Simulation) PlacementWorld(x, y int) (placement.Placement, int, int, layout.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.board.At(x, y)
	if !ok {
		if err := placement.CheckRange(x, y); err != nil {
			return placement.Placement{}, 0, 0, layout.Point{}, err
		}
		return placement.Placement{}, 0, 0, layout.Point{}, ErrNoPlacement
	}
	ix, iz, pos := placement.MapToLayoutSpace(p, s.layout.Size, placement.GridSize)
	return p, ix, iz, pos, nil
}

// ToggleLayer flips a view layer and returns its new state.
func (s *Simulation) ToggleLayer(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.Toggle(name)
}

// Export captures the current project document.
func (s *Simulation) Export() project.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return project.New(s.params, s.layers, s.board.All())
}

// Import applies a decoded project. Placements are replaced only when the
// document carried a placements array; layers only when it carried them.
func (s *Simulation) Import(r project.Restore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Params != s.params {
		s.rebuild(r.Params)
	}
	if r.Layers != nil {
		s.layers = *r.Layers
	}
	if r.Placements != nil {
		if n := s.board.Replace(r.Placements); n > 0 {
			slog.Warn("project placements skipped", "count", n)
		}
	}
	s.record("project", "project loaded (%d skipped fields)", len(r.Skipped))
}

// Resume continues a previous session's frame counter and event log so new
// events never reuse a stored sequence number. events are oldest first.
func (s *Simulation) Resume(frame uint64, events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = max(s.frame, frame)
	for _, e := range events {
		s.eventSeq = max(s.eventSeq, e.Seq)
	}
	merged := make([]Event, 0, len(events)+len(s.events))
	merged = append(merged, events...)
	for _, e := range s.events {
		s.eventSeq++
		e.Seq = s.eventSeq
		merged = append(merged, e)
	}
	if len(merged) > maxEvents {
		merged = merged[len(merged)-maxEvents:]
	}
	s.events = merged
}

func (s *Simulation) copyVehicles() []traffic.Vehicle {
	out := make([]traffic.Vehicle, len(s.vehicles))
	copy(out, s.vehicles)
	return out
}

// Params returns the current parameters.
func (s *Simulation) Params() params.CityParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Layout returns the current layout. It is shared and must not be modified.
func (s *Simulation) Layout() *layout.Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout
}

// Stats returns the metrics of the current layout.
func (s *Simulation) Stats() layout.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Network returns the utility overlay of the current layout.
func (s *Simulation) Network() utility.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.network
}

// Routes returns the current route set.
func (s *Simulation) Routes() []traffic.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]traffic.Route, len(s.routes))
	copy(out, s.routes)
	return out
}

// Vehicles returns the current fleet.
func (s *Simulation) Vehicles() []traffic.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyVehicles()
}

// Placements returns the board contents in insertion order.
func (s *Simulation) Placements() []placement.Placement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.All()
}

// Layers returns the view layer state.
func (s *Simulation) Layers() project.ViewLayers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers
}

// Events returns up to n of the most recent events, oldest first.
func (s *Simulation) Events(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.events)-n, 0)
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// Snapshot is a consistent summary of the simulation.
type Snapshot struct {
	Frame      uint64                `json:"frame"`
	Params     params.CityParameters `json:"params"`
	Spacing    params.Spacing        `json:"spacing"`
	Layers     project.ViewLayers    `json:"layers"`
	Generating bool                  `json:"generating"`
	Stats      layout.Stats          `json:"stats"`
	Routes     int                   `json:"routes"`
	Vehicles   int                   `json:"vehicles"`
	Placements int                   `json:"placements"`
}

// Snapshot returns the current summary.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Frame:      s.frame,
		Params:     s.params,
		Spacing:    s.spacing,
		Layers:     s.layers,
		Generating: s.generating,
		Stats:      s.stats,
		Routes:     len(s.routes),
		Vehicles:   len(s.vehicles),
		Placements: s.board.Len(),
	}
}

// Attach wires the simulation into an engine: vehicles move every frame,
// population drifts every DriftSeconds and a summary is logged each minute.
func (s *Simulation) Attach(e *Engine) {
	e.OnFrame = func(_ uint64, dt float64) {
		s.TickFrame(dt)
	}
	e.OnSecond = func(frame uint64) {
		if (frame/FramesPerSecond)%DriftSeconds == 0 {
			s.DriftPopulation()
		}
	}
	e.OnMinute = func(frame uint64) {
		snap := s.Snapshot()
		slog.Info("city summary",
			"uptime", Uptime(frame),
			"size", snap.Params.Size,
			"population", snap.Params.Population,
			"buildings", snap.Stats.Buildings(),
			"routes", snap.Routes,
			"vehicles", snap.Vehicles,
			"placements", snap.Placements,
		)
	}
}
