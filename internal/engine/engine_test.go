package engine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talgya/cityforge/internal/params"
	"github.com/talgya/cityforge/internal/placement"
	"github.com/talgya/cityforge/internal/project"
	"github.com/talgya/cityforge/internal/traffic"
)

func newSim(t *testing.T) *Simulation {
	t.Helper()
	s, err := NewSimulation(params.Default(), DefaultOptions())
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	return s
}

func ptr[T any](v T) *T { return &v }

func TestNewSimulation(t *testing.T) {
	s := newSim(t)
	snap := s.Snapshot()
	if snap.Params != params.Default() {
		t.Errorf("params = %+v", snap.Params)
	}
	if snap.Routes != 10 || snap.Vehicles != traffic.DefaultFleetSize {
		t.Errorf("routes=%d vehicles=%d", snap.Routes, snap.Vehicles)
	}
	if s.Layout().Size != 20 || snap.Stats.Cells != 400 {
		t.Errorf("layout not built: %+v", snap.Stats)
	}
	if snap.Layers != project.DefaultLayers() {
		t.Errorf("layers = %+v", snap.Layers)
	}

	bad := params.Default()
	bad.Size = 0
	if _, err := NewSimulation(bad, DefaultOptions()); err == nil {
		t.Error("invalid parameters accepted")
	}
}

func TestUpdateParamsRebuilds(t *testing.T) {
	s := newSim(t)
	if _, err := s.AddPlacement(placement.Placement{Kind: placement.KindSchool, X: 3, Y: 3}); err != nil {
		t.Fatal(err)
	}

	p := s.UpdateParams(params.Update{Size: ptr(10), Terrain: ptr(params.TerrainMountainous)})
	if p.Size != 10 || s.Layout().Size != 10 {
		t.Fatalf("size = %d, layout %d", p.Size, s.Layout().Size)
	}
	if s.Snapshot().Spacing.ArterialStep != 7 {
		t.Errorf("spacing not recomputed: %+v", s.Snapshot().Spacing)
	}

	routes := make(map[string]bool)
	for _, r := range s.Routes() {
		routes[r.ID] = true
	}
	for _, v := range s.Vehicles() {
		if !routes[v.RouteID] {
			t.Errorf("%s on stale route %s", v.ID, v.RouteID)
		}
	}
	if len(s.Placements()) != 1 {
		t.Error("placements lost on regeneration")
	}

	if got := s.UpdateParams(params.Update{Size: ptr(5000)}); got.Size != params.MaxSize {
		t.Errorf("size not clamped: %d", got.Size)
	}
}

func TestGenerateNudges(t *testing.T) {
	s := newSim(t)
	p, err := s.Generate(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.PopulationDensity-2750) > 1e-9 || math.Abs(p.EnvironmentalRisk-22.5) > 1e-9 {
		t.Errorf("nudged params = %+v", p)
	}
	if s.Generating() {
		t.Error("still generating after completion")
	}
}

func TestGenerateSuperseded(t *testing.T) {
	s := newSim(t)
	first := make(chan error, 1)
	go func() {
		_, err := s.Generate(context.Background(), 200*time.Millisecond)
		first <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !s.Generating() {
		if time.Now().After(deadline) {
			t.Fatal("first generation never started")
		}
		time.Sleep(time.Millisecond)
	}

	p, err := s.Generate(context.Background(), 0)
	if err != nil {
		t.Fatalf("second generation: %v", err)
	}
	if err := <-first; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first generation = %v, want ErrSuperseded", err)
	}
	if s.Params() != p {
		t.Error("superseded request changed parameters")
	}
}

func TestGenerateCancelled(t *testing.T) {
	s := newSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Generate(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.Generating() || s.Params() != params.Default() {
		t.Error("cancelled generation left state behind")
	}
}

func TestDriftPopulation(t *testing.T) {
	s := newSim(t)
	for i := 0; i < 500; i++ {
		before := s.Params().Population
		d := s.DriftPopulation()
		if d != 0 && (d > DriftSpan || d < -DriftSpan) {
			t.Fatalf("delta %d outside span", d)
		}
		if d != 0 && d >= -DriftThreshold && d <= DriftThreshold {
			t.Fatalf("small delta %d applied", d)
		}
		if s.Params().Population != before+d {
			t.Fatalf("population %d, want %d", s.Params().Population, before+d)
		}
		if s.Params().Population < params.MinDriftPopulation {
			t.Fatalf("population fell below floor: %d", s.Params().Population)
		}
	}

	s.mu.Lock()
	s.generating = true
	s.mu.Unlock()
	before := s.Params().Population
	for i := 0; i < 20; i++ {
		if s.DriftPopulation() != 0 {
			t.Fatal("drift applied while generating")
		}
	}
	if s.Params().Population != before {
		t.Error("population changed while generating")
	}
}

func TestDriftDeterministic(t *testing.T) {
	a, b := newSim(t), newSim(t)
	for i := 0; i < 50; i++ {
		if a.DriftPopulation() != b.DriftPopulation() {
			t.Fatal("same seed drifted differently")
		}
	}
}

func TestPlacementWorld(t *testing.T) {
	s := newSim(t)
	if _, err := s.AddPlacement(placement.Placement{Kind: placement.KindAirport, X: 7, Y: 7}); err != nil {
		t.Fatal(err)
	}
	_, ix, iz, pos, err := s.PlacementWorld(7, 7)
	if err != nil {
		t.Fatal(err)
	}
	if ix != 19 || iz != 19 || pos.X != 36 || pos.Z != 36 {
		t.Errorf("mapped to (%d,%d) %+v", ix, iz, pos)
	}

	if _, _, _, _, err := s.PlacementWorld(1, 1); !errors.Is(err, ErrNoPlacement) {
		t.Errorf("empty cell = %v", err)
	}
	var rerr *placement.RangeError
	if _, _, _, _, err := s.PlacementWorld(9, 1); !errors.As(err, &rerr) {
		t.Errorf("out of range = %v", err)
	}
	if _, err := s.AddPlacement(placement.Placement{Kind: placement.KindRoad, X: 8, Y: 0}); !errors.As(err, &rerr) {
		t.Errorf("add out of range = %v", err)
	}

	if err := s.RemovePlacementAt(7, 7); err != nil {
		t.Fatal(err)
	}
	s.AddPlacement(placement.Placement{Kind: placement.KindRoad, X: 1, Y: 1})
	s.ClearPlacements()
	if len(s.Placements()) != 0 {
		t.Error("placements remain after clear")
	}
}

func TestTickFrame(t *testing.T) {
	s := newSim(t)
	var calls atomic.Int32
	s.OnVehicles = func(frame uint64, vs []traffic.Vehicle) {
		calls.Add(1)
		if len(vs) != traffic.DefaultFleetSize {
			t.Errorf("published %d vehicles", len(vs))
		}
	}
	before := s.Vehicles()
	after := s.TickFrame(1)
	moved := 0
	for i := range after {
		if after[i].Progress != before[i].Progress {
			moved++
		}
	}
	if moved != len(after) {
		t.Errorf("%d of %d vehicles moved", moved, len(after))
	}
	if calls.Load() != 1 || s.Snapshot().Frame != 1 {
		t.Errorf("calls=%d frame=%d", calls.Load(), s.Snapshot().Frame)
	}
}

func TestExportImport(t *testing.T) {
	s := newSim(t)
	s.UpdateParams(params.Update{Climate: ptr(params.ClimateArid)})
	s.AddPlacement(placement.Placement{Kind: placement.KindHospital, X: 2, Y: 3})
	s.ToggleLayer("utilities")
	doc := s.Export()

	other := newSim(t)
	data, err := project.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	r, err := project.Decode(data, other.Params())
	if err != nil {
		t.Fatal(err)
	}
	other.Import(r)

	if other.Params() != s.Params() {
		t.Errorf("params = %+v", other.Params())
	}
	if !other.Layers().Utilities {
		t.Error("layers not restored")
	}
	if ps := other.Placements(); len(ps) != 1 || ps[0].Kind != placement.KindHospital {
		t.Errorf("placements = %+v", ps)
	}
	if !reflect.DeepEqual(other.Layout(), s.Layout()) {
		t.Error("layout not rebuilt from imported parameters")
	}
}

func TestEvents(t *testing.T) {
	s := newSim(t)
	for i := 0; i < maxEvents+10; i++ {
		s.ClearPlacements()
	}
	if n := len(s.Events(maxEvents * 2)); n != maxEvents {
		t.Errorf("events retained = %d, want %d", n, maxEvents)
	}
	if ev := s.Events(1); len(ev) != 1 || ev[0].Category != "placement" {
		t.Errorf("latest event = %+v", ev)
	}
}

func TestEngineStepSchedule(t *testing.T) {
	e := NewEngine()
	var frames, seconds, minutes int
	e.OnFrame = func(uint64, float64) { frames++ }
	e.OnSecond = func(uint64) { seconds++ }
	e.OnMinute = func(uint64) { minutes++ }

	for i := 0; i < FramesPerMinute; i++ {
		e.step()
	}
	if frames != FramesPerMinute || seconds != 60 || minutes != 1 {
		t.Errorf("frames=%d seconds=%d minutes=%d", frames, seconds, minutes)
	}
	if Uptime(e.Frame()) != time.Minute {
		t.Errorf("uptime = %v", Uptime(e.Frame()))
	}
}

func TestEngineRunStops(t *testing.T) {
	e := NewEngine()
	e.Interval = time.Millisecond
	var n atomic.Int64
	e.OnFrame = func(uint64, float64) { n.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if n.Load() == 0 {
		t.Error("no frames ran")
	}
	if e.Running() {
		t.Error("engine still marked running")
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	for !e.Running() {
		time.Sleep(time.Millisecond)
	}
	e.Stop()
	e.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not halt the engine")
	}
}

func TestEngineSpeed(t *testing.T) {
	e := NewEngine()
	e.SetSpeed(-2)
	if e.Speed() != 0 {
		t.Errorf("speed = %v, want 0", e.Speed())
	}
	e.SetSpeed(4)
	if e.Speed() != 4 {
		t.Errorf("speed = %v", e.Speed())
	}
}

func TestAttach(t *testing.T) {
	s := newSim(t)
	e := NewEngine()
	s.Attach(e)
	for i := 0; i < FramesPerSecond*DriftSeconds; i++ {
		e.step()
	}
	if got := s.Snapshot().Frame; got != FramesPerSecond*DriftSeconds {
		t.Errorf("simulation frame = %d", got)
	}
}

func TestRemoveEmptyCellRecordsNothing(t *testing.T) {
	s := newSim(t)
	if err := s.RemovePlacementAt(3, 3); err != nil {
		t.Fatal(err)
	}
	if ev := s.Events(10); len(ev) != 0 {
		t.Errorf("removing from an empty cell recorded %+v", ev)
	}

	s.AddPlacement(placement.Placement{Kind: placement.KindSchool, X: 3, Y: 3})
	if err := s.RemovePlacementAt(3, 3); err != nil {
		t.Fatal(err)
	}
	ev := s.Events(10)
	if len(ev) != 2 || ev[1].Description != "cleared (3,3)" {
		t.Errorf("events = %+v", ev)
	}
}

func TestResume(t *testing.T) {
	s := newSim(t)
	s.ClearPlacements() // recorded before the stored log arrives
	stored := []Event{
		{Seq: 7, Frame: 40, Category: "placement", Description: "old"},
		{Seq: 9, Frame: 50, Category: "drift", Description: "older drift"},
	}
	s.Resume(60, stored)

	if got := s.Snapshot().Frame; got != 60 {
		t.Errorf("frame = %d, want 60", got)
	}
	s.ClearPlacements()
	ev := s.Events(10)
	if len(ev) != 4 {
		t.Fatalf("events = %+v", ev)
	}
	for i, want := range []uint64{7, 9, 10, 11} {
		if ev[i].Seq != want {
			t.Errorf("event %d seq = %d, want %d", i, ev[i].Seq, want)
		}
	}
	if ev[3].Frame != 60 {
		t.Errorf("new event frame = %d, want 60", ev[3].Frame)
	}
}
