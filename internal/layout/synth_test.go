package layout

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/talgya/cityforge/internal/params"
)

func allParams() []params.CityParameters {
	var out []params.CityParameters
	climates := []params.Climate{params.ClimateTemperate, params.ClimateTropical, params.ClimateArid, params.ClimateContinental}
	terrains := []params.Terrain{params.TerrainFlat, params.TerrainHilly, params.TerrainCoastal, params.TerrainMountainous}
	for _, size := range []int{1, 2, 7, 20, 33} {
		for i, c := range climates {
			for j, ter := range terrains {
				p := params.Default()
				p.Size = size
				p.Climate = c
				p.Terrain = ter
				p.PopulationDensity = float64(1000 + 8000*(i+j))
				p.EnvironmentalRisk = float64(25 * j)
				out = append(out, p)
			}
		}
	}
	return out
}

func TestSynthesizeDeterministic(t *testing.T) {
	for _, p := range allParams() {
		a, err := Synthesize(p)
		if err != nil {
			t.Fatalf("synthesize %+v: %v", p, err)
		}
		b, _ := Synthesize(p)
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("layouts differ for %+v", p)
		}
	}
}

func TestSynthesizeCompleteCoverage(t *testing.T) {
	for _, p := range allParams() {
		l, _ := Synthesize(p)
		if len(l.Cells) != p.Size*p.Size {
			t.Fatalf("size %d: %d cells, want %d", p.Size, len(l.Cells), p.Size*p.Size)
		}
		seen := make(map[[2]int]bool)
		for _, c := range l.Cells {
			key := [2]int{c.GridX, c.GridZ}
			if seen[key] {
				t.Fatalf("duplicate cell %v", key)
			}
			seen[key] = true
			if c.Kind == KindEmpty {
				t.Errorf("cell %v left empty", key)
			}
			if c.Height < 0 {
				t.Errorf("cell %v negative height %v", key, c.Height)
			}
			if c.Kind != KindRoad && (c.Orientation != OrientationNone || c.HasSignal) {
				t.Errorf("non-road cell %v carries road attributes", key)
			}
		}
	}
}

func TestArterialConsistency(t *testing.T) {
	for _, p := range allParams() {
		l, _ := Synthesize(p)
		step := p.Spacing().ArterialStep
		for _, c := range l.Cells {
			if c.GridX%step != 0 && c.GridZ%step != 0 {
				continue
			}
			if c.Kind != KindRoad || c.Road != RoadArterial {
				t.Errorf("%s size %d: cell (%d,%d) is %s/%s, want arterial road",
					p.Terrain, p.Size, c.GridX, c.GridZ, c.Kind, c.Road)
			}
		}
	}
}

func TestArterialOrientationAndSignals(t *testing.T) {
	p := params.Default()
	l, _ := Synthesize(p)

	tests := []struct {
		x, z   int
		orient Orientation
		signal bool
	}{
		{0, 0, OrientationIntersection, true},
		{10, 10, OrientationIntersection, true},
		{5, 5, OrientationIntersection, false},
		{0, 10, OrientationIntersection, true},
		{3, 5, OrientationHorizontal, false},
		{5, 3, OrientationVertical, false},
	}
	for _, tt := range tests {
		c := l.At(tt.x, tt.z)
		if c.Orientation != tt.orient {
			t.Errorf("(%d,%d) orientation = %s, want %s", tt.x, tt.z, c.Orientation, tt.orient)
		}
		if c.HasSignal != tt.signal {
			t.Errorf("(%d,%d) signal = %v, want %v", tt.x, tt.z, c.HasSignal, tt.signal)
		}
	}
}

func TestSmallGridScenario(t *testing.T) {
	p := params.Default()
	p.Size = 4
	l := Build(p, params.Spacing{ArterialStep: 2, SignalPeriod: 4})

	eligible := map[[2]int]bool{{1, 1}: true, {1, 3}: true, {3, 1}: true, {3, 3}: true}
	for x := 0; x < 4; x++ {
		for z := 0; z < 4; z++ {
			c := l.At(x, z)
			if eligible[[2]int{x, z}] {
				if c.Road == RoadArterial {
					t.Errorf("(%d,%d) should not be arterial", x, z)
				}
				continue
			}
			if c.Kind != KindRoad {
				t.Errorf("(%d,%d) = %s, want road", x, z, c.Kind)
			}
		}
	}
}

func TestSingleCellIsRoad(t *testing.T) {
	p := params.Default()
	p.Size = 1
	l, err := Synthesize(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Cells) != 1 || l.Cells[0].Kind != KindRoad {
		t.Fatalf("size 1 layout = %+v, want a single road", l.Cells)
	}
}

func TestSynthesizeRejectsInvalid(t *testing.T) {
	p := params.Default()
	p.Size = 0
	_, err := Synthesize(p)
	var verr *params.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestWorldPosition(t *testing.T) {
	p := params.Default()
	l, _ := Synthesize(p)
	c := l.At(0, 19)
	if c.Position.X != -40 || c.Position.Z != 36 {
		t.Errorf("position of (0,19) = %+v, want {-40 36}", c.Position)
	}
	f := l.Frame()
	for i := 0; i < l.Size; i++ {
		if got := f.IndexOf(f.WorldCoord(i)); got != i {
			t.Errorf("IndexOf(WorldCoord(%d)) = %d", i, got)
		}
	}
}

func TestCellHash(t *testing.T) {
	want := 49297.0 / 233280.0
	if got := CellHash(0, 0, 20); got != want {
		t.Errorf("CellHash(0,0) = %v, want %v", got, want)
	}
	for x := 0; x < 50; x++ {
		for z := 0; z < 50; z++ {
			v := CellHash(x, z, 50)
			if v < 0 || v >= 1 {
				t.Fatalf("hash out of range: %v", v)
			}
		}
	}
}

func TestBuildingChance(t *testing.T) {
	base := buildingChance(0.25, 0.25, 0.5)
	if got := buildingChance(0.25, 0.9, 0.5); got >= base {
		t.Errorf("risk should narrow the window: %v >= %v", got, base)
	}
	if got := buildingChance(1.5, 0.25, 0.5); got <= base {
		t.Errorf("density should widen the window: %v <= %v", got, base)
	}
	if got := buildingChance(0.25, 0.25, 0.9); got <= base {
		t.Errorf("center should widen the window: %v <= %v", got, base)
	}
	if got := buildingChance(10, 0, 1); got != maxBuildingChance {
		t.Errorf("chance = %v, want ceiling %v", got, maxBuildingChance)
	}
	if got := buildingChance(0, 1, -3); got != minBuildingChance {
		t.Errorf("chance = %v, want floor %v", got, minBuildingChance)
	}
}

func TestMountainousHeightsVary(t *testing.T) {
	flat := params.Default()
	mtn := flat
	mtn.Terrain = params.TerrainMountainous

	lf := Build(flat, flat.Spacing())
	lm := Build(mtn, flat.Spacing())
	raised := 0
	for i, c := range lm.Cells {
		if !c.Kind.IsBuilding() || c.Kind != lf.Cells[i].Kind {
			continue
		}
		if c.Height > lf.Cells[i].Height+1e-9 {
			raised++
		}
		if c.Height < lf.Cells[i].Height-1e-9 {
			t.Errorf("cell (%d,%d) lower on mountains", c.GridX, c.GridZ)
		}
	}
	if raised == 0 {
		t.Error("mountainous terrain added no height variance")
	}
}

func TestSummarize(t *testing.T) {
	l, _ := Synthesize(params.Default())
	s := Summarize(l)
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	if total != 400 || s.Cells != 400 {
		t.Errorf("counted %d of %d cells", total, s.Cells)
	}
	if s.Signals != 4 {
		t.Errorf("signals = %d, want 4", s.Signals)
	}
	if s.GreenRatio < 0 || s.GreenRatio > 1 || math.IsNaN(s.AvgBuildingHgt) {
		t.Errorf("bad aggregates: %+v", s)
	}
}

func TestCacheMemoizes(t *testing.T) {
	c := NewCache(2)
	p := params.Default()
	a := c.Get(p, p.Spacing())
	b := c.Get(p, p.Spacing())
	if a != b {
		t.Error("cache returned a different layout for the same parameters")
	}

	q := p
	q.Size = 10
	r := p
	r.Size = 12
	c.Get(q, q.Spacing())
	c.Get(r, r.Spacing())
	if c.Len() != 2 {
		t.Errorf("cache len = %d, want 2", c.Len())
	}
	if d := c.Get(p, p.Spacing()); d == a {
		t.Error("evicted entry should have been rebuilt")
	} else if !reflect.DeepEqual(d, a) {
		t.Error("rebuilt layout differs from original")
	}
}

func TestCacheIgnoresDemographics(t *testing.T) {
	c := NewCache(1)
	p := params.Default()
	a := c.Get(p, p.Spacing())

	q := p
	q.Population += 500
	q.AverageIncome = params.MaxIncome
	q.AgeDiversity = 10
	if b := c.Get(q, q.Spacing()); b != a {
		t.Error("demographic change missed the cache")
	}

	r := p
	r.EnvironmentalRisk = 80
	if b := c.Get(r, r.Spacing()); b == a {
		t.Error("risk change hit the cache")
	}
}

func TestCellJSON(t *testing.T) {
	l, _ := Synthesize(params.Default())
	data, err := json.Marshal(l.At(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	var back Cell
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != *l.At(0, 0) {
		t.Errorf("cell JSON mismatch: %+v vs %+v", back, *l.At(0, 0))
	}
}
