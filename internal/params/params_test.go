package params

import (
	"errors"
	"math"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default parameters invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*CityParameters)
		field string
	}{
		{"zero size", func(p *CityParameters) { p.Size = 0 }, "size"},
		{"negative size", func(p *CityParameters) { p.Size = -3 }, "size"},
		{"huge size", func(p *CityParameters) { p.Size = MaxSize + 1 }, "size"},
		{"zero density", func(p *CityParameters) { p.PopulationDensity = 0 }, "populationDensity"},
		{"nan density", func(p *CityParameters) { p.PopulationDensity = math.NaN() }, "populationDensity"},
		{"risk above range", func(p *CityParameters) { p.EnvironmentalRisk = 101 }, "environmentalRisk"},
		{"risk below range", func(p *CityParameters) { p.EnvironmentalRisk = -1 }, "environmentalRisk"},
		{"unknown climate", func(p *CityParameters) { p.Climate = "polar" }, "climate"},
		{"unknown terrain", func(p *CityParameters) { p.Terrain = "lunar" }, "terrain"},
		{"income too low", func(p *CityParameters) { p.AverageIncome = 10 }, "averageIncome"},
		{"nan risk", func(p *CityParameters) { p.EnvironmentalRisk = math.NaN() }, "environmentalRisk"},
		{"infinite risk", func(p *CityParameters) { p.EnvironmentalRisk = math.Inf(1) }, "environmentalRisk"},
		{"nan income", func(p *CityParameters) { p.AverageIncome = math.NaN() }, "averageIncome"},
		{"nan age diversity", func(p *CityParameters) { p.AgeDiversity = math.NaN() }, "ageDiversity"},
		{"infinite density", func(p *CityParameters) { p.PopulationDensity = math.Inf(1) }, "populationDensity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mod(&p)
			err := p.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestNormalizedRiskNaN(t *testing.T) {
	p := Default()
	p.EnvironmentalRisk = math.NaN()
	if got := p.NormalizedRisk(); got != 0 {
		t.Errorf("NormalizedRisk(NaN) = %v, want 0", got)
	}
	if b := p.ParkBias(); math.IsNaN(b) {
		t.Error("park bias is NaN")
	}
}

func TestApplyClamps(t *testing.T) {
	p := Default().Apply(Update{
		Size:              ptr(0),
		PopulationDensity: ptr(1e9),
		EnvironmentalRisk: ptr(250.0),
		AgeDiversity:      ptr(-5.0),
		Population:        ptr(-10),
	})
	if p.Size != MinSize {
		t.Errorf("size = %d, want %d", p.Size, MinSize)
	}
	if p.PopulationDensity != MaxDensity {
		t.Errorf("density = %v, want %v", p.PopulationDensity, MaxDensity)
	}
	if p.EnvironmentalRisk != MaxRisk {
		t.Errorf("risk = %v, want %v", p.EnvironmentalRisk, MaxRisk)
	}
	if p.AgeDiversity != 0 || p.Population != 0 {
		t.Errorf("ageDiversity=%v population=%d, want 0 and 0", p.AgeDiversity, p.Population)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("clamped parameters should validate: %v", err)
	}
}

func TestApplyIgnoresUnknownEnums(t *testing.T) {
	c := Climate("martian")
	ter := Terrain("Hilly")
	p := Default().Apply(Update{Climate: &c, Terrain: &ter})
	if p.Climate != ClimateTemperate {
		t.Errorf("climate = %q, want unchanged", p.Climate)
	}
	if p.Terrain != TerrainHilly {
		t.Errorf("terrain = %q, want hilly (case-insensitive)", p.Terrain)
	}
}

func TestApplyLeavesUnsetFields(t *testing.T) {
	before := Default()
	after := before.Apply(Update{})
	if before != after {
		t.Errorf("empty update changed parameters: %+v -> %+v", before, after)
	}
	if !(Update{}).Empty() {
		t.Error("zero Update should be empty")
	}
}

func TestSpacingByTerrain(t *testing.T) {
	tests := []struct {
		terrain Terrain
		step    int
	}{
		{TerrainFlat, 5},
		{TerrainCoastal, 5},
		{TerrainHilly, 6},
		{TerrainMountainous, 7},
	}
	for _, tt := range tests {
		p := Default()
		p.Terrain = tt.terrain
		s := p.Spacing()
		if s.ArterialStep != tt.step {
			t.Errorf("%s: step = %d, want %d", tt.terrain, s.ArterialStep, tt.step)
		}
		if s.SignalPeriod != 2*tt.step {
			t.Errorf("%s: signal period = %d, want %d", tt.terrain, s.SignalPeriod, 2*tt.step)
		}
	}

	p := Default()
	p.Size = 1
	if got := p.Spacing().ConnectorCells; got != 0 {
		t.Errorf("size 1 connector cells = %d, want 0", got)
	}
	p.Size = 3
	if got := p.Spacing().ConnectorCells; got != 2 {
		t.Errorf("size 3 connector cells = %d, want 2", got)
	}
}

func TestBiases(t *testing.T) {
	tropical := Default()
	tropical.Climate = ClimateTropical
	arid := Default()
	arid.Climate = ClimateArid
	if tropical.ParkBias() <= Default().ParkBias() || arid.ParkBias() >= Default().ParkBias() {
		t.Errorf("park bias ordering wrong: tropical=%v temperate=%v arid=%v",
			tropical.ParkBias(), Default().ParkBias(), arid.ParkBias())
	}

	continental := Default()
	continental.Climate = ClimateContinental
	if tropical.SkyscraperBias() >= Default().SkyscraperBias() || continental.SkyscraperBias() <= Default().SkyscraperBias() {
		t.Errorf("skyscraper bias ordering wrong: tropical=%v temperate=%v continental=%v",
			tropical.SkyscraperBias(), Default().SkyscraperBias(), continental.SkyscraperBias())
	}

	risky := Default()
	risky.EnvironmentalRisk = 100
	if risky.SkyscraperBias() >= Default().SkyscraperBias() {
		t.Error("risk should lower skyscraper bias")
	}
	if risky.ParkBias() <= Default().ParkBias() {
		t.Error("risk should raise park bias")
	}
	if math.Abs(risky.NormalizedRisk()-1) > 1e-12 {
		t.Errorf("normalized risk = %v, want 1", risky.NormalizedRisk())
	}
}

func TestNudge(t *testing.T) {
	p := Default()
	n := Nudge(p)
	if math.Abs(n.PopulationDensity-2750) > 1e-9 {
		t.Errorf("density = %v, want 2750", n.PopulationDensity)
	}
	if math.Abs(n.EnvironmentalRisk-22.5) > 1e-9 {
		t.Errorf("risk = %v, want 22.5", n.EnvironmentalRisk)
	}

	p.PopulationDensity = MaxDensity
	p.EnvironmentalRisk = 0
	n = Nudge(p)
	if n.PopulationDensity != MaxDensity || n.EnvironmentalRisk != 0 {
		t.Errorf("nudge escaped bounds: %+v", n)
	}
}
