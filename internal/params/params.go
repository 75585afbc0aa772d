// Package params holds the city configuration that drives layout synthesis.
// Every field has a declared range; updates are clamped into it.
package params

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/constraints"
)

// Climate zones recognized by the synthesizer.
type Climate string

const (
	ClimateTemperate   Climate = "temperate"
	ClimateTropical    Climate = "tropical"
	ClimateArid        Climate = "arid"
	ClimateContinental Climate = "continental"
)

// Terrain types recognized by the synthesizer.
type Terrain string

const (
	TerrainFlat        Terrain = "flat"
	TerrainHilly       Terrain = "hilly"
	TerrainCoastal     Terrain = "coastal"
	TerrainMountainous Terrain = "mountainous"
)

// Declared ranges.
const (
	MinSize = 1
	MaxSize = 128

	MinDensity = 1.0
	MaxDensity = 50000.0

	MinRisk = 0.0
	MaxRisk = 100.0

	MinIncome = 30000.0
	MaxIncome = 150000.0

	MinAgeDiversity = 0.0
	MaxAgeDiversity = 100.0

	// MinDriftPopulation is the floor applied by population drift.
	MinDriftPopulation = 50000
)

// CityParameters describes one city configuration. It is a value type: the
// synthesizer never mutates it, and it is comparable so it can key caches.
type CityParameters struct {
	Size              int     `json:"size" yaml:"size"`
	Population        int     `json:"population" yaml:"population"`
	PopulationDensity float64 `json:"populationDensity" yaml:"population_density"` // people/km²
	AverageIncome     float64 `json:"averageIncome" yaml:"average_income"`
	AgeDiversity      float64 `json:"ageDiversity" yaml:"age_diversity"`
	Climate           Climate `json:"climate" yaml:"climate"`
	Terrain           Terrain `json:"terrain" yaml:"terrain"`
	EnvironmentalRisk float64 `json:"environmentalRisk" yaml:"environmental_risk"` // 0–100
}

// Default returns the configuration a new session starts with.
func Default() CityParameters {
	return CityParameters{
		Size:              20,
		Population:        250000,
		PopulationDensity: 2500,
		AverageIncome:     75000,
		AgeDiversity:      65,
		Climate:           ClimateTemperate,
		Terrain:           TerrainFlat,
		EnvironmentalRisk: 25,
	}
}

// ValidationError reports a parameter outside its declared range.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// Validate checks every field against its declared range and returns the
// first violation as a *ValidationError.
func (p CityParameters) Validate() error {
	switch {
	case p.Size < MinSize:
		return &ValidationError{Field: "size", Value: p.Size, Reason: "must be at least 1"}
	case p.Size > MaxSize:
		return &ValidationError{Field: "size", Value: p.Size, Reason: fmt.Sprintf("must be at most %d", MaxSize)}
	case !(p.PopulationDensity > 0):
		return &ValidationError{Field: "populationDensity", Value: p.PopulationDensity, Reason: "must be positive"}
	case p.PopulationDensity > MaxDensity:
		return &ValidationError{Field: "populationDensity", Value: p.PopulationDensity, Reason: "exceeds maximum"}
	case !within(p.EnvironmentalRisk, MinRisk, MaxRisk):
		return &ValidationError{Field: "environmentalRisk", Value: p.EnvironmentalRisk, Reason: "must be within 0-100"}
	case p.Population < 0:
		return &ValidationError{Field: "population", Value: p.Population, Reason: "must not be negative"}
	case !within(p.AverageIncome, MinIncome, MaxIncome):
		return &ValidationError{Field: "averageIncome", Value: p.AverageIncome, Reason: "out of range"}
	case !within(p.AgeDiversity, MinAgeDiversity, MaxAgeDiversity):
		return &ValidationError{Field: "ageDiversity", Value: p.AgeDiversity, Reason: "must be within 0-100"}
	case !p.Climate.Valid():
		return &ValidationError{Field: "climate", Value: p.Climate, Reason: "unknown climate"}
	case !p.Terrain.Valid():
		return &ValidationError{Field: "terrain", Value: p.Terrain, Reason: "unknown terrain"}
	}
	return nil
}

// within is false for NaN.
func within(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// Update is a partial change to CityParameters. Nil fields are left alone.
type Update struct {
	Size              *int     `json:"size,omitempty"`
	Population        *int     `json:"population,omitempty"`
	PopulationDensity *float64 `json:"populationDensity,omitempty"`
	AverageIncome     *float64 `json:"averageIncome,omitempty"`
	AgeDiversity      *float64 `json:"ageDiversity,omitempty"`
	Climate           *Climate `json:"climate,omitempty"`
	Terrain           *Terrain `json:"terrain,omitempty"`
	EnvironmentalRisk *float64 `json:"environmentalRisk,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u Update) Empty() bool {
	return u.Size == nil && u.Population == nil && u.PopulationDensity == nil &&
		u.AverageIncome == nil && u.AgeDiversity == nil && u.Climate == nil &&
		u.Terrain == nil && u.EnvironmentalRisk == nil
}

// Apply merges u into p. Numeric fields are clamped into range and unknown
// climate/terrain values are ignored, so the result always validates.
func (p CityParameters) Apply(u Update) CityParameters {
	if u.Size != nil {
		p.Size = Clamp(*u.Size, MinSize, MaxSize)
	}
	if u.Population != nil {
		p.Population = max(*u.Population, 0)
	}
	if u.PopulationDensity != nil {
		p.PopulationDensity = clampFloat(p.PopulationDensity, *u.PopulationDensity, MinDensity, MaxDensity)
	}
	if u.AverageIncome != nil {
		p.AverageIncome = clampFloat(p.AverageIncome, *u.AverageIncome, MinIncome, MaxIncome)
	}
	if u.AgeDiversity != nil {
		p.AgeDiversity = clampFloat(p.AgeDiversity, *u.AgeDiversity, MinAgeDiversity, MaxAgeDiversity)
	}
	if u.Climate != nil {
		if c, ok := ParseClimate(string(*u.Climate)); ok {
			p.Climate = c
		}
	}
	if u.Terrain != nil {
		if t, ok := ParseTerrain(string(*u.Terrain)); ok {
			p.Terrain = t
		}
	}
	if u.EnvironmentalRisk != nil {
		p.EnvironmentalRisk = clampFloat(p.EnvironmentalRisk, *u.EnvironmentalRisk, MinRisk, MaxRisk)
	}
	return p
}

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampFloat is Clamp that keeps the previous value when v is NaN.
func clampFloat(prev, v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return prev
	}
	return Clamp(v, lo, hi)
}

// Valid reports whether c is a known climate.
func (c Climate) Valid() bool {
	switch c {
	case ClimateTemperate, ClimateTropical, ClimateArid, ClimateContinental:
		return true
	}
	return false
}

// Valid reports whether t is a known terrain.
func (t Terrain) Valid() bool {
	switch t {
	case TerrainFlat, TerrainHilly, TerrainCoastal, TerrainMountainous:
		return true
	}
	return false
}

// ParseClimate accepts a climate name case-insensitively.
func ParseClimate(s string) (Climate, bool) {
	c := Climate(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// ParseTerrain accepts a terrain name case-insensitively.
func ParseTerrain(s string) (Terrain, bool) {
	t := Terrain(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", false
	}
	return t, true
}
