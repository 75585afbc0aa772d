package params

import "math"

// Spacing is the road-grid configuration shared by the layout synthesizer and
// the traffic router. It is derived once from the parameters and threaded into
// both so the drivable routes can never drift from the road cells.
type Spacing struct {
	ArterialStep   int `json:"arterialStep"`   // grid cells between arterial lines
	SignalPeriod   int `json:"signalPeriod"`   // intersections on multiples of this carry signals
	ConnectorCells int `json:"connectorCells"` // length of the corner diagonal connectors
}

// Spacing derives the shared road spacing. Hilly and mountainous terrain
// spread the arterials further apart.
func (p CityParameters) Spacing() Spacing {
	step := 5
	switch p.Terrain {
	case TerrainHilly:
		step = 6
	case TerrainMountainous:
		step = 7
	}
	return Spacing{
		ArterialStep:   step,
		SignalPeriod:   step * 2,
		ConnectorCells: Clamp(p.Size-1, 0, 4),
	}
}

// NormalizedRisk maps the 0–100 risk input onto [0,1]. NaN counts as no risk.
func (p CityParameters) NormalizedRisk() float64 {
	return clampFloat(MinRisk, p.EnvironmentalRisk, MinRisk, MaxRisk) / MaxRisk
}

// DensityFactor scales population density so 10 000 people/km² is 1.0.
func (p CityParameters) DensityFactor() float64 {
	return p.PopulationDensity / 10000
}

// ParkBias widens the park probability window. Tropical cities grow more
// parks, arid ones fewer, and risky sites set more land aside.
func (p CityParameters) ParkBias() float64 {
	bias := 0.05
	switch p.Climate {
	case ClimateTropical:
		bias += 0.05
	case ClimateArid:
		bias -= 0.03
	case ClimateContinental:
		bias += 0.01
	}
	bias += 0.05 * p.NormalizedRisk()
	return math.Max(bias, 0)
}

// SkyscraperBias is the width of the top slice of the building window that
// becomes skyscrapers near the center. Tropical cities build lower, cold
// continental ones denser.
func (p CityParameters) SkyscraperBias() float64 {
	bias := 0.05
	switch p.Climate {
	case ClimateTropical:
		bias -= 0.01
	case ClimateContinental:
		bias += 0.01
	}
	switch p.Terrain {
	case TerrainFlat:
		bias += 0.02
	case TerrainCoastal:
		bias += 0.01
	case TerrainHilly:
		bias -= 0.02
	case TerrainMountainous:
		bias -= 0.03
	}
	bias -= 0.04 * p.NormalizedRisk()
	return math.Max(bias, 0)
}

// HeightAmplitude is the extra building height variance added by terrain.
func (p CityParameters) HeightAmplitude() float64 {
	switch p.Terrain {
	case TerrainHilly:
		return 2
	case TerrainMountainous:
		return 4
	}
	return 0
}

// Nudge applies the post-generation improvement policy: density up by a
// tenth (capped), risk down by a tenth (floored at zero).
func Nudge(p CityParameters) CityParameters {
	p.PopulationDensity = math.Min(p.PopulationDensity*1.1, MaxDensity)
	p.EnvironmentalRisk = math.Max(p.EnvironmentalRisk*0.9, MinRisk)
	return p
}
