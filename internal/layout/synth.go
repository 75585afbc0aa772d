package layout

import (
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/cityforge/internal/params"
)

// Probability windows. A cell's hash value is tested against them in order and
// the first window containing it wins.
const (
	minBuildingChance = 0.1
	maxBuildingChance = 0.9
	localStreetWindow = 0.03

	skyscraperCenter = 0.7 // centerFactor above which towers may appear
	commercialCenter = 0.4 // centerFactor above which buildings are commercial

	// Fixed so the height noise field is part of the algorithm, not state.
	heightNoiseSeed = 1
	heightNoiseFreq = 0.15
)

// Linear congruential constants for the per-cell hash.
const (
	hashMul = 9301
	hashAdd = 49297
	hashMod = 233280
)

var parkColors = map[params.Climate]string{
	params.ClimateTemperate:   "#22c55e",
	params.ClimateTropical:    "#16a34a",
	params.ClimateArid:        "#84cc16",
	params.ClimateContinental: "#15803d",
}

var kindColors = map[Kind]string{
	KindResidential: "#10b981",
	KindCommercial:  "#3b82f6",
	KindIndustrial:  "#f59e0b",
	KindSkyscraper:  "#1f2937",
	KindRoad:        "#6b7280",
}

const arterialColor = "#4b5563"

// Synthesize validates p and builds its layout with the spacing derived from
// the same parameters.
func Synthesize(p params.CityParameters) (*Layout, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	return Build(p, p.Spacing()), nil
}

// Build classifies every cell of a p.Size×p.Size grid. It is a pure function
// of its arguments: the same input always yields an identical layout. p must
// already be valid.
func Build(p params.CityParameters, sp params.Spacing) *Layout {
	size := max(p.Size, 1)
	step := max(sp.ArterialStep, 1)
	signal := max(sp.SignalPeriod, step)

	f := NewFrame(size)
	l := &Layout{Size: size, Spacing: sp, Cells: make([]Cell, 0, size*size)}

	noise := opensimplex.NewNormalized(heightNoiseSeed)
	half := float64(size) / 2
	density := p.DensityFactor()
	risk := p.NormalizedRisk()
	parkBias := p.ParkBias()
	towerBias := p.SkyscraperBias()
	amplitude := p.HeightAmplitude()

	for x := 0; x < size; x++ {
		for z := 0; z < size; z++ {
			r := CellHash(x, z, size)
			c := Cell{
				GridX:    x,
				GridZ:    z,
				Position: f.Position(x, z),
				Seed:     r,
			}

			onX := x%step == 0
			onZ := z%step == 0
			switch {
			case onX || onZ:
				c.Kind = KindRoad
				c.Road = RoadArterial
				c.Height = 0.1
				c.Color = arterialColor
				switch {
				case onX && onZ:
					c.Orientation = OrientationIntersection
					c.HasSignal = x%signal == 0 && z%signal == 0
				case onZ:
					c.Orientation = OrientationHorizontal
				default:
					c.Orientation = OrientationVertical
				}

			case onConnector(x, z, size, sp.ConnectorCells):
				c.Kind = KindRoad
				c.Road = RoadConnector
				c.Orientation = OrientationIntersection
				c.Height = 0.1
				c.Color = kindColors[KindRoad]

			default:
				dist := math.Hypot(float64(x)-half, float64(z)-half)
				centerFactor := 1 - dist/half
				chance := buildingChance(density, risk, centerFactor)
				parkEnd := chance + parkBias
				streetEnd := parkEnd + localStreetWindow

				switch {
				case r < chance:
					c.Kind = buildingKind(r, chance, centerFactor, towerBias)
					c.Height = buildingHeight(c.Kind, r)
				case r < parkEnd:
					c.Kind = KindPark
					c.Height = 0.2
				case r < streetEnd:
					c.Kind = KindRoad
					c.Road = RoadLocal
					c.Height = 0.1
					if (x+z)%2 == 0 {
						c.Orientation = OrientationHorizontal
					} else {
						c.Orientation = OrientationVertical
					}
				default:
					c.Kind = KindResidential
					c.Height = buildingHeight(KindResidential, r)
				}

				if c.Kind.IsBuilding() && amplitude > 0 {
					c.Height += terrainVariance(noise, x, z, amplitude)
				}
				c.Color = cellColor(c.Kind, p.Climate)
			}

			l.Cells = append(l.Cells, c)
		}
	}

	return l
}

// CellHash is the reproducible per-cell value in [0,1) that drives
// classification.
func CellHash(x, z, size int) float64 {
	seed := x*size + z
	v := (seed*hashMul + hashAdd) % hashMod
	if v < 0 {
		v += hashMod
	}
	return float64(v) / hashMod
}

// onConnector reports whether (x, z) lies on one of the two corner diagonals
// that the traffic router uses as connectors.
func onConnector(x, z, size, n int) bool {
	if n <= 0 || x != z {
		return false
	}
	return x <= n || x >= size-1-n
}

// buildingChance is the width of the building window. Density and proximity
// to the center widen it, risk narrows it.
func buildingChance(density, risk, centerFactor float64) float64 {
	return params.Clamp(
		0.1+0.3*density+0.15*math.Max(centerFactor, 0)-0.25*risk,
		minBuildingChance, maxBuildingChance,
	)
}

func buildingKind(r, chance, centerFactor, towerBias float64) Kind {
	switch {
	case centerFactor > skyscraperCenter && r >= chance-towerBias:
		return KindSkyscraper
	case centerFactor > commercialCenter:
		return KindCommercial
	case r < chance/2:
		return KindResidential
	default:
		return KindIndustrial
	}
}

func buildingHeight(k Kind, r float64) float64 {
	switch k {
	case KindSkyscraper:
		return 15 + r*20
	case KindCommercial:
		return 5 + r*10
	case KindIndustrial:
		return 3 + r*5
	default:
		return 2 + r*6
	}
}

// terrainVariance adds rolling height to buildings on uneven terrain. Both
// terms are non-negative.
func terrainVariance(noise opensimplex.Noise, x, z int, amplitude float64) float64 {
	wave := (1 + math.Sin(float64(x)*0.5)*math.Cos(float64(z)*0.5)) / 2
	n := noise.Eval2(float64(x)*heightNoiseFreq, float64(z)*heightNoiseFreq)
	n = params.Clamp(n, 0, 1)
	return amplitude*wave + amplitude/2*n
}

func cellColor(k Kind, c params.Climate) string {
	if k == KindPark {
		if col, ok := parkColors[c]; ok {
			return col
		}
		return parkColors[params.ClimateTemperate]
	}
	return kindColors[k]
}
