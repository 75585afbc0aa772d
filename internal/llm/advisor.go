package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/talgya/cityforge/internal/params"
)

const advisorSystem = "You are an urban mobility expert. Propose 3-5 concise, numbered road network improvements, each under 25 words."

// Advice is a set of road-network suggestions.
type Advice struct {
	Summary string `json:"summary"`
	Text    string `json:"text"`
	Source  string `json:"source"` // "llm" or "rules"
}

// Advisor produces road suggestions for a city. Without a usable client it
// falls back to rule-based suggestions.
type Advisor struct {
	client *Client
}

// NewAdvisor wraps client, which may be nil.
func NewAdvisor(client *Client) *Advisor {
	return &Advisor{client: client}
}

// Summary renders p as the one-line context sent with every request.
func Summary(p params.CityParameters) string {
	return fmt.Sprintf("%dx%d grid, population %s (density %s/km²), income $%s, age diversity %.0f, %s climate, %s terrain, environmental risk %.0f",
		p.Size, p.Size,
		humanize.Comma(int64(p.Population)),
		humanize.Commaf(math.Round(p.PopulationDensity)),
		humanize.Comma(int64(p.AverageIncome)),
		p.AgeDiversity, p.Climate, p.Terrain, p.EnvironmentalRisk)
}

// RoadSuggestions asks the model for suggestions and falls back to rules on
// any failure.
func (a *Advisor) RoadSuggestions(ctx context.Context, p params.CityParameters) Advice {
	summary := Summary(p)
	if a.client.Enabled() {
		text, err := a.client.Complete(ctx, advisorSystem, "City: "+summary, 300)
		if err == nil && strings.TrimSpace(text) != "" {
			return Advice{Summary: summary, Text: strings.TrimSpace(text), Source: "llm"}
		}
		slog.Warn("road advisor falling back to rules", "error", err)
	}
	return Advice{Summary: summary, Text: RuleSuggestions(p), Source: "rules"}
}

// RuleSuggestions derives suggestions from the parameters alone. The output
// is deterministic.
func RuleSuggestions(p params.CityParameters) string {
	sp := p.Spacing()
	var tips []string

	tips = append(tips, fmt.Sprintf("Keep arterials every %d blocks with signals at every %d-block junction.",
		sp.ArterialStep, sp.SignalPeriod))

	switch {
	case p.PopulationDensity >= 10000:
		tips = append(tips, "Dedicate a lane on central arterials to buses; density supports frequent service.")
	case p.PopulationDensity < 1500:
		tips = append(tips, "Favor local collector loops over extra arterials; demand is too thin for wide roads.")
	default:
		tips = append(tips, "Add collector streets midway between arterials to spread local traffic.")
	}

	switch p.Terrain {
	case params.TerrainHilly, params.TerrainMountainous:
		tips = append(tips, "Follow contours with switchback collectors; limit grades on arterials to keep freight moving.")
	case params.TerrainCoastal:
		tips = append(tips, "Raise the shoreline arterial and keep an inland parallel route for storm closures.")
	default:
		tips = append(tips, "Extend the corner diagonals into the core to shorten cross-town trips.")
	}

	switch p.Climate {
	case params.ClimateTropical:
		tips = append(tips, "Size storm drains under every arterial for heavy seasonal rain.")
	case params.ClimateContinental:
		tips = append(tips, "Plan snow-clearing priority along signalled arterials.")
	case params.ClimateArid:
		tips = append(tips, "Shade pedestrian crossings at signalled junctions.")
	}

	if p.EnvironmentalRisk >= 60 {
		tips = append(tips, "Designate two evacuation arterials with no at-grade parking.")
	}
	if len(tips) > 5 {
		tips = tips[:5]
	}

	var b strings.Builder
	for i, t := range tips {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return strings.TrimRight(b.String(), "\n")
}
