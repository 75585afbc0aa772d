package layout

// Stats summarizes a layout for dashboards and reports.
type Stats struct {
	Cells          int            `json:"cells"`
	Counts         map[string]int `json:"counts"`
	ArterialCells  int            `json:"arterial_cells"`
	LocalStreets   int            `json:"local_streets"`
	Signals        int            `json:"signals"`
	GreenRatio     float64        `json:"green_ratio"`
	AvgBuildingHgt float64        `json:"avg_building_height"`
	MaxBuildingHgt float64        `json:"max_building_height"`
}

// Summarize counts cells by kind and computes aggregate metrics.
func Summarize(l *Layout) Stats {
	s := Stats{Cells: len(l.Cells), Counts: make(map[string]int)}
	buildings := 0
	totalHeight := 0.0

	for _, c := range l.Cells {
		s.Counts[c.Kind.String()]++
		switch {
		case c.Kind == KindRoad:
			switch c.Road {
			case RoadArterial:
				s.ArterialCells++
			case RoadLocal:
				s.LocalStreets++
			}
			if c.HasSignal {
				s.Signals++
			}
		case c.Kind.IsBuilding():
			buildings++
			totalHeight += c.Height
			if c.Height > s.MaxBuildingHgt {
				s.MaxBuildingHgt = c.Height
			}
		}
	}

	if s.Cells > 0 {
		s.GreenRatio = float64(s.Counts[KindPark.String()]) / float64(s.Cells)
	}
	if buildings > 0 {
		s.AvgBuildingHgt = totalHeight / float64(buildings)
	}
	return s
}

// Buildings returns the number of building cells.
func (s Stats) Buildings() int {
	n := 0
	for _, k := range []Kind{KindResidential, KindCommercial, KindIndustrial, KindSkyscraper} {
		n += s.Counts[k.String()]
	}
	return n
}
