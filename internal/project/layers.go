package project

import "fmt"

// ViewLayers are renderer filters. They never change what the core computes.
type ViewLayers struct {
	Zoning         bool `json:"zoning"`
	Infrastructure bool `json:"infrastructure"`
	Greenspace     bool `json:"greenspace"`
	Utilities      bool `json:"utilities"`
}

// LayerNames lists the toggleable layers.
var LayerNames = []string{"zoning", "infrastructure", "greenspace", "utilities"}

// DefaultLayers returns the layers shown on a fresh session.
func DefaultLayers() ViewLayers {
	return ViewLayers{Zoning: true, Infrastructure: true}
}

func (v *ViewLayers) field(name string) (*bool, error) {
	switch name {
	case "zoning":
		return &v.Zoning, nil
	case "infrastructure":
		return &v.Infrastructure, nil
	case "greenspace":
		return &v.Greenspace, nil
	case "utilities":
		return &v.Utilities, nil
	}
	return nil, fmt.Errorf("unknown view layer %q", name)
}

// Toggle flips the named layer and returns its new state.
func (v *ViewLayers) Toggle(name string) (bool, error) {
	f, err := v.field(name)
	if err != nil {
		return false, err
	}
	*f = !*f
	return *f, nil
}

// Enabled reports whether the named layer is on.
func (v ViewLayers) Enabled(name string) bool {
	f, err := v.field(name)
	return err == nil && *f
}
