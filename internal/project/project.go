// Package project encodes and restores the saved project document: the city
// parameters, the renderer's view layers and the user's placements.
package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/talgya/cityforge/internal/params"
	"github.com/talgya/cityforge/internal/placement"
)

// Version is the document format written by Encode.
const Version = 1

// ErrMalformed is returned when the payload is not a JSON object.
var ErrMalformed = errors.New("project: document is not a JSON object")

// Document is the on-disk project format.
type Document struct {
	Version    int                   `json:"version"`
	SavedAt    time.Time             `json:"savedAt"`
	CityData   params.CityParameters `json:"cityData"`
	ViewLayers ViewLayers            `json:"viewLayers"`
	Placements []placement.Placement `json:"placements"`
}

// New builds a document stamped with the current time.
func New(p params.CityParameters, layers ViewLayers, items []placement.Placement) Document {
	if items == nil {
		items = []placement.Placement{}
	}
	return Document{
		Version:    Version,
		SavedAt:    time.Now().UTC(),
		CityData:   p,
		ViewLayers: layers,
		Placements: items,
	}
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	return nil
}

// Marshal returns the encoded document.
func Marshal(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore is the recoverable subset of a decoded document.
type Restore struct {
	Version int
	SavedAt time.Time

	// Params is the base parameters with every readable cityData field
	// merged in and clamped.
	Params params.CityParameters

	// Layers is nil when the document has no usable viewLayers. Layers the
	// document leaves out stay at their defaults.
	Layers *ViewLayers

	// Placements is nil when the document has no placements array, which
	// means the current placements should be kept.
	Placements []placement.Placement

	Skipped []string // fields and entries that could not be restored
}

// Decode restores what it can from data on top of base. Unreadable fields
// and invalid placements are skipped and listed in Restore.Skipped; only a
// payload that is not a JSON object is an error.
func Decode(data []byte, base params.CityParameters) (Restore, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Restore{}, ErrMalformed
	}

	r := Restore{Params: base}
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &r.Version); err != nil {
			r.Skipped = append(r.Skipped, "version")
		}
	}
	if v, ok := raw["savedAt"]; ok {
		if err := json.Unmarshal(v, &r.SavedAt); err != nil {
			r.Skipped = append(r.Skipped, "savedAt")
		}
	}
	if v, ok := raw["cityData"]; ok {
		r.Params, r.Skipped = mergeCityData(base, v, r.Skipped)
	}
	if v, ok := raw["viewLayers"]; ok {
		l := DefaultLayers()
		if err := json.Unmarshal(v, &l); err != nil {
			r.Skipped = append(r.Skipped, "viewLayers")
		} else {
			r.Layers = &l
		}
	}
	if v, ok := raw["placements"]; ok {
		r.Placements, r.Skipped = decodePlacements(v, r.Skipped)
	}
	return r, nil
}

// mergeCityData applies each cityData field independently so one bad value
// does not discard the rest.
func mergeCityData(base params.CityParameters, data json.RawMessage, skipped []string) (params.CityParameters, []string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return base, append(skipped, "cityData")
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := base
	for _, k := range keys {
		one, _ := json.Marshal(map[string]json.RawMessage{k: fields[k]})
		var u params.Update
		if err := json.Unmarshal(one, &u); err != nil || u.Empty() {
			skipped = append(skipped, "cityData."+k)
			continue
		}
		p = p.Apply(u)
	}
	return p, skipped
}

func decodePlacements(data json.RawMessage, skipped []string) ([]placement.Placement, []string) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, append(skipped, "placements")
	}
	out := make([]placement.Placement, 0, len(entries))
	for i, e := range entries {
		var p placement.Placement
		if err := json.Unmarshal(e, &p); err != nil || p.Validate() != nil {
			skipped = append(skipped, fmt.Sprintf("placements[%d]", i))
			continue
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s-%d-%d", p.Kind, p.X, p.Y)
		}
		out = append(out, p)
	}
	return out, skipped
}
