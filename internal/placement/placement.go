// Package placement manages user-placed infrastructure on the fixed-size
// placement grid and maps it into layout space.
package placement

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/talgya/cityforge/internal/layout"
	"github.com/talgya/cityforge/internal/params"
)

// GridSize is the edge length of the placement grid, independent of the
// layout size.
const GridSize = 8

// Kind is the type of infrastructure placed.
type Kind string

const (
	KindRoad     Kind = "road"
	KindHospital Kind = "hospital"
	KindSchool   Kind = "school"
	KindAirport  Kind = "airport"
)

// Valid reports whether k is a known placement kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRoad, KindHospital, KindSchool, KindAirport:
		return true
	}
	return false
}

// Placement is one item on the placement grid. The (X, Y) coordinate is its
// identity; ID is informational.
type Placement struct {
	ID   string `json:"id"`
	Kind Kind   `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// ErrUnknownKind is returned for a placement type outside Kind's constants.
var ErrUnknownKind = errors.New("unknown placement type")

// RangeError reports a coordinate outside the placement grid.
type RangeError struct {
	X, Y int
	Size int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("placement (%d,%d) outside %dx%d grid", e.X, e.Y, e.Size, e.Size)
}

// CheckRange returns a *RangeError when (x, y) is off the placement grid.
func CheckRange(x, y int) error {
	if x < 0 || y < 0 || x >= GridSize || y >= GridSize {
		return &RangeError{X: x, Y: y, Size: GridSize}
	}
	return nil
}

// Validate checks the kind and coordinate of p.
func (p Placement) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownKind, p.Kind)
	}
	return CheckRange(p.X, p.Y)
}

// MapToLayoutSpace maps a placement-grid coordinate proportionally onto a
// layout of layoutSize cells per side, returning the layout indices and the
// world position of that cell.
func MapToLayoutSpace(p Placement, layoutSize, gridSize int) (ix, iz int, pos layout.Point) {
	ix = mapIndex(p.X, layoutSize, gridSize)
	iz = mapIndex(p.Y, layoutSize, gridSize)
	return ix, iz, layout.NewFrame(layoutSize).Position(ix, iz)
}

func mapIndex(c, layoutSize, gridSize int) int {
	if gridSize <= 1 || layoutSize <= 1 {
		return 0
	}
	i := int(math.Round(float64(c) / float64(gridSize-1) * float64(layoutSize-1)))
	return params.Clamp(i, 0, layoutSize-1)
}

// Board is the ordered collection of placements, at most one per coordinate.
// It is not safe for concurrent use; the simulation owns it.
type Board struct {
	items []Placement
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// Add inserts p, replacing any placement already at its coordinate. An empty
// ID is filled with a fresh UUID.
func (b *Board) Add(p Placement) (Placement, error) {
	if err := p.Validate(); err != nil {
		return Placement{}, err
	}
	if p.ID == "" {
		p.ID = string(p.Kind) + "-" + uuid.NewString()
	}
	for i := range b.items {
		if b.items[i].X == p.X && b.items[i].Y == p.Y {
			b.items[i] = p
			return p, nil
		}
	}
	b.items = append(b.items, p)
	return p, nil
}

// RemoveAt deletes the placement at (x, y). Removing an empty cell is a no-op.
func (b *Board) RemoveAt(x, y int) error {
	if err := CheckRange(x, y); err != nil {
		return err
	}
	kept := b.items[:0]
	for _, p := range b.items {
		if p.X != x || p.Y != y {
			kept = append(kept, p)
		}
	}
	b.items = kept
	return nil
}

// Clear removes every placement.
func (b *Board) Clear() {
	b.items = nil
}

// At returns the placement at (x, y).
func (b *Board) At(x, y int) (Placement, bool) {
	for _, p := range b.items {
		if p.X == x && p.Y == y {
			return p, true
		}
	}
	return Placement{}, false
}

// All returns a copy of the placements in insertion order.
func (b *Board) All() []Placement {
	out := make([]Placement, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of placements.
func (b *Board) Len() int {
	return len(b.items)
}

// Replace swaps the board contents for items, skipping invalid entries and
// applying the same replace-on-collision rule as Add. It returns how many
// entries were skipped.
func (b *Board) Replace(items []Placement) int {
	b.items = nil
	skipped := 0
	for _, p := range items {
		if _, err := b.Add(p); err != nil {
			skipped++
		}
	}
	return skipped
}
