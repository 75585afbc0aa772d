package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/talgya/cityforge/internal/params"
)

// DefaultGenerateDelay is the pause shown to users while a city "generates".
const DefaultGenerateDelay = 3 * time.Second

var (
	// ErrSuperseded is returned by Generate when a newer request started
	// before this one completed.
	ErrSuperseded = errors.New("generation superseded by a newer request")

	// ErrNoPlacement is returned when a coordinate holds no placement.
	ErrNoPlacement = errors.New("no placement at coordinate")
)

// Generate waits for delay, then nudges the parameters (denser, lower risk)
// and resynthesizes. Only the most recent request takes effect: older ones
// return ErrSuperseded. Cancelling ctx abandons the request.
func (s *Simulation) Generate(ctx context.Context, delay time.Duration) (params.CityParameters, error) {
	s.mu.Lock()
	s.genSeq++
	seq := s.genSeq
	s.generating = true
	s.mu.Unlock()

	slog.Debug("generation started", "seq", seq, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.mu.Lock()
		if s.genSeq == seq {
			s.generating = false
		}
		s.mu.Unlock()
		return params.CityParameters{}, ctx.Err()
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.genSeq != seq {
		return params.CityParameters{}, ErrSuperseded
	}
	next := params.Nudge(s.params)
	s.rebuild(next)
	s.generating = false
	s.record("generate", "city generated: density %.0f, risk %.1f", next.PopulationDensity, next.EnvironmentalRisk)
	slog.Info("city generated", "seq", seq, "density", next.PopulationDensity, "risk", next.EnvironmentalRisk)
	return next, nil
}

// Generating reports whether a generation request is pending.
func (s *Simulation) Generating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generating
}
