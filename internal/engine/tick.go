// Package engine provides the frame loop and the simulation state it drives.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Frame schedule.
const (
	FramesPerSecond = 30
	FramesPerMinute = FramesPerSecond * 60
)

// Engine drives the simulation forward one frame at a time.
type Engine struct {
	Interval time.Duration // Base frame interval at speed 1

	// Callbacks for each frame layer, populated during setup.
	OnFrame  func(frame uint64, dt float64) // Every frame, dt in frames
	OnSecond func(frame uint64)             // Every FramesPerSecond frames
	OnMinute func(frame uint64)             // Every FramesPerMinute frames

	mu      sync.Mutex
	frame   uint64
	speed   float64
	running bool
	stop    chan struct{}
}

// NewEngine creates an engine running at real time.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second / FramesPerSecond,
		speed:    1.0,
	}
}

// Speed returns the current multiplier: 1 is real time, 0 is paused.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the multiplier. Negative values pause.
func (e *Engine) SetSpeed(s float64) {
	e.mu.Lock()
	e.speed = max(s, 0)
	e.mu.Unlock()
}

// Frame returns the number of frames stepped so far.
func (e *Engine) Frame() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run steps frames until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	slog.Info("frame engine started", "frame", e.Frame(), "speed", e.Speed())
	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond // paused: poll for a speed change
		if speed > 0 {
			start := time.Now()
			e.step()
			wait = time.Duration(float64(e.Interval)/speed) - time.Since(start)
		}

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("frame engine stopped", "frame", e.Frame(), "reason", ctx.Err())
			return nil
		case <-stop:
			timer.Stop()
			slog.Info("frame engine stopped", "frame", e.Frame())
			return nil
		case <-timer.C:
		}
	}
}

// Stop halts a running loop. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		select {
		case <-e.stop:
		default:
			close(e.stop)
		}
	}
}

// step advances the engine by one frame.
func (e *Engine) step() {
	e.mu.Lock()
	e.frame++
	frame := e.frame
	e.mu.Unlock()

	if e.OnFrame != nil {
		e.OnFrame(frame, 1)
	}
	if frame%FramesPerSecond == 0 && e.OnSecond != nil {
		e.OnSecond(frame)
	}
	if frame%FramesPerMinute == 0 && e.OnMinute != nil {
		e.OnMinute(frame)
	}
}

// Uptime returns how much simulated time a frame count represents.
func Uptime(frame uint64) time.Duration {
	return time.Duration(frame) * time.Second / FramesPerSecond
}
