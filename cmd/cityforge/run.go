package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/cityforge/internal/api"
	"github.com/talgya/cityforge/internal/config"
	"github.com/talgya/cityforge/internal/engine"
	"github.com/talgya/cityforge/internal/layout"
	"github.com/talgya/cityforge/internal/llm"
	"github.com/talgya/cityforge/internal/params"
	"github.com/talgya/cityforge/internal/persistence"
	"github.com/talgya/cityforge/internal/preview"
	"github.com/talgya/cityforge/internal/project"
	"github.com/talgya/cityforge/internal/traffic"
	"github.com/talgya/cityforge/internal/utility"
	"github.com/talgya/cityforge/internal/weather"
)

func newAdvisor(cfg config.Config) *llm.Advisor {
	var opts []llm.Option
	if cfg.Advisor.Model != "" {
		opts = append(opts, llm.WithModel(cfg.Advisor.Model))
	}
	if cfg.Advisor.MaxPerMinute > 0 {
		opts = append(opts, llm.WithMaxPerMinute(cfg.Advisor.MaxPerMinute))
	}
	return llm.NewAdvisor(llm.NewClient(cfg.AnthropicKey, opts...))
}

func runServe(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Simulation ────────────────────────────────────────────────────
	sim, err := engine.NewSimulation(cfg.City, engine.Options{
		Seed:      cfg.Seed,
		FleetSize: cfg.FleetSize,
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		return err
	}
	restored, err := db.RestoreState(sim)
	if err != nil {
		slog.Error("autosave restore failed, starting fresh", "error", err)
	}
	p := sim.Params()
	slog.Info("city ready",
		"restored", restored,
		"size", p.Size,
		"population", humanize.Comma(int64(p.Population)),
		"buildings", sim.Stats().Buildings(),
		"routes", len(sim.Routes()),
	)

	eng := engine.NewEngine()
	eng.SetSpeed(cfg.Speed)
	sim.Attach(eng)

	hub := api.NewHub()
	go hub.Run(ctx)
	sim.OnVehicles = hub.Publish

	if cfg.WeatherKey == "" {
		slog.Warn(config.EnvWeatherKey + " not set, weather is simulated")
	}
	weatherSvc := weather.NewService(weather.NewClient(cfg.WeatherKey, cfg.Weather.Location), cfg.Seed+300)

	if cfg.AnthropicKey == "" {
		slog.Warn(config.EnvAnthropicKey + " not set, road advice uses rules")
	}
	if cfg.AdminKey == "" {
		slog.Warn(config.EnvAdminKey + " not set, admin endpoints disabled")
	}

	srv := (&api.Server{
		Sim:           sim,
		Eng:           eng,
		DB:            db,
		Advisor:       newAdvisor(cfg),
		Weather:       weatherSvc,
		Hub:           hub,
		AdminKey:      cfg.AdminKey,
		GenerateDelay: cfg.GenerateDelay,
	}).Start(cfg.Addr)

	go background(ctx, sim, db, weatherSvc, cfg.AutosaveInterval)

	fmt.Printf("\ncityforge: %dx%d city, %s residents, %d vehicles.\n",
		p.Size, p.Size, humanize.Comma(int64(p.Population)), len(sim.Vehicles()))
	fmt.Printf("API: http://localhost%s/api/v1/status\n", cfg.Addr)

	runErr := eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	slog.Info("final save...")
	if err := db.SaveState(sim); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	fmt.Println("Simulation stopped. City saved.")
	return nil
}

// background autosaves on interval and refreshes the weather traffic factor
// every minute.
func background(ctx context.Context, sim *engine.Simulation, db *persistence.DB, w *weather.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	save := time.NewTicker(interval)
	defer save.Stop()
	sky := time.NewTicker(time.Minute)
	defer sky.Stop()

	refresh := func() {
		cond := w.Current(sim.Params().Climate)
		sim.SetTrafficFactor(weather.TrafficFactor(cond))
		slog.Debug("weather", "condition", cond.Condition, "temp", cond.Temp)
	}
	refresh()

	for {
		select {
		case <-ctx.Done():
			return
		case <-save.C:
			if err := db.SaveState(sim); err != nil {
				slog.Error("autosave failed", "error", err)
			}
		case <-sky.C:
			refresh()
		}
	}
}

type generateOptions struct {
	size    int
	density float64
	risk    float64
	climate string
	terrain string
	png     string
	px      int
	project string
}

func (o generateOptions) update() params.Update {
	var u params.Update
	if o.size > 0 {
		u.Size = &o.size
	}
	if o.density > 0 {
		u.PopulationDensity = &o.density
	}
	if o.risk >= 0 {
		u.EnvironmentalRisk = &o.risk
	}
	if o.climate != "" {
		c := params.Climate(o.climate)
		u.Climate = &c
	}
	if o.terrain != "" {
		t := params.Terrain(o.terrain)
		u.Terrain = &t
	}
	return u
}

func runGenerate(cmd *cobra.Command, cfg config.Config, o generateOptions) error {
	if o.climate != "" {
		if _, ok := params.ParseClimate(o.climate); !ok {
			return fmt.Errorf("unknown climate %q", o.climate)
		}
	}
	if o.terrain != "" {
		if _, ok := params.ParseTerrain(o.terrain); !ok {
			return fmt.Errorf("unknown terrain %q", o.terrain)
		}
	}
	p := cfg.City.Apply(o.update())

	l, err := layout.Synthesize(p)
	if err != nil {
		return err
	}
	net := utility.BuildNetwork(l)
	routes := traffic.BuildRoutes(l.Frame(), l.Spacing)
	fleet := traffic.NewFleet(cfg.FleetSize, routes, cfg.Seed)

	out := cmd.OutOrStdout()
	printCity(out, p, layout.Summarize(l), len(routes), net)

	if o.png != "" {
		img := preview.Render(l, net, fleet, o.px)
		if err := preview.SavePNG(o.png, img); err != nil {
			return fmt.Errorf("write preview: %w", err)
		}
		if fi, err := os.Stat(o.png); err == nil {
			fmt.Fprintf(out, "preview: %s (%s)\n", o.png, humanize.Bytes(uint64(fi.Size())))
		}
	}
	if o.project != "" {
		f, err := os.Create(o.project)
		if err != nil {
			return fmt.Errorf("create project file: %w", err)
		}
		doc := project.New(p, project.DefaultLayers(), nil)
		if err := project.Encode(f, doc); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(out, "project: %s\n", o.project)
	}
	return nil
}

func runInspect(out io.Writer, cfg config.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read project: %w", err)
	}
	r, err := project.Decode(data, cfg.City)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	l, err := layout.Synthesize(r.Params)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "version %d, saved %s\n", r.Version, humanize.Time(r.SavedAt))
	printCity(out, r.Params, layout.Summarize(l), len(traffic.BuildRoutes(l.Frame(), l.Spacing)), utility.BuildNetwork(l))
	if r.Layers != nil {
		fmt.Fprintf(out, "layers: %+v\n", *r.Layers)
	}
	fmt.Fprintf(out, "placements: %d\n", len(r.Placements))
	for _, p := range r.Placements {
		fmt.Fprintf(out, "  %-8s (%d,%d) %s\n", p.Kind, p.X, p.Y, p.ID)
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(out, "skipped: %v\n", r.Skipped)
	}
	return nil
}

func runAdvise(cmd *cobra.Command, cfg config.Config) error {
	adv := newAdvisor(cfg).RoadSuggestions(cmd.Context(), cfg.City)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n(source: %s)\n", adv.Summary, adv.Text, adv.Source)
	return nil
}

func printCity(out io.Writer, p params.CityParameters, st layout.Stats, routes int, net utility.Network) {
	fmt.Fprintln(out, llm.Summary(p))
	fmt.Fprintf(out, "buildings: %s, parks: %s, roads: %s, signals: %d\n",
		humanize.Comma(int64(st.Buildings())),
		humanize.Comma(int64(st.Counts[layout.KindPark.String()])),
		humanize.Comma(int64(st.Counts[layout.KindRoad.String()])),
		st.Signals)
	fmt.Fprintf(out, "routes: %d, power lines: %d, water pipes: %d, substations: %d\n",
		routes, len(net.PowerEdges), len(net.WaterEdges), len(net.Substations))
}
