// Package api provides the HTTP API for observing and editing the city.
// Reads and edits are public; changing the simulation speed requires a
// bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/talgya/cityforge/internal/engine"
	"github.com/talgya/cityforge/internal/llm"
	"github.com/talgya/cityforge/internal/params"
	"github.com/talgya/cityforge/internal/persistence"
	"github.com/talgya/cityforge/internal/placement"
	"github.com/talgya/cityforge/internal/preview"
	"github.com/talgya/cityforge/internal/project"
	"github.com/talgya/cityforge/internal/weather"
)

// maxBody bounds request bodies, including imported project documents.
const maxBody = 1 << 20

// Server serves the city over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // optional; project endpoints answer 503 without it
	Advisor  *llm.Advisor
	Weather  *weather.Service
	Hub      *Hub
	AdminKey string // Bearer token for admin endpoints. Empty = disabled.

	GenerateDelay time.Duration
	AdviceLimiter *RateLimiter
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	if s.AdviceLimiter == nil {
		s.AdviceLimiter = NewRateLimiter(30, time.Hour)
	}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(corsMiddleware(allowedOrigins()))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)

		r.Get("/params", s.handleGetParams)
		r.Post("/params", s.handleUpdateParams)
		r.Post("/generate", s.handleGenerate)

		r.Get("/layout", s.handleLayout)
		r.Get("/layout/{x}/{z}", s.handleCell)
		r.Get("/stats", s.handleStats)
		r.Get("/network", s.handleNetwork)
		r.Get("/traffic", s.handleTraffic)

		r.Get("/placements", s.handlePlacements)
		r.Post("/placements", s.handleAddPlacement)
		r.Delete("/placements", s.handleClearPlacements)
		r.Delete("/placements/{x}/{y}", s.handleRemovePlacement)
		r.Get("/placements/{x}/{y}/world", s.handlePlacementWorld)

		r.Get("/layers", s.handleLayers)
		r.Post("/layers/{layer}", s.handleToggleLayer)

		r.Get("/project", s.handleExport)
		r.Post("/project", s.handleImport)
		r.Get("/projects", s.handleListProjects)
		r.Post("/projects/{name}", s.handleSaveProject)
		r.Post("/projects/{name}/load", s.handleLoadProject)
		r.Delete("/projects/{name}", s.handleDeleteProject)

		r.Get("/weather", s.handleWeather)
		r.With(s.AdviceLimiter.Middleware).Get("/advice", s.handleAdvice)
		r.Get("/preview.png", s.handlePreview)

		r.Get("/speed", s.handleSpeed)
		r.With(s.adminOnly).Post("/speed", s.handleSpeed)

		if s.Hub != nil {
			r.Get("/stream", s.Hub.ServeWS)
		}
	})
	return r
}

// Start serves the API on addr in a goroutine. Shut the returned server down
// to stop it.
func (s *Server) Start(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "db", s.DB != nil)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// allowedOrigins reads CORS_ORIGINS, a comma-separated list. Localhost dev
// servers are always allowed.
func allowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins[origin] = true
			}
		}
	}
	return origins
}

func corsMiddleware(allowed map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("handler panic", "path", r.URL.Path, "panic", v)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.AdminKey
}

// adminOnly requires the admin bearer token.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no CITYFORGE_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *params.ValidationError
		re *placement.RangeError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve), errors.As(err, &re),
		errors.Is(err, placement.ErrUnknownKind), errors.Is(err, project.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, engine.ErrNoPlacement):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrSuperseded):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func intParams(w http.ResponseWriter, r *http.Request, names ...string) ([]int, bool) {
	out := make([]int, len(names))
	for i, n := range names {
		v, err := strconv.Atoi(chi.URLParam(r, n))
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s coordinate", n), http.StatusBadRequest)
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Snapshot()
	status := map[string]any{
		"name":       "cityforge",
		"frame":      snap.Frame,
		"params":     snap.Params,
		"spacing":    snap.Spacing,
		"layers":     snap.Layers,
		"generating": snap.Generating,
		"buildings":  snap.Stats.Buildings(),
		"routes":     snap.Routes,
		"vehicles":   snap.Vehicles,
		"placements": snap.Placements,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["uptime"] = engine.Uptime(s.Eng.Frame()).String()
	}
	if s.Hub != nil {
		status["stream_clients"] = s.Hub.Len()
	}
	writeJSON(w, status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 1000)
		}
	}
	writeJSON(w, s.Sim.Events(limit))
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Params())
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	var u params.Update
	if !decodeBody(w, r, &u) {
		return
	}
	writeJSON(w, s.Sim.UpdateParams(u))
}

// handleGenerate blocks for the generation delay. A request overtaken by a
// newer one answers 409.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	p, err := s.Sim.Generate(r.Context(), s.GenerateDelay)
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"params": p, "stats": s.Sim.Stats()})
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Layout())
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	xz, ok := intParams(w, r, "x", "z")
	if !ok {
		return
	}
	c := s.Sim.Layout().At(xz[0], xz[1])
	if c == nil {
		http.Error(w, "cell outside layout", http.StatusNotFound)
		return
	}
	writeJSON(w, c)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Network())
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"routes":   s.Sim.Routes(),
		"vehicles": s.Sim.Vehicles(),
	})
}

func (s *Server) handlePlacements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Placements())
}

func (s *Server) handleAddPlacement(w http.ResponseWriter, r *http.Request) {
	var p placement.Placement
	if !decodeBody(w, r, &p) {
		return
	}
	added, err := s.Sim.AddPlacement(p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, added)
}

func (s *Server) handleClearPlacements(w http.ResponseWriter, r *http.Request) {
	s.Sim.ClearPlacements()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemovePlacement(w http.ResponseWriter, r *http.Request) {
	xy, ok := intParams(w, r, "x", "y")
	if !ok {
		return
	}
	if err := s.Sim.RemovePlacementAt(xy[0], xy[1]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlacementWorld(w http.ResponseWriter, r *http.Request) {
	xy, ok := intParams(w, r, "x", "y")
	if !ok {
		return
	}
	p, ix, iz, pos, err := s.Sim.PlacementWorld(xy[0], xy[1])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"placement": p,
		"gridX":     ix,
		"gridZ":     iz,
		"position":  pos,
	})
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Layers())
}

func (s *Server) handleToggleLayer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "layer")
	on, err := s.Sim.ToggleLayer(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"layer": name, "enabled": on})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc := s.Sim.Export()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="city-project-%d.json"`, doc.SavedAt.UnixMilli()))
	if err := project.Encode(w, doc); err != nil {
		slog.Debug("write project", "error", err)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	s.importProject(w, data)
}

func (s *Server) importProject(w http.ResponseWriter, data []byte) {
	restore, err := project.Decode(data, s.Sim.Params())
	if err != nil {
		writeError(w, err)
		return
	}
	s.Sim.Import(restore)
	skipped := restore.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	writeJSON(w, map[string]any{"params": s.Sim.Params(), "skipped": skipped})
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.DB == nil {
		http.Error(w, "project storage disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	list, err := s.DB.ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []persistence.ProjectInfo{}
	}
	writeJSON(w, list)
}

func (s *Server) handleSaveProject(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	name := chi.URLParam(r, "name")
	doc := s.Sim.Export()
	if err := s.DB.SaveProject(name, doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"name": name, "savedAt": doc.SavedAt})
}

func (s *Server) handleLoadProject(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	data, err := s.DB.LoadProject(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.importProject(w, data)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	if err := s.DB.DeleteProject(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWeather reports conditions for the current climate and applies their
// traffic factor to the fleet.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	if s.Weather == nil {
		http.Error(w, "weather disabled", http.StatusServiceUnavailable)
		return
	}
	cond := s.Weather.Current(s.Sim.Params().Climate)
	factor := weather.TrafficFactor(cond)
	s.Sim.SetTrafficFactor(factor)
	writeJSON(w, map[string]any{"conditions": cond, "traffic_factor": factor})
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	a := s.Advisor
	if a == nil {
		a = llm.NewAdvisor(nil)
	}
	writeJSON(w, a.RoadSuggestions(r.Context(), s.Sim.Params()))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	px := preview.DefaultPxPerCell
	if v := r.URL.Query().Get("px"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid px", http.StatusBadRequest)
			return
		}
		px = n
	}
	rd := preview.NewRenderer(px)
	rd.Layers = s.Sim.Layers()
	img := rd.Draw(s.Sim.Layout(), s.Sim.Network(), s.Sim.Vehicles())

	w.Header().Set("Content-Type", "image/png")
	if err := preview.WritePNG(w, img); err != nil {
		slog.Debug("write preview", "error", err)
	}
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not running", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Speed < 0 || req.Speed > 100 {
			http.Error(w, "speed must be 0-100", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}
