// Package weather reports current conditions for the city: simulated from
// the climate zone by default, or fetched from OpenWeatherMap when a key is
// configured. Conditions also yield a traffic speed factor.
package weather

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/talgya/cityforge/internal/params"
)

// Condition is the coarse sky state.
type Condition string

const (
	Sunny  Condition = "sunny"
	Cloudy Condition = "cloudy"
	Rainy  Condition = "rainy"
	Snowy  Condition = "snowy"
	Stormy Condition = "stormy"
)

// Conditions holds current weather.
type Conditions struct {
	Temp        float64   `json:"temp"` // Celsius
	Condition   Condition `json:"condition"`
	Humidity    float64   `json:"humidity"`   // percent
	WindSpeed   float64   `json:"wind_speed"` // km/h
	Description string    `json:"description"`
	Source      string    `json:"source"` // "simulated" or "openweathermap"
}

// Simulate draws conditions typical for a climate zone.
func Simulate(c params.Climate, rng *rand.Rand) Conditions {
	r := rng.Float64
	var w Conditions
	switch c {
	case params.ClimateTropical:
		w = Conditions{Temp: 28 + r()*8, Condition: Sunny, Humidity: 70 + r()*20, WindSpeed: 8 + r()*10}
		if r() > 0.6 {
			w.Condition = Rainy
		}
	case params.ClimateArid:
		w = Conditions{Temp: 32 + r()*12, Condition: Sunny, Humidity: 20 + r()*30, WindSpeed: 15 + r()*15}
	case params.ClimateContinental:
		w = Conditions{Temp: 5 + r()*20, Condition: Cloudy, Humidity: 50 + r()*30, WindSpeed: 10 + r()*20}
		if r() > 0.7 {
			w.Condition = Snowy
		}
	default:
		w = Conditions{Temp: 15 + r()*15, Condition: Sunny, Humidity: 55 + r()*25, WindSpeed: 8 + r()*12}
		if r() > 0.5 {
			w.Condition = Cloudy
		}
	}
	w.Description = fmt.Sprintf("%s, %.0f°C", w.Condition, w.Temp)
	w.Source = "simulated"
	return w
}

// TrafficFactor scales vehicle speed for the conditions: 1 is unaffected.
func TrafficFactor(c Conditions) float64 {
	switch c.Condition {
	case Stormy:
		return 0.5
	case Snowy:
		return 0.67
	case Rainy:
		return 0.83
	}
	return 1.0
}

// Service serves current conditions, preferring the live client when one
// is configured and falling back to simulation.
type Service struct {
	live *Client

	mu       sync.Mutex
	rng      *rand.Rand
	cached   map[params.Climate]Conditions
	cachedAt map[params.Climate]time.Time
	ttl      time.Duration
}

// NewService creates a Service. live may be nil.
func NewService(live *Client, seed int64) *Service {
	return &Service{
		live:     live,
		rng:      rand.New(rand.NewSource(seed)),
		cached:   make(map[params.Climate]Conditions),
		cachedAt: make(map[params.Climate]time.Time),
		ttl:      time.Minute,
	}
}

// Current returns conditions for climate c. Simulated conditions are held
// for a minute so repeated reads agree.
func (s *Service) Current(c params.Climate) Conditions {
	if s.live != nil {
		w, err := s.live.Fetch()
		if err == nil {
			return *w
		}
		slog.Debug("live weather unavailable", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.cached[c]; ok && time.Since(s.cachedAt[c]) < s.ttl {
		return w
	}
	w := Simulate(c, s.rng)
	s.cached[c] = w
	s.cachedAt[c] = time.Now()
	return w
}

// Client fetches weather data from OpenWeatherMap.
type Client struct {
	apiKey   string
	location string
	baseURL  string
	client   *http.Client

	mu          sync.Mutex
	cached      *Conditions
	cachedAt    time.Time
	cacheTTL    time.Duration
	lastFailAt  time.Time
	failBackoff time.Duration
}

// NewClient creates a weather API client. Returns nil if apiKey is empty.
func NewClient(apiKey, location string) *Client {
	if apiKey == "" {
		return nil
	}
	if location == "" {
		location = "San Diego,US"
	}
	return &Client{
		apiKey:   apiKey,
		location: location,
		baseURL:  "https://api.openweathermap.org/data/2.5/weather",
		client:   &http.Client{Timeout: 10 * time.Second},
		cacheTTL: 5 * time.Minute,
	}
}

// Fetch retrieves current weather conditions, using cache if fresh.
func (c *Client) Fetch() (*Conditions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL {
		return c.cached, nil
	}

	// Backoff on repeated failures (up to 10 minutes).
	if c.failBackoff > 0 && time.Since(c.lastFailAt) < c.failBackoff {
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, fmt.Errorf("weather API backoff (%s remaining)", c.failBackoff-time.Since(c.lastFailAt))
	}

	conditions, err := c.fetchFromAPI()
	if err != nil {
		c.lastFailAt = time.Now()
		if c.failBackoff == 0 {
			c.failBackoff = 1 * time.Minute
		} else if c.failBackoff < 10*time.Minute {
			c.failBackoff *= 2
		}
		if c.cached != nil {
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = conditions
	c.cachedAt = time.Now()
	c.failBackoff = 0
	return conditions, nil
}

func (c *Client) fetchFromAPI() (*Conditions, error) {
	apiURL := fmt.Sprintf("%s?q=%s&appid=%s&units=metric",
		c.baseURL, url.QueryEscape(c.location), c.apiKey)

	resp, err := c.client.Get(apiURL)
	if err != nil {
		return nil, fmt.Errorf("weather API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API error %d: %s", resp.StatusCode, string(body))
	}

	var owm struct {
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"` // m/s
		} `json:"wind"`
	}
	if err := json.Unmarshal(body, &owm); err != nil {
		return nil, fmt.Errorf("parse weather: %w", err)
	}

	conditions := &Conditions{
		Temp:      owm.Main.Temp,
		Humidity:  owm.Main.Humidity,
		WindSpeed: owm.Wind.Speed * 3.6,
		Condition: Sunny,
		Source:    "openweathermap",
	}
	if len(owm.Weather) > 0 {
		conditions.Description = owm.Weather[0].Description
		conditions.Condition = mapCondition(owm.Weather[0].Main, owm.Wind.Speed)
	}

	slog.Debug("weather fetched", "temp", conditions.Temp, "desc", conditions.Description)
	return conditions, nil
}

func mapCondition(main string, windMS float64) Condition {
	switch m := strings.ToLower(main); {
	case m == "thunderstorm" || windMS > 15:
		return Stormy
	case m == "snow":
		return Snowy
	case m == "rain" || m == "drizzle":
		return Rainy
	case m == "clouds" || m == "mist" || m == "fog":
		return Cloudy
	}
	return Sunny
}
