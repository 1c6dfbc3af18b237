package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohtashammurshid/jarvisd/internal/logging"
)

const weatherAPIBase = "https://api.weatherapi.com/v1"

// ErrWeatherNotConfigured means no WeatherAPI key is set.
var ErrWeatherNotConfigured = errors.New("weather api key not configured")

// WeatherReport pairs the spoken summary with the decoded provider payload.
type WeatherReport struct {
	Type      string      `json:"type"`
	Formatted string      `json:"formatted"`
	Data      interface{} `json:"data,omitempty"`
}

// WeatherTool answers current-conditions, short-range forecast, and astronomy
// questions through WeatherAPI.com.
type WeatherTool struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WeatherOption configures the WeatherTool.
type WeatherOption func(*WeatherTool)

// WithWeatherHTTPClient sets a custom HTTP client.
func WithWeatherHTTPClient(client *http.Client) WeatherOption {
	return func(w *WeatherTool) { w.httpClient = client }
}

// WithWeatherBaseURL overrides the WeatherAPI base URL (used by tests).
func WithWeatherBaseURL(base string) WeatherOption {
	return func(w *WeatherTool) { w.baseURL = base }
}

func NewWeatherTool(apiKey string, opts ...WeatherOption) *WeatherTool {
	w := &WeatherTool{
		apiKey:     apiKey,
		baseURL:    weatherAPIBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WeatherTool) Name() string { return "weather" }

func (w *WeatherTool) Description() string {
	return "Get current weather, a multi-day forecast, or sunrise/sunset and moon data for a location."
}

func (w *WeatherTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"location": {"type": "string", "description": "City name, ZIP/postal code, or coordinates."},
			"mode": {
				"type": "string",
				"enum": ["current", "forecast", "astronomy"],
				"description": "Which report to fetch. Defaults to current conditions."
			}
		},
		"required": ["location"]
	}`)
}

type weatherArgs struct {
	Location string `json:"location"`
	Mode     string `json:"mode"`
}

type weatherLocation struct {
	Name      string `json:"name"`
	Region    string `json:"region"`
	Country   string `json:"country"`
	Localtime string `json:"localtime"`
}

type weatherCondition struct {
	Text string `json:"text"`
}

type weatherCurrent struct {
	TempC      float64          `json:"temp_c"`
	TempF      float64          `json:"temp_f"`
	FeelslikeC float64          `json:"feelslike_c"`
	FeelslikeF float64          `json:"feelslike_f"`
	Condition  weatherCondition `json:"condition"`
	Humidity   float64          `json:"humidity"`
	WindKph    float64          `json:"wind_kph"`
	WindDir    string           `json:"wind_dir"`
	UV         float64          `json:"uv"`
}

type weatherDay struct {
	MaxTempC        float64          `json:"maxtemp_c"`
	MinTempC        float64          `json:"mintemp_c"`
	MaxTempF        float64          `json:"maxtemp_f"`
	MinTempF        float64          `json:"mintemp_f"`
	Condition       weatherCondition `json:"condition"`
	DailyChanceRain float64          `json:"daily_chance_of_rain"`
}

type weatherForecastDay struct {
	Date string     `json:"date"`
	Day  weatherDay `json:"day"`
}

type weatherAstro struct {
	Sunrise   string `json:"sunrise"`
	Sunset    string `json:"sunset"`
	Moonrise  string `json:"moonrise"`
	Moonset   string `json:"moonset"`
	MoonPhase string `json:"moon_phase"`
}

type weatherCurrentResponse struct {
	Location weatherLocation `json:"location"`
	Current  weatherCurrent  `json:"current"`
}

type weatherForecastResponse struct {
	Location weatherLocation `json:"location"`
	Current  weatherCurrent  `json:"current"`
	Forecast struct {
		ForecastDay []weatherForecastDay `json:"forecastday"`
	} `json:"forecast"`
}

type weatherAstronomyResponse struct {
	Location  weatherLocation `json:"location"`
	Astronomy struct {
		Astro weatherAstro `json:"astro"`
	} `json:"astronomy"`
}

func (w *WeatherTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in weatherArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("parse arguments: %w", err)
		}
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return TextResult("I need a location to check the weather for."), nil
	}

	report, err := w.Report(ctx, location, in.Mode)
	if errors.Is(err, ErrWeatherNotConfigured) {
		return TextResult(fmt.Sprintf(
			"I'm unable to check the weather for %q because the weather API key is not configured. "+
				"Add WEATHERAPI_KEY to the environment to enable weather reports.", location)), nil
	}
	if err != nil {
		return TextResult(fmt.Sprintf("I couldn't retrieve weather data for %s right now. Please try again shortly.", location)), nil
	}
	return TextResult(report.Formatted), nil
}

// Report fetches and formats one weather report. Unknown modes fall back to
// current conditions.
func (w *WeatherTool) Report(ctx context.Context, location, mode string) (*WeatherReport, error) {
	log := logging.WithComponent("weather")

	if w.apiKey == "" {
		return nil, ErrWeatherNotConfigured
	}

	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "forecast", "astronomy":
	default:
		mode = "current"
	}

	var (
		text string
		data interface{}
		err  error
	)
	switch mode {
	case "current":
		text, data, err = w.currentReport(ctx, location)
	case "forecast":
		text, data, err = w.forecastReport(ctx, location)
	case "astronomy":
		text, data, err = w.astronomyReport(ctx, location)
	}
	if err != nil {
		log.Error().Err(err).Str("location", location).Str("mode", mode).Msg("weather request failed")
		return nil, err
	}
	return &WeatherReport{Type: mode, Formatted: text, Data: data}, nil
}

func (w *WeatherTool) currentReport(ctx context.Context, location string) (string, interface{}, error) {
	var resp weatherCurrentResponse
	if err := w.fetch(ctx, "/current.json", url.Values{"q": {location}, "aqi": {"yes"}}, &resp); err != nil {
		return "", nil, err
	}
	c := resp.Current
	loc := resp.Location
	return fmt.Sprintf(
		"Current weather in %s, %s: %s, %.0f degrees Celsius (%.0f Fahrenheit), feels like %.0f. "+
			"Humidity is %.0f percent with winds at %.0f kilometers per hour from the %s. The UV index is %.0f.",
		loc.Name, regionOrCountry(loc), strings.ToLower(c.Condition.Text),
		math.Round(c.TempC), math.Round(c.TempF), math.Round(c.FeelslikeC),
		c.Humidity, math.Round(c.WindKph), c.WindDir, c.UV), &resp, nil
}

func (w *WeatherTool) forecastReport(ctx context.Context, location string) (string, interface{}, error) {
	var resp weatherForecastResponse
	params := url.Values{"q": {location}, "days": {"3"}, "aqi": {"yes"}, "alerts": {"yes"}}
	if err := w.fetch(ctx, "/forecast.json", params, &resp); err != nil {
		return "", nil, err
	}
	days := resp.Forecast.ForecastDay
	if len(days) == 0 {
		return "", nil, fmt.Errorf("no forecast days returned")
	}

	loc := resp.Location
	var sb strings.Builder
	fmt.Fprintf(&sb, "Forecast for %s, %s. ", loc.Name, regionOrCountry(loc))

	today := days[0].Day
	fmt.Fprintf(&sb, "Today will be %s with a high of %.0f degrees Celsius and a low of %.0f.",
		strings.ToLower(today.Condition.Text), math.Round(today.MaxTempC), math.Round(today.MinTempC))
	if today.DailyChanceRain > 0 {
		fmt.Fprintf(&sb, " There is a %.0f percent chance of rain.", today.DailyChanceRain)
	}

	if len(days) > 1 {
		tomorrow := days[1].Day
		fmt.Fprintf(&sb, " Tomorrow expects %s, between %.0f and %.0f degrees.",
			strings.ToLower(tomorrow.Condition.Text), math.Round(tomorrow.MinTempC), math.Round(tomorrow.MaxTempC))
	}
	if len(days) > 2 {
		after := days[2].Day
		fmt.Fprintf(&sb, " The day after looks %s, between %.0f and %.0f degrees.",
			strings.ToLower(after.Condition.Text), math.Round(after.MinTempC), math.Round(after.MaxTempC))
	}
	return sb.String(), &resp, nil
}

func (w *WeatherTool) astronomyReport(ctx context.Context, location string) (string, interface{}, error) {
	var resp weatherAstronomyResponse
	if err := w.fetch(ctx, "/astronomy.json", url.Values{"q": {location}}, &resp); err != nil {
		return "", nil, err
	}
	a := resp.Astronomy.Astro
	loc := resp.Location
	return fmt.Sprintf(
		"In %s, %s the sun rises at %s and sets at %s. The moon rises at %s, sets at %s, and is currently in its %s phase.",
		loc.Name, regionOrCountry(loc), a.Sunrise, a.Sunset, a.Moonrise, a.Moonset, strings.ToLower(a.MoonPhase)), &resp, nil
}

func (w *WeatherTool) fetch(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("key", w.apiKey)
	endpoint := w.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// regionOrCountry prefers the region label, falling back to country for
// locations where WeatherAPI leaves region blank.
func regionOrCountry(loc weatherLocation) string {
	if loc.Region != "" {
		return loc.Region
	}
	return loc.Country
}
