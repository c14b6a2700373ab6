package lookups

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"agrodata/config"
	"agrodata/internal/core"
	"agrodata/internal/dataaccess"
	"agrodata/internal/fallback"
	"agrodata/internal/pkg/apiclient"
)

// Weather is the current weather of a city.
type Weather struct {
	City          string    `json:"city"`
	Country       string    `json:"country,omitempty"`
	Latitude      float64   `json:"latitude,omitempty"`
	Longitude     float64   `json:"longitude,omitempty"`
	Temperature   float64   `json:"temperature"`
	FeelsLike     float64   `json:"feels_like"`
	Humidity      int       `json:"humidity"`
	Pressure      int       `json:"pressure"`
	Description   string    `json:"description"`
	Icon          string    `json:"icon,omitempty"`
	WindSpeed     float64   `json:"wind_speed"`
	WindDirection int       `json:"wind_direction"`
	Clouds        int       `json:"clouds"`
	Visibility    int       `json:"visibility"`
	Sunrise       time.Time `json:"sunrise,omitzero"`
	Sunset        time.Time `json:"sunset,omitzero"`
	// Simulated marks generated data
	Simulated bool `json:"simulated"`
}

// Weather returns the current weather for city. Without an API key in the
// vault the generated estimate is returned without contacting OpenWeather.
func (s *Service) Weather(ctx context.Context, city string) core.Envelope[Weather] {
	city = strings.TrimSpace(city)
	if city == "" {
		return invalid[Weather]("city is required")
	}

	d := dataaccess.Descriptor[Weather]{
		Operation:   config.OperationWeather,
		Key:         "weather_" + strings.ToLower(city),
		EnableCache: true,
		CacheTTL:    s.cacheTTL(config.OperationWeather),
		Policy:      s.policy(config.OperationWeather),
		Fallback: fallback.Generated(func() Weather {
			return simulatedWeather(city, s.now())
		}),
	}

	apiKey, ok := s.credential(ctx, config.OperationWeather)
	if !ok {
		return dataaccess.Offline(ctx, s.fetcher, d, "weather API key not configured")
	}

	d.Perform = func(ctx context.Context) (Weather, error) {
		resp, err := s.weather.DoRaw(ctx, apiclient.Request{
			Method:   http.MethodGet,
			Endpoint: "/weather",
			Query: url.Values{
				"q":     {city},
				"appid": {apiKey},
				"units": {"metric"},
				"lang":  {"pt"},
			},
		})
		if err != nil {
			return Weather{}, err
		}
		return parseWeather(resp.Body)
	}
	return dataaccess.Fetch(ctx, s.fetcher, d)
}

func parseWeather(data []byte) (Weather, error) {
	body := gjson.ParseBytes(data)
	if !body.Get("main").Exists() {
		return Weather{}, core.NewServerError(serviceOpenWeather, http.StatusBadGateway, "unexpected weather payload", nil)
	}

	w := Weather{
		City:          body.Get("name").String(),
		Country:       body.Get("sys.country").String(),
		Latitude:      body.Get("coord.lat").Float(),
		Longitude:     body.Get("coord.lon").Float(),
		Temperature:   body.Get("main.temp").Float(),
		FeelsLike:     body.Get("main.feels_like").Float(),
		Humidity:      int(body.Get("main.humidity").Int()),
		Pressure:      int(body.Get("main.pressure").Int()),
		Description:   body.Get("weather.0.description").String(),
		Icon:          body.Get("weather.0.icon").String(),
		WindSpeed:     body.Get("wind.speed").Float(),
		WindDirection: int(body.Get("wind.deg").Int()),
		Clouds:        int(body.Get("clouds.all").Int()),
		Visibility:    int(body.Get("visibility").Int()),
	}
	if v := body.Get("sys.sunrise"); v.Exists() {
		w.Sunrise = time.Unix(v.Int(), 0).UTC()
	}
	if v := body.Get("sys.sunset"); v.Exists() {
		w.Sunset = time.Unix(v.Int(), 0).UTC()
	}
	return w, nil
}
