package lookups

import (
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Substitute data served when an upstream is unavailable or not configured.
// Values are derived from a hash of the input so that repeated calls agree.

const simulatedSource = "AgroConecta (Simulado)"

// basePrices holds reference prices per macro region, in BRL per unit.
var basePrices = map[string]map[string]float64{
	"Centro-Oeste":  {"soy": 135.50, "corn": 92.30, "coffee": 480.00, "cotton": 195.00, "wheat": 98.50, "sugar": 78.00},
	"Sul":           {"soy": 128.00, "corn": 88.00, "coffee": 465.00, "cotton": 188.00, "wheat": 102.00, "sugar": 76.50},
	"Sudeste":       {"soy": 132.00, "corn": 90.00, "coffee": 475.00, "cotton": 192.00, "wheat": 100.00, "sugar": 77.50},
	"Nordeste":      {"soy": 125.00, "corn": 86.00, "coffee": 460.00, "cotton": 185.00, "wheat": 97.00, "sugar": 75.00},
	"Norte":         {"soy": 130.00, "corn": 89.00, "coffee": 470.00, "cotton": 190.00, "wheat": 99.00, "sugar": 76.00},
	"international": {"soy": 120.00, "corn": 85.00, "coffee": 450.00, "cotton": 180.00, "wheat": 95.00, "sugar": 75.00},
}

const defaultPriceRegion = "Centro-Oeste"

// unit returns a stable value in [0, 1] for the given parts.
func unit(parts ...string) float64 {
	h := xxhash.Sum64String(strings.Join(parts, "\x00"))
	return float64(h%10001) / 10000
}

// pick returns a stable index in [0, n) for parts.
func pick(n int, parts ...string) int {
	return int(xxhash.Sum64String(strings.Join(parts, "\x00")) % uint64(n))
}

// between maps a stable value for parts onto [lo, hi].
func between(lo, hi float64, parts ...string) float64 {
	return lo + (hi-lo)*unit(parts...)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func pricesFor(region string) map[string]float64 {
	if region == NationalRegion {
		return basePrices[defaultPriceRegion]
	}
	if macro, ok := stateRegions[region]; ok {
		return basePrices[macro]
	}
	return basePrices["international"]
}

// simulatedQuotes generates quotes within 5% of the regional base prices.
func simulatedQuotes(region string, now time.Time) []Quote {
	prices := pricesFor(region)
	quotes := make([]Quote, 0, len(Commodities))
	for _, c := range Commodities {
		base := prices[c.Key]
		ratio := between(-0.05, 0.05, region, c.Key)
		price := round2(base * (1 + ratio))
		variation := round2(price - base)
		quotes = append(quotes, Quote{
			Commodity:        c.Key,
			Name:             c.Name,
			Unit:             c.Unit,
			Category:         c.Category,
			Price:            price,
			PreviousPrice:    base,
			Variation:        variation,
			VariationPercent: round2(ratio * 100),
			Trend:            trend(variation),
			Region:           region,
			Source:           simulatedSource,
			UpdatedAt:        now.UTC(),
			Simulated:        true,
		})
	}
	return quotes
}

var simulatedSkies = []struct{ description, icon string }{
	{"céu limpo", "01d"},
	{"poucas nuvens", "02d"},
	{"nuvens dispersas", "03d"},
	{"nublado", "04d"},
	{"chuva leve", "10d"},
}

// simulatedWeather generates a plausible reading for city.
func simulatedWeather(city string, now time.Time) Weather {
	key := strings.ToLower(city)
	temp := round2(between(18, 34, key, "temp"))
	sky := simulatedSkies[pick(len(simulatedSkies), key, "sky")]
	day := now.UTC().Truncate(24 * time.Hour)
	return Weather{
		City:          city,
		Country:       "BR",
		Temperature:   temp,
		FeelsLike:     round2(temp + between(-2, 3, key, "feels")),
		Humidity:      int(between(40, 90, key, "humidity")),
		Pressure:      int(between(1005, 1020, key, "pressure")),
		Description:   sky.description,
		Icon:          sky.icon,
		WindSpeed:     round2(between(0.5, 8, key, "wind")),
		WindDirection: int(between(0, 359, key, "deg")),
		Clouds:        int(between(0, 100, key, "clouds")),
		Visibility:    10000,
		Sunrise:       day.Add(9 * time.Hour),
		Sunset:        day.Add(21 * time.Hour),
		Simulated:     true,
	}
}

// unverifiedCompany is served when the registry cannot be reached. It
// carries the number only; nothing about the company is asserted.
func unverifiedCompany(number string) Company {
	return Company{
		CNPJ:      FormatCNPJ(number),
		LegalName: "EMPRESA NÃO VERIFICADA",
		Status:    "NÃO VERIFICADA",
		Type:      matrixOrBranch(number),
		Verified:  false,
	}
}

// matrixOrBranch reads the establishment order from the CNPJ: 0001 is the
// head office.
func matrixOrBranch(number string) string {
	if len(number) == 14 && number[8:12] == "0001" {
		return "MATRIZ"
	}
	return "FILIAL"
}
