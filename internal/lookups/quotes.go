package lookups

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"

	"agrodata/config"
	"agrodata/internal/core"
	"agrodata/internal/dataaccess"
	"agrodata/internal/fallback"
	"agrodata/internal/pkg/apiclient"
)

// Quote is the market price of one agricultural commodity.
type Quote struct {
	Commodity        string    `json:"commodity"`
	Name             string    `json:"name"`
	Unit             string    `json:"unit"`
	Category         string    `json:"category"`
	Price            float64   `json:"price"`
	PreviousPrice    float64   `json:"previous_price"`
	Variation        float64   `json:"variation"`
	VariationPercent float64   `json:"variation_percent"`
	Trend            string    `json:"trend"`
	Market           string    `json:"market,omitempty"`
	Region           string    `json:"region"`
	Source           string    `json:"source"`
	UpdatedAt        time.Time `json:"updated_at"`
	// Simulated marks generated prices
	Simulated bool `json:"simulated"`
}

// Commodity describes a quoted product.
type Commodity struct {
	Key      string
	Name     string
	Unit     string
	Category string
	// Code is the upstream commodity code
	Code string
}

// Commodities lists the quoted products in presentation order.
var Commodities = []Commodity{
	{Key: "soy", Name: "Soja", Unit: "saca 60kg", Category: "grãos", Code: "SOJA"},
	{Key: "corn", Name: "Milho", Unit: "saca 60kg", Category: "grãos", Code: "MILHO"},
	{Key: "coffee", Name: "Café", Unit: "saca 60kg", Category: "café", Code: "CAFE"},
	{Key: "cotton", Name: "Algodão", Unit: "saca 60kg", Category: "fibras", Code: "ALGODAO"},
	{Key: "wheat", Name: "Trigo", Unit: "saca 60kg", Category: "grãos", Code: "TRIGO"},
	{Key: "sugar", Name: "Açúcar", Unit: "saca 50kg", Category: "açúcar", Code: "ACUCAR"},
}

const (
	// NationalRegion asks for country-wide quotes
	NationalRegion = "BR"

	sourceAgrolink = "Agrolink"
)

// Quotes returns commodity quotes for region, which is a federative unit
// code or name, a two-letter country code, or empty for the national market.
// Without an API key in the vault generated quotes are returned without
// contacting Agrolink.
func (s *Service) Quotes(ctx context.Context, region string) core.Envelope[[]Quote] {
	code, err := RegionCode(region)
	if err != nil {
		return invalid[[]Quote](err.Error())
	}

	d := dataaccess.Descriptor[[]Quote]{
		Operation:   config.OperationMarketQuotes,
		Key:         "quotes_" + code,
		EnableCache: true,
		CacheTTL:    s.cacheTTL(config.OperationMarketQuotes),
		Policy:      s.policy(config.OperationMarketQuotes),
		Fallback: fallback.Generated(func() []Quote {
			return simulatedQuotes(code, s.now())
		}),
	}

	apiKey, ok := s.credential(ctx, config.OperationMarketQuotes)
	if !ok {
		return dataaccess.Offline(ctx, s.fetcher, d, "market quotes API key not configured")
	}

	d.Perform = func(ctx context.Context) ([]Quote, error) {
		resp, err := s.quotes.DoRaw(ctx, apiclient.Request{
			Method:   http.MethodGet,
			Endpoint: "/api/v1/quotes",
			Headers: map[string]string{
				"Authorization": "Bearer " + apiKey,
				"X-Region":      code,
			},
		})
		if err != nil {
			return nil, err
		}
		return parseQuotes(resp.Body, code, s.now())
	}
	return dataaccess.Fetch(ctx, s.fetcher, d)
}

// RegionCode normalises a region argument. Federative unit names map to
// their codes; an empty region is the national market.
func RegionCode(region string) (string, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return NationalRegion, nil
	}
	if code, ok := stateCodes[strings.ToLower(region)]; ok {
		return code, nil
	}
	code := strings.ToUpper(region)
	if len(code) != 2 || !isLetters(code) {
		return "", core.NewValidationError("unknown region: " + region)
	}
	return code, nil
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func parseQuotes(data []byte, region string, now time.Time) ([]Quote, error) {
	body := gjson.ParseBytes(data)
	items := body.Get("quotes")
	if !items.IsArray() {
		return nil, core.NewServerError(serviceAgrolink, http.StatusBadGateway, "unexpected quotes payload", nil)
	}

	byCode := make(map[string]gjson.Result)
	items.ForEach(func(_, v gjson.Result) bool {
		byCode[strings.ToUpper(v.Get("commodity").String())] = v
		return true
	})

	quotes := make([]Quote, 0, len(Commodities))
	for _, c := range Commodities {
		v, ok := byCode[c.Code]
		if !ok {
			continue
		}
		q := Quote{
			Commodity:        c.Key,
			Name:             c.Name,
			Unit:             c.Unit,
			Category:         c.Category,
			Price:            v.Get("price").Float(),
			PreviousPrice:    v.Get("previousPrice").Float(),
			Variation:        v.Get("variation").Float(),
			VariationPercent: v.Get("variationPercent").Float(),
			Market:           v.Get("market").String(),
			Region:           region,
			Source:           sourceAgrolink,
			UpdatedAt:        now.UTC(),
		}
		if ts, err := time.Parse(time.RFC3339, v.Get("lastUpdate").String()); err == nil {
			q.UpdatedAt = ts
		}
		q.Trend = trend(q.Variation)
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func trend(variation float64) string {
	switch {
	case variation > 0:
		return "up"
	case variation < 0:
		return "down"
	default:
		return "stable"
	}
}
