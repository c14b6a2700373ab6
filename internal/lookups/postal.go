package lookups

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"agrodata/config"
	"agrodata/internal/core"
	"agrodata/internal/dataaccess"
	"agrodata/internal/pkg/apiclient"
)

// Address is a normalised postal code record.
type Address struct {
	PostalCode   string `json:"postal_code"`
	Street       string `json:"street"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	IBGECode     string `json:"ibge_code,omitempty"`
	DDD          string `json:"ddd,omitempty"`
	SIAFI        string `json:"siafi,omitempty"`
	// Provider is the upstream that answered
	Provider string `json:"provider"`
}

// Field paths per address field, across the shapes returned by ViaCEP and
// BrasilAPI.
var addressPaths = struct {
	postalCode, street, complement, neighborhood, city, state []string
}{
	postalCode:   []string{"cep"},
	street:       []string{"logradouro", "address", "street"},
	complement:   []string{"complemento"},
	neighborhood: []string{"bairro", "district", "neighborhood"},
	city:         []string{"localidade", "city"},
	state:        []string{"uf", "state"},
}

// PostalCode resolves a Brazilian postal code (CEP). Formatting characters
// are ignored; anything other than eight digits is rejected without a call.
// Providers are tried in order within each attempt.
func (s *Service) PostalCode(ctx context.Context, code string) core.Envelope[Address] {
	cep := digitsOnly(code)
	if len(cep) != 8 {
		return invalid[Address]("postal code must have 8 digits")
	}

	return dataaccess.Fetch(ctx, s.fetcher, dataaccess.Descriptor[Address]{
		Operation:   config.OperationPostalCode,
		Key:         "cep_" + cep,
		EnableCache: true,
		CacheTTL:    s.cacheTTL(config.OperationPostalCode),
		Policy:      s.policy(config.OperationPostalCode),
		Perform: func(ctx context.Context) (Address, error) {
			return s.fetchAddress(ctx, cep)
		},
	})
}

func (s *Service) fetchAddress(ctx context.Context, cep string) (Address, error) {
	errs := make([]error, 0, len(s.postal))
	for _, client := range s.postal {
		addr, err := lookupAddress(ctx, client, cep)
		if err == nil {
			return addr, nil
		}
		s.logger.DebugContext(ctx, "postal code provider failed", "provider", client.Service(), "error", err)
		errs = append(errs, err)
	}
	return Address{}, representative(errs)
}

func lookupAddress(ctx context.Context, client *apiclient.Client, cep string) (Address, error) {
	endpoint := "/" + cep
	if client.Service() == serviceViaCEP {
		endpoint = "/" + cep + "/json/"
	}

	resp, err := client.DoRaw(ctx, apiclient.Request{Method: http.MethodGet, Endpoint: endpoint})
	if err != nil {
		return Address{}, err
	}

	body := gjson.ParseBytes(resp.Body)
	if !body.IsObject() {
		return Address{}, core.NewServerError(client.Service(), http.StatusBadGateway, "unexpected postal code payload", nil)
	}
	if body.Get("erro").Exists() || body.Get("error").Exists() {
		return Address{}, core.NewNotFoundError(client.Service(), "CEP não encontrado")
	}

	addr := Address{
		PostalCode:   firstString(body, addressPaths.postalCode),
		Street:       firstString(body, addressPaths.street),
		Complement:   firstString(body, addressPaths.complement),
		Neighborhood: firstString(body, addressPaths.neighborhood),
		City:         firstString(body, addressPaths.city),
		State:        firstString(body, addressPaths.state),
		IBGECode:     body.Get("ibge").String(),
		DDD:          body.Get("ddd").String(),
		SIAFI:        body.Get("siafi").String(),
		Provider:     client.Service(),
	}
	if digits := digitsOnly(addr.PostalCode); len(digits) == 8 {
		addr.PostalCode = digits[:5] + "-" + digits[5:]
	}
	return addr, nil
}

// representative picks the error that describes a failed round of
// providers: a transient failure wins so the round is retried, otherwise the
// last provider's answer is kept.
func representative(errs []error) error {
	for _, err := range errs {
		if core.Classify(err).Retryable {
			return err
		}
	}
	if len(errs) == 0 {
		return core.NewError(core.KindUnknown, "no postal code provider configured", nil)
	}
	return errs[len(errs)-1]
}

func firstString(body gjson.Result, paths []string) string {
	for _, path := range paths {
		if v := body.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
