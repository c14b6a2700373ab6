package lookups

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"agrodata/config"
	"agrodata/internal/core"
	"agrodata/internal/dataaccess"
	"agrodata/internal/fallback"
	"agrodata/internal/pkg/apiclient"
)

// State is a Brazilian federative unit.
type State struct {
	ID     int    `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// City is a municipality of a federative unit.
type City struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Microregion string `json:"microregion,omitempty"`
	Mesoregion  string `json:"mesoregion,omitempty"`
}

// States lists the federative units. When IBGE cannot be reached the
// built-in list is returned.
func (s *Service) States(ctx context.Context) core.Envelope[[]State] {
	return dataaccess.Fetch(ctx, s.fetcher, dataaccess.Descriptor[[]State]{
		Operation:   config.OperationRegions,
		Key:         "ibge_states",
		EnableCache: true,
		CacheTTL:    s.cacheTTL(config.OperationRegions),
		Policy:      s.policy(config.OperationRegions),
		Fallback:    fallback.Generated(knownStates),
		Perform: func(ctx context.Context) ([]State, error) {
			body, err := s.getIBGE(ctx, "/estados")
			if err != nil {
				return nil, err
			}
			states := make([]State, 0, 27)
			body.ForEach(func(_, v gjson.Result) bool {
				states = append(states, State{
					ID:     int(v.Get("id").Int()),
					Code:   v.Get("sigla").String(),
					Name:   v.Get("nome").String(),
					Region: v.Get("regiao.nome").String(),
				})
				return true
			})
			return states, nil
		},
	})
}

// Cities lists the municipalities of the federative unit uf.
func (s *Service) Cities(ctx context.Context, uf string) core.Envelope[[]City] {
	uf = strings.ToUpper(strings.TrimSpace(uf))
	if _, ok := stateRegions[uf]; !ok {
		return invalid[[]City]("unknown federative unit: " + uf)
	}

	return dataaccess.Fetch(ctx, s.fetcher, dataaccess.Descriptor[[]City]{
		Operation:   config.OperationRegions,
		Key:         "ibge_cities_" + uf,
		EnableCache: true,
		CacheTTL:    s.cacheTTL(config.OperationRegions),
		Policy:      s.policy(config.OperationRegions),
		Perform: func(ctx context.Context) ([]City, error) {
			body, err := s.getIBGE(ctx, "/estados/"+uf+"/municipios")
			if err != nil {
				return nil, err
			}
			var cities []City
			body.ForEach(func(_, v gjson.Result) bool {
				cities = append(cities, City{
					ID:          int(v.Get("id").Int()),
					Name:        v.Get("nome").String(),
					Microregion: v.Get("microrregiao.nome").String(),
					Mesoregion:  v.Get("microrregiao.mesorregiao.nome").String(),
				})
				return true
			})
			return cities, nil
		},
	})
}

func (s *Service) getIBGE(ctx context.Context, endpoint string) (gjson.Result, error) {
	resp, err := s.regions.DoRaw(ctx, apiclient.Request{Method: http.MethodGet, Endpoint: endpoint})
	if err != nil {
		return gjson.Result{}, err
	}
	body := gjson.ParseBytes(resp.Body)
	if !body.IsArray() {
		return gjson.Result{}, core.NewServerError(serviceIBGE, http.StatusBadGateway, "unexpected IBGE payload", nil)
	}
	return body, nil
}

// knownStates returns the federative units with their IBGE codes.
func knownStates() []State {
	return []State{
		{ID: 11, Code: "RO", Name: "Rondônia", Region: "Norte"},
		{ID: 12, Code: "AC", Name: "Acre", Region: "Norte"},
		{ID: 13, Code: "AM", Name: "Amazonas", Region: "Norte"},
		{ID: 14, Code: "RR", Name: "Roraima", Region: "Norte"},
		{ID: 15, Code: "PA", Name: "Pará", Region: "Norte"},
		{ID: 16, Code: "AP", Name: "Amapá", Region: "Norte"},
		{ID: 17, Code: "TO", Name: "Tocantins", Region: "Norte"},
		{ID: 21, Code: "MA", Name: "Maranhão", Region: "Nordeste"},
		{ID: 22, Code: "PI", Name: "Piauí", Region: "Nordeste"},
		{ID: 23, Code: "CE", Name: "Ceará", Region: "Nordeste"},
		{ID: 24, Code: "RN", Name: "Rio Grande do Norte", Region: "Nordeste"},
		{ID: 25, Code: "PB", Name: "Paraíba", Region: "Nordeste"},
		{ID: 26, Code: "PE", Name: "Pernambuco", Region: "Nordeste"},
		{ID: 27, Code: "AL", Name: "Alagoas", Region: "Nordeste"},
		{ID: 28, Code: "SE", Name: "Sergipe", Region: "Nordeste"},
		{ID: 29, Code: "BA", Name: "Bahia", Region: "Nordeste"},
		{ID: 31, Code: "MG", Name: "Minas Gerais", Region: "Sudeste"},
		{ID: 32, Code: "ES", Name: "Espírito Santo", Region: "Sudeste"},
		{ID: 33, Code: "RJ", Name: "Rio de Janeiro", Region: "Sudeste"},
		{ID: 35, Code: "SP", Name: "São Paulo", Region: "Sudeste"},
		{ID: 41, Code: "PR", Name: "Paraná", Region: "Sul"},
		{ID: 42, Code: "SC", Name: "Santa Catarina", Region: "Sul"},
		{ID: 43, Code: "RS", Name: "Rio Grande do Sul", Region: "Sul"},
		{ID: 50, Code: "MS", Name: "Mato Grosso do Sul", Region: "Centro-Oeste"},
		{ID: 51, Code: "MT", Name: "Mato Grosso", Region: "Centro-Oeste"},
		{ID: 52, Code: "GO", Name: "Goiás", Region: "Centro-Oeste"},
		{ID: 53, Code: "DF", Name: "Distrito Federal", Region: "Centro-Oeste"},
	}
}

// stateRegions maps a federative unit code to its macro region.
var stateRegions = func() map[string]string {
	m := make(map[string]string, 27)
	for _, st := range knownStates() {
		m[st.Code] = st.Region
	}
	return m
}()

// stateCodes maps a lower-cased state name to its code.
var stateCodes = func() map[string]string {
	m := make(map[string]string, 27)
	for _, st := range knownStates() {
		m[strings.ToLower(st.Name)] = st.Code
	}
	return m
}()
