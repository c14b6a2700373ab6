package lookups

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"agrodata/config"
	"agrodata/internal/core"
	"agrodata/internal/dataaccess"
	"agrodata/internal/fallback"
	"agrodata/internal/pkg/apiclient"
)

// Company is a company registry record looked up by CNPJ.
type Company struct {
	CNPJ                string     `json:"cnpj"`
	LegalName           string     `json:"legal_name"`
	TradeName           string     `json:"trade_name,omitempty"`
	OpenedAt            string     `json:"opened_at,omitempty"`
	Status              string     `json:"status"`
	Type                string     `json:"type,omitempty"`
	Size                string     `json:"size,omitempty"`
	LegalNature         string     `json:"legal_nature,omitempty"`
	ShareCapital        float64    `json:"share_capital,omitempty"`
	Address             Address    `json:"address"`
	MainActivity        Activity   `json:"main_activity"`
	SecondaryActivities []Activity `json:"secondary_activities,omitempty"`
	// Verified is false for records not confirmed by the registry
	Verified bool `json:"verified"`
}

// Activity is an economic activity (CNAE) of a company.
type Activity struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Company looks up a CNPJ. Numbers with invalid check digits are rejected
// without a call. When the registry cannot be reached an unverified record
// is returned.
func (s *Service) Company(ctx context.Context, cnpj string) core.Envelope[Company] {
	number := digitsOnly(cnpj)
	if !ValidCNPJ(number) {
		return invalid[Company]("invalid CNPJ")
	}

	return dataaccess.Fetch(ctx, s.fetcher, dataaccess.Descriptor[Company]{
		Operation:   config.OperationTaxID,
		Key:         "cnpj_" + number,
		EnableCache: true,
		CacheTTL:    s.cacheTTL(config.OperationTaxID),
		Policy:      s.policy(config.OperationTaxID),
		Fallback: fallback.Generated(func() Company {
			return unverifiedCompany(number)
		}),
		Perform: func(ctx context.Context) (Company, error) {
			req := apiclient.Request{Method: http.MethodGet, Endpoint: "/cnpj/" + number}
			if token, ok := s.credential(ctx, config.OperationTaxID); ok {
				req.Headers = map[string]string{"Authorization": "Bearer " + token}
			}
			resp, err := s.taxID.DoRaw(ctx, req)
			if err != nil {
				return Company{}, err
			}
			return parseCompany(resp.Body)
		},
	})
}

func parseCompany(data []byte) (Company, error) {
	body := gjson.ParseBytes(data)
	if strings.EqualFold(body.Get("status").String(), "ERROR") {
		message := body.Get("message").String()
		if message == "" {
			message = "CNPJ não encontrado"
		}
		return Company{}, core.NewNotFoundError(serviceReceitaWS, message)
	}
	if !body.Get("cnpj").Exists() {
		return Company{}, core.NewServerError(serviceReceitaWS, http.StatusBadGateway, "unexpected registry payload", nil)
	}

	capital, _ := strconv.ParseFloat(body.Get("capital_social").String(), 64)
	c := Company{
		CNPJ:         body.Get("cnpj").String(),
		LegalName:    body.Get("nome").String(),
		TradeName:    body.Get("fantasia").String(),
		OpenedAt:     body.Get("abertura").String(),
		Status:       body.Get("situacao").String(),
		Type:         body.Get("tipo").String(),
		Size:         body.Get("porte").String(),
		LegalNature:  body.Get("natureza_juridica").String(),
		ShareCapital: capital,
		Address: Address{
			PostalCode:   body.Get("cep").String(),
			Street:       strings.TrimSpace(body.Get("logradouro").String() + ", " + body.Get("numero").String()),
			Complement:   body.Get("complemento").String(),
			Neighborhood: body.Get("bairro").String(),
			City:         body.Get("municipio").String(),
			State:        body.Get("uf").String(),
			Provider:     serviceReceitaWS,
		},
		Verified: true,
	}
	if main := body.Get("atividade_principal.0"); main.Exists() {
		c.MainActivity = activity(main)
	}
	body.Get("atividades_secundarias").ForEach(func(_, v gjson.Result) bool {
		c.SecondaryActivities = append(c.SecondaryActivities, activity(v))
		return true
	})
	return c, nil
}

func activity(v gjson.Result) Activity {
	return Activity{Code: v.Get("code").String(), Description: v.Get("text").String()}
}

var (
	cnpjFirstWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjSecondWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCNPJ reports whether number is a 14-digit CNPJ with valid check
// digits. Formatting characters must already be removed.
func ValidCNPJ(number string) bool {
	if len(number) != 14 || digitsOnly(number) != number {
		return false
	}
	if strings.Count(number, number[:1]) == len(number) {
		return false
	}
	return checkDigit(number[:12], cnpjFirstWeights) == number[12] &&
		checkDigit(number[:13], cnpjSecondWeights) == number[13]
}

func checkDigit(digits string, weights []int) byte {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rest := sum % 11
	if rest < 2 {
		return '0'
	}
	return byte('0' + 11 - rest)
}

// FormatCNPJ formats a 14-digit CNPJ as 00.000.000/0000-00.
func FormatCNPJ(number string) string {
	if len(number) != 14 {
		return number
	}
	return number[:2] + "." + number[2:5] + "." + number[5:8] + "/" + number[8:12] + "-" + number[12:]
}
