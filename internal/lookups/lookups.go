// Package lookups exposes the named data operations of the service: postal
// codes, administrative regions, weather, company registry and market quotes.
// Each operation is a descriptor over one upstream, executed by the data
// access layer.
package lookups

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"agrodata/config"
	"agrodata/internal/core"
	"agrodata/internal/dataaccess"
	"agrodata/internal/httpclient"
	"agrodata/internal/pkg/apiclient"
	"agrodata/internal/retry"
	"agrodata/internal/session"
)

// Upstream service names used in errors, logs and metrics.
const (
	serviceViaCEP      = "viacep"
	serviceBrasilAPI   = "brasilapi"
	serviceIBGE        = "ibge"
	serviceOpenWeather = "openweather"
	serviceReceitaWS   = "receitaws"
	serviceAgrolink    = "agrolink"
)

// Config holds the collaborators of a Service.
type Config struct {
	Fetcher *dataaccess.Fetcher
	// Vault provides upstream credentials, keyed by operation name
	Vault      session.Vault
	Operations map[string]config.OperationConfig
	Retry      config.RetryConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service runs the named lookups.
type Service struct {
	fetcher *dataaccess.Fetcher
	vault   session.Vault
	ops     map[string]config.OperationConfig
	retry   config.RetryConfig
	logger  *slog.Logger
	now     func() time.Time

	postal  []*apiclient.Client
	regions *apiclient.Client
	weather *apiclient.Client
	taxID   *apiclient.Client
	quotes  *apiclient.Client
}

// New creates a Service. Operations missing from cfg.Operations use the
// built-in defaults.
func New(cfg Config) *Service {
	s := &Service{
		fetcher: cfg.Fetcher,
		vault:   cfg.Vault,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if s.fetcher == nil {
		s.fetcher = dataaccess.New(dataaccess.Config{Logger: cfg.Logger})
	}
	if s.vault == nil {
		s.vault = session.NewMemoryVault()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	// Defaults are filled into a copy; cfg.Operations stays as given.
	defaults := config.Default()
	s.ops = make(map[string]config.OperationConfig, len(defaults.Operations))
	for name, op := range cfg.Operations {
		s.ops[name] = op
	}
	for name, op := range defaults.Operations {
		if _, ok := s.ops[name]; !ok {
			s.ops[name] = op
		}
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = defaults.Retry
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}

	postal := s.ops[config.OperationPostalCode]
	s.postal = append(s.postal, s.newClient(httpClient, serviceViaCEP, postal.BaseURL, postal.Timeout))
	for _, fallbackURL := range postal.FallbackURLs {
		s.postal = append(s.postal, s.newClient(httpClient, serviceBrasilAPI, fallbackURL, postal.Timeout))
	}
	s.regions = s.clientFor(httpClient, config.OperationRegions, serviceIBGE)
	s.weather = s.clientFor(httpClient, config.OperationWeather, serviceOpenWeather)
	s.taxID = s.clientFor(httpClient, config.OperationTaxID, serviceReceitaWS)
	s.quotes = s.clientFor(httpClient, config.OperationMarketQuotes, serviceAgrolink)

	return s
}

// Fetcher returns the data access layer used by the lookups.
func (s *Service) Fetcher() *dataaccess.Fetcher {
	return s.fetcher
}

func (s *Service) clientFor(httpClient *http.Client, operation, service string) *apiclient.Client {
	op := s.ops[operation]
	return s.newClient(httpClient, service, op.BaseURL, op.Timeout)
}

func (s *Service) newClient(httpClient *http.Client, service, baseURL string, timeout time.Duration) *apiclient.Client {
	cfg := apiclient.DefaultConfig(service, baseURL)
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.Logger = s.logger
	return apiclient.NewWithHTTPClient(httpClient, cfg, nil)
}

// policy builds the retry policy of an operation from the global retry
// settings and the operation's overrides.
func (s *Service) policy(operation string) *retry.Policy {
	op := s.ops[operation]
	p := retry.Policy{
		MaxAttempts:       s.retry.MaxAttempts,
		Delay:             s.retry.Delay,
		Backoff:           retry.Backoff(s.retry.Backoff),
		BackoffMultiplier: s.retry.BackoffMultiplier,
		MaxDelay:          s.retry.MaxDelay,
	}
	if op.MaxAttempts > 0 {
		p.MaxAttempts = op.MaxAttempts
	}
	if op.RetryDelay > 0 {
		p.Delay = op.RetryDelay
	}
	if op.Backoff != "" {
		p.Backoff = retry.Backoff(op.Backoff)
	}
	if op.BackoffMultiplier > 0 {
		p.BackoffMultiplier = op.BackoffMultiplier
	}
	return &p
}

func (s *Service) cacheTTL(operation string) time.Duration {
	return s.ops[operation].CacheTTL
}

// credential returns the upstream credential of an operation. Credentials
// are read per call so a cleared session takes effect immediately.
func (s *Service) credential(ctx context.Context, operation string) (string, bool) {
	value, ok := s.vault.Get(ctx, operation)
	return value, ok && value != ""
}

func invalid[T any](message string) core.Envelope[T] {
	return core.Failure[T](core.KindValidation, message)
}
