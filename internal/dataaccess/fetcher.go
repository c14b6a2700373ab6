// Package dataaccess implements cache-first, retrying, fallback-aware access to
// external data. Every call returns a core.Envelope describing where the value
// came from.
package dataaccess

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"agrodata/internal/cache"
	"agrodata/internal/core"
	"agrodata/internal/errhandler"
	"agrodata/internal/fallback"
	"agrodata/internal/observability"
	"agrodata/internal/retry"
)

// ErrorHandler receives errors that exhausted the retry policy.
// *errhandler.Handler satisfies it.
type ErrorHandler interface {
	DefaultOptions() errhandler.Options
	HandleError(ctx context.Context, err error, opts errhandler.Options) core.ParsedError
}

// Config holds the collaborators of a Fetcher.
type Config struct {
	// Store caches successful results; nil creates a private memory store
	Store cache.Store
	// Policy applies to descriptors without their own; zero value means retry.DefaultPolicy()
	Policy retry.Policy
	// Sleep replaces the wait between attempts for every policy that sets none
	Sleep func(ctx context.Context, d time.Duration) error
	// AllowDuplicateFetches lets concurrent misses for the same key each call upstream
	AllowDuplicateFetches bool
	// ErrorHandler is notified of exhausted failures; nil disables notification
	ErrorHandler ErrorHandler
	Logger       *slog.Logger
}

// Fetcher is the data access entry point. It is safe for concurrent use.
type Fetcher struct {
	store        cache.Store
	policy       retry.Policy
	sleep        func(ctx context.Context, d time.Duration) error
	allowDup     bool
	errorHandler ErrorHandler
	logger       *slog.Logger
	flights      singleflight.Group
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	f := &Fetcher{
		store:        cfg.Store,
		policy:       cfg.Policy,
		sleep:        cfg.Sleep,
		allowDup:     cfg.AllowDuplicateFetches,
		errorHandler: cfg.ErrorHandler,
		logger:       cfg.Logger,
	}
	if f.store == nil {
		f.store = cache.NewMemoryStore()
	}
	if f.policy.MaxAttempts == 0 && f.policy.Delay == 0 {
		f.policy = retry.DefaultPolicy()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Store returns the cache backing this fetcher.
func (f *Fetcher) Store() cache.Store {
	return f.store
}

// Invalidate removes one cached result.
func (f *Fetcher) Invalidate(ctx context.Context, key string) {
	f.store.Delete(ctx, key)
}

// ClearCache removes every cached result.
func (f *Fetcher) ClearCache(ctx context.Context) {
	f.store.Clear(ctx)
}

// Descriptor describes one fetch.
type Descriptor[T any] struct {
	// Operation names the call in logs and metrics
	Operation string
	// Key identifies the result in the cache and among in-flight fetches
	Key string
	// Perform makes a single upstream attempt
	Perform func(ctx context.Context) (T, error)

	EnableCache bool
	CacheTTL    time.Duration

	// Fallback supplies the value used once retries are exhausted; nil means none
	Fallback *fallback.Source[T]
	// Policy overrides the fetcher's retry policy
	Policy *retry.Policy
}

// outcome is what a flight produces. It travels through singleflight as a
// value so that the retry report survives failed flights.
type outcome[T any] struct {
	value     T
	fromCache bool
	report    retry.Report
	err       error
}

// Fetch returns the cached value for d.Key when live, otherwise runs
// d.Perform under the retry policy and caches the result. When every attempt
// fails the fallback value is returned with Success still true and Error set;
// without a fallback the envelope reports the failure.
func Fetch[T any](ctx context.Context, f *Fetcher, d Descriptor[T]) core.Envelope[T] {
	op := operationName(d.Operation)

	if d.EnableCache {
		if value, ok := lookup[T](ctx, f, op, d.Key); ok {
			observability.CacheLookups.WithLabelValues(op, "hit").Inc()
			observability.FetchResults.WithLabelValues(op, string(core.SourceCache)).Inc()
			return core.FromCache(value)
		}
		observability.CacheLookups.WithLabelValues(op, "miss").Inc()
	}

	out := run(ctx, f, op, d)
	if out.fromCache {
		observability.FetchResults.WithLabelValues(op, string(core.SourceCache)).Inc()
		return core.FromCache(out.value)
	}

	if out.err == nil {
		env := core.FromNetwork(out.value)
		env.Attempts = out.report.Errors
		observability.FetchResults.WithLabelValues(op, string(core.SourceNetwork)).Inc()
		return env
	}

	parsed := core.Classify(out.err)
	if value, ok := d.Fallback.Resolve(); ok {
		env := core.FromFallback(value, out.err.Error())
		env.ErrorKind = parsed.Kind
		env.Attempts = out.report.Errors
		observability.FetchResults.WithLabelValues(op, string(core.SourceFallback)).Inc()
		return env
	}

	env := core.Failure[T](parsed.Kind, out.err.Error())
	env.Attempts = out.report.Errors
	observability.FetchResults.WithLabelValues(op, string(core.SourceError)).Inc()
	return env
}

// Offline returns the fallback value without touching the cache, the network
// or the retry policy. It is used when an upstream is not configured.
func Offline[T any](ctx context.Context, f *Fetcher, d Descriptor[T], reason string) core.Envelope[T] {
	op := operationName(d.Operation)

	value, ok := d.Fallback.Resolve()
	if !ok {
		observability.FetchResults.WithLabelValues(op, string(core.SourceError)).Inc()
		return core.Failure[T](core.KindUnknown, reason)
	}

	f.logger.DebugContext(ctx, "serving offline fallback", "operation", op, "key", d.Key, "reason", reason)
	observability.FetchResults.WithLabelValues(op, string(core.SourceFallback)).Inc()
	return core.FromFallback(value, reason)
}

// run performs the live fetch, sharing it with concurrent callers for the
// same key unless duplicates are allowed. A shared flight keeps the values of
// the caller that started it but not its cancellation; a caller whose context
// ends stops waiting while the flight carries on for the others.
func run[T any](ctx context.Context, f *Fetcher, op string, d Descriptor[T]) outcome[T] {
	if f.allowDup || d.Key == "" {
		return flight(ctx, f, op, d)
	}

	detached := context.WithoutCancel(ctx)
	ch := f.flights.DoChan(op+"\x00"+d.Key, func() (any, error) {
		return flight(detached, f, op, d), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			observability.SharedFetches.WithLabelValues(op).Inc()
		}
		return res.Val.(outcome[T])
	case <-ctx.Done():
		return outcome[T]{err: ctx.Err()}
	}
}

// flight is one live fetch: retries, then the cache write on success and the
// error handler on exhaustion.
func flight[T any](ctx context.Context, f *Fetcher, op string, d Descriptor[T]) outcome[T] {
	// A flight that finished between our miss and this call has already
	// cached its result.
	if d.EnableCache {
		if value, ok := lookup[T](ctx, f, op, d.Key); ok {
			return outcome[T]{value: value, fromCache: true}
		}
	}

	start := time.Now()
	value, report, err := retry.DoWithReport(ctx, f.policyFor(op, d.Policy), d.Perform)
	observability.FetchLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		f.logger.WarnContext(ctx, "fetch failed",
			"operation", op,
			"key", d.Key,
			"request_id", core.GetRequestID(ctx),
			"attempts", report.Attempts,
			"error", err,
		)
		if f.errorHandler != nil {
			opts := f.errorHandler.DefaultOptions()
			opts.ShowToast = d.Fallback == nil
			opts.Context = map[string]any{
				"operation": op,
				"key":       d.Key,
				"attempts":  report.Attempts,
			}
			f.errorHandler.HandleError(ctx, err, opts)
		}
		return outcome[T]{report: report, err: err}
	}

	if d.EnableCache {
		store(ctx, f, op, d.Key, value, d.CacheTTL)
	}
	return outcome[T]{value: value, report: report}
}

func (f *Fetcher) policyFor(op string, override *retry.Policy) retry.Policy {
	p := f.policy
	if override != nil {
		p = *override
	}
	if p.Sleep == nil {
		p.Sleep = f.sleep
	}

	next := p.OnRetry
	p.OnRetry = func(attempt int, err core.ParsedError, wait time.Duration) {
		observability.RetryAttempts.WithLabelValues(op, string(err.Kind)).Inc()
		f.logger.Debug("retrying fetch",
			"operation", op,
			"attempt", attempt,
			"kind", err.Kind,
			"wait", wait,
		)
		if next != nil {
			next(attempt, err, wait)
		}
	}
	return p
}

// lookup decodes a cached value. Entries that no longer decode into T are
// evicted and reported as a miss.
func lookup[T any](ctx context.Context, f *Fetcher, op, key string) (T, bool) {
	var value T
	data, ok := f.store.Get(ctx, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		f.logger.WarnContext(ctx, "evicting undecodable cache entry", "operation", op, "key", key, "error", err)
		f.store.Delete(ctx, key)
		var zero T
		return zero, false
	}
	return value, true
}

func store[T any](ctx context.Context, f *Fetcher, op, key string, value T, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		f.logger.WarnContext(ctx, "failed to encode result for cache", "operation", op, "key", key, "error", err)
		return
	}
	f.store.Set(ctx, key, data, ttl)
}

func operationName(op string) string {
	if op == "" {
		return "unnamed"
	}
	return op
}
