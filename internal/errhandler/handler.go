// Package errhandler classifies errors surfaced anywhere in the application
// and applies the side effects that go with them: a transient user
// notification, session invalidation on authentication failures, and
// developer logging.
package errhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agrodata/internal/core"
	"agrodata/internal/observability"
	"agrodata/internal/retry"
)

const (
	// DefaultRedirectDelay leaves the notification readable before navigating away
	DefaultRedirectDelay = 2 * time.Second
	// DefaultSignInPath is where users are sent after an authentication failure
	DefaultSignInPath = "/login"
	// DefaultNotificationTTL is how long a notification stays visible
	DefaultNotificationTTL = 5 * time.Second
)

// Notification is a transient, user-visible message.
type Notification struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Kind      core.ErrorKind `json:"kind"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// CredentialStore holds the credentials dropped on authentication failures.
type CredentialStore interface {
	Clear(ctx context.Context) error
}

// Navigator sends the user to another entry point.
type Navigator interface {
	Navigate(ctx context.Context, target string)
}

// Config holds the collaborators and settings of a Handler.
type Config struct {
	Notifier    Notifier
	Credentials CredentialStore
	Navigator   Navigator
	Logger      *slog.Logger

	// Production hides technical details from users and disables detailed logging by default
	Production bool

	RedirectDelay   time.Duration
	SignInPath      string
	NotificationTTL time.Duration

	// Schedule runs fn after d; defaults to time.AfterFunc.
	Schedule func(d time.Duration, fn func())
	// Now defaults to time.Now.
	Now func() time.Time
}

// Options tunes the side effects of a single HandleError call.
type Options struct {
	// ShowToast emits a user notification with the kind's message
	ShowToast bool
	// RedirectOnAuth clears credentials and schedules the sign-in redirect on AUTH errors
	RedirectOnAuth bool
	// LogDetails logs the raw error and Context
	LogDetails bool
	// Context is attached to the detailed log record
	Context map[string]any
}

// Handler is the application-wide error handling entry point.
type Handler struct {
	notifier        Notifier
	credentials     CredentialStore
	navigator       Navigator
	logger          *slog.Logger
	production      bool
	redirectDelay   time.Duration
	signInPath      string
	notificationTTL time.Duration
	schedule        func(d time.Duration, fn func())
	now             func() time.Time
}

// New creates a Handler. Nil collaborators disable the matching side effect.
func New(cfg Config) *Handler {
	h := &Handler{
		notifier:        cfg.Notifier,
		credentials:     cfg.Credentials,
		navigator:       cfg.Navigator,
		logger:          cfg.Logger,
		production:      cfg.Production,
		redirectDelay:   cfg.RedirectDelay,
		signInPath:      cfg.SignInPath,
		notificationTTL: cfg.NotificationTTL,
		schedule:        cfg.Schedule,
		now:             cfg.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.redirectDelay <= 0 {
		h.redirectDelay = DefaultRedirectDelay
	}
	if h.signInPath == "" {
		h.signInPath = DefaultSignInPath
	}
	if h.notificationTTL <= 0 {
		h.notificationTTL = DefaultNotificationTTL
	}
	if h.schedule == nil {
		h.schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// DefaultOptions returns the options Handle uses: notify, redirect on AUTH,
// and log details outside production.
func (h *Handler) DefaultOptions() Options {
	return Options{
		ShowToast:      true,
		RedirectOnAuth: true,
		LogDetails:     !h.production,
	}
}

// Handle classifies err and applies the default side effects.
func (h *Handler) Handle(ctx context.Context, err error) core.ParsedError {
	return h.HandleError(ctx, err, h.DefaultOptions())
}

// HandleError classifies err, applies the side effects selected by opts and
// returns the classification so callers can branch further.
func (h *Handler) HandleError(ctx context.Context, err error, opts Options) core.ParsedError {
	parsed := core.Classify(err)
	observability.HandledErrors.WithLabelValues(string(parsed.Kind)).Inc()

	requestID := core.GetRequestID(ctx)
	h.logger.WarnContext(ctx, "error handled",
		"kind", parsed.Kind,
		"request_id", requestID,
		"status_code", parsed.StatusCode,
		"retryable", parsed.Retryable,
	)
	if opts.LogDetails {
		h.logger.ErrorContext(ctx, "error details",
			"kind", parsed.Kind,
			"request_id", requestID,
			"error", err,
			"context", opts.Context,
		)
	}

	if opts.ShowToast && h.notifier != nil {
		now := h.now()
		h.notifier.Notify(ctx, Notification{
			ID:        uuid.NewString(),
			Level:     "error",
			Kind:      parsed.Kind,
			Message:   parsed.UserMessage(!h.production),
			RequestID: requestID,
			CreatedAt: now,
			ExpiresAt: now.Add(h.notificationTTL),
		})
	}

	if parsed.Kind == core.KindAuth && opts.RedirectOnAuth {
		h.invalidateSession(context.WithoutCancel(ctx))
	}

	return parsed
}

// invalidateSession drops credentials now and navigates to the sign-in entry
// point after the redirect delay.
func (h *Handler) invalidateSession(ctx context.Context) {
	if h.credentials != nil {
		if err := h.credentials.Clear(ctx); err != nil {
			h.logger.ErrorContext(ctx, "failed to clear credentials", "error", err)
		}
	}
	if h.navigator == nil {
		return
	}
	target := h.signInPath
	h.schedule(h.redirectDelay, func() {
		h.navigator.Navigate(ctx, target)
	})
	h.logger.InfoContext(ctx, "sign-in redirect scheduled", "target", target, "delay", h.redirectDelay)
}

// RetryOnError runs op with a linear retry policy of maxAttempts attempts
// spaced by delay, 2*delay, ... Non-positive arguments keep the defaults.
func RetryOnError[T any](ctx context.Context, op func(context.Context) (T, error), maxAttempts int, delay time.Duration) (T, error) {
	p := retry.DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if delay > 0 {
		p.Delay = delay
	}
	return retry.Do(ctx, p, op)
}
