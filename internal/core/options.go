package core

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for periods and generated keys.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithFlushWindow overrides the debounce window.
func WithFlushWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.window = window
		}
	}
}

// WithPeriod pins the evaluation period written with each batch. The default
// is the current month.
func WithPeriod(period string) Option {
	return func(e *Engine) { e.period = period }
}

// WithSuggester enables Suggest.
func WithSuggester(s Suggester) Option {
	return func(e *Engine) { e.suggester = s }
}

// WithCredentials registers the store invalidated on authentication failure.
func WithCredentials(c CredentialStore) Option {
	return func(e *Engine) { e.creds = c }
}

// WithAuthExpiredHook registers a callback run after the credential has been
// invalidated. It must not call back into the engine synchronously.
func WithAuthExpiredHook(fn func()) Option {
	return func(e *Engine) { e.onAuthExpired = fn }
}
