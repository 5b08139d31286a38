package stt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/talkghana/asr-gateway/internal/apierror"
	"github.com/talkghana/asr-gateway/internal/audio"
	"github.com/talkghana/asr-gateway/internal/observability"
	"github.com/talkghana/asr-gateway/internal/resilience"
)

// DefaultRequestTimeout bounds a single transcription attempt
const DefaultRequestTimeout = 30 * time.Second

// ExecutorConfig holds the collaborators of an Executor. Zero values fall
// back to defaults; Cache and Metrics may be nil.
type ExecutorConfig struct {
	Validator       *audio.Validator
	Policy          *resilience.RetryPolicy
	Timeout         time.Duration
	DefaultLanguage string
	DefaultModel    string
	Cache           ResultCache
	Clock           clock.Clock
	Logger          zerolog.Logger
	Metrics         *observability.Metrics
}

// Executor runs one logical transcription: validate once, then call the
// backend with a per-attempt timeout, retrying per the RetryPolicy
type Executor struct {
	backend         Transcriber
	validator       *audio.Validator
	policy          *resilience.RetryPolicy
	timeout         time.Duration
	defaultLanguage string
	defaultModel    string
	cache           ResultCache
	clock           clock.Clock
	logger          zerolog.Logger
	metrics         *observability.Metrics
}

// NewExecutor creates an executor around backend
func NewExecutor(backend Transcriber, cfg ExecutorConfig) *Executor {
	e := &Executor{
		backend:         backend,
		validator:       cfg.Validator,
		policy:          cfg.Policy,
		timeout:         cfg.Timeout,
		defaultLanguage: cfg.DefaultLanguage,
		defaultModel:    cfg.DefaultModel,
		cache:           cfg.Cache,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
	}
	if e.validator == nil {
		e.validator = audio.NewValidator(nil)
	}
	if e.policy == nil {
		e.policy = resilience.NewRetryPolicy(nil)
	}
	if e.timeout <= 0 {
		e.timeout = DefaultRequestTimeout
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	return e
}

// Resolve fills in the default language and the model for that language
func (e *Executor) Resolve(req Request) Request {
	req.Language = strings.ToLower(strings.TrimSpace(req.Language))
	if req.Language == "" {
		req.Language = e.defaultLanguage
	}
	if req.Model == "" {
		req.Model = ModelForLanguage(req.Language, e.defaultModel)
	}
	return req
}

// Execute performs the request with at most MaxRetries+1 backend calls. The
// returned error is always an *apierror.Error.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := e.clock.Now()
	req = e.Resolve(req)

	if err := e.validator.Validate(req.Payload); err != nil {
		final := finalError(err, apierror.Classify(err), 0)
		e.metrics.RecordRequest(final.Kind.String(), 0, e.clock.Since(start))
		return nil, final
	}

	key := CacheKey(req)
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			e.metrics.RecordCacheLookup(true)
			cached.Cached = true
			e.metrics.RecordRequest("success", 0, e.clock.Since(start))
			return cached, nil
		}
		e.metrics.RecordCacheLookup(false)
	}

	e.metrics.RecordAudioBytes(req.Payload.Size())

	rc := RetryContext{StartedAt: start}
	for {
		result, err := e.attempt(ctx, req)
		if err == nil {
			if e.cache != nil {
				e.cache.Set(ctx, key, result)
			}
			e.metrics.RecordRequest("success", rc.Attempt+1, e.clock.Since(start))
			e.logger.Debug().
				Int("attempts", rc.Attempt+1).
				Str("language", req.Language).
				Str("model", req.Model).
				Msg("Transcription succeeded")
			return result, nil
		}

		rc.LastError = apierror.Classify(err)

		// The caller gave up; nothing more to do for it
		if ctx.Err() != nil {
			return nil, e.fail(finalError(err, apierror.KindTimeout, rc.Attempt+1), start)
		}

		decision := e.policy.Decide(rc.LastError, rc.Attempt)
		if !decision.Retry {
			return nil, e.fail(finalError(err, rc.LastError, rc.Attempt+1), start)
		}

		e.metrics.RecordRetry(rc.LastError.String())
		e.logger.Warn().
			Err(err).
			Str("kind", rc.LastError.String()).
			Int("attempt", rc.Attempt+1).
			Dur("delay", decision.Delay).
			Msg("Transcription attempt failed, retrying")

		if err := e.sleep(ctx, decision.Delay); err != nil {
			return nil, e.fail(finalError(err, apierror.KindTimeout, rc.Attempt+1), start)
		}
		rc.Attempt++
	}
}

func (e *Executor) attempt(ctx context.Context, req Request) (*Result, error) {
	attemptCtx, cancel := e.clock.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.backend.Transcribe(attemptCtx, req)
	if err != nil {
		return nil, err
	}
	if result == nil || strings.TrimSpace(result.Text) == "" {
		return nil, apierror.Newf(apierror.KindNoResult, "endpoint returned an empty transcription")
	}
	return result, nil
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := e.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) fail(err *apierror.Error, start time.Time) *apierror.Error {
	e.metrics.RecordRequest(err.Kind.String(), err.Attempts, e.clock.Since(start))
	e.logger.Error().
		Err(err).
		Str("kind", err.Kind.String()).
		Int("attempts", err.Attempts).
		Msg("Transcription failed")
	return err
}

// finalError builds the caller-facing error, keeping the HTTP status if the
// cause carried one
func finalError(err error, kind apierror.Kind, attempts int) *apierror.Error {
	final := &apierror.Error{Kind: kind, Attempts: attempts, Err: err}

	var typed *apierror.Error
	if errors.As(err, &typed) {
		final.StatusCode = typed.StatusCode
		final.Err = typed.Err
	}
	var status *apierror.StatusError
	if errors.As(err, &status) {
		final.StatusCode = status.StatusCode
	}
	return final
}
