package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"casedraft-backend/models"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Config bounds gateway retries. Zero values fall back to DefaultConfig.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
	RatePerSecond  float64
	Burst          int
}

// DefaultConfig mirrors the old generation client: 3 attempts starting at 1s
var DefaultConfig = Config{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     10 * time.Second,
	CallTimeout:    120 * time.Second,
	RatePerSecond:  0,
	Burst:          1,
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultConfig.CallTimeout
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Gateway wraps an Engine with timeout, retry, rate limiting and result
// validation
type Gateway struct {
	engine  Engine
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithConfig sets retry bounds
func WithConfig(cfg Config) GatewayOption {
	return func(g *Gateway) {
		g.cfg = cfg.withDefaults()
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway creates a gateway over e
func NewGateway(e Engine, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		engine: e,
		cfg:    DefaultConfig.withDefaults(),
		logger: slog.Default(),
		tracer: otel.Tracer("casedraft/engine"),
	}
	for _, opt := range opts {
		opt(g)
	}

	limit := rate.Inf
	if g.cfg.RatePerSecond > 0 {
		limit = rate.Limit(g.cfg.RatePerSecond)
	}
	g.limiter = rate.NewLimiter(limit, g.cfg.Burst)
	return g
}

// Consult calls the engine for req.Kind and returns a validated result or an *Error
func (g *Gateway) Consult(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, &Error{Kind: req.Kind, Code: CodeRejected, Err: err}
	}

	ctx, span := g.tracer.Start(ctx, "engine.consult",
		trace.WithAttributes(attribute.String("engine.kind", string(req.Kind))))
	defer span.End()

	start := time.Now()
	var (
		result   *Result
		attempts int
		lastCode Code
	)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.cfg.InitialBackoff
	exp.MaxInterval = g.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(g.cfg.MaxAttempts-1)), ctx)

	operation := func() error {
		attempts++
		if err := g.limiter.Wait(ctx); err != nil {
			lastCode = CodeTimeout
			return backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		res, err := g.engine.Call(callCtx, req)
		if err == nil {
			err = ValidateResult(req.Kind, res)
		}
		if err != nil {
			lastCode = classify(err, callCtx)
			g.logger.WarnContext(ctx, "engine attempt failed",
				"kind", req.Kind,
				"attempt", attempts,
				"code", lastCode,
				"error", err,
			)
			if !lastCode.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	err := backoff.Retry(operation, policy)

	span.SetAttributes(attribute.Int("engine.attempts", attempts))
	callDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
	callAttempts.WithLabelValues(string(req.Kind)).Observe(float64(attempts))

	if err != nil {
		if lastCode == "" || (ctx.Err() != nil && lastCode != CodeRejected) {
			lastCode = CodeTimeout
			if errors.Is(ctx.Err(), context.Canceled) {
				lastCode = CodeUnavailable
			}
		}
		failure := &Error{Kind: req.Kind, Code: lastCode, Attempts: attempts, Err: err}
		callsTotal.WithLabelValues(string(req.Kind), string(lastCode)).Inc()
		span.RecordError(failure)
		span.SetStatus(codes.Error, string(lastCode))
		return nil, failure
	}

	callsTotal.WithLabelValues(string(req.Kind), "ok").Inc()
	return result, nil
}

func validateRequest(req Request) error {
	switch req.Kind {
	case KindReasoning:
		if req.Reasoning == nil {
			return errors.New("reasoning request without payload")
		}
	case KindDrafting:
		if req.Drafting == nil {
			return errors.New("drafting request without payload")
		}
		if len(req.Drafting.Plan.Steps) == 0 {
			return errors.New("drafting request without plan steps")
		}
	default:
		return fmt.Errorf("unknown engine kind %q", req.Kind)
	}
	return nil
}

// ValidateResult rejects empty or inconsistent answers so they are retried
// instead of being treated as success
func ValidateResult(kind Kind, res *Result) error {
	if res == nil {
		return Unavailable(errors.New("empty response"))
	}
	if res.Kind != "" && res.Kind != kind {
		return Unavailable(fmt.Errorf("response kind %q does not match request kind %q", res.Kind, kind))
	}
	res.Kind = kind

	switch kind {
	case KindReasoning:
		v := res.Verdict
		if v == nil {
			return Unavailable(errors.New("reasoning response without verdict"))
		}
		switch v.Kind {
		case models.VerdictNeedMoreInfo:
			if len(v.Questions) == 0 && len(v.Lookups) == 0 {
				return Unavailable(errors.New("need-more-info verdict without questions or lookups"))
			}
		case models.VerdictPlanReady:
			if len(v.Steps) == 0 {
				return Unavailable(errors.New("plan-ready verdict without steps"))
			}
		default:
			return Unavailable(fmt.Errorf("unknown verdict %q", v.Kind))
		}
	case KindDrafting:
		if res.Document == nil || strings.TrimSpace(res.Document.Markdown) == "" {
			return Unavailable(errors.New("drafting response without content"))
		}
	}
	return nil
}
