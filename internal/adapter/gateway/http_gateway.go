package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 10 * time.Second
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 4 * time.Second
	maxBodyBytes       = 8 << 20
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type HTTPGateway struct {
	endpoint    string
	apiKey      string
	client      *http.Client
	maxAttempts int
	timeout     time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration
	limiter     *rate.Limiter
	sleep       Sleeper
	logger      *zap.Logger
}

type Option func(*HTTPGateway)

func WithAPIKey(key string) Option {
	return func(g *HTTPGateway) { g.apiKey = key }
}

func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) { g.client = c }
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(g *HTTPGateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithBackoff(base, max time.Duration) Option {
	return func(g *HTTPGateway) {
		g.baseBackoff = base
		g.maxBackoff = max
	}
}

func WithMaxAttempts(n int) Option {
	return func(g *HTTPGateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithRateLimit throttles outgoing attempts; rps <= 0 leaves calls unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *HTTPGateway) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithSleeper(s Sleeper) Option {
	return func(g *HTTPGateway) { g.sleep = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *HTTPGateway) { g.logger = logging.OrNop(l) }
}

func NewHTTPGateway(endpoint string, opts ...Option) *HTTPGateway {
	g := &HTTPGateway{
		endpoint:    endpoint,
		client:      &http.Client{},
		maxAttempts: defaultMaxAttempts,
		timeout:     defaultTimeout,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		sleep:       sleepContext,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type request struct {
	Action  domain.Action `json:"action"`
	Payload any           `json:"payload,omitempty"`
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// attemptError is the outcome of one failed attempt.
type attemptError struct {
	status    int
	message   string
	transient bool
	err       error
}

func (g *HTTPGateway) Call(ctx context.Context, action domain.Action, payload any) (domain.Response, error) {
	body, err := json.Marshal(request{Action: action, Payload: payload})
	if err != nil {
		return domain.Response{}, fmt.Errorf("encode %s request: %w", action, err)
	}

	start := time.Now()
	var last *attemptError

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := g.Backoff(attempt - 1)
			g.logger.Warn("retrying gateway call",
				zap.String("action", string(action)),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(last.err),
				zap.Int("status", last.status),
			)
			if err := g.sleep(ctx, wait); err != nil {
				return domain.Response{}, g.fail(action, last, attempt-1, start, err)
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return domain.Response{}, g.fail(action, last, attempt-1, start, err)
			}
		}

		resp, aerr := g.attempt(ctx, action, body)
		if aerr == nil {
			metrics.RecordGatewayCall(string(action), "success", attempt, time.Since(start))
			return resp, nil
		}
		last = aerr

		if !aerr.transient {
			return domain.Response{}, g.fail(action, last, attempt, start, nil)
		}
		// caller cancelled: do not burn the remaining budget
		if ctx.Err() != nil {
			return domain.Response{}, g.fail(action, last, attempt, start, ctx.Err())
		}
	}

	return domain.Response{}, g.fail(action, last, g.maxAttempts, start, nil)
}

// Backoff is the wait after the given failed attempt:
// min(base * 2^(attempt-1), max).
func (g *HTTPGateway) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := g.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= g.maxBackoff {
			return g.maxBackoff
		}
	}
	if d > g.maxBackoff {
		return g.maxBackoff
	}
	return d
}

func (g *HTTPGateway) attempt(ctx context.Context, action domain.Action, body []byte) (domain.Response, *attemptError) {
	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Response{}, &attemptError{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	res, err := g.client.Do(req)
	if err != nil {
		// no response at all, including the per-attempt deadline
		return domain.Response{}, &attemptError{transient: true, err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return domain.Response{}, &attemptError{status: res.StatusCode, err: fmt.Errorf("read body: %w", err)}
	}

	if res.StatusCode == http.StatusBadGateway || res.StatusCode == http.StatusServiceUnavailable {
		return domain.Response{}, &attemptError{status: res.StatusCode, transient: true, message: errorMessage(raw)}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return domain.Response{}, &attemptError{status: res.StatusCode, message: errorMessage(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Response{}, &attemptError{status: res.StatusCode, err: fmt.Errorf("decode envelope: %w", err)}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request declared failure"
		}
		return domain.Response{}, &attemptError{status: res.StatusCode, message: msg}
	}

	return domain.Response{Action: action, Body: raw}, nil
}

func (g *HTTPGateway) fail(action domain.Action, last *attemptError, attempts int, start time.Time, cause error) error {
	gerr := &domain.GatewayError{Action: action, Attempts: attempts, Transient: true, Err: cause}
	if last != nil {
		gerr.Status = last.status
		gerr.Message = last.message
		gerr.Transient = last.transient
		if gerr.Err == nil {
			gerr.Err = last.err
		}
	}

	outcome := "rejected"
	if gerr.Transient {
		outcome = "transient"
	}
	metrics.RecordGatewayCall(string(action), outcome, attempts, time.Since(start))

	g.logger.Error("gateway call failed",
		zap.String("action", string(action)),
		zap.Int("attempts", attempts),
		zap.Int("status", gerr.Status),
		zap.String("outcome", outcome),
		zap.Error(gerr),
	)
	return gerr
}

func errorMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		return env.Error
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToGlobalID and FromGlobalID expose id canonicalization on the gateway so
// callers holding only the gateway can build wire ids.
func (g *HTTPGateway) ToGlobalID(id, typ string) string { return domain.ToGlobalID(id, typ) }

func (g *HTTPGateway) FromGlobalID(id string) string { return domain.FromGlobalID(id) }

// IsTransient reports whether err came from an exhausted retry budget.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrTransientNetwork)
}
