package gateway

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/saathi-labs/saathi/internal/llm"
)

// Config controls fallback and breaker behavior.
type Config struct {
	// Models is the default fallback chain, tried in order.
	Models []string

	// Threshold is the number of consecutive exhausted chains that
	// trips the breaker. Default: 3.
	Threshold int

	// Cooldown is how long the breaker stays open. Default: 60s.
	Cooldown time.Duration

	// AttemptTimeout bounds one backend attempt. A timeout counts as a
	// transient failure of that backend. Default: 30s.
	AttemptTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
}

// Gateway walks a fallback chain of generation backends and guards the
// upstream with a circuit breaker. All mutable health state is owned by
// the instance and guarded by one mutex, so independent gateways (per
// test, per tenant) never interfere.
type Gateway struct {
	backend llm.Backend
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	healthy  []string
	failures int       // consecutive exhausted chains
	openedAt time.Time // zero while the breaker is closed
}

// New creates a gateway over the given backend.
func New(backend llm.Backend, cfg Config, logger *slog.Logger) *Gateway {
	cfg.applyDefaults()
	return &Gateway{
		backend: backend,
		config:  cfg,
		logger:  logger.With("component", "gateway"),
		now:     time.Now,
		healthy: slices.Clone(cfg.Models),
	}
}

// Health is a point-in-time snapshot of gateway state.
type Health struct {
	Models              []string  `json:"models"`
	Healthy             []string  `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	BreakerOpen         bool      `json:"breaker_open"`
	BreakerOpenedAt     time.Time `json:"breaker_opened_at,omitempty"`
	BreakerClosesAt     time.Time `json:"breaker_closes_at,omitempty"`
}

// Health returns the current breaker and backend state.
func (g *Gateway) Health() Health {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := Health{
		Models:              slices.Clone(g.config.Models),
		Healthy:             slices.Clone(g.healthy),
		ConsecutiveFailures: g.failures,
		BreakerOpen:         g.openLocked(),
	}
	if !g.openedAt.IsZero() {
		h.BreakerOpenedAt = g.openedAt
		h.BreakerClosesAt = g.openedAt.Add(g.config.Cooldown)
	}
	return h
}

// openLocked reports whether the breaker currently blocks calls.
// Caller holds g.mu.
func (g *Gateway) openLocked() bool {
	return !g.openedAt.IsZero() && g.now().Sub(g.openedAt) < g.config.Cooldown
}

// beginChain performs the breaker check and hands back the candidate
// list for one fallback walk. It returns ErrBreakerOpen when the call
// must be short-circuited. An elapsed cooldown closes the breaker and
// resets the failure counter. The healthy list is restored to the full
// default chain at the start of every walk; it only shrinks while the
// walk runs.
func (g *Gateway) beginChain() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.openedAt.IsZero() {
		if g.now().Sub(g.openedAt) < g.config.Cooldown {
			return nil, ErrBreakerOpen
		}
		g.logger.Info("breaker cooldown elapsed, closing",
			"open_for", g.now().Sub(g.openedAt).Truncate(time.Second),
		)
		g.openedAt = time.Time{}
		g.failures = 0
	}

	g.healthy = slices.Clone(g.config.Models)
	return slices.Clone(g.healthy), nil
}

// Generate walks the healthy backend chain until one attempt succeeds.
//
// Success resets the consecutive-failure counter. Each failed attempt
// removes that backend from the healthy list and moves on. An exhausted
// chain restores the healthy list, increments the failure counter, trips
// the breaker at the configured threshold, and returns ExhaustedError.
// A structurally empty reply marks that backend unhealthy but still
// returns the placeholder result instead of escalating.
func (g *Gateway) Generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	candidates, err := g.beginChain()
	if err != nil {
		g.logger.Warn("generation short-circuited", "error", err)
		return nil, err
	}

	var lastErr error
	for _, model := range candidates {
		attemptCtx, cancel := context.WithTimeout(ctx, g.config.AttemptTimeout)
		start := g.now()
		res, err := g.backend.Generate(attemptCtx, model, req)
		cancel()

		if err != nil {
			lastErr = err
			g.logger.Warn("backend attempt failed",
				"model", model,
				"error", err,
			)
			g.dropBackend(model)
			continue
		}

		g.mu.Lock()
		g.failures = 0
		g.mu.Unlock()

		if res.Empty {
			// The backend is answering but not producing content.
			// Count that against its health without failing the turn.
			g.dropBackend(model)
		}

		g.logger.Info("generation succeeded",
			"model", model,
			"latency", g.now().Sub(start).Truncate(time.Millisecond),
			"empty", res.Empty,
		)
		return res, nil
	}

	return nil, g.chainExhausted(lastErr)
}

// dropBackend removes a backend from the healthy list for the remainder
// of the current walk.
func (g *Gateway) dropBackend(model string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healthy = slices.DeleteFunc(g.healthy, func(m string) bool { return m == model })
}

// chainExhausted records a fully failed walk and returns the error to
// surface. The healthy list is restored so the next call starts fresh.
func (g *Gateway) chainExhausted(lastErr error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.healthy = slices.Clone(g.config.Models)
	g.failures++

	if g.failures >= g.config.Threshold && g.openedAt.IsZero() {
		g.openedAt = g.now()
		g.logger.Error("breaker opened",
			"consecutive_failures", g.failures,
			"cooldown", g.config.Cooldown,
		)
	} else {
		g.logger.Error("generation chain exhausted",
			"consecutive_failures", g.failures,
			"error", lastErr,
		)
	}

	return &ExhaustedError{Last: lastErr}
}
