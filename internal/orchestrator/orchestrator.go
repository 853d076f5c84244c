// Package orchestrator runs one conversation turn end to end: profile
// selection, slot extraction, history compaction, guarded generation,
// tool resolution, and session bookkeeping.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/saathi-labs/saathi/internal/agents"
	"github.com/saathi-labs/saathi/internal/archive"
	"github.com/saathi-labs/saathi/internal/compactor"
	"github.com/saathi-labs/saathi/internal/customer"
	"github.com/saathi-labs/saathi/internal/gateway"
	"github.com/saathi-labs/saathi/internal/llm"
	"github.com/saathi-labs/saathi/internal/onboarding"
	"github.com/saathi-labs/saathi/internal/session"
	"github.com/saathi-labs/saathi/internal/tools"
)

// TurnResult is the structured outcome of one processed turn.
type TurnResult struct {
	Message            string  `json:"message"`
	Agent              string  `json:"agent"`
	NextAction         string  `json:"nextAction,omitempty"`
	Confidence         float64 `json:"confidence"`
	RequiresEscalation bool    `json:"requiresEscalation"`
}

// User-safe texts for the only error classes that may reach a customer.
const (
	msgNotConfigured = "Service temporarily unavailable. Try again."
	msgRecovering    = "System is recovering from temporary errors. Please retry shortly."
	msgGenerationHit = "Temporary generation issue. Please retry."
)

// Config tunes orchestrator behavior.
type Config struct {
	// APIKey is the upstream credential. Its absence fails each turn
	// gracefully rather than crashing the process.
	APIKey string

	// MaxOutputTokens caps reply length per generation.
	MaxOutputTokens int

	// EchoExtraction also scans model replies for slot values.
	EchoExtraction bool
}

// Orchestrator wires the turn pipeline together.
type Orchestrator struct {
	sessions  *session.Store
	gateway   *gateway.Gateway
	compactor *compactor.Compactor
	tools     *tools.Registry
	engine    *onboarding.Engine
	archive   *archive.Store // optional
	profiles  []agents.Profile
	config    Config
	logger    *slog.Logger
}

// New creates an orchestrator. arch may be nil to disable archiving.
func New(
	sessions *session.Store,
	gw *gateway.Gateway,
	comp *compactor.Compactor,
	registry *tools.Registry,
	engine *onboarding.Engine,
	arch *archive.Store,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		gateway:   gw,
		compactor: comp,
		tools:     registry,
		engine:    engine,
		archive:   arch,
		profiles:  agents.Default(),
		config:    cfg,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Gateway exposes the gateway for health introspection.
func (o *Orchestrator) Gateway() *gateway.Gateway {
	return o.gateway
}

// Sessions exposes the session store so callers can run its janitor.
func (o *Orchestrator) Sessions() *session.Store {
	return o.sessions
}

// ResetSession discards all stored state for a session id.
func (o *Orchestrator) ResetSession(id string) {
	o.sessions.Reset(id)
}

// ProcessTurn handles one user turn. It never returns an error: every
// failure class maps to a user-safe, low-confidence result, and
// internal causes are only logged.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, query string, cust customer.Context) TurnResult {
	start := time.Now()

	if o.config.APIKey == "" {
		o.logger.Error("generation credential missing", "session", sessionID)
		return TurnResult{
			Message:    msgNotConfigured,
			Agent:      agents.GeneralSupport,
			Confidence: 0.3,
		}
	}

	sess := o.sessions.GetOrCreate(sessionID)
	sess.Lock()
	defer sess.Unlock()

	profile := agents.Select(query, o.profiles)

	// Slot extraction runs on the user's words before any generation,
	// so already-volunteered details are never asked for again.
	if profile.Name == agents.CustomerOnboarding {
		o.engine.Extract(sess.OnboardingState(), query)
	}

	o.compactor.MaybeCompact(ctx, sess)

	res, err := o.gateway.Generate(ctx, llm.Request{
		System:          agents.SystemBlock(profile, cust),
		History:         historyMessages(sess.Turns),
		Query:           query,
		Temperature:     profile.Temperature,
		MaxOutputTokens: o.config.MaxOutputTokens,
	})
	if err != nil {
		return o.failedTurn(sessionID, profile.Name, err)
	}

	final, toolName := o.tools.Resolve(ctx, res.Text, cust)

	if profile.Name == agents.CustomerOnboarding {
		final = o.engine.Advance(sess.OnboardingState(), final, o.config.EchoExtraction)
	}

	sess.Append(session.RoleUser, query)
	sess.Append(session.RoleAgent, final)
	sess.LastProfile = profile.Name
	o.compactor.EnforceCap(sess)

	o.recordArchive(sessionID, query, final, profile.Name)

	o.logger.Info("chat turn",
		"session", sessionID,
		"agent", profile.Name,
		"model", res.Model,
		"tool", toolName,
		"latency", time.Since(start).Truncate(time.Millisecond),
	)

	return TurnResult{
		Message:            final,
		Agent:              profile.Name,
		NextAction:         agents.NextAction(profile.Name, query),
		Confidence:         0.9,
		RequiresEscalation: agents.Escalates(final),
	}
}

// failedTurn maps gateway errors onto the user-visible surface. Only
// breaker and exhaustion conditions exist here; both are low-confidence
// and non-escalating, and neither leaks the internal cause.
func (o *Orchestrator) failedTurn(sessionID, profileName string, err error) TurnResult {
	if errors.Is(err, gateway.ErrBreakerOpen) {
		o.logger.Warn("turn short-circuited by breaker", "session", sessionID)
		return TurnResult{
			Message:    msgRecovering,
			Agent:      agents.GeneralSupport,
			Confidence: 0.2,
		}
	}

	var ex *gateway.ExhaustedError
	if errors.As(err, &ex) {
		o.logger.Error("generation exhausted", "session", sessionID, "error", ex.Last)
	} else {
		o.logger.Error("generation failed", "session", sessionID, "error", err)
	}
	return TurnResult{
		Message:    msgGenerationHit,
		Agent:      profileName,
		Confidence: 0.4,
	}
}

// recordArchive best-effort writes the completed exchange; archive
// problems never affect the turn.
func (o *Orchestrator) recordArchive(sessionID, query, reply, agent string) {
	if o.archive == nil {
		return
	}
	if err := o.archive.Record(sessionID, session.RoleUser, query, ""); err != nil {
		o.logger.Warn("archive write failed", "session", sessionID, "error", err)
		return
	}
	if err := o.archive.Record(sessionID, session.RoleAgent, reply, agent); err != nil {
		o.logger.Warn("archive write failed", "session", sessionID, "error", err)
	}
}

// historyMessages converts stored turns to upstream wire roles.
func historyMessages(turns []session.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := "model"
		if t.Role == session.RoleUser {
			role = "user"
		}
		msgs = append(msgs, llm.Message{Role: role, Text: t.Text})
	}
	return msgs
}
