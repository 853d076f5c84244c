// Package compactor bounds conversation history size by replacing older
// turns with a single synthetic summary turn.
package compactor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/saathi-labs/saathi/internal/llm"
	"github.com/saathi-labs/saathi/internal/session"
)

// Generator is the slice of the gateway the compactor needs. Defined
// here so tests can substitute a fake without a network stack.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Config controls compaction behavior.
type Config struct {
	// SummarizeAfter is the soft threshold: compaction triggers when
	// history length exceeds it. Default: 12.
	SummarizeAfter int
	// KeepRecent turns are retained verbatim through compaction.
	// Default: 4.
	KeepRecent int
	// MaxHistory is the hard cap enforced after every append.
	// Default: 18.
	MaxHistory int
}

func (c *Config) applyDefaults() {
	if c.SummarizeAfter <= 0 {
		c.SummarizeAfter = 12
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = 4
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 18
	}
}

// SummaryPrefix opens every synthetic summary turn.
const SummaryPrefix = "Conversation summary: "

const summarizerSystem = "You are a concise summarizer."

const summarizerTemperature = 0.3

// Compactor compacts session histories via the generation gateway.
type Compactor struct {
	generator Generator
	config    Config
	logger    *slog.Logger
}

// New creates a compactor.
func New(generator Generator, cfg Config, logger *slog.Logger) *Compactor {
	cfg.applyDefaults()
	return &Compactor{
		generator: generator,
		config:    cfg,
		logger:    logger.With("component", "compactor"),
	}
}

// MaybeCompact compacts sess when its history exceeds the soft
// threshold: the most recent KeepRecent turns survive verbatim, the
// older prefix is summarized upstream and replaced with one synthetic
// summary turn. A failed summarization is logged and skipped — the
// history is left unmodified and compaction retries on a later turn.
// The caller must hold the session lock.
func (c *Compactor) MaybeCompact(ctx context.Context, sess *session.Session) {
	if len(sess.Turns) <= c.config.SummarizeAfter {
		return
	}

	cut := len(sess.Turns) - c.config.KeepRecent
	if cut <= 0 {
		return
	}
	older := sess.Turns[:cut]

	res, err := c.generator.Generate(ctx, llm.Request{
		System:      summarizerSystem,
		Query:       summaryPrompt(older),
		Temperature: summarizerTemperature,
	})
	if err != nil {
		c.logger.Warn("summarization failed, compaction skipped",
			"session", sess.ID,
			"turns", len(sess.Turns),
			"error", err,
		)
		return
	}

	sess.Summary = res.Text
	compacted := make([]session.Turn, 0, c.config.KeepRecent+1)
	compacted = append(compacted, session.Turn{
		Role:      session.RoleUser,
		Text:      SummaryPrefix + res.Text,
		Summary:   true,
		Timestamp: older[len(older)-1].Timestamp,
	})
	compacted = append(compacted, sess.Turns[cut:]...)
	sess.Turns = compacted

	c.logger.Info("history compacted",
		"session", sess.ID,
		"summarized", cut,
		"new_len", len(sess.Turns),
	)
}

// EnforceCap drops turns beyond the hard cap from the oldest end,
// keeping position 0 when it holds a summary turn. Called after every
// append; the caller must hold the session lock.
func (c *Compactor) EnforceCap(sess *session.Session) {
	excess := len(sess.Turns) - c.config.MaxHistory
	if excess <= 0 {
		return
	}
	if sess.Turns[0].Summary {
		sess.Turns = append(sess.Turns[:1], sess.Turns[1+excess:]...)
	} else {
		sess.Turns = sess.Turns[excess:]
	}
	c.logger.Debug("hard cap enforced", "session", sess.ID, "dropped", excess)
}

// summaryPrompt renders the turns to summarize as a labelled dialogue.
func summaryPrompt(turns []session.Turn) string {
	var b strings.Builder
	b.WriteString("Summarize the following dialogue succinctly retaining key facts (EMI amounts, loan intent, complaints):\n")
	for _, turn := range turns {
		label := "AI"
		if turn.Role == session.RoleUser {
			label = "User"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	return b.String()
}
