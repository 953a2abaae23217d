package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/store"
)

const (
	// DefaultBudget is the wall-clock budget for one generation run,
	// measured from the moment the retry loop starts.
	DefaultBudget = 16 * time.Second

	// acceptScore stops the loop as soon as a draft reaches it.
	acceptScore = 85
)

// noDraftHTML is stored when every generation attempt failed.
const noDraftHTML = "<p class='error'>Failed to generate a valid exam within the time limit.</p>"

// crashHTML is stored when a run dies unexpectedly.
const crashHTML = "<p class='error'>Exam generation failed unexpectedly.</p>"

// LLM is the agent capability the coordinator drives. *llm.Client
// satisfies it; tests substitute scripted fakes.
type LLM interface {
	Generate(ctx context.Context, cfg model.ExamConfig, feedback string) (*model.ExamDocument, error)
	Evaluate(ctx context.Context, doc *model.ExamDocument, cfg model.ExamConfig) model.Evaluation
	Format(ctx context.Context, doc *model.ExamDocument) string
}

// Coordinator drives the generate -> evaluate -> retry-with-feedback ->
// format loop for one session at a time. Cancellation is cooperative:
// the session's status field is re-read from the store at the top of
// each iteration and once more before the final write.
type Coordinator struct {
	store  *store.Store
	llm    LLM
	budget time.Duration
}

// New creates a coordinator. A zero budget falls back to DefaultBudget.
func New(s *store.Store, l LLM, budget time.Duration) *Coordinator {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Coordinator{store: s, llm: l, budget: budget}
}

// Start launches a run on its own goroutine and returns immediately.
// Completion is observed by polling the session's status.
func (c *Coordinator) Start(sessionID string) {
	go c.Run(sessionID)
}

// Run executes one full generation run. Nothing propagates past this
// boundary: every outcome, including a panic, ends in a terminal
// session status (best effort for the crash path).
func (c *Coordinator) Run(sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("generation run panicked", "session_id", sessionID, "panic", r)
			c.failBestEffort(sessionID)
		}
	}()

	if err := c.run(sessionID); err != nil {
		slog.Error("generation run failed", "session_id", sessionID, "error", err)
		c.failBestEffort(sessionID)
	}
}

func (c *Coordinator) run(sessionID string) error {
	ctx := context.Background()

	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if sess.Status.Terminal() {
		slog.Info("session already terminal, skipping run", "session_id", sessionID, "status", sess.Status)
		return nil
	}

	// Persist PROCESSING before the first model call so a concurrent
	// status poll observes that work has begun.
	if err := c.store.UpdateSessionStatus(sessionID, model.StatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	slog.Info("starting generation run", "session_id", sessionID,
		"difficulty", sess.Config.Difficulty, "topic", sess.Config.Topic(),
		"num_questions", sess.Config.NumQuestions, "budget", c.budget)

	start := time.Now()
	var best *model.ExamDocument
	bestScore := -1
	feedback := ""
	attempt := 1

	for time.Since(start) < c.budget {
		status, err := c.store.GetSessionStatus(sessionID)
		if err != nil {
			return fmt.Errorf("poll status: %w", err)
		}
		if status == model.StatusCancelled {
			slog.Info("run cancelled by user", "session_id", sessionID, "attempt", attempt)
			return nil
		}

		draft, err := c.llm.Generate(ctx, sess.Config, feedback)
		if err != nil {
			// No draft this round; retry on the same configuration.
			slog.Warn("draft generation failed", "session_id", sessionID, "attempt", attempt, "error", err)
			attempt++
			continue
		}

		eval := c.llm.Evaluate(ctx, draft, sess.Config)
		slog.Info("draft evaluated", "session_id", sessionID, "attempt", attempt,
			"score", eval.Score, "feedback", eval.Feedback,
			"elapsed", time.Since(start).Round(time.Millisecond))

		// Strict > keeps the earliest draft at any given score.
		if eval.Score > bestScore {
			bestScore = eval.Score
			best = draft
		}

		if eval.Score >= acceptScore {
			slog.Info("quality satisfied, finalizing", "session_id", sessionID, "score", eval.Score)
			break
		}

		feedback = eval.Feedback
		attempt++
	}

	// A cancellation that arrived during the last iteration must still
	// suppress the result.
	status, err := c.store.GetSessionStatus(sessionID)
	if err != nil {
		return fmt.Errorf("final status check: %w", err)
	}
	if status == model.StatusCancelled {
		slog.Info("run cancelled before final write", "session_id", sessionID)
		return nil
	}

	if best == nil {
		slog.Warn("no valid draft produced within budget", "session_id", sessionID)
		if err := c.store.FinishSession(sessionID, model.StatusFailed, noDraftHTML); err != nil {
			return fmt.Errorf("finish session: %w", err)
		}
		return nil
	}

	html := c.llm.Format(ctx, best)
	if err := c.store.FinishSession(sessionID, model.StatusCompleted, html); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	slog.Info("generation run completed", "session_id", sessionID,
		"best_score", bestScore, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// failBestEffort forces the session to FAILED unless it already reached
// a terminal state. A failure of this write itself is only logged; the
// reaper picks up anything left stuck in PROCESSING.
func (c *Coordinator) failBestEffort(sessionID string) {
	if err := c.store.FailSession(sessionID, crashHTML); err != nil {
		slog.Error("failed to mark session failed", "session_id", sessionID, "error", err)
	}
}
