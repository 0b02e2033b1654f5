// Package refine runs the bounded review and rewrite loop that polishes
// a drafted scene. Every review and every rewrite is checkpointed under
// the owning stage, so a crash mid-loop resumes at the exact cycle it
// stopped.
package refine

import (
	"context"
	"fmt"

	"github.com/odvcencio/scrivener/pkg/checkpoint"
	"github.com/odvcencio/scrivener/pkg/logging"
)

// ReviewFunc critiques content. ok reports whether the reviewer had
// actionable feedback; ok false means the content stands as written.
type ReviewFunc func(ctx context.Context, content string, cycle int) (feedback string, ok bool, err error)

// RewriteFunc applies feedback. ok reports whether a usable revision
// was produced; ok false stops the loop keeping the last good content.
type RewriteFunc func(ctx context.Context, content, feedback string, cycle int) (revised string, ok bool, err error)

// Result describes one finished refinement. Feedback holds the review
// points of every cycle that produced any, in order, so the caller can
// persist the critique alongside the content it shaped.
type Result struct {
	Content      string   `json:"content"`
	CyclesRun    int      `json:"cycles_run"`
	StoppedEarly bool     `json:"stopped_early"`
	Feedback     []string `json:"feedback,omitempty"`
}

type cycleReview struct {
	Feedback string `json:"feedback"`
	Skipped  bool   `json:"skipped"`
}

type cycleRewrite struct {
	Content  string `json:"content"`
	Declined bool   `json:"declined"`
}

// Loop is a reusable refinement policy bound to a checkpoint store.
type Loop struct {
	checkpoints *checkpoint.Store
	cycles      int
	logger      *logging.Logger
}

// NewLoop builds a loop running at most cycles review/rewrite rounds.
func NewLoop(checkpoints *checkpoint.Store, cycles int, logger *logging.Logger) *Loop {
	if cycles < 0 {
		cycles = 0
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loop{checkpoints: checkpoints, cycles: cycles, logger: logger}
}

// Refine polishes draft under the given stage. The stage's checkpoints
// are left in place for the caller to discard after it commits the
// final content.
func (l *Loop) Refine(ctx context.Context, stage, draft string, review ReviewFunc, rewrite RewriteFunc) (*Result, error) {
	content := draft
	var feedback []string

	for cycle := 0; cycle < l.cycles; cycle++ {
		reviewRec, err := checkpoint.GetOrComputeAs(l.checkpoints, stage,
			fmt.Sprintf("review-%d", cycle),
			func() (cycleReview, error) {
				feedback, ok, err := review(ctx, content, cycle)
				if err != nil {
					return cycleReview{}, err
				}
				return cycleReview{Feedback: feedback, Skipped: !ok}, nil
			})
		if err != nil {
			return nil, err
		}

		// A cycle with no feedback is skipped, not fatal: the content
		// stands and the next cycle gets a fresh look.
		if reviewRec.Skipped {
			l.logger.Info(logging.CategoryRefine, "review_clean", "reviewer had no feedback, skipping cycle", map[string]any{
				"stage": stage,
				"cycle": cycle,
			})
			continue
		}
		feedback = append(feedback, reviewRec.Feedback)

		rewriteRec, err := checkpoint.GetOrComputeAs(l.checkpoints, stage,
			fmt.Sprintf("rewrite-%d", cycle),
			func() (cycleRewrite, error) {
				revised, ok, err := rewrite(ctx, content, reviewRec.Feedback, cycle)
				if err != nil {
					return cycleRewrite{}, err
				}
				return cycleRewrite{Content: revised, Declined: !ok}, nil
			})
		if err != nil {
			return nil, err
		}

		if rewriteRec.Declined {
			l.logger.Warn(logging.CategoryRefine, "rewrite_declined", "rewrite produced nothing usable, keeping last good content", map[string]any{
				"stage": stage,
				"cycle": cycle,
			})
			return &Result{Content: content, CyclesRun: cycle, StoppedEarly: true, Feedback: feedback}, nil
		}

		content = rewriteRec.Content
		l.logger.Info(logging.CategoryRefine, "cycle_done", "applied rewrite", map[string]any{
			"stage": stage,
			"cycle": cycle,
		})
	}

	return &Result{Content: content, CyclesRun: l.cycles, StoppedEarly: false, Feedback: feedback}, nil
}
