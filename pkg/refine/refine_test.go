package refine

import (
	"context"
	"fmt"
	"testing"

	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"

	"github.com/odvcencio/scrivener/pkg/checkpoint"
)

func alwaysReview(feedback string) ReviewFunc {
	return func(ctx context.Context, content string, cycle int) (string, bool, error) {
		return feedback, true, nil
	}
}

func TestRefine_RunsAllCycles(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir(), nil)
	loop := NewLoop(store, 3, nil)

	rewrites := 0
	rewrite := func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
		rewrites++
		return fmt.Sprintf("%s (rev %d)", content, cycle), true, nil
	}

	result, err := loop.Refine(context.Background(), "scene-0", "draft", alwaysReview("tighten"), rewrite)
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}

	if result.CyclesRun != 3 || result.StoppedEarly {
		t.Errorf("result = %+v, want 3 full cycles", result)
	}
	if result.Content != "draft (rev 0) (rev 1) (rev 2)" {
		t.Errorf("Content = %q", result.Content)
	}
	if rewrites != 3 {
		t.Errorf("rewrite ran %d times, want 3", rewrites)
	}
}

func TestRefine_NoFeedbackSkipsCycleWithoutRewriting(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir(), nil)
	loop := NewLoop(store, 3, nil)

	reviews := 0
	review := func(ctx context.Context, content string, cycle int) (string, bool, error) {
		reviews++
		return "", false, nil
	}
	rewrite := func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
		t.Fatal("rewrite must not run when the reviewer has no feedback")
		return "", false, nil
	}

	result, err := loop.Refine(context.Background(), "scene-1", "draft", review, rewrite)
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	// Every cycle runs, every cycle is skipped, the draft survives.
	if result.Content != "draft" || result.StoppedEarly || result.CyclesRun != 3 {
		t.Errorf("result = %+v", result)
	}
	if reviews != 3 {
		t.Errorf("review ran %d times, want 3", reviews)
	}
}

func TestRefine_SkippedCycleStillTriesNextCycle(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir(), nil)
	loop := NewLoop(store, 3, nil)

	review := func(ctx context.Context, content string, cycle int) (string, bool, error) {
		if cycle == 0 {
			return "", false, nil
		}
		return "tighten the middle", true, nil
	}
	rewrites := 0
	rewrite := func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
		rewrites++
		return content + " (revised)", true, nil
	}

	result, err := loop.Refine(context.Background(), "scene-6", "draft", review, rewrite)
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if rewrites != 2 {
		t.Errorf("rewrite ran %d times, want 2 (cycles 1 and 2)", rewrites)
	}
	if result.Content != "draft (revised) (revised)" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestRefine_DeclinedRewriteKeepsLastGoodContent(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir(), nil)
	loop := NewLoop(store, 3, nil)

	rewrite := func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
		if cycle == 0 {
			return "improved draft", true, nil
		}
		return "", false, nil
	}

	result, err := loop.Refine(context.Background(), "scene-2", "draft", alwaysReview("more tension"), rewrite)
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if result.Content != "improved draft" {
		t.Errorf("Content = %q, want the cycle-0 revision", result.Content)
	}
	if !result.StoppedEarly || result.CyclesRun != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestRefine_ResumesFromCheckpoints(t *testing.T) {
	dir := t.TempDir()
	stage := "scene-3"

	// First run crashes during the cycle-1 rewrite.
	{
		store := checkpoint.NewStore(dir, nil)
		loop := NewLoop(store, 3, nil)

		rewrite := func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
			if cycle == 1 {
				return "", false, scrivenererrors.New(scrivenererrors.ErrCodeTransportFailure, "connection reset")
			}
			return content + " v2", true, nil
		}

		_, err := loop.Refine(context.Background(), stage, "draft", alwaysReview("notes"), rewrite)
		if err == nil {
			t.Fatal("expected first run to fail")
		}
	}

	// Second run replays checkpointed cycles without re-invoking them.
	{
		store := checkpoint.NewStore(dir, nil)
		loop := NewLoop(store, 3, nil)

		var reviewCycles, rewriteCycles []int
		review := func(ctx context.Context, content string, cycle int) (string, bool, error) {
			reviewCycles = append(reviewCycles, cycle)
			return "notes", true, nil
		}
		rewrite := func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
			rewriteCycles = append(rewriteCycles, cycle)
			return content + " again", true, nil
		}

		result, err := loop.Refine(context.Background(), stage, "draft", review, rewrite)
		if err != nil {
			t.Fatalf("resumed Refine() error = %v", err)
		}

		// Cycle 0 review and rewrite plus the cycle 1 review were
		// checkpointed in the first run.
		if len(reviewCycles) != 1 || reviewCycles[0] != 2 {
			t.Errorf("review re-ran cycles %v, want only cycle 2", reviewCycles)
		}
		if len(rewriteCycles) != 2 || rewriteCycles[0] != 1 || rewriteCycles[1] != 2 {
			t.Errorf("rewrite re-ran cycles %v, want cycles 1 and 2", rewriteCycles)
		}
		if result.CyclesRun != 3 {
			t.Errorf("CyclesRun = %d, want 3", result.CyclesRun)
		}
	}
}

func TestRefine_ZeroCyclesReturnsDraft(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir(), nil)
	loop := NewLoop(store, 0, nil)

	result, err := loop.Refine(context.Background(), "scene-4", "draft",
		alwaysReview("unused"),
		func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
			return "", false, nil
		})
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if result.Content != "draft" || result.CyclesRun != 0 {
		t.Errorf("result = %+v", result)
	}
}
