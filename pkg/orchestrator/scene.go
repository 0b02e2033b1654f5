package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/scrivener/pkg/checkpoint"
	"github.com/odvcencio/scrivener/pkg/gemini"
	"github.com/odvcencio/scrivener/pkg/logging"
	"github.com/odvcencio/scrivener/pkg/prompts"
	"github.com/odvcencio/scrivener/pkg/story"
)

// sceneStep drafts, refines, and finalizes the next scene of the arc.
// Every model call inside the step is checkpointed; the world state is
// only touched in the finalize block at the end, and the checkpoints
// are discarded strictly after that state is durably saved.
func (o *Orchestrator) sceneStep(ctx context.Context, world *story.WorldState, arc *story.MacroArc) error {
	plan, sceneIndex, err := arc.NextScene()
	if err != nil {
		return err
	}
	stage := fmt.Sprintf("scene-%s-%d", arc.ID, sceneIndex)
	o.logger.SetStage(stage)
	defer o.logger.SetStage("")
	started := time.Now()

	novel, err := o.store.LoadNovel()
	if err != nil {
		return err
	}
	recent := novel.RecentChapters(3)
	dossiers, err := o.store.ListDossiers()
	if err != nil {
		return err
	}

	draft, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "draft",
		func() (prompts.SceneDraft, error) {
			var out prompts.SceneDraft
			err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
				Caller:            "novelist",
				Purpose:           "scene_draft",
				SystemInstruction: prompts.NovelistSystem,
				Prompt:            prompts.ScenePrompt(arc, plan, sceneIndex, recent, dossiers),
				ResponseSchema:    prompts.SceneDraftSchema(),
			}, &out)
			if err != nil {
				return out, err
			}
			if len(out.Paragraphs) == 0 {
				out.Paragraphs = []string{""}
			}
			return out, nil
		})
	if err != nil {
		return err
	}
	content := strings.Join(draft.Paragraphs, "\n\n")

	refined, err := o.loop.Refine(ctx, stage, content, o.reviewer(plan), o.rewriter())
	if err != nil {
		return err
	}
	content = refined.Content

	summary, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "summary",
		func() (prompts.Summary, error) {
			var out prompts.Summary
			err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
				Caller:            "editor",
				Purpose:           "chapter_summary",
				SystemInstruction: prompts.EditorSystem,
				Prompt:            prompts.SummaryPrompt(content, o.cfg.Pipeline.SummaryCharCount),
				ResponseSchema:    prompts.SummarySchema(),
			}, &out)
			return out, err
		})
	if err != nil {
		return err
	}

	cast, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "cast",
		func() (prompts.CharacterIdentification, error) {
			var out prompts.CharacterIdentification
			err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
				Caller:            "editor",
				Purpose:           "identify_characters",
				SystemInstruction: prompts.EditorSystem,
				Prompt:            prompts.IdentifyCharactersPrompt(content),
				ResponseSchema:    prompts.CharacterIdentificationSchema(),
			}, &out)
			return out, err
		})
	if err != nil {
		return err
	}

	updates := make(map[string]prompts.DossierUpdate, len(cast.Characters))
	for _, name := range cast.Characters {
		name := name
		existing, _, err := o.store.LoadDossier(name)
		if err != nil {
			return err
		}
		if existing == nil {
			existing = &story.Dossier{Name: name}
		}

		update, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "dossier-"+name,
			func() (prompts.DossierUpdate, error) {
				var out prompts.DossierUpdate
				err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
					Caller:            "psychologist",
					Purpose:           "dossier_update",
					SystemInstruction: prompts.EditorSystem,
					Prompt:            prompts.DossierUpdatePrompt(existing, content),
					ResponseSchema:    prompts.DossierUpdateSchema(),
				}, &out)
				return out, err
			})
		if err != nil {
			return err
		}
		updates[name] = update
	}

	// Finalize: advance the index, persist every durable artifact,
	// commit, and only then discard the stage's checkpoints.
	if err := arc.Advance(); err != nil {
		return err
	}

	pov := plan.ViewpointCharacter
	if pov == "" {
		pov = draft.POVCharacter
	}
	chapter := &story.Chapter{
		Title:          draft.Title,
		POV:            pov,
		ArcID:          arc.ID,
		SceneIndex:     sceneIndex,
		Phase:          world.Phase,
		Content:        content,
		Summary:        summary.Summary,
		SummaryBefore:  world.RunningSummary,
		ReviewFeedback: refined.Feedback,
		CreatedAt:      time.Now(),
	}
	if err := o.store.AppendChapter(chapter); err != nil {
		return err
	}

	for name, update := range updates {
		dossier, _, err := o.store.LoadDossier(name)
		if err != nil {
			return err
		}
		if dossier == nil {
			dossier = &story.Dossier{Name: name, FirstSeenArc: arc.ID}
		}
		dossier.Psychology = fmt.Sprintf("%s Motivation: %s Outlook: %s",
			update.Background, update.Motivation, update.Outlook)
		dossier.History = append(dossier.History, update.RecentObservations)
		dossier.UpdatedAt = time.Now()
		if err := o.store.SaveDossier(dossier); err != nil {
			return err
		}
	}

	world.RunningSummary = summary.Summary
	if err := o.store.SaveWorld(world); err != nil {
		return err
	}

	o.commit(chapter.Header())

	if err := o.checkpoints.DiscardStage(stage); err != nil {
		return err
	}

	o.metrics.sceneDone(time.Since(started).Seconds())
	o.logger.Info(logging.CategoryPipeline, "scene_done", chapter.Header(), map[string]any{
		"arc":         arc.ID,
		"scene_index": sceneIndex,
		"cycles":      refined.CyclesRun,
	})

	if arc.IsComplete() {
		return o.completeArc(ctx, world, arc)
	}
	return nil
}

// reviewer adapts the editor critique call to the refine loop. The
// scene's planned emotional target anchors the critique. A failed or
// empty review skips the cycle; polish is never worth aborting a
// scene over.
func (o *Orchestrator) reviewer(plan story.ScenePlan) func(ctx context.Context, content string, cycle int) (string, bool, error) {
	return func(ctx context.Context, content string, cycle int) (string, bool, error) {
		var review prompts.Review
		err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
			Caller:            "editor",
			Purpose:           "scene_review",
			SystemInstruction: prompts.EditorSystem,
			Prompt:            prompts.ReviewPrompt(content, plan.EmotionalTarget, cycle),
			ResponseSchema:    prompts.ReviewSchema(),
		}, &review)
		if err != nil {
			o.logger.Warn(logging.CategoryRefine, "review_failed", "skipping review cycle", map[string]any{
				"cycle": cycle,
				"error": err.Error(),
			})
			return "", false, nil
		}
		if len(review.ReviewPoints) == 0 {
			return "", false, nil
		}
		return strings.Join(review.ReviewPoints, "\n"), true, nil
	}
}

// rewriter adapts the novelist rewrite call to the refine loop. A
// failed or empty rewrite stops the loop keeping the last good content.
func (o *Orchestrator) rewriter() func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
	return func(ctx context.Context, content, feedback string, cycle int) (string, bool, error) {
		var draft prompts.SceneDraft
		err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
			Caller:            "novelist",
			Purpose:           "scene_rewrite",
			SystemInstruction: prompts.NovelistSystem,
			Prompt:            prompts.RewritePrompt(content, strings.Split(feedback, "\n")),
			ResponseSchema:    prompts.SceneDraftSchema(),
		}, &draft)
		if err != nil {
			o.logger.Warn(logging.CategoryRefine, "rewrite_failed", "keeping last good content", map[string]any{
				"cycle": cycle,
				"error": err.Error(),
			})
			return "", false, nil
		}
		if len(draft.Paragraphs) == 0 {
			return "", false, nil
		}
		return strings.Join(draft.Paragraphs, "\n\n"), true, nil
	}
}
