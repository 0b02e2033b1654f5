// Package orchestrator drives the narrative pipeline state machine.
// Each run advances the story by at most one step: seeding the world,
// generating one scene, completing an arc, or holding a retrospective
// and planning the next arc. Crash safety comes from the checkpoint
// store plus the commit-then-discard ordering enforced here.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/scrivener/pkg/checkpoint"
	"github.com/odvcencio/scrivener/pkg/config"
	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
	"github.com/odvcencio/scrivener/pkg/gemini"
	"github.com/odvcencio/scrivener/pkg/logging"
	"github.com/odvcencio/scrivener/pkg/prompts"
	"github.com/odvcencio/scrivener/pkg/refine"
	"github.com/odvcencio/scrivener/pkg/story"
	"github.com/odvcencio/scrivener/pkg/vcs"
)

// Invoker is the structured-call surface the orchestrator needs.
type Invoker interface {
	Invoke(ctx context.Context, req gemini.GenerateRequest, out any) error
}

// Retrospective runs the post-arc review session.
type Retrospective interface {
	HoldSession(ctx context.Context, world *story.WorldState, arc *story.MacroArc) (*story.Directive, string, error)
}

// Orchestrator owns one pipeline over one persisted world.
type Orchestrator struct {
	cfg         *config.Config
	invoker     Invoker
	store       *story.Store
	checkpoints *checkpoint.Store
	loop        *refine.Loop
	git         *vcs.Client
	retro       Retrospective
	logger      *logging.Logger
	metrics     *Metrics
}

// New wires an orchestrator. metrics may be nil.
func New(cfg *config.Config, invoker Invoker, store *story.Store, checkpoints *checkpoint.Store,
	loop *refine.Loop, git *vcs.Client, retrospective Retrospective, logger *logging.Logger, metrics *Metrics) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		cfg:         cfg,
		invoker:     invoker,
		store:       store,
		checkpoints: checkpoints,
		loop:        loop,
		git:         git,
		retro:       retrospective,
		logger:      logger,
		metrics:     metrics,
	}
}

// RunOnce executes one pipeline step. A failed run leaves phase and
// scene index untouched; the next run resumes from the checkpoints.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	world, found, err := o.store.LoadWorld()
	if err != nil {
		o.metrics.runOutcome("error")
		return err
	}
	if !found {
		world = story.NewWorldState()
	}
	world.RunCount++

	o.logger.Info(logging.CategoryPipeline, "run_start", "starting pipeline run", map[string]any{
		"phase": string(world.Phase),
		"run":   world.RunCount,
	})

	switch world.Phase {
	case story.PhaseInit:
		err = o.handleInit(ctx, world)
	case story.PhaseEpisode, story.PhaseOpenWorld:
		err = o.handleContentPhase(ctx, world)
	case story.PhaseAwaitingRetro:
		err = o.handleAwaitingRetro(ctx, world)
	default:
		err = scrivenererrors.New(scrivenererrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown phase %q", world.Phase))
	}

	if err != nil {
		o.metrics.runOutcome("error")
		o.logger.Error(logging.CategoryPipeline, "run_failed", "run ended without advancing", map[string]any{
			"phase": string(world.Phase),
			"error": err.Error(),
		})
		return err
	}

	o.metrics.runOutcome("ok")
	return nil
}

// handleInit seeds a brand-new world, plans the first episode arc, and
// generates its first scene.
func (o *Orchestrator) handleInit(ctx context.Context, world *story.WorldState) error {
	const stage = "init"

	premise, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "premise",
		func() (prompts.Premise, error) {
			var out prompts.Premise
			err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
				Caller:            "planner",
				Purpose:           "premise",
				SystemInstruction: prompts.PlannerSystem,
				Prompt:            prompts.PremisePrompt(),
				ResponseSchema:    prompts.PremiseSchema(),
			}, &out)
			return out, err
		})
	if err != nil {
		return err
	}
	world.Premise = premise.Premise
	world.Protagonist = premise.Protagonist

	arc, err := o.planArc(ctx, world, stage, story.ArcKindEpisode)
	if err != nil {
		return err
	}
	if err := world.AddArc(arc); err != nil {
		return err
	}

	world.Phase = story.PhaseEpisode
	if err := o.store.SaveWorld(world); err != nil {
		return err
	}
	o.commit("seed story world")
	if err := o.checkpoints.DiscardStage(stage); err != nil {
		return err
	}

	return o.sceneStep(ctx, world, arc)
}

// handleContentPhase generates the next scene of the active arc, and
// completes the arc when its last scene lands.
func (o *Orchestrator) handleContentPhase(ctx context.Context, world *story.WorldState) error {
	arc, err := world.ActiveArc()
	if err != nil {
		return err
	}

	if arc.IsComplete() {
		// A previous run generated the last scene but failed before
		// completing the arc; finish that transition now.
		return o.completeArc(ctx, world, arc)
	}

	return o.sceneStep(ctx, world, arc)
}

// completeArc closes the active arc, awards the episode artifact, and
// parks the pipeline until the retrospective has run.
func (o *Orchestrator) completeArc(ctx context.Context, world *story.WorldState, arc *story.MacroArc) error {
	stage := "complete-" + arc.ID

	if arc.Kind == story.ArcKindEpisode {
		award, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "artifact",
			func() (prompts.ArtifactAward, error) {
				var out prompts.ArtifactAward
				err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
					Caller:            "director",
					Purpose:           "artifact_award",
					SystemInstruction: prompts.DirectorSystem,
					Prompt:            prompts.ArtifactPrompt(arc),
					ResponseSchema:    prompts.ArtifactAwardSchema(),
				}, &out)
				return out, err
			})
		if err != nil {
			return err
		}
		world.AwardArtifact(award.Name, award.Description, arc.ID)
	}

	if _, err := world.CompleteActiveArc(); err != nil {
		return err
	}
	world.Phase = story.PhaseAwaitingRetro

	if err := o.store.SaveWorld(world); err != nil {
		return err
	}
	o.commit(fmt.Sprintf("complete arc: %s", arc.Goal))
	if err := o.checkpoints.DiscardStage(stage); err != nil {
		return err
	}

	o.metrics.arcCompleted(string(arc.Kind))
	o.logger.Info(logging.CategoryPipeline, "arc_completed", arc.Goal, map[string]any{
		"arc":  arc.ID,
		"kind": string(arc.Kind),
	})
	return nil
}

// handleAwaitingRetro holds the retrospective, then makes the decision
// call and plans the next arc accordingly.
func (o *Orchestrator) handleAwaitingRetro(ctx context.Context, world *story.WorldState) error {
	arc := world.LastCompletedArc()
	if arc == nil {
		return scrivenererrors.New(scrivenererrors.ErrCodeInvalidInput,
			"awaiting retrospective with no completed arc")
	}

	directive, minutesPath, err := o.retro.HoldSession(ctx, world, arc)
	if err != nil {
		return err
	}
	o.metrics.retroHeld()
	if directive != nil {
		world.Directive = directive
	}
	if minutesPath != "" {
		o.logger.Info(logging.CategoryRetro, "session_held", "retrospective complete", map[string]any{
			"arc":     arc.ID,
			"minutes": minutesPath,
		})
	}

	stage := "decide-" + arc.ID

	novel, err := o.store.LoadNovel()
	if err != nil {
		return err
	}
	decision, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "decision",
		func() (prompts.Decision, error) {
			var out prompts.Decision
			err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
				Caller:            "director",
				Purpose:           "next_phase_decision",
				SystemInstruction: prompts.DirectorSystem,
				Prompt:            prompts.DecisionPrompt(world, novel.RecentChapters(3)),
				ResponseSchema:    prompts.DecisionSchema(),
			}, &out)
			return out, err
		})
	if err != nil {
		return err
	}

	kind := story.ArcKindEpisode
	nextPhase := story.PhaseEpisode
	if strings.EqualFold(strings.TrimSpace(decision.Decision), "open_world") {
		kind = story.ArcKindOpenWorld
		nextPhase = story.PhaseOpenWorld
	}
	o.logger.Info(logging.CategoryPipeline, "decision", decision.Reasoning, map[string]any{
		"decision": decision.Decision,
	})

	nextArc, err := o.planArc(ctx, world, stage, kind)
	if err != nil {
		return err
	}
	if err := world.AddArc(nextArc); err != nil {
		return err
	}
	// The directive has served its purpose once the arc it shaped exists.
	world.Directive = nil
	world.Phase = nextPhase

	if err := o.store.SaveWorld(world); err != nil {
		return err
	}
	o.commit(fmt.Sprintf("plan next arc: %s", nextArc.Goal))
	return o.checkpoints.DiscardStage(stage)
}

// plannedArc is the checkpointed output of one arc planning call. The
// arc ID is minted inside the compute step so a resumed run keeps it.
type plannedArc struct {
	ArcID string          `json:"arc_id"`
	Plan  prompts.ArcPlan `json:"plan"`
}

func (o *Orchestrator) planArc(ctx context.Context, world *story.WorldState, stage string, kind story.ArcKind) (*story.MacroArc, error) {
	minScenes, maxScenes := o.cfg.Pipeline.MinScenes, o.cfg.Pipeline.MaxScenes
	if kind == story.ArcKindOpenWorld {
		minScenes, maxScenes = 2, o.cfg.Pipeline.OpenWorldScenes
		if maxScenes < minScenes {
			minScenes = maxScenes
		}
	}

	novel, err := o.store.LoadNovel()
	if err != nil {
		return nil, err
	}

	planned, err := checkpoint.GetOrComputeAs(o.checkpoints, stage, "plan",
		func() (plannedArc, error) {
			var plan prompts.ArcPlan
			err := o.invoker.Invoke(ctx, gemini.GenerateRequest{
				Caller:            "planner",
				Purpose:           "arc_plan",
				SystemInstruction: prompts.PlannerSystem,
				Prompt:            prompts.ArcPlanPrompt(world, novel.RecentChapters(3), minScenes, maxScenes),
				ResponseSchema:    prompts.ArcPlanSchema(),
			}, &plan)
			if err != nil {
				return plannedArc{}, err
			}
			if len(plan.Scenes) == 0 {
				return plannedArc{}, scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
					"planner returned an arc with no scenes")
			}
			return plannedArc{ArcID: uuid.NewString(), Plan: plan}, nil
		})
	if err != nil {
		return nil, err
	}

	scenes := make([]story.ScenePlan, len(planned.Plan.Scenes))
	for i, s := range planned.Plan.Scenes {
		scenes[i] = story.ScenePlan{
			Title:              s.Title,
			Objective:          s.Objective,
			Setting:            s.Setting,
			EmotionalTarget:    s.EmotionalTarget,
			ViewpointCharacter: s.ViewpointCharacter,
			Beats:              s.Beats,
		}
	}

	arc := &story.MacroArc{
		ID:                planned.ArcID,
		Kind:              kind,
		Goal:              planned.Plan.OverallGoal,
		KeyConflict:       planned.Plan.KeyConflict,
		Status:            story.ArcActive,
		TotalScenes:       len(scenes),
		CurrentSceneIndex: -1,
		Scenes:            scenes,
		CreatedAt:         time.Now(),
	}
	if world.Directive != nil {
		arc.EmotionalTone = world.Directive.EmotionalTone
	}
	return arc, nil
}

// commit records the pipeline's artifacts in version control. Commit
// failures are reported, never fatal: the world state is already
// durably saved and the next successful run commits it again.
func (o *Orchestrator) commit(message string) {
	if o.git == nil {
		return
	}
	if _, err := o.git.CommitAndPush(message); err != nil {
		o.logger.Error(logging.CategoryVCS, "commit_failed", "continuing without commit", map[string]any{
			"error": err.Error(),
		})
	}
}
