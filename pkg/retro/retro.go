// Package retro holds the retrospective session that runs after each
// completed macro arc: a fixed roster of reviewers, each briefed with
// only the data slice their role is entitled to, followed by one
// director call that aggregates their statements into minutes and a
// binding directive for the next arc.
package retro

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/odvcencio/scrivener/pkg/checkpoint"
	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
	"github.com/odvcencio/scrivener/pkg/gemini"
	"github.com/odvcencio/scrivener/pkg/logging"
	"github.com/odvcencio/scrivener/pkg/prompts"
	"github.com/odvcencio/scrivener/pkg/story"
)

// Invoker is the structured-call surface the coordinator needs.
type Invoker interface {
	Invoke(ctx context.Context, req gemini.GenerateRequest, out any) error
}

// Participant is one reviewer on the roster. Briefing assembles the
// role-specific slice of persisted data the participant may see.
type Participant struct {
	Role     string
	Briefing func(world *story.WorldState, arc *story.MacroArc) (string, error)
}

// Minutes is the immutable transcript artifact of one session.
type Minutes struct {
	ArcID      string                             `json:"arc_id"`
	HeldAt     time.Time                          `json:"held_at"`
	Statements map[string]*prompts.RetroStatement `json:"statements"`
	Aggregate  *prompts.RetroMinutes              `json:"aggregate"`
}

// Coordinator runs retrospective sessions.
type Coordinator struct {
	invoker     Invoker
	checkpoints *checkpoint.Store
	minutesDir  string
	// minParticipants is how many roster members must answer before
	// aggregation is worth attempting. Tunable policy.
	minParticipants int
	roster          []Participant
	logger          *logging.Logger
}

// NewCoordinator builds a coordinator over the given roster.
func NewCoordinator(invoker Invoker, checkpoints *checkpoint.Store, minutesDir string, minParticipants int, roster []Participant, logger *logging.Logger) *Coordinator {
	if minParticipants < 1 {
		minParticipants = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		invoker:         invoker,
		checkpoints:     checkpoints,
		minutesDir:      minutesDir,
		minParticipants: minParticipants,
		roster:          roster,
		logger:          logger,
	}
}

// DefaultRoster is the standing review board. The psychologist sees
// only the dossiers, the editor only the recent chapters, and the
// historian the whole world state.
func DefaultRoster(store *story.Store, recentChapterCount int) []Participant {
	return []Participant{
		{
			Role: "psychologist",
			Briefing: func(world *story.WorldState, arc *story.MacroArc) (string, error) {
				dossiers, err := store.ListDossiers()
				if err != nil {
					return "", err
				}
				if len(dossiers) == 0 {
					return "No dossiers exist yet.", nil
				}
				briefing := "Character dossiers:\n"
				for _, d := range dossiers {
					briefing += fmt.Sprintf("\n%s\nPsychology: %s\n", d.Name, d.Psychology)
				}
				return briefing, nil
			},
		},
		{
			Role: "editor",
			Briefing: func(world *story.WorldState, arc *story.MacroArc) (string, error) {
				novel, err := store.LoadNovel()
				if err != nil {
					return "", err
				}
				recent := novel.RecentChapters(recentChapterCount)
				if len(recent) == 0 {
					return "No chapters exist yet.", nil
				}
				briefing := "Recent chapters:\n"
				for _, ch := range recent {
					briefing += fmt.Sprintf("\n%s\n%s\n", ch.Header(), ch.Summary)
				}
				return briefing, nil
			},
		},
		{
			Role: "historian",
			Briefing: func(world *story.WorldState, arc *story.MacroArc) (string, error) {
				briefing := fmt.Sprintf("Premise: %s\nPhase: %s\nRunning summary: %s\n",
					world.Premise, world.Phase, world.RunningSummary)
				briefing += fmt.Sprintf("Completed arc: %s (goal: %s)\n", arc.ID, arc.Goal)
				for _, a := range world.Artifacts {
					briefing += fmt.Sprintf("Artifact: %s - %s\n", a.Name, a.Description)
				}
				return briefing, nil
			},
		},
	}
}

// HoldSession runs one retrospective for the completed arc. A failed
// participant is dropped from the session; a failed aggregation call
// degrades to a nil directive rather than failing the run. An arc
// whose minutes already exist gets its directive replayed from them,
// so a crash after the session never re-convenes the participants.
func (c *Coordinator) HoldSession(ctx context.Context, world *story.WorldState, arc *story.MacroArc) (*story.Directive, string, error) {
	minutesPath := filepath.Join(c.minutesDir, fmt.Sprintf("%s.json", arc.ID))
	if _, statErr := os.Stat(minutesPath); statErr == nil {
		prior, err := ReadMinutes(minutesPath)
		if err == nil && prior.Aggregate != nil {
			c.logger.Info(logging.CategoryRetro, "minutes_replayed", "session already held for this arc", map[string]any{
				"arc":     arc.ID,
				"minutes": minutesPath,
			})
			return directiveFrom(prior.Aggregate), minutesPath, nil
		}
		c.logger.Warn(logging.CategoryRetro, "minutes_unreadable", "re-running the session", map[string]any{
			"arc": arc.ID,
		})
	}

	stage := "retro-" + arc.ID
	statements := make(map[string]*prompts.RetroStatement)

	for _, participant := range c.roster {
		participant := participant
		statement, err := checkpoint.GetOrComputeAs(c.checkpoints, stage, participant.Role,
			func() (*prompts.RetroStatement, error) {
				briefing, err := participant.Briefing(world, arc)
				if err != nil {
					return nil, err
				}
				c.logger.LogRead(participant.Role, "briefing", "retrospective preparation")

				var out prompts.RetroStatement
				err = c.invoker.Invoke(ctx, gemini.GenerateRequest{
					Caller:            participant.Role,
					Purpose:           "retro_statement",
					SystemInstruction: prompts.DirectorSystem,
					Prompt:            prompts.RetroMemberPrompt(participant.Role, briefing),
					ResponseSchema:    prompts.RetroStatementSchema(),
				}, &out)
				if err != nil {
					return nil, err
				}
				return &out, nil
			})
		if err != nil {
			c.logger.Warn(logging.CategoryRetro, "participant_failed", "dropping participant from session", map[string]any{
				"participant": participant.Role,
				"error":       err.Error(),
			})
			continue
		}
		statements[participant.Role] = statement
	}

	if len(statements) < c.minParticipants {
		return nil, "", scrivenererrors.New(scrivenererrors.ErrCodeStageFailed,
			fmt.Sprintf("only %d of %d participants answered, need %d",
				len(statements), len(c.roster), c.minParticipants))
	}

	aggregate, err := checkpoint.GetOrComputeAs(c.checkpoints, stage, "director",
		func() (*prompts.RetroMinutes, error) {
			var out prompts.RetroMinutes
			err := c.invoker.Invoke(ctx, gemini.GenerateRequest{
				Caller:            "director",
				Purpose:           "retro_minutes",
				SystemInstruction: prompts.DirectorSystem,
				Prompt:            prompts.RetroDirectorPrompt(statements),
				ResponseSchema:    prompts.RetroMinutesSchema(),
			}, &out)
			if err != nil {
				return nil, err
			}
			return &out, nil
		})
	if err != nil {
		c.logger.Error(logging.CategoryRetro, "aggregation_failed", "session ends without a directive", map[string]any{
			"arc":   arc.ID,
			"error": err.Error(),
		})
		_ = c.checkpoints.DiscardStage(stage)
		return nil, "", nil
	}

	minutes := &Minutes{
		ArcID:      arc.ID,
		HeldAt:     time.Now(),
		Statements: statements,
		Aggregate:  aggregate,
	}
	if err := writeMinutes(minutesPath, minutes); err != nil {
		return nil, "", err
	}
	c.logger.LogWrite("director", minutesPath, "save retrospective minutes")

	if err := c.checkpoints.DiscardStage(stage); err != nil {
		return nil, "", err
	}

	return directiveFrom(aggregate), minutesPath, nil
}

func directiveFrom(aggregate *prompts.RetroMinutes) *story.Directive {
	return &story.Directive{
		NextArcGoal:   aggregate.FinalDirective.NextArcGoal,
		KeyConflict:   aggregate.FinalDirective.KeyConflict,
		EmotionalTone: aggregate.FinalDirective.EmotionalTone,
	}
}
