// Package story holds the narrative world model: the phased state
// machine data, macro arcs with their scene plans, the chapter log,
// and character dossiers. Persistence is atomic JSON on disk.
package story

import (
	"fmt"
	"time"

	scrivenererrors "github.com/odvcencio/scrivener/pkg/errors"
)

// Phase is the pipeline's top-level narrative mode.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseEpisode       Phase = "episode_phase"
	PhaseOpenWorld     Phase = "open_world_phase"
	PhaseAwaitingRetro Phase = "awaiting_retrospective"
)

// ArcKind distinguishes bounded episode arcs from open-world segments.
type ArcKind string

const (
	ArcKindEpisode   ArcKind = "episode"
	ArcKindOpenWorld ArcKind = "open_world"
)

// ArcStatus tracks a macro arc through its life.
type ArcStatus string

const (
	ArcActive    ArcStatus = "active"
	ArcCompleted ArcStatus = "completed"
)

// ScenePlan is one planned scene inside an arc. The emotional target
// and viewpoint are fixed at planning time and drive both the draft
// and the review prompts.
type ScenePlan struct {
	Title              string   `json:"title"`
	Objective          string   `json:"objective"`
	Setting            string   `json:"setting"`
	EmotionalTarget    string   `json:"emotional_target,omitempty"`
	ViewpointCharacter string   `json:"viewpoint_character,omitempty"`
	Beats              []string `json:"beats,omitempty"`
}

// MacroArc is a planned sequence of scenes driving toward one goal.
// CurrentSceneIndex starts at -1 and only ever moves forward;
// TotalScenes is fixed at planning time.
type MacroArc struct {
	ID                string      `json:"id"`
	Kind              ArcKind     `json:"kind"`
	Goal              string      `json:"goal"`
	KeyConflict       string      `json:"key_conflict,omitempty"`
	EmotionalTone     string      `json:"emotional_tone,omitempty"`
	Status            ArcStatus   `json:"status"`
	TotalScenes       int         `json:"total_scenes"`
	CurrentSceneIndex int         `json:"current_scene_index"`
	Scenes            []ScenePlan `json:"scenes"`
	CreatedAt         time.Time   `json:"created_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

// Validate checks the arc's structural invariants.
func (a *MacroArc) Validate() error {
	if a.TotalScenes <= 0 {
		return scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
			fmt.Sprintf("arc %s has %d scenes", a.ID, a.TotalScenes))
	}
	if len(a.Scenes) != a.TotalScenes {
		return scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
			fmt.Sprintf("arc %s plans %d scenes but total_scenes is %d", a.ID, len(a.Scenes), a.TotalScenes))
	}
	if a.CurrentSceneIndex < -1 || a.CurrentSceneIndex >= a.TotalScenes {
		return scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
			fmt.Sprintf("arc %s scene index %d out of range", a.ID, a.CurrentSceneIndex))
	}
	return nil
}

// IsComplete reports whether every planned scene has been written.
func (a *MacroArc) IsComplete() bool {
	return a.CurrentSceneIndex >= a.TotalScenes-1
}

// NextScene returns the plan for the scene after the current index.
func (a *MacroArc) NextScene() (ScenePlan, int, error) {
	if a.IsComplete() {
		return ScenePlan{}, 0, scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
			fmt.Sprintf("arc %s has no scenes left", a.ID))
	}
	next := a.CurrentSceneIndex + 1
	return a.Scenes[next], next, nil
}

// Advance moves the scene index forward by one. The index never moves
// backward and never skips.
func (a *MacroArc) Advance() error {
	if a.IsComplete() {
		return scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
			fmt.Sprintf("arc %s is already complete", a.ID))
	}
	a.CurrentSceneIndex++
	return nil
}

// Artifact is a narrative reward granted when an episode arc completes.
type Artifact struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ArcID       string    `json:"arc_id"`
	AwardedAt   time.Time `json:"awarded_at"`
}

// Directive is the retrospective's binding guidance for the next arc.
type Directive struct {
	NextArcGoal   string `json:"next_arc_goal"`
	KeyConflict   string `json:"key_conflict"`
	EmotionalTone string `json:"emotional_tone"`
}

// WorldState is the durable root of the narrative world.
type WorldState struct {
	Phase       Phase       `json:"phase"`
	RunCount    int         `json:"run_count"`
	Premise     string      `json:"premise,omitempty"`
	Protagonist string      `json:"protagonist,omitempty"`
	Arcs        []*MacroArc `json:"arcs"`
	Artifacts   []Artifact  `json:"artifacts,omitempty"`
	// RunningSummary is the latest condensed account of the whole
	// narrative, recomputed after every finished scene.
	RunningSummary     string `json:"running_summary,omitempty"`
	LastCompletedArcID string `json:"last_completed_arc_id,omitempty"`
	// Directive holds the latest retrospective guidance; consumed and
	// cleared when the next arc is planned.
	Directive *Directive `json:"directive,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewWorldState returns an empty world in the init phase.
func NewWorldState() *WorldState {
	return &WorldState{Phase: PhaseInit, UpdatedAt: time.Now()}
}

// ActiveArc returns the single active arc. Zero or multiple active
// arcs mean the state is damaged.
func (w *WorldState) ActiveArc() (*MacroArc, error) {
	var active *MacroArc
	for _, arc := range w.Arcs {
		if arc.Status != ArcActive {
			continue
		}
		if active != nil {
			return nil, scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
				fmt.Sprintf("arcs %s and %s are both active", active.ID, arc.ID))
		}
		active = arc
	}
	if active == nil {
		return nil, scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid, "no active arc")
	}
	return active, nil
}

// HasActiveArc reports whether any arc is active.
func (w *WorldState) HasActiveArc() bool {
	for _, arc := range w.Arcs {
		if arc.Status == ArcActive {
			return true
		}
	}
	return false
}

// AddArc installs a new active arc. Adding while another arc is still
// active is an error.
func (w *WorldState) AddArc(arc *MacroArc) error {
	if err := arc.Validate(); err != nil {
		return err
	}
	if w.HasActiveArc() {
		return scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
			"an arc is already active")
	}
	arc.Status = ArcActive
	w.Arcs = append(w.Arcs, arc)
	return nil
}

// CompleteActiveArc marks the active arc completed.
func (w *WorldState) CompleteActiveArc() (*MacroArc, error) {
	arc, err := w.ActiveArc()
	if err != nil {
		return nil, err
	}
	if !arc.IsComplete() {
		return nil, scrivenererrors.New(scrivenererrors.ErrCodePlanInvalid,
			fmt.Sprintf("arc %s still has scenes left", arc.ID))
	}
	now := time.Now()
	arc.Status = ArcCompleted
	arc.CompletedAt = &now
	w.LastCompletedArcID = arc.ID
	return arc, nil
}

// LastCompletedArc returns the arc recorded by the most recent
// completion, or nil.
func (w *WorldState) LastCompletedArc() *MacroArc {
	for _, arc := range w.Arcs {
		if arc.ID == w.LastCompletedArcID {
			return arc
		}
	}
	return nil
}

// AwardArtifact records a narrative reward on the world.
func (w *WorldState) AwardArtifact(name, description, arcID string) {
	w.Artifacts = append(w.Artifacts, Artifact{
		Name:        name,
		Description: description,
		ArcID:       arcID,
		AwardedAt:   time.Now(),
	})
}

// Chapter is one finished scene in the chapter log. Summary is the
// condensed account produced after the scene; SummaryBefore and
// ReviewFeedback are audit annotations recording the running summary
// the scene was written against and the critique it absorbed.
type Chapter struct {
	ID             string    `json:"id"`
	Number         int       `json:"number"`
	Title          string    `json:"title"`
	POV            string    `json:"pov,omitempty"`
	ArcID          string    `json:"arc_id"`
	SceneIndex     int       `json:"scene_index"`
	Phase          Phase     `json:"phase"`
	Content        string    `json:"content"`
	Summary        string    `json:"summary"`
	SummaryBefore  string    `json:"summary_before,omitempty"`
	ReviewFeedback []string  `json:"review_feedback,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Header renders the canonical chapter heading.
func (c *Chapter) Header() string {
	return fmt.Sprintf("Chapter %d: %s", c.Number, c.Title)
}

// Novel is the full chapter log.
type Novel struct {
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
}

// RecentChapters returns the last n chapters, oldest first.
func (n *Novel) RecentChapters(count int) []Chapter {
	if count <= 0 || len(n.Chapters) == 0 {
		return nil
	}
	if count > len(n.Chapters) {
		count = len(n.Chapters)
	}
	return n.Chapters[len(n.Chapters)-count:]
}

// Dossier is the evolving record of one character.
type Dossier struct {
	Name          string            `json:"name"`
	Psychology    string            `json:"psychology,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	History       []string          `json:"history,omitempty"`
	FirstSeenArc  string            `json:"first_seen_arc,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
