// Package prompts builds the model prompts and declares the structured
// response payloads each call must return. Every structured call pairs
// one payload type with one schema so the wire contract and the Go
// type cannot drift apart.
package prompts

import "github.com/odvcencio/scrivener/pkg/gemini"

// Premise seeds a brand-new story world on the very first run.
type Premise struct {
	Premise     string `json:"premise"`
	Protagonist string `json:"protagonist"`
}

// ArcPlan is the planner's response when a new macro arc is needed.
type ArcPlan struct {
	ArcTitle    string      `json:"arc_title"`
	OverallGoal string      `json:"overall_goal"`
	KeyConflict string      `json:"key_conflict"`
	Scenes      []ScenePlan `json:"scenes"`
}

// ScenePlan is one planned scene inside an ArcPlan.
type ScenePlan struct {
	Title              string   `json:"title"`
	Objective          string   `json:"objective"`
	Setting            string   `json:"setting"`
	EmotionalTarget    string   `json:"emotional_target"`
	ViewpointCharacter string   `json:"viewpoint_character"`
	Beats              []string `json:"beats"`
}

// SceneDraft is the novelist's response for one scene.
type SceneDraft struct {
	Title        string   `json:"title"`
	POVCharacter string   `json:"pov_character"`
	Paragraphs   []string `json:"paragraphs"`
}

// Review is the editor's critique. An empty ReviewPoints slice means
// the scene stands as written.
type Review struct {
	ReviewPoints []string `json:"review_points"`
}

// Summary condenses a finished chapter for future context windows.
type Summary struct {
	Summary        string `json:"summary"`
	NextMotivation string `json:"next_motivation"`
}

// CharacterIdentification lists the characters present in a scene.
type CharacterIdentification struct {
	Characters []string `json:"characters"`
}

// DossierUpdate is the refreshed profile for one character.
type DossierUpdate struct {
	Background         string `json:"background"`
	Motivation         string `json:"motivation"`
	Outlook            string `json:"outlook"`
	RecentObservations string `json:"recent_observations"`
}

// ArtifactAward names the narrative reward for a completed arc.
type ArtifactAward struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	PotentialUse string `json:"potential_use"`
}

// Decision is the director's choice of what the pipeline does next.
type Decision struct {
	Decision         string `json:"decision"`
	Reasoning        string `json:"reasoning"`
	NextChapterTheme string `json:"next_chapter_theme"`
}

// RetroStatement is one retrospective participant's contribution.
type RetroStatement struct {
	Insights        []string `json:"insights"`
	Questions       []string `json:"questions"`
	ImprovementPlan string   `json:"improvement_plan"`
}

// RetroMinutes is the director's aggregation of a retrospective.
type RetroMinutes struct {
	MeetingSummary     string           `json:"meeting_summary"`
	ResponsesToMembers []MemberResponse `json:"responses_to_members"`
	FinalDirective     FinalDirective   `json:"final_directive"`
}

// MemberResponse is the director's reply to one participant.
type MemberResponse struct {
	MemberRole string `json:"member_role"`
	Response   string `json:"response"`
}

// FinalDirective is the binding guidance for the next arc.
type FinalDirective struct {
	NextArcGoal   string `json:"next_arc_goal"`
	KeyConflict   string `json:"key_conflict"`
	EmotionalTone string `json:"emotional_tone"`
}

var scenePlanSchema = gemini.Object(map[string]*gemini.Schema{
	"title":               gemini.String("short scene title"),
	"objective":           gemini.String("what this scene must accomplish"),
	"setting":             gemini.String("where and when the scene takes place"),
	"emotional_target":    gemini.String("the emotion the scene must land on"),
	"viewpoint_character": gemini.String("whose point of view carries the scene"),
	"beats":               gemini.Array("ordered story beats", gemini.String("one beat")),
})

// PremiseSchema constrains the world seeding response.
func PremiseSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"premise":     gemini.String("one paragraph story premise"),
		"protagonist": gemini.String("name and one line description of the protagonist"),
	})
}

// ArcPlanSchema constrains the planner's response.
func ArcPlanSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"arc_title":    gemini.String("title for the arc"),
		"overall_goal": gemini.String("what the protagonist pursues across the arc"),
		"key_conflict": gemini.String("the central opposing force"),
		"scenes":       gemini.Array("planned scenes in order", scenePlanSchema),
	})
}

// SceneDraftSchema constrains scene drafts and rewrites.
func SceneDraftSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"title":         gemini.String("chapter title"),
		"pov_character": gemini.String("point of view character"),
		"paragraphs":    gemini.Array("the prose, one paragraph per item", gemini.String("one paragraph")),
	})
}

// ReviewSchema constrains the editor's critique.
func ReviewSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"review_points": gemini.Array("specific problems to fix; empty when the scene is ready",
			gemini.String("one actionable critique")),
	})
}

// SummarySchema constrains chapter summaries.
func SummarySchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"summary":         gemini.String("condensed account of the chapter"),
		"next_motivation": gemini.String("what drives the protagonist next"),
	})
}

// CharacterIdentificationSchema constrains the cast listing.
func CharacterIdentificationSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"characters": gemini.Array("named characters appearing in the scene", gemini.String("character name")),
	})
}

// DossierUpdateSchema constrains dossier refreshes.
func DossierUpdateSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"background":          gemini.String("who the character is"),
		"motivation":          gemini.String("what the character wants"),
		"outlook":             gemini.String("how the character sees the world now"),
		"recent_observations": gemini.String("what just changed for this character"),
	})
}

// ArtifactAwardSchema constrains the arc completion reward.
func ArtifactAwardSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"name":          gemini.String("name of the artifact"),
		"description":   gemini.String("what the artifact is"),
		"potential_use": gemini.String("how it could matter later"),
	})
}

// DecisionSchema constrains the next step decision. The theme is
// optional; the model may return null when it has nothing to add.
func DecisionSchema() *gemini.Schema {
	return gemini.ObjectWithRequired(map[string]*gemini.Schema{
		"decision":           gemini.Enum("the chosen next step", "episode", "open_world"),
		"reasoning":          gemini.String("why this step"),
		"next_chapter_theme": gemini.NullableString("theme for the upcoming chapter"),
	}, "decision", "reasoning")
}

// RetroStatementSchema constrains each participant's contribution.
func RetroStatementSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"insights":         gemini.Array("observations about the story so far", gemini.String("one insight")),
		"questions":        gemini.Array("open questions for the director", gemini.String("one question")),
		"improvement_plan": gemini.String("concrete proposal for the next arc"),
	})
}

// RetroMinutesSchema constrains the director's aggregation.
func RetroMinutesSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		"meeting_summary": gemini.String("what the retrospective concluded"),
		"responses_to_members": gemini.Array("direct replies to each participant",
			gemini.Object(map[string]*gemini.Schema{
				"member_role": gemini.String("which participant"),
				"response":    gemini.String("the director's reply"),
			})),
		"final_directive": gemini.Object(map[string]*gemini.Schema{
			"next_arc_goal":  gemini.String("goal of the next arc"),
			"key_conflict":   gemini.String("central conflict of the next arc"),
			"emotional_tone": gemini.String("tone the next arc should carry"),
		}),
	})
}
