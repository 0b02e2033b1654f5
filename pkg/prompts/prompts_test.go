package prompts

import (
	"strings"
	"testing"

	"github.com/odvcencio/scrivener/pkg/story"
)

func TestArcPlanPrompt_CarriesDirective(t *testing.T) {
	world := story.NewWorldState()
	world.Premise = "a courier crosses a drowned country"
	world.Directive = &story.Directive{
		NextArcGoal:   "reach the capital before the levy breaks",
		KeyConflict:   "the river guild wants the route closed",
		EmotionalTone: "grim determination",
	}
	world.Artifacts = []story.Artifact{{Name: "brass sextant", Description: "taken from the wreck"}}

	prompt := ArcPlanPrompt(world, nil, 8, 14)

	for _, want := range []string{
		"reach the capital before the levy breaks",
		"the river guild wants the route closed",
		"grim determination",
		"brass sextant",
		"between 8 and 14 scenes",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestArcPlanPrompt_WithoutDirective(t *testing.T) {
	world := story.NewWorldState()
	world.Premise = "a premise"

	prompt := ArcPlanPrompt(world, nil, 8, 14)
	if strings.Contains(prompt, "retrospective") {
		t.Error("prompt mentions a directive that does not exist")
	}
}

func TestScenePrompt_IncludesPlanAndContext(t *testing.T) {
	arc := &story.MacroArc{ID: "arc-1", Goal: "cross the delta", TotalScenes: 10}
	plan := story.ScenePlan{
		Title:              "The Ferry Toll",
		Objective:          "Mara loses her savings",
		Setting:            "the flooded customs house",
		EmotionalTarget:    "quiet humiliation",
		ViewpointCharacter: "Mara Voss",
		Beats:              []string{"the toll doubles", "Mara bargains and fails"},
	}
	chapters := []story.Chapter{{Number: 3, Title: "Landfall", Summary: "They reached the mudflats."}}
	dossiers := []*story.Dossier{{Name: "Mara Voss", Psychology: "distrusts authority"}}

	prompt := ScenePrompt(arc, plan, 3, chapters, dossiers)

	for _, want := range []string{
		"scene 4 of 10",
		"The Ferry Toll",
		"quiet humiliation",
		"Viewpoint: Mara Voss",
		"the toll doubles",
		"Chapter 3: Landfall",
		"distrusts authority",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestReviewPrompt_AnchorsOnEmotionalTarget(t *testing.T) {
	prompt := ReviewPrompt("scene text", "quiet humiliation", 1)
	if !strings.Contains(prompt, "quiet humiliation") {
		t.Error("prompt missing the emotional target")
	}
	if !strings.Contains(prompt, "revision pass 2") {
		t.Error("prompt missing the cycle number")
	}

	// A plan without a target still reviews, just without the anchor.
	plain := ReviewPrompt("scene text", "", 0)
	if strings.Contains(plain, "planned to land") {
		t.Error("prompt mentions a target that does not exist")
	}
}

func TestRewritePrompt_ListsEveryReviewPoint(t *testing.T) {
	points := []string{"the opening drags", "Jun's dialect slips"}
	prompt := RewritePrompt("scene text", points)

	for _, point := range points {
		if !strings.Contains(prompt, point) {
			t.Errorf("prompt missing review point %q", point)
		}
	}
	if !strings.Contains(prompt, "scene text") {
		t.Error("prompt missing the scene body")
	}
}

func TestDecisionSchema_ConstrainsTheChoice(t *testing.T) {
	schema := DecisionSchema()

	decision := schema.Properties["decision"]
	if decision == nil || len(decision.Enum) != 2 {
		t.Fatalf("decision field = %+v, want a two-value enum", decision)
	}
	if decision.Enum[0] != "episode" || decision.Enum[1] != "open_world" {
		t.Errorf("enum = %v", decision.Enum)
	}

	if !schema.Properties["next_chapter_theme"].Nullable {
		t.Error("theme must be nullable")
	}
	if len(schema.Required) != 2 {
		t.Errorf("required = %v, the theme is optional", schema.Required)
	}
}

func TestRetroDirectorPrompt_IsDeterministic(t *testing.T) {
	statements := map[string]*RetroStatement{
		"psychologist": {Insights: []string{"Mara is flattening"}, ImprovementPlan: "give her a private loss"},
		"editor":       {Insights: []string{"pacing sags mid-arc"}, ImprovementPlan: "cut scene padding"},
	}

	first := RetroDirectorPrompt(statements)
	for i := 0; i < 10; i++ {
		if got := RetroDirectorPrompt(statements); got != first {
			t.Fatal("prompt ordering is not deterministic")
		}
	}

	if strings.Index(first, "## editor") > strings.Index(first, "## psychologist") {
		t.Error("roles are not sorted")
	}
}
