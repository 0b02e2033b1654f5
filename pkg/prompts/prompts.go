package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/scrivener/pkg/story"
)

// System instructions for the pipeline's personas.
const (
	NovelistSystem = "You are a disciplined literary novelist. You write vivid, grounded prose " +
		"in close third person and you never break the fourth wall. You respond only in the " +
		"requested JSON format."

	PlannerSystem = "You are a story architect. You design macro arcs as ordered scene plans " +
		"with clear objectives and escalating stakes. You respond only in the requested JSON format."

	EditorSystem = "You are a demanding line editor. You critique prose for pacing, continuity, " +
		"and emotional truth. When a scene is genuinely ready you say so by returning no review " +
		"points. You respond only in the requested JSON format."

	DirectorSystem = "You are the story director. You weigh the whole narrative, decide what " +
		"happens next, and issue concrete guidance. You respond only in the requested JSON format."
)

func writeRecentChapters(b *strings.Builder, chapters []story.Chapter) {
	if len(chapters) == 0 {
		return
	}
	b.WriteString("\n## Recent chapters\n")
	for _, ch := range chapters {
		fmt.Fprintf(b, "\n### %s\n%s\n", ch.Header(), ch.Summary)
	}
}

func writeDossiers(b *strings.Builder, dossiers []*story.Dossier) {
	if len(dossiers) == 0 {
		return
	}
	b.WriteString("\n## Character dossiers\n")
	for _, d := range dossiers {
		fmt.Fprintf(b, "\n### %s\nPsychology: %s\n", d.Name, d.Psychology)
		others := make([]string, 0, len(d.Relationships))
		for other := range d.Relationships {
			others = append(others, other)
		}
		sort.Strings(others)
		for _, other := range others {
			fmt.Fprintf(b, "Relationship with %s: %s\n", other, d.Relationships[other])
		}
	}
}

// PremisePrompt seeds the story world on the first ever run.
func PremisePrompt() string {
	return "Invent the premise for a long serialized novel: a grounded, specific world with " +
		"room for many arcs, and a protagonist with a concrete unmet need. One paragraph for " +
		"the premise, one line for the protagonist.\n"
}

// ArcPlanPrompt asks the planner for a new macro arc.
func ArcPlanPrompt(world *story.WorldState, recentChapters []story.Chapter, minScenes, maxScenes int) string {
	var b strings.Builder

	b.WriteString("Plan the next macro arc of the ongoing story.\n")
	fmt.Fprintf(&b, "\n## Premise\n%s\n", world.Premise)
	if world.Protagonist != "" {
		fmt.Fprintf(&b, "\n## Protagonist\n%s\n", world.Protagonist)
	}

	if world.Directive != nil {
		b.WriteString("\n## Binding directive from the last retrospective\n")
		fmt.Fprintf(&b, "Goal: %s\n", world.Directive.NextArcGoal)
		fmt.Fprintf(&b, "Key conflict: %s\n", world.Directive.KeyConflict)
		fmt.Fprintf(&b, "Emotional tone: %s\n", world.Directive.EmotionalTone)
		b.WriteString("The arc you plan must serve this directive.\n")
	}

	if len(world.Artifacts) > 0 {
		b.WriteString("\n## Artifacts the protagonist carries\n")
		for _, a := range world.Artifacts {
			fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
		}
	}

	writeRecentChapters(&b, recentChapters)

	fmt.Fprintf(&b, "\nPlan between %d and %d scenes. Every scene needs a title, an objective, "+
		"a setting, the emotion it must land on, the character whose point of view carries it, "+
		"and its story beats.\n", minScenes, maxScenes)

	return b.String()
}

// ScenePrompt asks the novelist to draft one planned scene.
func ScenePrompt(arc *story.MacroArc, plan story.ScenePlan, sceneIndex int, recentChapters []story.Chapter, dossiers []*story.Dossier) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write scene %d of %d in the arc %q.\n", sceneIndex+1, arc.TotalScenes, arc.Goal)
	fmt.Fprintf(&b, "\n## Scene plan\nTitle: %s\nObjective: %s\nSetting: %s\n",
		plan.Title, plan.Objective, plan.Setting)
	if plan.EmotionalTarget != "" {
		fmt.Fprintf(&b, "Emotional target: %s\n", plan.EmotionalTarget)
	}
	if plan.ViewpointCharacter != "" {
		fmt.Fprintf(&b, "Viewpoint: %s\n", plan.ViewpointCharacter)
	}
	for _, beat := range plan.Beats {
		fmt.Fprintf(&b, "- %s\n", beat)
	}

	writeRecentChapters(&b, recentChapters)
	writeDossiers(&b, dossiers)

	b.WriteString("\nWrite the full scene as polished prose, one paragraph per array item. " +
		"Hold the planned viewpoint and land the emotional target. " +
		"Stay inside this scene; do not advance into the next one.\n")

	return b.String()
}

// ReviewPrompt asks the editor to critique a drafted scene against its
// planned emotional target.
func ReviewPrompt(content, emotionalTarget string, cycle int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Review the following scene (revision pass %d).\n", cycle+1)
	if emotionalTarget != "" {
		fmt.Fprintf(&b, "The scene was planned to land on this emotion: %s. "+
			"Judge whether it does.\n", emotionalTarget)
	}
	b.WriteString("List only problems worth fixing. If the scene is ready, return an empty list.\n")
	fmt.Fprintf(&b, "\n## Scene\n%s\n", content)

	return b.String()
}

// RewritePrompt asks the novelist to apply the editor's critique.
func RewritePrompt(content string, reviewPoints []string) string {
	var b strings.Builder

	b.WriteString("Rewrite the scene below, addressing every review point. " +
		"Preserve what already works.\n")
	b.WriteString("\n## Review points\n")
	for _, point := range reviewPoints {
		fmt.Fprintf(&b, "- %s\n", point)
	}
	fmt.Fprintf(&b, "\n## Scene\n%s\n", content)

	return b.String()
}

// SummaryPrompt asks for a condensed account of a finished chapter.
func SummaryPrompt(content string, charCount int) string {
	return fmt.Sprintf("Summarize the following chapter in roughly %d characters, then state "+
		"what drives the protagonist next.\n\n## Chapter\n%s\n", charCount, content)
}

// IdentifyCharactersPrompt asks which named characters appear in a scene.
func IdentifyCharactersPrompt(content string) string {
	return fmt.Sprintf("List every named character who appears or acts in the following scene. "+
		"Use their proper names only.\n\n## Scene\n%s\n", content)
}

// DossierUpdatePrompt asks for a refreshed profile after a scene.
func DossierUpdatePrompt(dossier *story.Dossier, sceneContent string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Update the dossier for %s based on the scene below.\n", dossier.Name)
	if dossier.Psychology != "" {
		fmt.Fprintf(&b, "\n## Current dossier\n%s\n", dossier.Psychology)
	}
	fmt.Fprintf(&b, "\n## Scene\n%s\n", sceneContent)
	b.WriteString("\nKeep established facts; change only what this scene changes.\n")

	return b.String()
}

// ArtifactPrompt asks for the reward marking a completed arc.
func ArtifactPrompt(arc *story.MacroArc) string {
	return fmt.Sprintf("The arc %q has just concluded. Invent a single artifact the protagonist "+
		"takes away from it: something earned in the story, not given. Name it, describe it, and "+
		"say how it could matter later.\n", arc.Goal)
}

// DecisionPrompt asks the director whether the next arc is another
// bounded episode or an open-world segment.
func DecisionPrompt(world *story.WorldState, recentChapters []story.Chapter) string {
	var b strings.Builder

	b.WriteString("An arc has just concluded. Decide whether the story continues with another " +
		"bounded episode arc or moves into an open-world segment. Answer with decision " +
		"\"episode\" or \"open_world\" and your reasoning.\n")

	if world.RunningSummary != "" {
		fmt.Fprintf(&b, "\n## Running summary\n%s\n", world.RunningSummary)
	}

	var completed int
	for _, arc := range world.Arcs {
		if arc.Status == story.ArcCompleted {
			completed++
		}
	}
	fmt.Fprintf(&b, "\n## History\n%d arcs completed so far.\n", completed)
	for _, arc := range world.Arcs {
		if arc.Status == story.ArcCompleted {
			fmt.Fprintf(&b, "- [%s] %s\n", arc.Kind, arc.Goal)
		}
	}

	if len(world.Artifacts) > 0 {
		b.WriteString("\n## Artifacts carried\n")
		for _, a := range world.Artifacts {
			fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
		}
	}

	writeRecentChapters(&b, recentChapters)

	return b.String()
}

// RetroMemberPrompt asks one participant for their retrospective input.
// briefing carries only the data slice that participant is entitled to.
func RetroMemberPrompt(role, briefing string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the %s in the story retrospective. The current arc has ended.\n", role)
	fmt.Fprintf(&b, "\n## Your briefing\n%s\n", briefing)
	b.WriteString("\nGive your insights, your open questions for the director, and one concrete " +
		"improvement plan for the next arc.\n")

	return b.String()
}

// RetroDirectorPrompt asks the director to aggregate the statements.
func RetroDirectorPrompt(statements map[string]*RetroStatement) string {
	var b strings.Builder

	b.WriteString("The retrospective participants have spoken. Weigh their statements, answer " +
		"each of them, and issue the final directive for the next arc.\n")

	roles := make([]string, 0, len(statements))
	for role := range statements {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		stmt := statements[role]
		fmt.Fprintf(&b, "\n## %s\n", role)
		for _, insight := range stmt.Insights {
			fmt.Fprintf(&b, "Insight: %s\n", insight)
		}
		for _, question := range stmt.Questions {
			fmt.Fprintf(&b, "Question: %s\n", question)
		}
		fmt.Fprintf(&b, "Improvement plan: %s\n", stmt.ImprovementPlan)
	}

	return b.String()
}
