package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sumanurawat/storyboarder/internal/models"
)

func TestComposeSystemPromptEmptyDocument(t *testing.T) {
	doc := models.NewDocument("Empty", time.Now())
	prompt := ComposeSystemPrompt(doc.Storyboard, doc.Entities)

	assert.True(t, strings.HasPrefix(prompt, storyboardInstructions))
	assert.Contains(t, prompt, "## CURRENT STATE")
	assert.Contains(t, prompt, "Scenes: none yet")
	assert.Contains(t, prompt, "Characters: none yet")
	assert.Contains(t, prompt, "Locations: none yet")
}

func TestComposeSystemPromptListsStateInOrder(t *testing.T) {
	doc := models.NewDocument("Full", time.Now())
	doc.Storyboard.FindSequence(2, 4).Scenes = []models.Scene{
		{ID: "scene_b", Title: "Turn", Mood: "dread"},
	}
	doc.Storyboard.FindSequence(1, 1).Scenes = []models.Scene{
		{ID: "scene_a", Title: "Open", StoryFunction: "sets the hook", Mood: "calm"},
		{ID: "scene_c", Title: "Blank"},
	}
	doc.Entities.Characters = []models.Character{
		{ID: "maya", Name: "Maya", Description: "painter"},
		{ID: "eli", Name: "Eli", Description: "brother"},
	}
	doc.Entities.Locations = []models.Location{
		{ID: "old_mill", Name: "Old Mill", Description: "by the river"},
	}

	prompt := ComposeSystemPrompt(doc.Storyboard, doc.Entities)
	state := prompt[strings.Index(prompt, "## CURRENT STATE"):]

	expected := strings.Join([]string{
		"## CURRENT STATE",
		"",
		"Scenes (3):",
		"- [A1.S1] Open (scene_a): sets the hook",
		"- [A1.S1] Blank (scene_c): No summary",
		"- [A2.S4] Turn (scene_b): dread",
		"",
		"Characters:",
		"- Maya (maya): painter",
		"- Eli (eli): brother",
		"",
		"Locations:",
		"- Old Mill (old_mill): by the river",
	}, "\n")
	assert.Equal(t, expected, state)
}
