// internal/services/prompt_composer.go
package services

import (
	"fmt"
	"strings"

	"github.com/sumanurawat/storyboarder/internal/models"
)

// storyboardInstructions 系统提示中固定不变的部分
const storyboardInstructions = `
You are Storyboarder AI, a creative partner who helps the user grow a story through conversation.

Reply with valid JSON ONLY, using exactly this shape:
{
  "chat": "Your natural-language reply to the user",
  "updates": {
    "scenes_add": [],
    "scenes_update": [],
    "scenes_remove": [],
    "characters_add": [],
    "characters_update": [],
    "locations_add": [],
    "locations_update": []
  }
}

Each scenes_add entry:
{
  "act": 1,
  "sequence": 1,
  "title": "The Empty Apartment",
  "location": "INT. APARTMENT - NIGHT",
  "time": "Late evening",
  "visualDescription": "What the camera sees, vivid and concrete",
  "action": "Present-tense physical action",
  "dialogue": [{"character": "Maya", "line": "Where did everyone go?"}],
  "mood": "Quiet, uneasy",
  "storyFunction": "What this scene does for the story",
  "characterIds": ["maya"],
  "locationIds": ["mayas_apartment"]
}

Each scenes_update entry: {"sceneId": "<existing scene id>", "changes": {<scene fields to replace>}}
scenes_remove: a list of existing scene ids.

Each characters_add entry:
{
  "name": "Maya",
  "description": "30s, tired eyes, paint on her fingers",
  "visualPromptDescription": "Detailed visual identity reusable across images",
  "role": "Protagonist"
}

Each locations_add entry:
{
  "name": "Maya's Apartment",
  "description": "Small studio with bare walls",
  "visualPromptDescription": "Detailed location description reusable across images",
  "mood": "Lonely, recently abandoned"
}

characters_update / locations_update entries: {"id": "<existing id>", "changes": {<fields to replace>}}

Story structure:
- Act 1, sequences 1-2 (setup)
- Act 2, sequences 3-6 (confrontation)
- Act 3, sequences 7-8 (resolution)

Rules:
1. JSON only. Do not wrap the reply in markdown fences.
2. Keep chat short, warm and focused on the next step.
3. Add 1-3 scenes per turn unless the user asks for more.
4. Write visual descriptions specific enough for image generation.
5. Reuse the existing character and location ids listed below.
6. The user's direction always wins.
`

// ComposeSystemPrompt 生成系统提示：固定说明加当前文档状态
func ComposeSystemPrompt(storyboard models.Storyboard, entities models.Entities) string {
	var b strings.Builder
	b.WriteString(storyboardInstructions)
	b.WriteString("\n## CURRENT STATE\n\n")

	var scenes []string
	for _, act := range storyboard.Acts {
		for _, seq := range act.Sequences {
			for _, scene := range seq.Scenes {
				scenes = append(scenes, fmt.Sprintf("- [A%d.S%d] %s (%s): %s",
					act.Number, seq.Number, scene.Title, scene.ID, sceneSummary(scene)))
			}
		}
	}
	if len(scenes) == 0 {
		b.WriteString("Scenes: none yet\n")
	} else {
		fmt.Fprintf(&b, "Scenes (%d):\n%s\n", len(scenes), strings.Join(scenes, "\n"))
	}

	if len(entities.Characters) == 0 {
		b.WriteString("\nCharacters: none yet\n")
	} else {
		b.WriteString("\nCharacters:\n")
		for _, c := range entities.Characters {
			fmt.Fprintf(&b, "- %s (%s): %s\n", c.Name, c.ID, c.Description)
		}
	}

	if len(entities.Locations) == 0 {
		b.WriteString("\nLocations: none yet")
	} else {
		b.WriteString("\nLocations:")
		for _, l := range entities.Locations {
			fmt.Fprintf(&b, "\n- %s (%s): %s", l.Name, l.ID, l.Description)
		}
	}
	return b.String()
}

func sceneSummary(scene models.Scene) string {
	switch {
	case scene.StoryFunction != "":
		return scene.StoryFunction
	case scene.Mood != "":
		return scene.Mood
	default:
		return "No summary"
	}
}
