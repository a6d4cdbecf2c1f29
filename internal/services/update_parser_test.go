package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantChat   string
		wantScenes int
		structured bool
	}{
		{
			name:     "empty input",
			raw:      "   \n\t ",
			wantChat: NoResponseMessage,
		},
		{
			name:       "plain json",
			raw:        `{"chat":"  Added a scene. ","updates":{"scenes_add":[{"title":"Open"}]}}`,
			wantChat:   "Added a scene.",
			wantScenes: 1,
			structured: true,
		},
		{
			name:       "fenced json lowercase tag",
			raw:        "```json\n{\"chat\":\"Added a scene.\",\"updates\":{\"scenes_add\":[{\"title\":\"Open\"}]}}\n```",
			wantChat:   "Added a scene.",
			wantScenes: 1,
			structured: true,
		},
		{
			name:       "fenced json uppercase tag",
			raw:        "```JSON\n{\"chat\":\"Added a scene.\",\"updates\":{\"scenes_add\":[{\"title\":\"Open\"}]}}\n```",
			wantChat:   "Added a scene.",
			wantScenes: 1,
			structured: true,
		},
		{
			name:       "fence without tag and without closing fence",
			raw:        "```\n{\"chat\":\"Hi\",\"updates\":{}}",
			wantChat:   "Hi",
			structured: true,
		},
		{
			name:       "missing chat falls back",
			raw:        `{"updates":{"scenes_add":[{}]}}`,
			wantChat:   DefaultChatText,
			wantScenes: 1,
			structured: true,
		},
		{
			name:       "non string chat falls back",
			raw:        `{"chat":42,"updates":{}}`,
			wantChat:   DefaultChatText,
			structured: true,
		},
		{
			name:       "updates not an object",
			raw:        `{"chat":"ok","updates":["scenes_add"]}`,
			wantChat:   "ok",
			structured: true,
		},
		{
			name:     "free text",
			raw:      "Sure! Let's talk about your villain first.",
			wantChat: "Sure! Let's talk about your villain first.",
		},
		{
			name:     "truncated json",
			raw:      `{"chat":"Added","updates":{"scenes_add":[`,
			wantChat: `{"chat":"Added","updates":{"scenes_add":[`,
		},
		{
			name:     "json array is not a reply",
			raw:      `["chat"]`,
			wantChat: `["chat"]`,
		},
		{
			name:     "raw text returned unmodified",
			raw:      "  hello there  \n",
			wantChat: "  hello there  \n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ParsedReply
			require.NotPanics(t, func() { got = ParseReply(tt.raw) })
			assert.Equal(t, tt.wantChat, got.ChatText)
			assert.Len(t, got.Envelope.ScenesAdd, tt.wantScenes)
			assert.Equal(t, tt.structured, got.Structured)
		})
	}
}

func TestParseReplyKeepsEnvelopeContent(t *testing.T) {
	raw := "```Json\n" + `{
		"chat": "Added a scene.",
		"updates": {
			"characters_add": [{"name": "Maya", "role": "Protagonist"}],
			"scenes_update": [{"sceneId": "scene_1", "changes": {"mood": "tense"}}],
			"scenes_remove": ["scene_2"]
		}
	}` + "\n```"

	got := ParseReply(raw)
	assert.Equal(t, "Added a scene.", got.ChatText)
	require.Len(t, got.Envelope.CharactersAdd, 1)
	assert.Equal(t, "Maya", got.Envelope.CharactersAdd[0].Name.String())
	require.Len(t, got.Envelope.ScenesUpdate, 1)
	assert.Equal(t, "scene_1", got.Envelope.ScenesUpdate[0].SceneID.String())
	assert.Len(t, got.Envelope.ScenesRemove, 1)
}

func TestParseReplyNeverReturnsEmptyChat(t *testing.T) {
	inputs := []string{"", "```", "```json```", "{}", "null", "\ufeff", `{"chat":""}`, "}{", "```json\n```"}
	for _, in := range inputs {
		got := ParseReply(in)
		assert.NotEmpty(t, got.ChatText, "input %q", in)
	}
}
