package services

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumanurawat/storyboarder/internal/models"
)

var reconcileClock = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func newTestReconciler() *Reconciler {
	n := 0
	return &Reconciler{
		Now: func() time.Time { return reconcileClock },
		NewSceneID: func() string {
			n++
			return fmt.Sprintf("scene_%08d", n)
		},
	}
}

func newTestDocument() *models.Document {
	return models.NewDocument("Test", reconcileClock.Add(-time.Hour))
}

func mustEnvelope(t *testing.T, raw string) models.UpdateEnvelope {
	t.Helper()
	var env models.UpdateEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return env
}

func TestApplyScenarioAddWithBlankDialogue(t *testing.T) {
	doc := newTestDocument()
	env := mustEnvelope(t, `{"scenes_add":[{"act":1,"sequence":1,"title":"Open","dialogue":[{"character":"","line":""}]}]}`)

	next, report := newTestReconciler().Apply(doc, env)

	scenes := next.Storyboard.FindSequence(1, 1).Scenes
	require.Len(t, scenes, 1)
	assert.Equal(t, "1.1.1", scenes[0].SceneNumber)
	assert.Equal(t, "Open", scenes[0].Title)
	assert.Empty(t, scenes[0].Dialogue)
	assert.NotNil(t, scenes[0].Dialogue)
	assert.Nil(t, scenes[0].ImageURL)
	assert.Equal(t, 1, report.ScenesAdded)
}

func TestApplyScenarioRemoveThenAdd(t *testing.T) {
	doc := newTestDocument()
	seq := doc.Storyboard.FindSequence(1, 2)
	seq.Scenes = append(seq.Scenes, models.Scene{ID: "scene_1", SceneNumber: "1.2.1", Title: "Old"})

	env := mustEnvelope(t, `{"scenes_remove":["scene_1"],"scenes_add":[{"act":1,"sequence":2,"title":"New"}]}`)
	next, _ := newTestReconciler().Apply(doc, env)

	scenes := next.Storyboard.FindSequence(1, 2).Scenes
	require.Len(t, scenes, 1)
	assert.Equal(t, "1.2.1", scenes[0].SceneNumber)
	assert.Equal(t, "New", scenes[0].Title)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	doc := newTestDocument()
	before := doc.Clone()

	env := mustEnvelope(t, `{
		"characters_add":[{"name":"Maya"}],
		"locations_add":[{"name":"Harbor"}],
		"scenes_add":[{"act":2,"sequence":3,"title":"Arrival"}]
	}`)
	next, _ := newTestReconciler().Apply(doc, env)

	assert.Equal(t, before, doc)
	assert.NotEqual(t, doc.UpdatedAt, next.UpdatedAt)
	assert.Len(t, next.Entities.Characters, 1)
	assert.Empty(t, doc.Entities.Characters)
}

func TestApplyCharacterAddsAreIdempotent(t *testing.T) {
	r := newTestReconciler()
	env := mustEnvelope(t, `{"characters_add":[{"name":"Maya Cole","description":"painter"},{"name":"maya  cole!","description":"dup"}]}`)

	doc, report := r.Apply(newTestDocument(), env)
	require.Len(t, doc.Entities.Characters, 1)
	assert.Equal(t, 1, report.Skipped)

	doc, _ = r.Apply(doc, env)
	require.Len(t, doc.Entities.Characters, 1)

	maya := doc.Entities.Characters[0]
	assert.Equal(t, "maya_cole", maya.ID)
	assert.Equal(t, "painter", maya.Description)
	assert.Equal(t, "Supporting", maya.Role)
	assert.Equal(t, "", maya.FirstAppearance)
	assert.Equal(t, "#E8B4E8", maya.Color)
}

func TestApplyCharacterPaletteRotates(t *testing.T) {
	var names []map[string]string
	for i := 0; i < 7; i++ {
		names = append(names, map[string]string{"name": fmt.Sprintf("Person %d", i)})
	}
	raw, err := json.Marshal(map[string]any{"characters_add": names})
	require.NoError(t, err)

	doc, _ := newTestReconciler().Apply(newTestDocument(), mustEnvelope(t, string(raw)))

	require.Len(t, doc.Entities.Characters, 7)
	for i, c := range doc.Entities.Characters {
		assert.Equal(t, characterPalette[i%len(characterPalette)], c.Color)
	}
}

func TestApplyEntityUpdates(t *testing.T) {
	r := newTestReconciler()
	doc, _ := r.Apply(newTestDocument(), mustEnvelope(t, `{
		"characters_add":[{"name":"Maya","role":"Protagonist"}],
		"locations_add":[{"name":"Old Mill","mood":"dusty"}]
	}`))

	doc, report := r.Apply(doc, mustEnvelope(t, `{
		"characters_update":[{"id":" maya ","changes":{"description":"older now","role":null}},{"id":"ghost","changes":{"role":"Villain"}}],
		"locations_update":[{"id":"old_mill","changes":{"mood":"burning"}}]
	}`))

	maya := doc.Entities.FindCharacter("maya")
	require.NotNil(t, maya)
	assert.Equal(t, "older now", maya.Description)
	assert.Equal(t, "Protagonist", maya.Role)
	assert.Nil(t, doc.Entities.FindCharacter("ghost"))
	assert.Equal(t, "burning", doc.Entities.FindLocation("old_mill").Mood)
	assert.Equal(t, 1, report.CharactersUpdated)
	assert.Equal(t, 1, report.Skipped)
}

func TestApplySceneUpdates(t *testing.T) {
	r := newTestReconciler()
	doc, _ := r.Apply(newTestDocument(), mustEnvelope(t, `{"scenes_add":[{"act":3,"sequence":8,"title":"End","characterIds":["maya"],"dialogue":[{"character":"Maya","line":"Bye"}]}]}`))
	id := doc.Storyboard.FindSequence(3, 8).Scenes[0].ID

	doc, _ = r.Apply(doc, mustEnvelope(t, fmt.Sprintf(`{"scenes_update":[{"sceneId":%q,"changes":{
		"title":"Ending",
		"characterIds":[" eli ","eli",""],
		"imageUrl":"https://img/end.png"
	}}]}`, id)))

	scene := doc.Storyboard.FindScene(id)
	require.NotNil(t, scene)
	assert.Equal(t, "Ending", scene.Title)
	assert.Equal(t, []string{"eli"}, scene.CharacterIDs)
	assert.Equal(t, []models.DialogueLine{{Character: "Maya", Line: "Bye"}}, scene.Dialogue, "absent dialogue key keeps lines")
	require.NotNil(t, scene.ImageURL)
	assert.Equal(t, "https://img/end.png", *scene.ImageURL)
	assert.Equal(t, "3.8.1", scene.SceneNumber)

	doc, _ = r.Apply(doc, mustEnvelope(t, fmt.Sprintf(`{"scenes_update":[{"sceneId":%q,"changes":{"dialogue":null}}]}`, id)))
	assert.Empty(t, doc.Storyboard.FindScene(id).Dialogue)
}

func TestApplyDanglingReferencesOnlyTouchUpdatedAt(t *testing.T) {
	doc := newTestDocument()
	env := mustEnvelope(t, `{
		"scenes_update":[{"sceneId":"nope","changes":{"title":"x"}}],
		"scenes_remove":["missing"],
		"characters_update":[{"id":"nobody","changes":{"name":"x"}}],
		"locations_update":[{"id":"nowhere","changes":{"name":"x"}}]
	}`)

	next, _ := newTestReconciler().Apply(doc, env)

	expected := doc.Clone()
	expected.UpdatedAt = reconcileClock
	assert.Equal(t, expected, next)
}

func TestApplyBatchPartialSuccess(t *testing.T) {
	env := mustEnvelope(t, `{"scenes_add":[
		{"act":1,"sequence":1,"title":"Valid"},
		{"act":1,"sequence":99,"title":"Nowhere"},
		{"act":2,"sequence":1,"title":"Wrong act"},
		{"act":"two","sequence":3,"title":"Bad number"}
	]}`)

	next, report := newTestReconciler().Apply(newTestDocument(), env)

	assert.Equal(t, 1, next.Storyboard.SceneCount())
	assert.Equal(t, 1, report.ScenesAdded)
	assert.Equal(t, 3, report.Skipped)
}

func TestApplyDefaultsActAndSequence(t *testing.T) {
	env := mustEnvelope(t, `{"scenes_add":[{"act":"2","sequence":"4"},{"title":""}]}`)
	next, _ := newTestReconciler().Apply(newTestDocument(), env)

	mid := next.Storyboard.FindSequence(2, 4).Scenes
	require.Len(t, mid, 1)
	assert.Equal(t, defaultSceneTitle, mid[0].Title)

	first := next.Storyboard.FindSequence(1, 1).Scenes
	require.Len(t, first, 1)
	assert.Equal(t, defaultSceneTitle, first[0].Title)
}

func TestRenumberingHealsTamperedNumbers(t *testing.T) {
	doc := newTestDocument()
	seq := doc.Storyboard.FindSequence(2, 5)
	seq.Scenes = append(seq.Scenes,
		models.Scene{ID: "a", SceneNumber: "9.9.9"},
		models.Scene{ID: "b", SceneNumber: ""},
		models.Scene{ID: "c", SceneNumber: "2.5.1"},
	)

	next, _ := newTestReconciler().Apply(doc, mustEnvelope(t, `{"scenes_remove":["b"]}`))

	scenes := next.Storyboard.FindSequence(2, 5).Scenes
	require.Len(t, scenes, 2)
	assert.Equal(t, "2.5.1", scenes[0].SceneNumber)
	assert.Equal(t, "a", scenes[0].ID)
	assert.Equal(t, "2.5.2", scenes[1].SceneNumber)
	assert.Equal(t, "c", scenes[1].ID)
}

func TestApplyGeneratesPrefixedSceneIDs(t *testing.T) {
	next, _ := NewReconciler().Apply(newTestDocument(), mustEnvelope(t, `{"scenes_add":[{},{}]}`))
	scenes := next.Storyboard.FindSequence(1, 1).Scenes
	require.Len(t, scenes, 2)
	for _, s := range scenes {
		assert.Regexp(t, `^scene_[0-9a-f]{8}$`, s.ID)
	}
	assert.NotEqual(t, scenes[0].ID, scenes[1].ID)
}
