package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/services"
)

const heistReply = "```json\n" + `{"chat":"Maya enters the vault.","updates":{
  "characters_add":[{"name":"Maya","description":"A thief","role":"Protagonist"}],
  "locations_add":[{"name":"Vault","description":"Steel and silence"}],
  "scenes_add":[{"act":1,"sequence":1,"title":"Break In","location":"Vault","characterIds":["maya"]}]
}}` + "\n```"

type cli struct {
	t       *testing.T
	dataDir string
	envFile string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	for _, k := range []string{"STORE_BACKEND", "REDIS_URL", "DATABASE_URL", "OPENROUTER_API_KEY", "OPENROUTER_BASE_URL", "SETTINGS_SECRET", "TURN_TIMEOUT"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	return &cli{t: t, dataDir: filepath.Join(dir, "data"), envFile: filepath.Join(dir, "missing.env")}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", c.dataDir, "--env-file", c.envFile, "--store", "file"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run("", args...)
	require.NoError(c.t, err, out)
	return out
}

func (c *cli) create(name string) models.DocumentSummary {
	c.t.Helper()
	var summary models.DocumentSummary
	require.NoError(c.t, json.Unmarshal([]byte(c.mustRun("--json", "projects", "create", name)), &summary))
	return summary
}

func (c *cli) show(id string) models.Document {
	c.t.Helper()
	var doc models.Document
	require.NoError(c.t, json.Unmarshal([]byte(c.mustRun("projects", "show", id, "--format", "json")), &doc))
	return doc
}

func TestProjectsCommands(t *testing.T) {
	c := newCLI(t)

	assert.Contains(t, c.mustRun("projects", "list"), "No projects yet")

	created := c.create("The Heist")
	assert.Equal(t, "The Heist", created.Name)
	require.NotEmpty(t, created.ID)

	list := c.mustRun("projects", "list")
	assert.Contains(t, list, "ID")
	assert.Contains(t, list, created.ID)
	assert.Contains(t, list, "The Heist")

	c.mustRun("projects", "rename", created.ID, "The", "Job")
	assert.Equal(t, "The Job", c.show(created.ID).Name)

	text := c.mustRun("projects", "show", created.ID)
	assert.Contains(t, text, "The Job ("+created.ID+")")
	assert.Contains(t, text, "Act 1:")

	c.mustRun("projects", "delete", created.ID)
	_, err := c.run("", "projects", "show", created.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestProjectsCreateBlankUsesStarterName(t *testing.T) {
	c := newCLI(t)
	assert.Equal(t, models.StarterDocumentName, c.create("").Name)
}

func TestProjectsShowYAML(t *testing.T) {
	c := newCLI(t)
	created := c.create("Heist")

	out := c.mustRun("projects", "show", created.ID, "--format", "yaml")
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "Heist", decoded["name"])
	assert.Equal(t, created.ID, decoded["id"])
	assert.Contains(t, decoded, "storyboard")

	_, err := c.run("", "projects", "show", created.ID, "--format", "xml")
	assert.Error(t, err)
}

func TestProjectsRejectInvalidID(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "projects", "show", "../etc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid project id")
}

func TestApplyReplyFile(t *testing.T) {
	c := newCLI(t)
	created := c.create("Heist")
	replyPath := filepath.Join(t.TempDir(), "reply.txt")
	require.NoError(t, os.WriteFile(replyPath, []byte(heistReply), 0644))

	var result applyResult
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "apply", created.ID, replyPath)), &result))
	assert.True(t, result.Structured)
	assert.True(t, result.Saved)
	assert.Equal(t, "Maya enters the vault.", result.ChatText)
	assert.Equal(t, 1, result.Report.CharactersAdded)
	assert.Equal(t, 1, result.Report.LocationsAdded)
	assert.Equal(t, 1, result.Report.ScenesAdded)

	doc := c.show(created.ID)
	require.Len(t, doc.Entities.Characters, 1)
	assert.Equal(t, "maya", doc.Entities.Characters[0].ID)
	require.Len(t, doc.Storyboard.Acts[0].Sequences[0].Scenes, 1)
	assert.Equal(t, "1.1.1", doc.Storyboard.Acts[0].Sequences[0].Scenes[0].SceneNumber)
	last := doc.Messages[len(doc.Messages)-1]
	assert.Equal(t, models.RoleAssistant, last.Role)
	assert.Equal(t, "Maya enters the vault.", last.Content)
}

func TestApplyDryRunFromStdin(t *testing.T) {
	c := newCLI(t)
	created := c.create("Heist")
	before := c.show(created.ID)

	out, err := c.run(heistReply, "apply", created.ID, "-", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "structured reply")
	assert.Contains(t, out, "dry run, not saved")

	after := c.show(created.ID)
	assert.Len(t, after.Messages, len(before.Messages))
	assert.Empty(t, after.Entities.Characters)
}

func TestApplyPlainTextReply(t *testing.T) {
	c := newCLI(t)
	created := c.create("Heist")

	out, err := c.run("Just thinking out loud.", "apply", created.ID, "-")
	require.NoError(t, err)
	assert.Contains(t, out, "plain text reply")
	assert.Equal(t, "Just thinking out loud.", c.show(created.ID).Messages[1].Content)
}

func TestApplyLiveRequestsJSONReply(t *testing.T) {
	c := newCLI(t)
	created := c.create("Heist")

	var body struct {
		ResponseFormat map[string]string `json:"response_format"`
		Messages       []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "test/model",
			"choices": []map[string]any{{"message": map[string]string{"content": heistReply}, "finish_reason": "stop"}},
		})
	}))
	defer srv.Close()
	t.Setenv("OPENROUTER_BASE_URL", srv.URL)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	var result applyResult
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("--json", "apply", created.ID, "--live", "Add a thief")), &result))
	assert.True(t, result.Live)
	assert.True(t, result.Saved)
	assert.Equal(t, 1, result.Report.ScenesAdded)

	assert.Equal(t, "json_object", body.ResponseFormat["type"])
	require.NotEmpty(t, body.Messages)
	assert.Equal(t, "system", body.Messages[0].Role)
	last := body.Messages[len(body.Messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "Add a thief", last.Content)

	doc := c.show(created.ID)
	require.Len(t, doc.Messages, 3)
	assert.Equal(t, "Add a thief", doc.Messages[1].Content)
	assert.Equal(t, "Maya enters the vault.", doc.Messages[2].Content)
}

func TestApplyLiveArguments(t *testing.T) {
	c := newCLI(t)
	created := c.create("Heist")

	_, err := c.run("", "apply", created.ID)
	assert.Error(t, err)
	_, err = c.run("", "apply", created.ID, "-", "--live", "both")
	assert.Error(t, err)

	_, err = c.run("", "apply", created.ID, "--live", "Add a thief")
	require.Error(t, err)
	assert.Contains(t, err.Error(), services.MissingCredentialMessage)
	assert.Len(t, c.show(created.ID).Messages, 1)
}

func TestChatWithoutCredential(t *testing.T) {
	c := newCLI(t)
	created := c.create("Heist")

	out := c.mustRun("chat", created.ID, "Add", "a", "thief")
	assert.Contains(t, out, services.MissingCredentialMessage)

	doc := c.show(created.ID)
	require.Len(t, doc.Messages, 3)
	assert.Equal(t, "Add a thief", doc.Messages[1].Content)
	assert.Equal(t, services.MissingCredentialMessage, doc.Messages[2].Content)
}

func TestSchemaCommand(t *testing.T) {
	c := newCLI(t)
	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("schema")), &schema))
	assert.Equal(t, "Storyboarder Reply", schema["title"])
}
