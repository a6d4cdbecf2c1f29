package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumanurawat/storyboarder/internal/models"
	"github.com/sumanurawat/storyboarder/internal/services"
)

type wireFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func dialProject(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/projects/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame wireFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestProjectWebSocketStreamsTurn(t *testing.T) {
	s := newTestServer(t, &scriptedBackend{reply: mayaReply})
	server := httptest.NewServer(s.router)
	defer server.Close()

	_, env := s.do(t, http.MethodPost, "/api/projects", CreateProjectRequest{Name: "Heist"})
	id := decodeData[models.Document](t, env).ID

	conn := dialProject(t, server, id)
	hello := readFrame(t, conn)
	require.Equal(t, FrameConnected, hello.Type)
	var snapshot services.TurnUpdate
	require.NoError(t, json.Unmarshal(hello.Data, &snapshot))
	assert.Equal(t, id, snapshot.ProjectID)
	assert.Equal(t, services.TurnIdle, snapshot.Status)
	require.NotNil(t, snapshot.Document)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, FramePong, readFrame(t, conn).Type)

	rec, _ := s.do(t, http.MethodPost, "/api/projects/"+id+"/messages", SendMessageRequest{Content: "Add a thief"})
	require.Equal(t, http.StatusOK, rec.Code)

	var final *services.TurnUpdate
	for final == nil {
		frame := readFrame(t, conn)
		require.Equal(t, FrameTurnUpdate, frame.Type)
		var update services.TurnUpdate
		require.NoError(t, json.Unmarshal(frame.Data, &update))
		if update.Status == services.TurnIdle && update.Document != nil && len(update.Document.Entities.Characters) > 0 {
			final = &update
		}
	}
	assert.Equal(t, "maya", final.Document.Entities.Characters[0].ID)
	assert.Equal(t, 1, s.handler.WebSocket.Manager().Count())
}

func TestProjectWebSocketRejectsUnknownProject(t *testing.T) {
	s := newTestServer(t, &scriptedBackend{reply: mayaReply})
	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/projects/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectWebSocketUnknownMessage(t *testing.T) {
	s := newTestServer(t, &scriptedBackend{reply: mayaReply})
	server := httptest.NewServer(s.router)
	defer server.Close()

	_, env := s.do(t, http.MethodPost, "/api/projects", CreateProjectRequest{Name: "Heist"})
	conn := dialProject(t, server, decodeData[models.Document](t, env).ID)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, "invalid message format", frame.Error)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	frame = readFrame(t, conn)
	assert.Equal(t, FrameError, frame.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "cancel"}))
	frame = readFrame(t, conn)
	require.Equal(t, FrameCancelled, frame.Type)
	assert.JSONEq(t, `{"cancelled":false}`, string(frame.Data))
}

func TestProjectWebSocketClosesWhenProjectDeleted(t *testing.T) {
	s := newTestServer(t, &scriptedBackend{reply: mayaReply})
	server := httptest.NewServer(s.router)
	defer server.Close()

	_, env := s.do(t, http.MethodPost, "/api/projects", CreateProjectRequest{Name: "Heist"})
	id := decodeData[models.Document](t, env).ID
	conn := dialProject(t, server, id)
	readFrame(t, conn)

	rec, _ := s.do(t, http.MethodDelete, "/api/projects/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
