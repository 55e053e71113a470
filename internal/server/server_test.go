package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/ai"
	"github.com/spigell/careerhub/internal/hub"
	"github.com/spigell/careerhub/internal/persistence"
	"github.com/spigell/careerhub/internal/registry"
	"github.com/spigell/careerhub/internal/stats"
)

type fakeAnalyzer struct {
	analysis *ai.Analysis
	err      error
	gotMime  string
	gotBytes []byte
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, document []byte, mimeType string) (*ai.Analysis, error) {
	f.gotMime = mimeType
	f.gotBytes = document
	return f.analysis, f.err
}

type testEnv struct {
	hub      *hub.Hub
	registry *registry.Registry
	users    *persistence.BoltStore
	analyzer *fakeAnalyzer
	server   *httptest.Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	users, err := persistence.NewBoltStore(filepath.Join(t.TempDir(), "careerhub.db"), 0)
	require.NoError(t, err)

	reg := registry.New(64, zap.NewNop())
	h := hub.New(stats.NewStore(20, 200), reg, nil, 64, zap.NewNop())
	analyzer := &fakeAnalyzer{analysis: &ai.Analysis{Score: 77, Keywords: []string{"go"}}}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.Run(ctx)
	}()

	srv := httptest.NewServer(New(cfg, h, reg, users, analyzer, zap.NewNop()).Handler())
	t.Cleanup(func() {
		reg.Close()
		srv.Close()
		cancel()
		<-stopped
		users.Close()
	})

	return &testEnv{hub: h, registry: reg, users: users, analyzer: analyzer, server: srv}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, ws *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wireMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func readRecord(t *testing.T, msg wireMessage) stats.Record {
	t.Helper()
	var rec stats.Record
	require.NoError(t, json.Unmarshal(msg.Payload, &rec))
	return rec
}

func uploadRequest(t *testing.T, url, identity string, content []byte, contentType string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if content != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="resume"; filename="cv.pdf"`)
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url+"/api/analyze", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if identity != "" {
		req.Header.Set(identityHeader, identity)
	}
	return req
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestWebsocketSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	ws := env.dial(t)

	greeting := readMessage(t, ws)
	assert.Equal(t, hub.MessageDashboard, greeting.Type)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "join", "user": "a@x.com"}))
	joined := readMessage(t, ws)
	assert.Equal(t, hub.MessageUserStats, joined.Type)
	assert.Equal(t, 0, readRecord(t, joined).Interviews)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":    "increment",
		"payload": map[string]any{"metric": "interviews", "amount": 2, "user": "a@x.com"},
	}))
	userStats := readMessage(t, ws)
	assert.Equal(t, hub.MessageUserStats, userStats.Type)
	assert.Equal(t, 2, readRecord(t, userStats).Interviews)

	dashboard := readMessage(t, ws)
	assert.Equal(t, hub.MessageDashboard, dashboard.Type)
	assert.Equal(t, 2, readRecord(t, dashboard).Interviews)
}

func TestWebsocketRejectsBadEventsOnlyForSender(t *testing.T) {
	env := newTestEnv(t, Config{})
	sender := env.dial(t)
	other := env.dial(t)
	readMessage(t, sender)
	readMessage(t, other)

	require.NoError(t, sender.WriteJSON(map[string]any{
		"type":    "increment",
		"payload": map[string]any{"metric": "karma"},
	}))
	msg := readMessage(t, sender)
	require.Equal(t, hub.MessageError, msg.Type)

	var payload hub.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "increment", payload.Event)
	assert.Contains(t, payload.Message, "unknown metric")

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, hub.MessageError, readMessage(t, sender).Type)

	// The other client only sees the activity that follows.
	require.NoError(t, sender.WriteJSON(map[string]any{
		"type":    "activity",
		"payload": map[string]any{"action": "Completed Interview", "iconName": "Mic"},
	}))
	activityMsg := readMessage(t, other)
	require.Equal(t, hub.MessageActivity, activityMsg.Type)
	assert.Contains(t, string(activityMsg.Payload), `"icon":"Mic"`)
	assert.Equal(t, 0, env.hub.Snapshot("").Resumes)
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	env := newTestEnv(t, Config{})
	ws := env.dial(t)
	readMessage(t, ws)
	require.Equal(t, 1, env.registry.Count())

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return env.registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAnalyzeUpdatesHub(t *testing.T) {
	env := newTestEnv(t, Config{})
	ws := env.dial(t)
	readMessage(t, ws)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "join", "identity": "a@x.com"}))
	readMessage(t, ws)

	resp, err := http.DefaultClient.Do(uploadRequest(t, env.server.URL, "a@x.com", []byte("%PDF-1.4 resume"), "application/pdf"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body analyzeResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, float64(77), body.Analysis.Score)
	assert.Equal(t, "application/pdf", env.analyzer.gotMime)

	activityMsg := readMessage(t, ws)
	assert.Equal(t, hub.MessageActivity, activityMsg.Type)
	assert.Contains(t, string(activityMsg.Payload), "Analyzed Resume")
	assert.Equal(t, hub.MessageDashboard, readMessage(t, ws).Type)

	userStats := readMessage(t, ws)
	require.Equal(t, hub.MessageUserStats, userStats.Type)
	assert.Equal(t, 1, readRecord(t, userStats).Resumes)

	require.Eventually(t, func() bool { return env.hub.Snapshot("").Resumes == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.hub.Snapshot("a@x.com").Resumes)
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name        string
		content     []byte
		analyzerErr error
		wantStatus  int
		wantMessage string
	}{
		{name: "missing file", wantStatus: http.StatusBadRequest, wantMessage: "No file uploaded"},
		{name: "extraction", content: []byte("x"), analyzerErr: ai.ErrExtraction, wantStatus: http.StatusBadRequest, wantMessage: "Text extraction failed"},
		{name: "provider failure", content: []byte("x"), analyzerErr: errors.New("quota"), wantStatus: http.StatusInternalServerError, wantMessage: "AI analysis failed"},
		{name: "disabled", content: []byte("x"), analyzerErr: ai.ErrDisabled, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			env.analyzer.err = tt.analyzerErr

			resp, err := http.DefaultClient.Do(uploadRequest(t, env.server.URL, "a@x.com", tt.content, "application/pdf"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body ErrorResponse
			decodeBody(t, resp, &body)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, body.Message)
			}
			assert.Equal(t, 0, env.hub.Snapshot("").Resumes)
		})
	}
}

func TestAnalyzeRejectsLargeUploads(t *testing.T) {
	env := newTestEnv(t, Config{MaxUploadBytes: 1024})

	resp, err := http.DefaultClient.Do(uploadRequest(t, env.server.URL, "", bytes.Repeat([]byte("a"), 4096), "application/pdf"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Nil(t, env.analyzer.gotBytes)
}

func TestStatsEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	require.NoError(t, env.hub.Submit(ctx, hub.Increment("a@x.com", stats.MetricCourses, 2)))
	require.NoError(t, env.hub.Submit(ctx, hub.Increment("b@x.com", stats.MetricCourses, 1)))
	require.Eventually(t, func() bool { return env.hub.Snapshot("").Courses == 3 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(env.server.URL + "/api/stats")
	require.NoError(t, err)
	var global stats.Record
	decodeBody(t, resp, &global)
	assert.Equal(t, 3, global.Courses)

	resp, err = http.Get(env.server.URL + "/api/stats/a@x.com")
	require.NoError(t, err)
	var user stats.Record
	decodeBody(t, resp, &user)
	assert.Equal(t, 2, user.Courses)
}

func TestUserEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, err := http.Get(env.server.URL + "/api/users/a@x.com")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = env.users.Apply(context.Background(), "a@x.com", persistence.Update{
		Increments: map[stats.Metric]int{stats.MetricSkills: 4},
	})
	require.NoError(t, err)

	resp, err = http.Get(env.server.URL + "/api/users/a@x.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var user persistence.User
	decodeBody(t, resp, &user)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, 4, user.Stats.Skills)
}

func TestHealthzAndCORS(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"http://localhost:3000"}})
	ws := env.dial(t)
	readMessage(t, ws)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	var h health
	decodeBody(t, resp, &h)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Subscribers)

	req, err = http.NewRequest(http.MethodOptions, env.server.URL+"/api/analyze", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, "bad", errors.New("details"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"bad","error":"details"}`, w.Body.String())
}
