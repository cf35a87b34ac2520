package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealerchat/internal/assistant"
	"dealerchat/internal/config"
	"dealerchat/internal/http/handlers"
	"dealerchat/internal/repos"
	"dealerchat/internal/services"
)

const stockFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss xmlns:g="http://base.google.com/ns/1.0" version="2.0">
  <channel>
    <item>
      <g:title>Peugeot 208 Allure</g:title>
      <g:description>19 000,00 € / 37 160,77 лв.</g:description>
      <g:link>https://example.test/208-allure</g:link>
      <g:image_link>https://example.test/208-allure.jpg</g:image_link>
      <g:availability>in stock</g:availability>
    </item>
    <item>
      <g:title>Peugeot 208 Active</g:title>
      <g:description>17 500,00 € / 34 227,03 лв.</g:description>
      <g:link>https://example.test/208-active</g:link>
      <g:image_link>https://example.test/208-active.jpg</g:image_link>
      <g:availability>in stock</g:availability>
    </item>
    <item>
      <g:title>Peugeot 2008 GT</g:title>
      <g:description>29 000,00 € / 56 719,07 лв.</g:description>
      <g:link>https://example.test/2008</g:link>
      <g:availability>in stock</g:availability>
    </item>
  </channel>
</rss>`

// scriptedGateway answers every run with the same sequence of states.
type scriptedGateway struct {
	mu     sync.Mutex
	script []assistant.Run
	polls  map[string]int
	latest string
}

func (g *scriptedGateway) CreateThread(ctx context.Context) (string, error) {
	return "thread_abc", nil
}

func (g *scriptedGateway) AddUserMessage(ctx context.Context, threadID, content string) error {
	return nil
}

func (g *scriptedGateway) StartRun(ctx context.Context, threadID string, tools []assistant.ToolSpec) (assistant.Run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.polls == nil {
		g.polls = map[string]int{}
	}
	g.polls[threadID] = 0
	return assistant.Run{ID: "run_" + threadID, ThreadID: threadID, Status: assistant.StatusQueued}, nil
}

func (g *scriptedGateway) GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.polls[threadID]
	g.polls[threadID]++
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	r := g.script[i]
	r.ID, r.ThreadID = runID, threadID
	return r, nil
}

func (g *scriptedGateway) SubmitToolOutputs(ctx context.Context, threadID, runID string, results []assistant.ToolResult) error {
	return nil
}

func (g *scriptedGateway) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	return g.latest, nil
}

type logEntry struct {
	Action    string         `json:"action"`
	SessionID string         `json:"session_id"`
	Fields    map[string]any `json:"fields"`
}

type lockedBuf struct {
	b  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedBuf{b: &buf, mu: &mu})
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func newChatApp(t *testing.T, gw assistant.Gateway) (*fiber.App, *repos.TranscriptRepo) {
	t.Helper()
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(stockFeed))
	}))
	t.Cleanup(feedSrv.Close)

	cfg := config.Config{
		DBDriver:     "sqlite",
		DBDSN:        ":memory:",
		FeedURL:      feedSrv.URL,
		FeedTimeout:  5 * time.Second,
		FeedTTL:      time.Minute,
		PollInterval: time.Millisecond,
		MaxPolls:     5,
	}
	db, err := repos.OpenDB(cfg.DBDriver, cfg.DBDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := html.New("../../web/templates", ".html")
	app := fiber.New(fiber.Config{Views: engine, ErrorHandler: handlers.ErrorHandler})
	app.Use(requestid.New())

	deps := handlers.NewDeps(db, cfg, gw, nil)
	app.Get("/", deps.PageHandler.Index)
	app.Post("/chat", deps.ChatHandler.Turn)
	api := app.Group("/api/v1/sessions")
	api.Get("/:id/messages", deps.SessionHandler.Messages)
	api.Get("/:id/takeover", deps.SessionHandler.GetTakeover)
	api.Put("/:id/takeover", deps.SessionHandler.SetTakeover)
	app.Use(deps.PageHandler.NotFound)

	return app, repos.NewTranscriptRepo(db)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestChat_InventoryTurn(t *testing.T) {
	gw := &scriptedGateway{script: []assistant.Run{
		{Status: assistant.StatusInProgress},
		{Status: assistant.StatusRequiresAction, ToolCalls: []assistant.ToolInvocation{
			{ID: "call_1", Name: services.InventoryToolName, Arguments: `{"model_filter":"208"}`},
		}},
		{Status: assistant.StatusCompleted},
	}}
	app, repo := newChatApp(t, gw)

	resp, body := doJSON(t, app, "POST", "/chat", map[string]string{"message": "Имате ли 208?"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "thread_abc", body["thread_id"])
	assert.Equal(t, true, body["new_session"])
	assert.Contains(t, body["response"], "Ето налични автомобили")

	cars, ok := body["cars"].([]any)
	require.True(t, ok, "cars missing: %v", body)
	require.Len(t, cars, 2)
	first := cars[0].(map[string]any)
	assert.Equal(t, "Peugeot 208 Active", first["model"])
	assert.Equal(t, "https://example.test/208-active", first["link"])

	msgs, err := repo.Messages("thread_abc")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsUser)
	assert.False(t, msgs[1].IsUser)

	resp, body = doJSON(t, app, "GET", "/api/v1/sessions/thread_abc/messages", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["messages"], 2)
}

func TestChat_GeneralQuestionContinuesSession(t *testing.T) {
	gw := &scriptedGateway{
		script: []assistant.Run{{Status: assistant.StatusCompleted}},
		latest: "Работим от 9 до 18 ч.",
	}
	app, _ := newChatApp(t, gw)

	resp, body := doJSON(t, app, "POST", "/chat", map[string]string{"thread_id": "thread_existing", "message": "Кога работите?"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Работим от 9 до 18 ч.", body["response"])
	assert.Equal(t, "thread_existing", body["thread_id"])
	assert.Equal(t, false, body["new_session"])
	assert.Nil(t, body["cars"])
}

func TestChat_StalledRunIsGatewayTimeout(t *testing.T) {
	gw := &scriptedGateway{script: []assistant.Run{{Status: assistant.StatusInProgress}}}
	app, repo := newChatApp(t, gw)

	var resp *http.Response
	var body map[string]any
	entries := captureLogs(t, func() {
		resp, body = doJSON(t, app, "POST", "/chat", map[string]string{"thread_id": "thread_slow", "message": "208?"})
	})
	require.Equal(t, fiber.StatusGatewayTimeout, resp.StatusCode)
	assert.Contains(t, body["error"], "in_progress")
	assert.Equal(t, "thread_slow", body["thread_id"])

	found := false
	for _, e := range entries {
		if e.Action == "chat.turn.rejected" && e.SessionID == "thread_slow" {
			found = true
		}
	}
	assert.True(t, found, "expected chat.turn.rejected log with session id")

	msgs, err := repo.Messages("thread_slow")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsUser)
}

func TestChat_FailedRunIsBadGateway(t *testing.T) {
	gw := &scriptedGateway{script: []assistant.Run{{Status: assistant.StatusFailed, FailureText: "quota exceeded"}}}
	app, _ := newChatApp(t, gw)

	resp, body := doJSON(t, app, "POST", "/chat", map[string]string{"message": "здравей"})
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "quota exceeded")
	assert.Equal(t, "run_failed", body["kind"])
}

func TestChat_Validation(t *testing.T) {
	app, _ := newChatApp(t, &scriptedGateway{script: []assistant.Run{{Status: assistant.StatusCompleted}}})

	entries := captureLogs(t, func() {
		resp, _ := doJSON(t, app, "POST", "/chat", map[string]string{"message": "   "})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		resp, _ = doJSON(t, app, "POST", "/chat", map[string]string{"thread_id": "../etc/passwd", "message": "hi"})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		resp, _ = doJSON(t, app, "POST", "/chat", map[string]string{"message": strings.Repeat("я", 2001)})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	fails := 0
	for _, e := range entries {
		if e.Action == "validation.fail" {
			fails++
		}
	}
	assert.Equal(t, 3, fails)
}

func TestTakeover_SuppressesAssistant(t *testing.T) {
	gw := &scriptedGateway{script: []assistant.Run{{Status: assistant.StatusCompleted}}, latest: "should not appear"}
	app, repo := newChatApp(t, gw)

	resp, body := doJSON(t, app, "GET", "/api/v1/sessions/thread_op/takeover", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, "PUT", "/api/v1/sessions/thread_op/takeover", map[string]bool{"takeover": true})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["takeover"])

	resp, body = doJSON(t, app, "GET", "/api/v1/sessions/thread_op/takeover", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["takeover"])

	resp, body = doJSON(t, app, "POST", "/chat", map[string]string{"thread_id": "thread_op", "message": "искам оператор"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["takeover"])
	assert.Equal(t, "", body["response"])

	msgs, err := repo.Messages("thread_op")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsUser)

	resp, _ = doJSON(t, app, "PUT", "/api/v1/sessions/thread_op/takeover", map[string]string{"takeover": "maybe"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPages(t *testing.T) {
	app, _ := newChatApp(t, &scriptedGateway{script: []assistant.Run{{Status: assistant.StatusCompleted}}})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "chat-form")

	resp, err = app.Test(httptest.NewRequest("GET", "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
