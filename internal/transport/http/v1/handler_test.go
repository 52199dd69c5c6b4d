package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatvault/internal/adapter/blobstore"
	"github.com/xiaot623/gogo/chatvault/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatvault/internal/codec"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
	"github.com/xiaot623/gogo/chatvault/internal/hub"
	"github.com/xiaot623/gogo/chatvault/internal/policy"
	"github.com/xiaot623/gogo/chatvault/internal/repository"
	"github.com/xiaot623/gogo/chatvault/internal/service"
)

type testEnv struct {
	handler *Handler
	repo    repository.SessionRepository
	llm     *llm.MockClient
	store   *blobstore.LocalStore
	hub     *hub.Hub
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	store, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	h := hub.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	mock := llm.NewMockClient()
	svc := service.New(repo, mock, store, service.Options{
		Policy:          engine,
		Events:          h,
		Logger:          logger,
		MaxPublishBytes: 1 << 20,
	})
	pump := hub.PumpConfig{PingInterval: time.Second, WriteTimeout: time.Second, ReadTimeout: 5 * time.Second}

	return &testEnv{
		handler: NewHandler(svc, h, pump, logger),
		repo:    repo,
		llm:     mock,
		store:   store,
		hub:     h,
	}
}

func doJSON(t *testing.T, fn echo.HandlerFunc, method, path, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamNames(params[i])
		c.SetParamValues(params[i+1])
	}
	require.NoError(t, fn(c))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorResponse {
	t.Helper()
	var resp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestHandler(t)
	rec := doJSON(t, env.handler.Health, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestChatAndGetSession(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.Chat, http.MethodPost, "/v1/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var chat domain.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.NotEmpty(t, chat.SessionID)
	assert.NotEmpty(t, chat.Reply)
	assert.Equal(t, 2, chat.MessageCount)

	rec = doJSON(t, env.handler.GetSession, http.MethodGet, "/v1/sessions/"+chat.SessionID, "", "session_id", chat.SessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := codec.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "hello", sess.Messages[0].Content)
	assert.Equal(t, chat.Reply, sess.Messages[1].Content)
}

func TestChatValidation(t *testing.T) {
	env := newTestHandler(t)

	for _, body := range []string{`{"message":""}`, `{"message":"   "}`, `not json`, `{"message":"hi","sessionId":"../x"}`} {
		rec := doJSON(t, env.handler.Chat, http.MethodPost, "/v1/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, domain.CodeInvalidInput, decodeError(t, rec).Code, body)
	}
	assert.Empty(t, env.llm.Calls())
}

func TestChatInferenceFailure(t *testing.T) {
	env := newTestHandler(t)
	env.llm.FailWith(errors.New("LLM API error [500]: model crashed"))

	rec := doJSON(t, env.handler.Chat, http.MethodPost, "/v1/chat", `{"message":"hi","sessionId":"s1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, domain.CodeInferenceFailure, resp.Code)
	assert.True(t, resp.Retryable)
	assert.Contains(t, resp.Error, "model crashed")

	rec = doJSON(t, env.handler.GetSession, http.MethodGet, "/v1/sessions/s1", "", "session_id", "s1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	env := newTestHandler(t)
	rec := doJSON(t, env.handler.GetSession, http.MethodGet, "/v1/sessions/unknown-id", "", "session_id", "unknown-id")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodeNotFound, decodeError(t, rec).Code)
}

func TestPublishAndLoadSnapshot(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.Chat, http.MethodPost, "/chat", `{"message":"hello","sessionId":"s-pub"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env.handler.PublishSession, http.MethodPost, "/v1/sessions/s-pub/publish", "", "session_id", "s-pub")
	require.Equal(t, http.StatusOK, rec.Code)

	var pub domain.PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pub))
	assert.NotEmpty(t, pub.Address)
	assert.Equal(t, pub.Address, pub.CID)
	assert.Equal(t, "s-pub", pub.SessionID)
	assert.Equal(t, 2, pub.MessageCount)

	rec = doJSON(t, env.handler.GetSnapshot, http.MethodGet, "/v1/snapshots/"+pub.Address, "", "address", pub.Address)
	require.Equal(t, http.StatusOK, rec.Code)
	sess, err := codec.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "s-pub", sess.SessionID)
	assert.Len(t, sess.Messages, 2)
}

func TestPublishErrors(t *testing.T) {
	env := newTestHandler(t)
	ctx := context.Background()

	rec := doJSON(t, env.handler.PublishSession, http.MethodPost, "/v1/sessions/missing/publish", "", "session_id", "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := env.repo.CreateOrAppend(ctx, "s-odd", []domain.Message{{Role: domain.RoleUser, Content: "alone"}})
	require.NoError(t, err)
	rec = doJSON(t, env.handler.PublishSession, http.MethodPost, "/v1/sessions/s-odd/publish", "", "session_id", "s-odd")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, domain.CodePublishDenied, resp.Code)
	assert.False(t, resp.Retryable)
}

func TestGetSnapshotErrors(t *testing.T) {
	env := newTestHandler(t)

	rec := doJSON(t, env.handler.GetSnapshot, http.MethodGet, "/v1/snapshots/unknown-address", "", "address", "unknown-address")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	addr, err := env.store.Put(context.Background(), []byte(`{"sessionId":1}`))
	require.NoError(t, err)
	rec = doJSON(t, env.handler.GetSnapshot, http.MethodGet, "/v1/snapshots/"+addr, "", "address", addr)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.CodeMalformedSnapshot, decodeError(t, rec).Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		domain.CodeInvalidInput:       http.StatusBadRequest,
		domain.CodeNotFound:           http.StatusNotFound,
		domain.CodeInferenceFailure:   http.StatusBadGateway,
		domain.CodePublicationFailure: http.StatusBadGateway,
		domain.CodePublishDenied:      http.StatusUnprocessableEntity,
		domain.CodeMalformedSnapshot:  http.StatusUnprocessableEntity,
		domain.CodeStorageUnavailable: http.StatusServiceUnavailable,
		domain.CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, statusFor(code), code)
	}
}

func TestSessionEventsStream(t *testing.T) {
	env := newTestHandler(t)
	e := echo.New()
	env.handler.RegisterRoutes(e)
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/sessions/s-ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.HasSubscribers("s-ws") }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(server.URL+"/v1/chat", "application/json", strings.NewReader(`{"message":"hi","sessionId":"s-ws"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, domain.EventTypeTurnAppended, ev.Type)
	assert.Equal(t, "s-ws", ev.SessionID)
	assert.Equal(t, 2, ev.MessageCount)
}

func TestSessionEventsRejectsBadID(t *testing.T) {
	env := newTestHandler(t)
	rec := doJSON(t, env.handler.SessionEvents, http.MethodGet, "/v1/sessions/%2e%2e/events", "", "session_id", "..")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
