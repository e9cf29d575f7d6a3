package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nigamk1/tutorboard/api"
	"github.com/nigamk1/tutorboard/conversation"
	"github.com/nigamk1/tutorboard/coordinator"
	"github.com/nigamk1/tutorboard/domain"
	"github.com/nigamk1/tutorboard/hub"
	"github.com/nigamk1/tutorboard/session"
	"github.com/nigamk1/tutorboard/store"
	"github.com/nigamk1/tutorboard/tests/helpers"
)

type testServer struct {
	echo  *echo.Echo
	store store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := helpers.NewTestSQLiteStore(t)
	logger := helpers.NewTestLogger()

	h := hub.NewHub(logger)
	go h.Run()

	window := conversation.NewWindow(st, 5, logger)
	lifecycle := session.NewManager(st, nil, logger)
	coord := coordinator.New(st, h, window, lifecycle, nil, nil, nil, time.Second, logger)

	e := echo.New()
	api.NewHandler(st, coord, logger).RegisterRoutes(e)

	return &testServer{echo: e, store: st}
}

func (ts *testServer) request(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createSession(t *testing.T) domain.Session {
	t.Helper()
	rec := ts.request(http.MethodPost, "/v1/sessions",
		`{"owner_id":"user_1","subject":"calculus","language":"en","difficulty":"beginner"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var sess domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return sess
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)

	sess := ts.createSession(t)
	assert.True(t, strings.HasPrefix(sess.SessionID, "sess_"))
	assert.Equal(t, "user_1", sess.OwnerID)
	assert.Equal(t, "calculus", sess.Subject)
	assert.Equal(t, domain.StatusActive, sess.Status)

	// A session always starts with its empty whiteboard.
	snap, err := ts.store.GetWhiteboard(context.Background(), sess.SessionID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Version)
}

func TestCreateSessionRequiresOwner(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/v1/sessions", `{"subject":"calculus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)

	rec := ts.request(http.MethodGet, "/v1/sessions/"+sess.SessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sess.SessionID, got.SessionID)
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/v1/sessions/sess_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWhiteboard(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)

	rec := ts.request(http.MethodGet, "/v1/sessions/"+sess.SessionID+"/whiteboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.WhiteboardSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Version)
	assert.Empty(t, snap.Elements)
}

func TestGetTurnsPagination(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"t1", "t2", "t3"} {
		err := ts.store.AppendTurn(ctx, &domain.Turn{
			TurnID:    id,
			SessionID: sess.SessionID,
			Origin:    domain.OriginUser,
			Text:      "message " + id,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	rec := ts.request(http.MethodGet, "/v1/sessions/"+sess.SessionID+"/turns?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Turns   []domain.Turn `json:"turns"`
		HasMore bool          `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Turns, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, "t1", resp.Turns[0].TurnID)
}

func TestEndSession(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)

	rec := ts.request(http.MethodPost, "/v1/sessions/"+sess.SessionID+"/end", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var ended domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ended))
	assert.Equal(t, domain.StatusCompleted, ended.Status)
	require.NotNil(t, ended.DurationMinutes)
	assert.Equal(t, session.SummaryFallback, ended.Summary)

	// Ending twice is a conflict.
	rec = ts.request(http.MethodPost, "/v1/sessions/"+sess.SessionID+"/end", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEndSessionNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/v1/sessions/sess_missing/end", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)

	rec := ts.request(http.MethodDelete, "/v1/sessions/"+sess.SessionID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(http.MethodGet, "/v1/sessions/"+sess.SessionID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(http.MethodDelete, "/v1/sessions/"+sess.SessionID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
