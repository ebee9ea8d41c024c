package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/session"
)

var showStart = time.Date(2025, 11, 7, 20, 0, 0, 0, time.UTC)

type testServer struct {
	manager *session.Manager
	hub     *broadcast.Hub
	conns   *ConnectionManager
	handler http.Handler
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	cat, err := catalog.New([]models.Token{
		{ID: "mab001", Rating: 5, MemoryType: models.MemoryTypeTechnical},
		{ID: "rat002", Rating: 2, MemoryType: models.MemoryTypeBusiness},
		{ID: "bad001", Rating: 9, MemoryType: models.MemoryTypePersonal},
	}, nil)
	require.NoError(t, err)

	hub := broadcast.NewHub()
	clock := clockwork.NewFakeClockAt(showStart)
	manager := session.NewManager(cat, hub, clock, session.DefaultConfig())
	conns := NewConnectionManager(manager, hub, clock, DefaultConnectionConfig())
	t.Cleanup(conns.CloseAll)

	return testServer{
		manager: manager,
		hub:     hub,
		conns:   conns,
		handler: NewRouter(NewAPI(manager), NewWebSocketHandler(conns), nil),
	}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s testServer) createSession(t *testing.T) models.Session {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/sessions", session.CreateSessionRequest{Name: "Show", Teams: []string{"Red", "Blue"}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var sess models.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))
	return sess
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestAPI_SessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t)
	assert.Equal(t, models.SessionStatusActive, sess.Status)

	list := decodeBody[[]models.Session](t, s.do(t, http.MethodGet, "/api/sessions", nil))
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)

	rr := s.do(t, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/pause", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.SessionStatusPaused, decodeBody[models.Session](t, rr).Status)

	rr = s.do(t, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/end", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decodeBody[session.Snapshot](t, rr)
	assert.Equal(t, models.SessionStatusEnded, snap.Session.Status)

	got := decodeBody[models.Session](t, s.do(t, http.MethodGet, "/api/sessions/"+sess.ID.String(), nil))
	assert.Equal(t, models.SessionStatusEnded, got.Status)
}

func TestAPI_SubmitAndState(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t)
	path := "/api/sessions/" + sess.ID.String()

	submit := session.SubmitRequest{TokenID: "MAB001", TeamID: "Red", DeviceID: "gm-1", Mode: models.ModeBlackMarket, ClientTimestamp: showStart}
	rr := s.do(t, http.MethodPost, path+"/transactions", submit)
	require.Equal(t, http.StatusOK, rr.Code)
	first := decodeBody[session.SubmitResult](t, rr)
	assert.Equal(t, models.TransactionStatusAccepted, first.Status)
	assert.Equal(t, int64(750000), first.Points)

	submit.TeamID = "Blue"
	second := decodeBody[session.SubmitResult](t, s.do(t, http.MethodPost, path+"/transactions", submit))
	assert.Equal(t, models.TransactionStatusDuplicate, second.Status)
	assert.Zero(t, second.Points)

	snap := decodeBody[session.Snapshot](t, s.do(t, http.MethodGet, path+"/state", nil))
	assert.Len(t, snap.Transactions, 2)
	for _, ts := range snap.TeamScores {
		switch ts.TeamID {
		case "Red":
			assert.Equal(t, int64(750000), ts.Score)
		case "Blue":
			assert.Zero(t, ts.Score)
		}
	}

	v := decodeBody[session.Verification](t, s.do(t, http.MethodGet, path+"/verify", nil))
	assert.True(t, v.Consistent)
	assert.Equal(t, 2, v.Transactions)
}

func TestAPI_Rejections(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t)
	path := "/api/sessions/" + sess.ID.String() + "/transactions"

	tests := []struct {
		name   string
		req    session.SubmitRequest
		reason string
	}{
		{"unknown token", session.SubmitRequest{TokenID: "nope", TeamID: "Red", DeviceID: "gm-1", Mode: models.ModeBlackMarket}, session.ReasonUnknownToken},
		{"invalid token", session.SubmitRequest{TokenID: "bad001", TeamID: "Red", DeviceID: "gm-1", Mode: models.ModeBlackMarket}, session.ReasonInvalidToken},
		{"unknown team", session.SubmitRequest{TokenID: "rat002", TeamID: "Green", DeviceID: "gm-1", Mode: models.ModeBlackMarket}, session.ReasonUnknownTeam},
		{"missing team", session.SubmitRequest{TokenID: "rat002", DeviceID: "gm-1", Mode: models.ModeBlackMarket}, session.ReasonInvalidSubmission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, path, tt.req)
			require.Equal(t, http.StatusOK, rr.Code)
			res := decodeBody[session.SubmitResult](t, rr)
			assert.Equal(t, models.TransactionStatusRejected, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Nil(t, res.TransactionID)
		})
	}

	snap, err := s.manager.Snapshot(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Transactions)
}

func TestAPI_Errors(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t)

	rr := s.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, session.ReasonSessionNotFound, decodeBody[ErrorPayload](t, rr).Reason)

	rr = s.do(t, http.MethodPost, "/api/sessions/"+uuid.NewString()+"/transactions",
		session.SubmitRequest{TokenID: "rat002", TeamID: "Red", DeviceID: "gm-1", Mode: models.ModeBlackMarket})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sess.ID.String()+"/transactions", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rr = s.do(t, http.MethodPost, "/api/sessions", session.CreateSessionRequest{Name: "", Teams: []string{"Red"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_Reconcile(t *testing.T) {
	s := newTestServer(t)
	sess := s.createSession(t)

	_, err := s.manager.Submit(context.Background(), sess.ID, session.SubmitRequest{
		TokenID: "rat002", TeamID: "Blue", DeviceID: "gm-2", Mode: models.ModeBlackMarket,
	})
	require.NoError(t, err)

	batch := session.ReconcileRequest{
		DeviceID: "gm-1",
		Transactions: []session.BatchEntry{
			{TokenID: "mab001", TeamID: "Red", Mode: models.ModeBlackMarket, ClientTimestamp: showStart},
			{TokenID: "rat002", TeamID: "Red", Mode: models.ModeBlackMarket, ClientTimestamp: showStart},
			{TokenID: "missing", TeamID: "Red", Mode: models.ModeBlackMarket, ClientTimestamp: showStart},
		},
	}
	rr := s.do(t, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/reconcile", batch)
	require.Equal(t, http.StatusOK, rr.Code)

	res := decodeBody[BatchResult](t, rr)
	require.Len(t, res.Results, 3)
	assert.Equal(t, models.TransactionStatusAccepted, res.Results[0].Status)
	assert.Equal(t, models.TransactionStatusDuplicate, res.Results[1].Status)
	assert.Equal(t, models.TransactionStatusRejected, res.Results[2].Status)
	assert.Equal(t, 1, res.Summary.Accepted)
	assert.Equal(t, 1, res.Summary.Duplicate)
	assert.Equal(t, 1, res.Summary.Rejected)

	rr = s.do(t, http.MethodPost, "/api/sessions/"+sess.ID.String()+"/reconcile", session.ReconcileRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
