package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-focus/core/monitor"
	"github.com/trezcool/masomo-focus/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNoSession    = httpErr{Error: monitor.ErrNoActiveSession.Error()}
)

func t0() time.Time { return time.Date(2021, 1, 10, 9, 0, 0, 0, time.UTC) }

func videoParams() monitor.StartParams {
	return monitor.StartParams{
		Kind:                 monitor.KindVideo,
		TotalDurationSeconds: 600,
		Rules:                testutil.DefaultRules(),
	}
}

func startSession(t *testing.T, app *testApp, token string, p monitor.StartParams) monitor.Record {
	t.Helper()
	rec := app.do(http.MethodPost, "/v1/sessions", token, marshalObj(t, p))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var record monitor.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	return record
}

func Test_monitorApi_sessionStart(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, "learner-1", false)

	t.Run("starts a session", func(t *testing.T) {
		record := startSession(t, app, token, videoParams())
		assert.NotEmpty(t, record.ID)
		assert.Equal(t, "learner-1", record.LearnerID)
		assert.Equal(t, monitor.KindVideo, record.Kind)
		assert.Equal(t, 600.0, record.TotalDurationSeconds)
		assert.False(t, record.Finalized())

		saved, err := app.repo.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, "learner-1", saved.LearnerID)
	})

	badKind := videoParams()
	badKind.Kind = "podcast"
	noDuration := videoParams()
	noDuration.TotalDurationSeconds = 0

	tests := []httpTest{
		{
			name:     "token missing",
			body:     marshalObj(t, videoParams()),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "session already active",
			body:     marshalObj(t, videoParams()),
			token:    token,
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: monitor.ErrSessionActive.Error()}),
		},
		{
			name:     "malformed body",
			body:     []byte(`{"kind": 42`),
			token:    app.token(t, "learner-2", false),
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodPost, "/v1/sessions", tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("invalid params", func(t *testing.T) {
		for _, p := range []struct {
			params monitor.StartParams
			field  string
		}{
			{badKind, "kind"},
			{noDuration, "total_duration_seconds"},
		} {
			rec := app.do(http.MethodPost, "/v1/sessions", app.token(t, "learner-3", false), marshalObj(t, p.params))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var fields map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
			assert.Contains(t, fields, p.field)
		}
	})
}

func Test_monitorApi_sessionCurrent(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, "learner-1", false)

	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshalObj(t, errNoSession)},
		app.do(http.MethodGet, "/v1/sessions/current", token))

	record := startSession(t, app, token, videoParams())

	rec := app.do(http.MethodGet, "/v1/sessions/current", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Record   monitor.Record `json:"record"`
		Validity struct {
			Valid  bool   `json:"valid"`
			Reason string `json:"reason"`
		} `json:"validity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, record.ID, view.Record.ID)
	assert.NotEmpty(t, view.Validity.Reason)

	// another learner has no session
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshalObj(t, errNoSession)},
		app.do(http.MethodGet, "/v1/sessions/current", app.token(t, "learner-2", false)))
}

func Test_monitorApi_signals(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, "learner-1", false)
	startSession(t, app, token, videoParams())

	tests := []httpTest{
		{
			name:     "face",
			path:     "/v1/sessions/current/signals/face",
			body:     []byte(`{"present": true, "confidence": 0.9}`),
			token:    token,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "face confidence out of range",
			path:     "/v1/sessions/current/signals/face",
			body:     []byte(`{"present": true, "confidence": 1.5}`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"confidence": "confidence must be a ratio between 0 and 1"}`),
		},
		{
			name:     "focus",
			path:     "/v1/sessions/current/signals/focus",
			body:     []byte(`{"tab_visible": true, "window_focused": true}`),
			token:    token,
			wantCode: http.StatusOK,
		},
		{
			name:     "camera",
			path:     "/v1/sessions/current/signals/camera",
			body:     []byte(`{"active": true}`),
			token:    token,
			wantCode: http.StatusOK,
		},
		{
			name:     "playback",
			path:     "/v1/sessions/current/signals/playback",
			body:     []byte(`{"playing": true, "position_seconds": 12}`),
			token:    token,
			wantCode: http.StatusOK,
		},
		{
			name:     "negative playback position",
			path:     "/v1/sessions/current/signals/playback",
			body:     []byte(`{"playing": true, "position_seconds": -1}`),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "no active session",
			path:     "/v1/sessions/current/signals/focus",
			body:     []byte(`{"tab_visible": true, "window_focused": true}`),
			token:    app.token(t, "learner-2", false),
			wantCode: http.StatusNotFound,
			wantData: marshalObj(t, errNoSession),
		},
		{
			name:     "token missing",
			path:     "/v1/sessions/current/signals/face",
			body:     []byte(`{"present": true, "confidence": 0.9}`),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodPost, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_monitorApi_sessionCommands(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, "learner-1", false)
	startSession(t, app, token, videoParams())

	// no playback reported yet: nothing to command
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`{"commands": []}`)},
		app.do(http.MethodGet, "/v1/sessions/current/commands", token))
}

func Test_monitorApi_sessionStop(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, "learner-1", false)
	record := startSession(t, app, token, videoParams())

	rec := app.do(http.MethodDelete, "/v1/sessions/current", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshalObj(t, errNoSession)},
		app.do(http.MethodGet, "/v1/sessions/current", token))
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshalObj(t, errNoSession)},
		app.do(http.MethodDelete, "/v1/sessions/current", token))

	// a stopped session can be finalized by ID, once
	var first, second monitor.CompletionResult
	rec = app.do(http.MethodPost, "/v1/sessions/"+record.ID+"/finalize", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Accepted)
	assert.NotEmpty(t, first.Reasons)

	rec = app.do(http.MethodPost, "/v1/sessions/"+record.ID+"/finalize", token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first, second)

	// only by its learner
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)},
		app.do(http.MethodPost, "/v1/sessions/"+record.ID+"/finalize", app.token(t, "learner-2", false)))
}

func Test_monitorApi_sessionFinalize(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, "learner-1", false)
	record := startSession(t, app, token, videoParams())

	rec := app.do(http.MethodPost, "/v1/sessions/current/finalize", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res monitor.CompletionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Accepted) // nothing watched
	assert.NotEmpty(t, res.Reasons)

	saved, err := app.svc.GetRecord(context.Background(), record.ID)
	require.NoError(t, err)
	require.True(t, saved.Finalized())
	assert.Equal(t, res, *saved.Result)

	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshalObj(t, errNoSession)},
		app.do(http.MethodPost, "/v1/sessions/current/finalize", token))
}

func Test_monitorApi_sessionRetrieve(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, "learner-1", false)
	record := startSession(t, app, token, videoParams())
	path := "/v1/sessions/" + record.ID

	tests := []httpTest{
		{name: "owner", token: token, wantCode: http.StatusOK},
		{name: "admin", token: app.token(t, "proctor", true), wantCode: http.StatusOK},
		{
			name:     "other learner",
			token:    app.token(t, "learner-2", false),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, errForbidden),
		},
		{name: "token missing", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodGet, path, tt.token)
			checkCodeAndData(t, tt, rec)
			if tt.wantCode != http.StatusOK {
				return
			}
			var detail struct {
				ID         string              `json:"id"`
				LearnerID  string              `json:"learner_id"`
				Violations []monitor.Violation `json:"violations"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
			assert.Equal(t, record.ID, detail.ID)
			assert.Equal(t, "learner-1", detail.LearnerID)
			assert.NotNil(t, detail.Violations)
		})
	}

	t.Run("not found", func(t *testing.T) {
		for _, id := range []string{"4b3c7e52-5f0a-4c8e-9d43-0c7c6c4f1b1a", "nope"} {
			checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "not found"})},
				app.do(http.MethodGet, "/v1/sessions/"+id, token))
		}
	})
}

func Test_monitorApi_learnerSessions(t *testing.T) {
	app := newTestApp(t)
	r1 := testutil.CreateRecord(t, app.repo, "learner-1", monitor.KindVideo, 100, t0())
	r2 := testutil.CreateRecord(t, app.repo, "learner-1", monitor.KindQuiz, 300, t0().Add(time.Minute))
	testutil.CreateRecord(t, app.repo, "learner-2", monitor.KindVideo, 200, t0())

	admin := app.token(t, "proctor", true)
	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{name: "default ordering", wantIDs: []string{r2.ID, r1.ID}},
		{name: "ordering", query: "?ordering=valid_watch_seconds", wantIDs: []string{r1.ID, r2.ID}},
		{name: "unknown ordering field", query: "?ordering=password", wantIDs: []string{r2.ID, r1.ID}},
		{name: "kind", query: "?kind=QUIZ", wantIDs: []string{r2.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodGet, "/v1/learners/learner-1/sessions"+tt.query, admin)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var records []monitor.Record
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
			ids := make([]string, 0, len(records))
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	t.Run("admins only", func(t *testing.T) {
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marshalObj(t, errForbidden)},
			app.do(http.MethodGet, "/v1/learners/learner-1/sessions", app.token(t, "learner-1", false)))
	})
}
