package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
	"github.com/trezcool/masomo-focus/storage/database/inmem"
	"github.com/trezcool/masomo-focus/tests"
)

const testSecretKey = "test-secret"

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type testApp struct {
	server *Server
	svc    *monitor.Service
	repo   monitor.Repository
	conf   *core.Config
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	conf := &core.Config{
		AppName:  "Masomo",
		TestMode: true,
		Server:   core.ServerConfig{JWTExpirationDelta: time.Hour},
		Monitor: core.MonitorConfig{
			TickInterval:     time.Hour, // signals tick the sessions
			CameraTimeout:    10 * time.Millisecond,
			SyncInterval:     5 * time.Second,
			SkipThreshold:    10,
			SignalStaleAfter: time.Minute,
		},
	}
	translator := core.NewTranslator()
	repo := inmemdb.NewSessionRepository(inmemdb.Open())
	svc := monitor.NewService(conf, repo, testutil.NewMailBox(), testutil.NopLogger{}, core.NewValidator(translator), translator)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	server := NewServerWithOptions(
		Options{TestMode: true, DisableReqLogs: true, SecretKey: testSecretKey},
		testutil.NopLogger{},
		svc,
	)
	return &testApp{server: server, svc: svc, repo: repo, conf: conf}
}

func (app *testApp) token(t *testing.T, learnerID string, isAdmin bool) string {
	t.Helper()
	token, err := GenerateToken(NewClaims(app.conf, core.Person{ID: learnerID}, isAdmin), testSecretKey)
	require.NoError(t, err)
	return token
}

func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.server.ServeHTTP(rec, req)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return assert.ObjectsAreEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code)
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if assert.NoError(t, err) {
		assert.Truef(t, ok, "data = %s; wantData %s", rec.Body.String(), string(tt.wantData))
	}
}
