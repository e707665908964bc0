package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"DigitCast/internal/domain/models"
	"DigitCast/internal/service/ratelimit"
	"DigitCast/internal/services/model"
	"DigitCast/internal/usecase"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestAPI(t *testing.T, opts ...HandlerOption) (*echo.Echo, *usecase.SessionManager) {
	t.Helper()
	mgr := usecase.NewSessionManager(usecase.ManagerConfig{MaxSessions: 4, WindowSize: 5, Capacity: 10},
		model.NewFrequencyTrainer(1), nil, nil)
	e := echo.New()
	NewSessionsHandler(nil, mgr, opts...).RegisterRoutes(e)
	return e, mgr
}

func do(t *testing.T, e *echo.Echo, method, path, contentType string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var b []byte
	if body != nil {
		var err error
		b, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return do(t, e, method, path, echo.MIMEApplicationJSON, b)
}

func viewOf(t *testing.T, env envelope) models.SessionView {
	t.Helper()
	var v models.SessionView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func trainingLog() []int {
	out := make([]int, 0, 60)
	for i := 0; i < 60; i++ {
		out = append(out, i%10)
	}
	return append(out, 3, 5, 1, 2, 5, 7)
}

func createSession(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec, env := doJSON(t, e, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := viewOf(t, env)
	assert.Equal(t, models.StateUntrained, v.State)
	return v.ID
}

func TestSessionLifecycle(t *testing.T) {
	e, _ := newTestAPI(t)
	id := createSession(t, e)
	base := "/api/sessions/" + id

	rec, _ := doJSON(t, e, http.MethodPost, base+"/seed", map[string]string{"seed": "35125"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env := doJSON(t, e, http.MethodPost, base+"/train", map[string]interface{}{"log": trainingLog()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StateAwaitingSeed, viewOf(t, env).State)

	rec, _ = doJSON(t, e, http.MethodPost, base+"/seed", map[string]string{"seed": "351"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = doJSON(t, e, http.MethodPost, base+"/seed", map[string]string{"seed": "35125"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := viewOf(t, env)
	assert.Equal(t, models.StatePredicting, v.State)
	require.NotNil(t, v.Prediction)
	require.NotNil(t, v.Match)
	assert.Equal(t, models.Symbol(7), v.Match.Following)

	rec, _ = doJSON(t, e, http.MethodPost, base+"/observe", map[string]int{"symbol": 12})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = doJSON(t, e, http.MethodPost, base+"/observe", map[string]int{"symbol": 7})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v = viewOf(t, env)
	assert.Equal(t, 1, v.Ledger.Turns())
	assert.Equal(t, models.Window{5, 1, 2, 5, 7}, v.Window)

	rec, _ = do(t, e, http.MethodGet, base+"/history.csv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "turn,observed,"))
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "\n"))

	rec, env = doJSON(t, e, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StateUntrained, viewOf(t, env).State)

	rec, _ = doJSON(t, e, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = doJSON(t, e, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrainFromCSV(t *testing.T) {
	e, _ := newTestAPI(t)
	id := createSession(t, e)

	var csv strings.Builder
	csv.WriteString("Number\n")
	for _, s := range trainingLog() {
		csv.WriteString(string(rune('0' + s)))
		csv.WriteString("\n")
	}
	rec, env := do(t, e, http.MethodPost, "/api/sessions/"+id+"/train", "text/csv", []byte(csv.String()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, len(trainingLog()), viewOf(t, env).LogLength)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "log.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(csv.String()))
	require.NoError(t, mw.Close())

	rec, env = do(t, e, http.MethodPost, "/api/sessions/"+id+"/train?column=result", mw.FormDataContentType(), body.Bytes())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_SCHEMA")
}

func TestTrainWithoutLogSource(t *testing.T) {
	e, _ := newTestAPI(t)
	id := createSession(t, e)
	rec, _ := do(t, e, http.MethodPost, "/api/sessions/"+id+"/train", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationAndLookup(t *testing.T) {
	e, _ := newTestAPI(t)

	rec, _ := doJSON(t, e, http.MethodGet, "/api/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, e, http.MethodGet, "/api/sessions/7b0c2f3e-8d4a-4c1e-9f6b-2a5d8e1c3b7f", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, e, http.MethodPost, "/api/sessions", map[string]int{"window_size": 40})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	createSession(t, e)
	rec, env := doJSON(t, e, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"total":1`)
}

func TestObserveRateLimited(t *testing.T) {
	e, _ := newTestAPI(t, WithObserveLimiter(ratelimit.New(0.001, 1)))
	id := createSession(t, e)
	base := "/api/sessions/" + id
	doJSON(t, e, http.MethodPost, base+"/train", map[string]interface{}{"log": trainingLog()})
	doJSON(t, e, http.MethodPost, base+"/seed", map[string]string{"seed": "35125"})

	rec, _ := doJSON(t, e, http.MethodPost, base+"/observe", map[string]int{"symbol": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, e, http.MethodPost, base+"/observe", map[string]int{"symbol": 1})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealth(t *testing.T) {
	e, _ := newTestAPI(t, WithHealthCheck("redis", func(context.Context) error { return errors.New("down") }))
	rec, env := doJSON(t, e, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "down")
}

func TestToAppError(t *testing.T) {
	cases := map[error]int{
		models.ErrSessionNotFound:  http.StatusNotFound,
		models.ErrInvalidState:     http.StatusConflict,
		models.ErrTooManySessions:  http.StatusServiceUnavailable,
		models.ErrInvalidSeed:      http.StatusBadRequest,
		models.ErrInsufficientData: http.StatusBadRequest,
		errors.New("boom"):         http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, toAppError(err).Status, err.Error())
	}
}

func TestStream(t *testing.T) {
	e, _ := newTestAPI(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	id := createSession(t, e)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var v models.SessionView
	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, models.StateUntrained, v.State)

	rec, _ := doJSON(t, e, http.MethodPost, "/api/sessions/"+id+"/train", map[string]interface{}{"log": trainingLog()})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, models.StateAwaitingSeed, v.State)
}
