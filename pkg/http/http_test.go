package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"AgentFlow/internal/domain/models"
	"AgentFlow/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDomainError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&models.StateError{AgentID: "a", Op: "scan", Status: models.StatusError}, http.StatusConflict, "ERR_INVALID_STATE"},
		{fmt.Errorf("wrapped: %w", models.ErrInvalidState), http.StatusConflict, "ERR_INVALID_STATE"},
		{models.NotFoundf("agent %s", "x"), http.StatusNotFound, "ERR_NOT_FOUND"},
		{models.ErrAlreadyRegistered, http.StatusConflict, "ERR_CONFLICT"},
		{models.ExecutionFailed(errors.New("venue")), http.StatusBadGateway, "ERR_EXECUTION"},
		{fmt.Errorf("%w: %w", models.ErrExecution, models.ErrTimeout), http.StatusGatewayTimeout, "ERR_TIMEOUT"},
		{models.ErrConnection, http.StatusBadGateway, "ERR_CONNECTION"},
		{errors.New("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
		{BadRequestErrorf("bad %d", 1), http.StatusBadRequest, "ERR_BAD_REQUEST"},
	}
	for _, tc := range cases {
		got := FromDomainError(tc.err)
		assert.Equal(t, tc.status, got.Status, tc.err.Error())
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
	}

	st := FromDomainError(&models.StateError{AgentID: "a", Op: "scan", Status: models.StatusCooldown})
	assert.Equal(t, "COOLDOWN", st.Params["status"])
}

type pageRequest struct {
	Kind  string `query:"kind" validate:"omitempty,oneof=a b"`
	Limit int    `query:"limit" default:"20" validate:"gte=1,lte=100"`
}

func bindQuery(t *testing.T, query string) (*pageRequest, interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	out := &pageRequest{}
	return out, ReadAndValidateRequest(c, out)
}

func TestReadAndValidateRequest(t *testing.T) {
	r, verr := bindQuery(t, "")
	require.Nil(t, verr)
	assert.Equal(t, 20, r.Limit)

	r, verr = bindQuery(t, "limit=5&kind=b")
	require.Nil(t, verr)
	assert.Equal(t, 5, r.Limit)

	_, verr = bindQuery(t, "limit=500")
	require.NotNil(t, verr)
	errs := verr.([]ValidationError)
	require.Len(t, errs, 1)
	assert.Equal(t, "limit", errs[0].Field)
	assert.Equal(t, "ERR_LTE", errs[0].Code)

	_, verr = bindQuery(t, "kind=z")
	require.NotNil(t, verr)
	assert.Equal(t, "kind", verr.([]ValidationError)[0].Field)

	_, verr = bindQuery(t, "limit=abc")
	require.NotNil(t, verr)
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, models.NotFoundf("agent x")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Status int         `json:"status"`
		Data   []*AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Status)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "ERR_NOT_FOUND", body.Data[0].Code)
}

func TestClient_SendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			var in map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&in)
			in["q"] = r.URL.Query().Get("q")
			in["h"] = r.Header.Get("X-Key")
			in["ct"] = r.Header.Get("Content-Type")
			_ = json.NewEncoder(w).Encode(in)
		default:
			http.Error(w, "nope", http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithHeader("X-Key", "k"))
	var out map[string]interface{}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodPost,
		Path:        "/echo",
		QueryParams: map[string][]string{"q": {"v"}},
		Body:        map[string]int{"n": 1},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "v", out["q"])
	assert.Equal(t, "k", out["h"])
	assert.Equal(t, "application/json", out["ct"])
	assert.Equal(t, 1.0, out["n"])

	err = c.SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, Path: "/other"}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTeapot, se.Code)
	assert.Equal(t, "nope", se.Body)
}

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
}

func TestServer_RoutesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(logger.Nop(), []Handler{pingHandler{}}, WithMetrics("/metrics", reg, reg))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentflow_http_requests_total")
}
