package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/dispatch"
	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/recall"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/telemetry"
	"github.com/HendryAvila/warden/internal/vectorindex"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New(registry.DefaultConfig(),
		registry.NewOpener(registry.OpenOptions{DataDirName: ".warden"}, vectorindex.ChromemBackend{}, nil), nil)
	t.Cleanup(func() { reg.Close() })
	svc := recall.New(recall.DefaultConfig(),
		embedding.NewStaticProvider(embedding.NewHash(64)),
		covenant.NewSigner([]byte("0123456789abcdef0123456789abcdef")),
		nil)
	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg, reg.Len)
	d := dispatch.New(dispatch.Config{}, reg, svc, metrics, nil)
	return New(d, promReg, reg.Len, nil)
}

func post(t *testing.T, s *Server, op string, body any) (*httptest.ResponseRecorder, dispatch.Response) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/ops/"+op, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp dispatch.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestOp_CovenantFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()

	w, resp := post(t, s, "remember", map[string]any{"project_path": root, "category": "decision", "content": "Use JWT"})
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, covenant.CodeCommunionRequired, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Remedy)

	w, resp = post(t, s, "get_briefing", map[string]any{"project_path": root})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.OK)

	w, _ = post(t, s, "context_check", map[string]any{"project_path": root, "action": "record auth choice"})
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = post(t, s, "remember", map[string]any{"project_path": root, "category": "decision", "content": "Use JWT"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.OK)
}

func TestOp_StatusCodes(t *testing.T) {
	s := newTestServer(t)
	root := t.TempDir()

	w, resp := post(t, s, "recall", map[string]any{"project_path": root})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "query", resp.Error.Field)

	w, _ = post(t, s, "no_such_op", map[string]any{"project_path": root})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	post(t, s, "get_briefing", map[string]any{"project_path": root})
	post(t, s, "context_check", map[string]any{"project_path": root, "action": "pin"})
	w, resp = post(t, s, "pin_memory", map[string]any{"project_path": root, "id": 99})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dispatch.CodeNotFound, resp.Error.Code)
}

func TestListOps(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ops", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Ops []struct {
			Op    string `json:"op"`
			Class string `json:"class"`
		} `json:"ops"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Ops, len(dispatch.Ops()))
	classes := map[string]string{}
	for _, o := range body.Ops {
		classes[o.Op] = o.Class
	}
	assert.Equal(t, string(covenant.Exempt), classes["get_briefing"])
	assert.Equal(t, string(covenant.CounselGated), classes["remember"])
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)
	post(t, s, "health", map[string]any{"project_path": t.TempDir()})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","contexts":1}`, w.Body.String())

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "warden_contexts 1")
	assert.Contains(t, w.Body.String(), `op="health"`)
}
