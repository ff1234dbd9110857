package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/toolguard/internal/gate"
	"github.com/opencode-ai/toolguard/internal/permission"
	"github.com/opencode-ai/toolguard/internal/policy"
)

func setupTestServer(t *testing.T, g *gate.Gate) *Server {
	t.Helper()
	return New(DefaultConfig(), g, nil, zerolog.Nop())
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	return result
}

func TestHealth(t *testing.T) {
	reg := permission.NewRegistry()
	srv := setupTestServer(t, &gate.Gate{Registry: reg})
	reg.RequestConfirmation(context.Background(), permission.Info{Title: "ls"}, permission.AskContext{})

	w := do(t, srv, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Pending)
}

func TestCheck(t *testing.T) {
	srv := setupTestServer(t, &gate.Gate{
		Policy: policy.MustEngine([]policy.Rule{{Name: "ls", Pattern: `^ls\b`, Decision: policy.DecisionAllow}}),
	})

	tests := []struct {
		command  string
		allowed  bool
		decision string
	}{
		{"rm -rf /", false, "forbidden"},
		{"ls -la", true, "allow"},
		{"make build", true, "prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			w := do(t, srv, "POST", "/check", CheckRequest{Command: tt.command})
			require.Equal(t, http.StatusOK, w.Code)

			var result struct {
				Allowed bool `json:"allowed"`
				Policy  struct {
					Decision string `json:"decision"`
				} `json:"policyResult"`
				Reason string `json:"reason"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
			assert.Equal(t, tt.allowed, result.Allowed)
			assert.Equal(t, tt.decision, result.Policy.Decision)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestCheck_BadRequest(t *testing.T) {
	srv := setupTestServer(t, nil)

	w := do(t, srv, "POST", "/check", `{"command":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrCodeInvalidRequest, decodeError(t, w).Error.Code)

	w = do(t, srv, "POST", "/check", `{"cmd": "ls"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/check", CheckRequest{Command: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExec_RefusedWithoutRunning(t *testing.T) {
	srv := setupTestServer(t, &gate.Gate{})

	tests := []struct {
		name   string
		call   gate.Call
		status gate.Status
	}{
		{"empty", gate.Call{SessionID: "s1"}, gate.StatusInvalid},
		{"critical", gate.Call{SessionID: "s1", Command: "rm -rf /"}, gate.StatusForbidden},
		{"prompt without approver", gate.Call{SessionID: "s1", Command: "make"}, gate.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, "POST", "/exec", tt.call)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var out gate.Outcome
			require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
			assert.Equal(t, tt.status, out.Status)
			assert.NotEmpty(t, out.Reason)
			assert.Nil(t, out.Exec)
		})
	}
}

func TestExec_BadRequest(t *testing.T) {
	srv := setupTestServer(t, nil)
	w := do(t, srv, "POST", "/exec", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExec_NoExecutor(t *testing.T) {
	srv := setupTestServer(t, &gate.Gate{
		Policy: policy.MustEngine([]policy.Rule{{Name: "all", Pattern: ".*", Decision: policy.DecisionAllow}}),
	})
	w := do(t, srv, "POST", "/exec", gate.Call{Command: "ls"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, w).Error.Code)
}

func TestPermissions_ListAndGet(t *testing.T) {
	reg := permission.NewRegistry()
	srv := setupTestServer(t, &gate.Gate{Registry: reg})

	w := do(t, srv, "GET", "/permission", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	id, _ := reg.RequestConfirmation(context.Background(), permission.Info{
		Type:      permission.PermBash,
		SessionID: "s1",
		Title:     "git push",
	}, permission.AskContext{})

	w = do(t, srv, "GET", "/permission", nil)
	var list []permission.Info
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "git push", list[0].Title)

	w = do(t, srv, "GET", "/permission/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info permission.Info
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, "s1", info.SessionID)

	w = do(t, srv, "GET", "/permission/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Error.Code)
}

func TestPermissions_Reply(t *testing.T) {
	reg := permission.NewRegistry()
	srv := setupTestServer(t, &gate.Gate{Registry: reg})

	id, ch := reg.RequestConfirmation(context.Background(), permission.Info{Title: "ls"}, permission.AskContext{})

	w := do(t, srv, "POST", "/permission/"+id+"/reply", ReplyRequest{Response: "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, reg.Len(), "an invalid reply leaves the request pending")

	w = do(t, srv, "POST", "/permission/"+id+"/reply", ReplyRequest{Response: "once"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "true", w.Body.String())

	select {
	case res := <-ch:
		assert.Equal(t, permission.ResponseOnce, res.Response)
	case <-time.After(time.Second):
		t.Fatal("no resolution delivered")
	}

	w = do(t, srv, "POST", "/permission/"+id+"/reply", ReplyRequest{Response: "reject"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPermissions_NoRegistry(t *testing.T) {
	srv := setupTestServer(t, &gate.Gate{})

	w := do(t, srv, "GET", "/permission", nil)
	assert.JSONEq(t, "[]", w.Body.String())

	w = do(t, srv, "POST", "/permission/x/reply", ReplyRequest{Response: "once"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventRouteRequiresBus(t *testing.T) {
	srv := setupTestServer(t, nil)
	w := do(t, srv, "GET", "/event", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func preflight(srv *Server, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("OPTIONS", "/check", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestDefaultConfigIsLoopbackWithoutCORS(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Empty(t, cfg.CORSOrigins)

	srv := New(cfg, nil, nil, zerolog.Nop())
	assert.Equal(t, "127.0.0.1:8080", srv.Addr())

	w := preflight(srv, "http://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCORS = true
	cfg.CORSOrigins = []string{"http://localhost:3000"}
	srv := New(cfg, nil, nil, zerolog.Nop())

	w := preflight(srv, "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight(srv, "http://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
