package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/toolguard/internal/gate"
	"github.com/opencode-ai/toolguard/internal/permission"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
	Pending int    `json:"pending"`
}

// CheckRequest is the body of POST /check.
type CheckRequest struct {
	Command string `json:"command"`
}

// ReplyRequest is the body of POST /permission/{permissionID}/reply.
type ReplyRequest struct {
	Response string `json:"response"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.gate.Executor != nil {
		resp.Backend = string(s.gate.Executor.Backend().Kind())
	}
	if s.gate.Registry != nil {
		resp.Pending = s.gate.Registry.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// check returns the security verdict without running the command.
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "command is required")
		return
	}
	writeJSON(w, http.StatusOK, s.gate.Check(req.Command))
}

// exec runs a call through the gate. The request blocks while approval is
// pending; a client disconnect cancels it.
func (s *Server) exec(w http.ResponseWriter, r *http.Request) {
	var call gate.Call
	if err := decodeJSON(r, &call); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	out, err := s.gate.Execute(r.Context(), call)
	if err != nil {
		s.logger.Error().Err(err).Str("call", call.CallID).Msg("exec failed")
		writeErrorWithDetails(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), map[string]any{
			"status": out.Status,
		})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	if s.gate.Registry == nil {
		writeJSON(w, http.StatusOK, []permission.Info{})
		return
	}
	writeJSON(w, http.StatusOK, s.gate.Registry.Pending())
}

func (s *Server) getPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "permissionID")
	if s.gate.Registry == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "permission not found")
		return
	}
	info, ok := s.gate.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "permission not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// replyPermission resolves a pending request. Replying to an unknown or
// already resolved request is a 404 and changes nothing.
func (s *Server) replyPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "permissionID")

	var req ReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := permission.ParseResponse(req.Response)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if s.gate.Registry == nil || !s.gate.Registry.Respond(id, resp) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, errNotPending.Error())
		return
	}
	writeSuccess(w)
}

var errNotPending = errors.New("permission not pending")
