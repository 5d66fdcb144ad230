package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/service"
)

// startResponse is the {success, message, state} envelope that /start,
// /stop and /clear return (spec §6).
type startResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	State   service.State `json:"state"`
}

type statusResponse struct {
	Success bool `json:"success"`
	service.Status
}

// handleStart handles POST /start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ok, msg := s.service.Start()
	WriteJSON(w, http.StatusOK, startResponse{Success: ok, Message: msg, State: s.service.Status().State})
}

// handleStop handles POST /stop. The response waits up to
// common.ScanSettleTimeout for the state to leave "stopping" so the
// caller sees a settled state where possible; Stop itself never
// blocks on this, it is purely cosmetic for the response message.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ok, msg := s.service.Stop()
	if ok {
		deadline := time.Now().Add(common.ScanSettleTimeout)
		for s.service.Status().State == service.StateStopping && time.Now().Before(deadline) {
			time.Sleep(25 * time.Millisecond)
		}
	}
	WriteJSON(w, http.StatusOK, startResponse{Success: ok, Message: msg, State: s.service.Status().State})
}

// handleClear handles POST /clear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ok, msg := s.service.Clear()
	WriteJSON(w, http.StatusOK, startResponse{Success: ok, Message: msg, State: s.service.Status().State})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse{Success: true, Status: s.service.Status()})
}

// handleExport handles GET /export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	blob, err := s.service.ExportJson()
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// handleHealth handles GET /health, a liveness check independent of
// the Analysis Service's own state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion handles GET /version with the build info common.LoadVersionFromFile
// populated at startup.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
