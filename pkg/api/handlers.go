package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethan/remote-play-relay/pkg/logger"
)

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	return v, err
}

// handleCreateSession implements `POST /sessions`: builds the full
// collaborator graph for one external session and hands back the SDP
// offer the browser must answer.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[createSessionRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts, err := req.toLaunchOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, offer, err := s.mgr.CreateSession(r.Context(), opts)
	if err != nil {
		logger.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID: entry.Remote.ID,
		SDPOffer:  offer,
	})
}

// handleSetAnswer implements `POST /sessions/{id}/answer`.
func (s *Server) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := decodeBody[answerRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.mgr.SetAnswer(id, req.SDP); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddCandidate implements `POST /sessions/{id}/candidates`.
func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := decodeBody[candidateRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.mgr.AddCandidate(id, req.Candidate, req.SDPMid, req.SDPMLineIndex); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetCandidates implements `GET /sessions/{id}/candidates`: the
// §4.I-filtered set of server-generated candidates pending trickle.
func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	candidates, err := s.mgr.Candidates(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, candidatesResponse{Candidates: candidates})
}

// handleConnectStream implements `POST /sessions/{id}/connect-stream`:
// runs the §4.H handshake against the console and starts AV dispatch.
// It blocks on the full handshake, matching §6's described contract.
func (s *Server) handleConnectStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := decodeBody[connectStreamRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.mgr.SetStreamingSessionID(id, req.RemotePlaySessionID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := s.mgr.ConnectStream(r.Context(), id); err != nil {
		logger.Error("connect stream failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStopSession implements `DELETE /sessions/{id}`.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.StopSession(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStopSessionByQuery implements `POST /playstation/stop-session?sessionId=...`,
// the console-initiated stop path alongside the browser's DELETE route.
func (s *Server) handleStopSessionByQuery(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "sessionId query parameter required")
		return
	}
	if err := s.mgr.StopSession(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleKeyframe implements `POST /sessions/{id}/keyframe`, the HTTP
// fallback for the in-band SignalR keyframe request named in §6.
func (s *Server) handleKeyframe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, _ := decodeBody[keyframeRequest](r)
	reason := req.Reason
	if reason == "" {
		reason = "http-fallback"
	}

	if err := s.mgr.RequestKeyframe(id, reason); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStreamHealth implements `GET /sessions/{id}/stream-health`.
func (s *Server) handleStreamHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.mgr.StreamHealth(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toStreamHealthResponse(snap))
}

// handleTURNConfig implements `GET /turn-config`.
func (s *Server) handleTURNConfig(w http.ResponseWriter, r *http.Request) {
	servers := make([]turnServerResponse, 0, len(s.cfg.TURNServers))
	for _, t := range s.cfg.TURNServers {
		servers = append(servers, turnServerResponse{URL: t.URL, Username: t.Username, Credential: t.Credential})
	}
	writeJSON(w, http.StatusOK, turnConfigResponse{TURNServers: servers})
}
