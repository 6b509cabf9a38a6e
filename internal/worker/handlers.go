package worker

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dreamware/shardcoord/internal/cluster"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleAssignment(w http.ResponseWriter, r *http.Request) {
	var push cluster.AssignmentPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ApplyAssignment(r.Context(), push); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// No ownership check on these three: per spec §6, the caller (a
// DistributedCache routing via C1) is trusted to have already routed
// the request to the worker that owns the relevant shard.

func (s *Service) handleGetGuild(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	g, err := s.cache.GetGuild(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Service) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ch, err := s.cache.GetChannel(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Service) handleGetMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := s.cache.GetMember(vars["guild"], vars["user"])
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Service) handleResumed(w http.ResponseWriter, r *http.Request) {
	var notice cluster.ResumedNotice
	if err := json.NewDecoder(r.Body).Decode(&notice); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ReconcileResumed(r.Context(), notice); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleSuccessionBroadcast(w http.ResponseWriter, r *http.Request) {
	var b cluster.SuccessionBroadcast
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	s.AcceptSuccession(b)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	promoted := s.promoted
	s.mu.Unlock()

	if promoted != nil {
		writeJSON(w, http.StatusOK, promoted.Health())
		return
	}
	writeJSON(w, http.StatusOK, cluster.HealthStatus{Status: "healthy", Role: cluster.RoleWorker, Epoch: s.Epoch()})
}
