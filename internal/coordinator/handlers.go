package coordinator

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/coreerr"
)

// Router returns the coordinator's HTTP control-plane surface (spec
// §6), using gorilla/mux. When this Service is embedded in a worker
// promoted to Temporary Coordinator, the worker's router forwards its
// `/worker/*` and `/cluster/state` requests here.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/worker/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/worker/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/worker/deregister", s.handleDeregister).Methods(http.MethodPost)
	r.HandleFunc("/cluster/state", s.handleClusterState).Methods(http.MethodGet)
	r.HandleFunc("/cluster/succession", s.handleSuccession).Methods(http.MethodPost)
	r.HandleFunc("/cluster/peers", s.handlePeers).Methods(http.MethodGet)
	r.HandleFunc("/coordinator/resume", s.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, coreerr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, coreerr.NewInvalidState(err))
		return
	}
	resp, err := s.RegisterWorker(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req cluster.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, coreerr.NewInvalidState(err))
		return
	}
	resp, err := s.Heartbeat(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req cluster.DeregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, coreerr.NewInvalidState(err))
		return
	}
	if err := s.Deregister(r.Context(), req); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleClusterState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ClusterState())
}

// handlePeers is a supplemented admin endpoint (not in the distilled
// spec's HTTP table but implied by its data model): a trimmed peer list
// for operational dashboards, without the full assignment/succession
// payload GET /cluster/state carries.
func (s *Service) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Snapshot())
}

func (s *Service) handleSuccession(w http.ResponseWriter, r *http.Request) {
	var broadcast cluster.SuccessionBroadcast
	if err := json.NewDecoder(r.Body).Decode(&broadcast); err != nil {
		writeErr(w, coreerr.NewInvalidState(err))
		return
	}
	s.AcceptSuccession(broadcast)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	var req cluster.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, coreerr.NewInvalidState(err))
		return
	}
	handoff, err := s.HandleResume(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoff)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}
