package api_server

import (
	"net/http"

	"github.com/signalbeam/signalbeam/internal/transport"
)

type healthStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.readinessCheck(w, r)
}

// livenessCheck answers as long as the process serves requests; it
// deliberately avoids touching storage.
func (s *Server) livenessCheck(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSONResponse(w, http.StatusOK, healthStatus{Status: "ok"})
}

// readinessCheck verifies the database is reachable.
func (s *Server) readinessCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.CheckHealth(r.Context()); err != nil {
		transport.WriteJSONResponse(w, http.StatusServiceUnavailable, healthStatus{
			Status: "unavailable",
			Reason: err.Error(),
		})
		return
	}
	transport.WriteJSONResponse(w, http.StatusOK, healthStatus{Status: "ok"})
}
