package core

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/abdoElHodaky/riskcore/internal/risk/alert"
	"github.com/abdoElHodaky/riskcore/internal/risk/breaker"
	"github.com/abdoElHodaky/riskcore/internal/risk/dr"
	"github.com/abdoElHodaky/riskcore/internal/risk/manager"
)

// AdminServer is a read-only operational surface over the composition
// root's state. It is not part of the core: the core itself performs no
// networking. This is the thin shell the embedding process needs to exist
// at all.
type AdminServer struct {
	router *mux.Router
	mgr    *manager.Manager
	brk    *breaker.Breaker
	alerts *alert.Manager
	rec    *dr.Recovery
}

func NewAdminServer(mgr *manager.Manager, brk *breaker.Breaker, alerts *alert.Manager, rec *dr.Recovery) *AdminServer {
	s := &AdminServer{router: mux.NewRouter(), mgr: mgr, brk: brk, alerts: alerts, rec: rec}
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	s.router.HandleFunc("/backups", s.handleBackups).Methods(http.MethodGet)
	return s
}

func (s *AdminServer) Handler() http.Handler { return s.router }

type statusResponse struct {
	Halted      bool           `json:"halted"`
	HaltReason  string         `json:"halt_reason,omitempty"`
	BreakerState breaker.State `json:"breaker_state"`
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Halted:       s.mgr.IsHalted(),
		HaltReason:   s.mgr.HaltReason(),
		BreakerState: s.brk.State(),
	}
	writeJSON(w, resp)
}

func (s *AdminServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.alerts.Summary())
}

func (s *AdminServer) handleBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.rec.ListBackups()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, backups)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
