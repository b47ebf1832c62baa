package restapi

import (
	"encoding/json"
	"net/http"
)

const (
	difficultiesEndpoint = "/difficulties"
	statusEndpoint       = "/status"
	metricsEndpoint      = "/metrics"
)

// StatusResponse is the body served on /status.
type StatusResponse struct {
	TipHeight        uint32 `json:"tip_height"`
	StoredPeriods    int    `json:"stored_periods"`
	NextPeriodHeight uint32 `json:"next_period_height"`
	State            string `json:"state"`
}

func (s *Server) handleDifficulties(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, difficultiesEndpoint, s.cfg.Chain.Difficulties())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.cfg.Chain.Snapshot()

	state := "idle"
	if s.cfg.Status != nil {
		state = s.cfg.Status.State().String()
	}

	writeJSON(w, statusEndpoint, &StatusResponse{
		TipHeight:        snapshot.TipHeight,
		StoredPeriods:    snapshot.Periods,
		NextPeriodHeight: snapshot.NextHeight(),
		State:            state,
	})
}

// writeJSON marshals v and writes it with a 200 status.
func writeJSON(w http.ResponseWriter, endpoint string, v interface{}) {
	resp, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, endpoint, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Errorf("Unable to write %s response: %v", endpoint, err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, endpoint string,
	err error) {

	log.Debugf("Serving %s failed: %v", endpoint, err)

	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(err.Error())); err != nil {
		log.Errorf("Unable to write %s error response: %v", endpoint,
			err)
	}
}
