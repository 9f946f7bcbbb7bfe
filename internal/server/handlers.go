package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// runResponse is the dispatch collaborator's view of a finished run:
// success/failure plus the count of aggregates written.
type runResponse struct {
	Success       bool         `json:"success"`
	CurvesWritten int          `json:"curves_written"`
	Completed     int          `json:"completed"`
	Skipped       int          `json:"skipped"`
	ElapsedMS     int64        `json:"elapsed_ms"`
	Failed        []failedTask `json:"failed,omitempty"`
}

type failedTask struct {
	Location string `json:"location"`
	IMT      string `json:"imt"`
	Error    string `json:"error"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var spec RunSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run spec: "+err.Error())
		return
	}

	// One run at a time: concurrent dispatch messages would contend for
	// the same worker pool and store.
	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		writeError(w, http.StatusConflict, "an aggregation run is already in progress")
		return
	}

	result, err := s.run(r.Context(), spec)
	if err != nil {
		// Global failure (logic tree, configuration, dataset): nothing was
		// dispatched.
		s.log.Error().Err(err).Msg("aggregation run aborted")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := runResponse{
		Success:       result.OK(),
		CurvesWritten: result.Written,
		Completed:     result.Completed,
		Skipped:       result.Skipped,
		ElapsedMS:     result.Elapsed.Milliseconds(),
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, failedTask{
			Location: f.Task.Location,
			IMT:      f.Task.IMT,
			Error:    f.Err.Error(),
		})
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"busy":           len(s.running) > 0,
	}
	if counts, err := cpu.Counts(true); err == nil {
		status["cpu_count"] = counts
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["mem_available_bytes"] = vm.Available
		status["mem_used_percent"] = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
