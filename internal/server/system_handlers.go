package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/quotafeed/internal/acquisition"
	"github.com/aristath/quotafeed/internal/di"
	"github.com/aristath/quotafeed/internal/performance"
	"github.com/aristath/quotafeed/internal/recovery"
	"github.com/aristath/quotafeed/internal/scheduler"
)

// SystemHandlers handles health, performance and job endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	container   *di.Container
	scheduler   *scheduler.Scheduler
	jobs        map[string]scheduler.Job
}

// NewSystemHandlers creates system handlers. sched and jobs may be nil.
func NewSystemHandlers(container *di.Container, sched *scheduler.Scheduler, jobs *di.JobInstances, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		log:         log,
		startupTime: time.Now(),
		container:   container,
		scheduler:   sched,
		jobs:        make(map[string]scheduler.Job),
	}
	if jobs != nil {
		for _, job := range jobs.All() {
			h.jobs[job.Name()] = job
		}
	}
	return h
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status        string                   `json:"status"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Databases     map[string]string        `json:"databases"`
	Breaker       recovery.State           `json:"circuit_breaker"`
	System        *performance.SystemStats `json:"system,omitempty"`
}

// PerformanceResponse is returned by GET /api/performance
type PerformanceResponse struct {
	Cache           acquisition.Stats `json:"cache"`
	Recommendations []string          `json:"recommendations"`
	BreakerState    recovery.State    `json:"circuit_breaker_state"`
	BreakerFailures int               `json:"circuit_breaker_failures"`
}

// JobsStatusResponse is returned by GET /api/jobs
type JobsStatusResponse struct {
	TotalJobs int                   `json:"total_jobs"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
}

// HandleHealth reports database health and the provider breaker state.
// Any unhealthy database turns the response into a 503.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		Databases:     make(map[string]string),
		Breaker:       h.container.Breaker.State(),
	}

	for _, db := range h.container.Databases() {
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			response.Databases[db.Name()] = err.Error()
			response.Status = "unhealthy"
			continue
		}
		response.Databases[db.Name()] = "ok"
	}

	if h.container.Monitor != nil {
		stats := h.container.Monitor.System(0)
		response.System = &stats
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response, h.log)
}

// HandlePerformance returns cache effectiveness of single fetches
func (h *SystemHandlers) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	stats := h.container.Fetcher.Stats()

	writeJSON(w, http.StatusOK, PerformanceResponse{
		Cache:           stats,
		Recommendations: performance.Recommendations(stats.HitRate),
		BreakerState:    h.container.Breaker.State(),
		BreakerFailures: h.container.Breaker.Failures(),
	}, h.log)
}

// HandleJobsStatus returns scheduler job status
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting jobs status")

	if h.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not running", h.log)
		return
	}

	jobs := h.scheduler.Status()
	writeJSON(w, http.StatusOK, JobsStatusResponse{
		TotalJobs: len(jobs),
		Jobs:      jobs,
	}, h.log)
}

// HandleRunJob runs a registered job immediately
// POST /api/jobs/{name}/run
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, ok := h.jobs[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job "+name, h.log)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")

	var err error
	if h.scheduler != nil {
		err = h.scheduler.RunNow(job)
	} else {
		err = job.Run()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": name + " completed",
	}, h.log)
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes {"error": message} with the given status
func writeError(w http.ResponseWriter, status int, message string, log zerolog.Logger) {
	writeJSON(w, status, map[string]string{"error": message}, log)
}
