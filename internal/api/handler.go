package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/0xPuncker/wellness-sync/internal/cache"
	"github.com/0xPuncker/wellness-sync/internal/jobs"
	"github.com/0xPuncker/wellness-sync/internal/lifecycle"
	"github.com/0xPuncker/wellness-sync/internal/task"
	"github.com/0xPuncker/wellness-sync/pkg/types"
	"github.com/0xPuncker/wellness-sync/pkg/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var errJobNotFound = errors.New("job not found")

type JobScheduler interface {
	Jobs() []types.JobInfo
	Enabled() bool
	RunNow(ctx context.Context, jobID string) (task.Result, error)
}

type Lifecycle interface {
	EnteringBackground()
	BecomingActive()
	State() lifecycle.State
}

type Handler struct {
	logger    *logrus.Logger
	scheduler JobScheduler
	lifecycle Lifecycle
	cache     *cache.Store
	metrics   http.Handler
	// runTimeout bounds POST /jobs/{id}/run.
	runTimeout time.Duration
}

type JobsResponse struct {
	Jobs  []types.JobInfo `json:"jobs"`
	Count int             `json:"count"`
}

type RunResponse struct {
	JobID     string `json:"job_id"`
	Succeeded bool   `json:"succeeded"`
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
}

type CacheResponse struct {
	Count    int               `json:"count"`
	Bytes    int64             `json:"bytes"`
	LastSync *jobs.SyncSummary `json:"last_sync,omitempty"`
}

type LifecycleResponse struct {
	State lifecycle.State `json:"state"`
}

func NewHandler(logger *logrus.Logger, scheduler JobScheduler, hooks Lifecycle, store *cache.Store, metrics http.Handler) *Handler {
	return &Handler{
		logger:     logger,
		scheduler:  scheduler,
		lifecycle:  hooks,
		cache:      store,
		metrics:    metrics,
		runTimeout: 2 * time.Minute,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                        "ok",
		"state":                         h.lifecycle.State(),
		"background_processing_enabled": h.scheduler.Enabled(),
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list := h.scheduler.Jobs()
	h.writeJSON(w, http.StatusOK, JobsResponse{Jobs: list, Count: len(list)})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	for _, job := range h.scheduler.Jobs() {
		if job.ID == id {
			h.writeJSON(w, http.StatusOK, job)
			return
		}
	}
	h.handleError(w, errJobNotFound, http.StatusNotFound)
}

// RunJob runs a job in-process and waits for the result.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	found := false
	for _, job := range h.scheduler.Jobs() {
		if job.ID == id {
			found = true
			break
		}
	}
	if !found {
		h.handleError(w, errJobNotFound, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout)
	defer cancel()

	result, err := h.scheduler.RunNow(ctx, id)
	if err != nil {
		h.handleError(w, err, http.StatusConflict)
		return
	}

	resp := RunResponse{
		JobID:     id,
		Succeeded: result.Succeeded(),
		Cancelled: result.Cancelled,
		Duration:  utils.FormatDuration(result.Duration),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) EnterBackground(w http.ResponseWriter, r *http.Request) {
	h.lifecycle.EnteringBackground()
	h.writeJSON(w, http.StatusOK, LifecycleResponse{State: h.lifecycle.State()})
}

func (h *Handler) BecomeActive(w http.ResponseWriter, r *http.Request) {
	h.lifecycle.BecomingActive()
	h.writeJSON(w, http.StatusOK, LifecycleResponse{State: h.lifecycle.State()})
}

func (h *Handler) GetCache(w http.ResponseWriter, r *http.Request) {
	info := h.cache.Info()
	resp := CacheResponse{Count: info.Count, Bytes: info.TotalSize}

	var summary jobs.SyncSummary
	if h.cache.Retrieve(jobs.LastSyncCacheKey, &summary) {
		resp.LastSync = &summary
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.cache.ClearAll()
	h.logger.Info("Cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	h.logger.Error(err)
	h.writeJSON(w, code, map[string]string{
		"error": err.Error(),
	})
}
