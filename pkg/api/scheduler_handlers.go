package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tenantops/subkeeper/pkg/httputil"
	"github.com/tenantops/subkeeper/pkg/scheduler"
)

// listJobs handles GET /api/v1/jobs
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.scheduler.Status())
}

// triggerJob handles POST /api/v1/jobs/{name}/trigger. The job runs
// synchronously; a handler failure is reported in the response body, not as
// an HTTP error, since the trigger itself succeeded.
func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	result := TriggerJobResponse{Job: name, Status: "completed"}
	if err := s.scheduler.Trigger(r.Context(), name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("job %s not found", name))
			return
		}
		result.Status = "failed"
		result.Error = err.Error()
	}
	httputil.WriteSuccess(w, result)
}

// stopJob handles POST /api/v1/jobs/{name}/stop
func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	if err := s.scheduler.StopJob(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("job %s not found", name))
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// restartJob handles POST /api/v1/jobs/{name}/restart
func (s *Server) restartJob(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	if err := s.scheduler.RestartJob(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("job %s not found", name))
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listExecutions handles GET /api/v1/jobs/{name}/executions
func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 20)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	executions, err := s.store.ExecutionHistory(r.Context(), name, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, executions)
}
