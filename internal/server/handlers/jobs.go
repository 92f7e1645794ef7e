package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/hina0118/mailbatch/pkg/jobstate"
	"github.com/hina0118/mailbatch/pkg/runlog"
)

// JobStatus is one entry in the GET /api/jobs response.
type JobStatus struct {
	JobType         string `json:"job_type"`
	Running         bool   `json:"running"`
	RunID           string `json:"run_id,omitempty"`
	CancelRequested bool   `json:"cancel_requested"`
	LastError       string `json:"last_error,omitempty"`
}

// CancelPublisher relays a cancel request to whatever process is
// running the job type.
type CancelPublisher interface {
	PublishCancel(jobType, reason string) error
}

// JobsHandler serves GET /api/jobs. Guard state covers jobs in this
// process; the run log contributes runs executing in other processes,
// with dead owners already filtered out by its liveness check.
func JobsHandler(registry *jobstate.Registry, runs *runlog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byType := make(map[string]*JobStatus)

		for jobType, st := range registry.Snapshot() {
			byType[jobType] = &JobStatus{
				JobType:         jobType,
				Running:         st.Running,
				CancelRequested: st.CancelRequested,
				LastError:       st.LastError,
			}
		}

		if runs != nil {
			if records, err := runs.List(); err == nil {
				// Newest first, so the first running record per type wins.
				for _, rec := range records {
					if rec.State != runlog.RunStateRunning {
						continue
					}
					st := byType[rec.JobType]
					if st == nil {
						st = &JobStatus{JobType: rec.JobType}
						byType[rec.JobType] = st
					}
					if !st.Running {
						st.Running = true
						st.RunID = rec.RunID
					}
				}
			}
		}

		types := make([]string, 0, len(byType))
		for jobType := range byType {
			types = append(types, jobType)
		}
		sort.Strings(types)

		out := make([]JobStatus, 0, len(types))
		for _, jobType := range types {
			out = append(out, *byType[jobType])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// CancelJobHandler serves POST /api/jobs/{jobType}/cancel. Cancellation
// is a request flag observed at the next chunk boundary: the local
// guard is flagged for in-process runs, and the publisher relays the
// request to runs owned by other processes.
func CancelJobHandler(registry *jobstate.Registry, publisher CancelPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobType := chi.URLParam(r, "jobType")
		guard := registry.Guard(jobType)
		guard.RequestCancel()

		relayed := false
		if publisher != nil {
			if err := publisher.PublishCancel(jobType, "requested via status server"); err == nil {
				relayed = true
			}
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_type":         jobType,
			"cancel_requested": true,
			"relayed":          relayed,
		})
	}
}

// RunsHandler serves GET /api/runs from the on-disk run log.
func RunsHandler(store *runlog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := store.List()
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		if runs == nil {
			runs = []runlog.RunRecord{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// RunHandler serves GET /api/runs/{runID}.
func RunHandler(store *runlog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		rec, err := store.Get(runID)
		if err != nil {
			// Missing run files surface as NOT_FOUND via the responder.
			respondWithError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
