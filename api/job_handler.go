package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/cadence/job"
)

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	filter := job.ListFilter{
		Tag:    r.URL.Query().Get("tag"),
		Limit:  defaultLimit(limit),
		Offset: offset,
	}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled, perr := strconv.ParseBool(raw)
		if perr != nil {
			a.writeError(w, r, badRequest("invalid enabled %q", raw))
			return
		}
		filter.Enabled = &enabled
	}

	jobs, total, err := a.eng.ListJobs(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Total: total})
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	j := &job.Job{}
	if err := req.apply(j); err != nil {
		a.writeError(w, r, err)
		return
	}

	created, err := a.eng.CreateJob(r.Context(), j)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	j, err := a.eng.GetJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) updateJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req JobRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	j, err := a.eng.GetJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := req.apply(j); err != nil {
		a.writeError(w, r, err)
		return
	}

	updated, err := a.eng.UpdateJob(r.Context(), j)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.eng.DeleteJob(r.Context(), jobID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	j, err := a.eng.PauseJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	j, err := a.eng.ResumeJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) executeNow(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	occ, err := a.eng.ExecuteNow(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ExecuteNowResponse{
		OccurrenceID:  occ.ID,
		JobID:         jobID,
		ScheduledTime: occ.ScheduledTime,
	})
}

func (a *API) jobHistory(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q, err := runQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if _, err := a.eng.GetJob(r.Context(), jobID); err != nil {
		a.writeError(w, r, err)
		return
	}
	q.JobID = jobID
	a.writeHistory(w, r, q)
}

func (a *API) jobStats(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	summary, err := a.eng.JobStats(r.Context(), jobID, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) dependencyStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	at, err := timeQuery(r, "at")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if at.IsZero() {
		at = a.eng.Clock().Now()
	}
	status, err := a.eng.DependencyStatus(r.Context(), jobID, at.UTC())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
