package api

import (
	"net/http"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	q, err := runQuery(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		jobID, perr := id.ParseJobID(raw)
		if perr != nil {
			a.writeError(w, r, badRequest("invalid job ID: %v", perr))
			return
		}
		q.JobID = jobID
	}
	a.writeHistory(w, r, q)
}

func (a *API) writeHistory(w http.ResponseWriter, r *http.Request, q run.Query) {
	attempts, err := a.eng.History(r.Context(), q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []*run.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (a *API) activeRuns(w http.ResponseWriter, _ *http.Request) {
	active := a.eng.ActiveRuns()
	if active == nil {
		active = []*run.Attempt{}
	}
	writeJSON(w, http.StatusOK, active)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	attempt, err := a.eng.GetRun(r.Context(), runID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (a *API) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := runIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.eng.CancelRun(r.Context(), runID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
