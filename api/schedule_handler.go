package api

import (
	"net/http"
	"time"
)

func (a *API) validateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := req.Schedule.schedule()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.eng.ValidateSchedule(s, req.Timezone); err != nil {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true})
}

func (a *API) previewSchedule(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := req.Schedule.schedule()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	count := req.Count
	if count <= 0 {
		count = 10
	}
	times, err := a.eng.PreviewSchedule(s, req.Timezone, count, req.Horizon)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if times == nil {
		times = []time.Time{}
	}
	writeJSON(w, http.StatusOK, PreviewResponse{Times: times})
}
