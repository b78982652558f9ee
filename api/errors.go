package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/cadence"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// errBadRequest marks request decoding and parameter errors.
var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, cadence.ErrJobNotFound), errors.Is(err, cadence.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, cadence.ErrInvalidJob),
		errors.Is(err, cadence.ErrInvalidSchedule),
		errors.Is(err, cadence.ErrInvalidTimezone),
		errors.Is(err, cadence.ErrInvalidPriority),
		errors.Is(err, cadence.ErrDependencyCycle),
		errors.Is(err, cadence.ErrUnknownTask),
		errors.Is(err, cadence.ErrScheduleUnsatisfiable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cadence.ErrRunNotActive), errors.Is(err, cadence.ErrLeaseConflict):
		return http.StatusConflict
	case errors.Is(err, cadence.ErrQueueClosed), errors.Is(err, cadence.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("api request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}
