package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/me/stepsched/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respond writes data in the envelope, tagged with r's request id. pg is nil
// for single-object replies.
func respond(w http.ResponseWriter, r *http.Request, data any, pg *model.Pagination) {
	writeEnvelope(w, http.StatusOK, model.Response{
		Status:     "ok",
		RequestID:  RequestIDFromContext(r.Context()),
		Data:       data,
		Pagination: pg,
	})
}

// respondError writes err in the envelope. An *APIError anywhere in the
// chain picks the status; anything else is an INTERNAL_ERROR.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = &model.APIError{Code: model.ErrInternal, Message: err.Error()}
	}
	writeEnvelope(w, statusFor(apiErr.Code), model.Response{
		Status:    "error",
		RequestID: RequestIDFromContext(r.Context()),
		Error:     apiErr,
	})
}

func statusFor(code model.ErrorCode) int {
	switch code {
	case model.ErrValidation:
		return http.StatusBadRequest
	case model.ErrNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeEnvelope(w http.ResponseWriter, status int, resp model.Response) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
