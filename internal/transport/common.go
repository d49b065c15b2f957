// Package transport adapts the HTTP surface to the service layer:
// request decoding, error mapping and authentication middleware.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	api "github.com/signalbeam/signalbeam/api/v1"
	"github.com/signalbeam/signalbeam/internal/sberrors"
	"github.com/sirupsen/logrus"
)

const maxRequestBodyBytes = 1 << 20

// WriteJSONResponse writes the payload with the given status. A nil
// payload produces an empty body.
func WriteJSONResponse(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps a service error onto the wire taxonomy. A stale
// report is deliberately answered 200 with no body: the device already
// moved on and retrying would not help it.
func WriteError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	if errors.Is(err, sberrors.ErrStaleReport) {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := sberrors.HTTPStatus(err)
	resp := api.ErrorResponse{
		Error:   sberrors.Code(err),
		Message: err.Error(),
	}
	if errors.Is(err, sberrors.ErrRateLimitExceeded) || errors.Is(err, sberrors.ErrDownstreamTimeout) {
		retry := 60
		resp.RetryAfter = &retry
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	WriteJSONResponse(w, status, resp)
}

// ReadJSONBody decodes the request body into dst, rejecting unknown
// fields and oversized payloads.
func ReadJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return sberrors.ErrInvalidRequest
	}
	return nil
}

// PathUUID parses a uuid path parameter.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, sberrors.ErrInvalidRequest
	}
	return id, nil
}
