package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medroute/internal/triage"
)

type triageRequest struct {
	Complaint *string `json:"complaint"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req triageRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Complaint == nil {
		writeError(w, http.StatusBadRequest, "complaint is required")
		return
	}

	span := trace.SpanFromContext(r.Context())

	an, err := a.svc.Analyze(r.Context(), *req.Complaint)
	switch {
	case errors.Is(err, triage.ErrComplaintTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.logger.Warn(r.Context(), "triage request abandoned", "error", err)
		writeError(w, http.StatusServiceUnavailable, "request canceled")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "triage failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(
		attribute.String("medroute.analysis.id", an.ID),
		attribute.String("medroute.triage.strategy", string(an.Strategy)),
		attribute.String("medroute.triage.primary", an.PrimaryClinic.Name),
	)
	if an.RedFlag != "" {
		span.SetAttributes(attribute.String("medroute.triage.red_flag", an.RedFlag))
	}

	writeJSON(w, http.StatusOK, an)
}
