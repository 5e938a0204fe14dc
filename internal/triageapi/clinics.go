package triageapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medroute/internal/triage"
)

type clinicsResponse struct {
	Clinics []triage.ClinicInfo `json:"clinics"`
}

func (a *API) handleListClinics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, clinicsResponse{Clinics: a.svc.Clinics()})
}

// handleCheckAccess answers whether {name} can be booked directly. Visited
// clinics come from repeated or comma-separated visited parameters.
func (a *API) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "invalid clinic name")
		return
	}

	var visited []string
	for _, v := range r.URL.Query()["visited"] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				visited = append(visited, part)
			}
		}
	}

	acc := a.svc.CheckAccess(name, visited)

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("medroute.access.clinic", acc.Clinic),
		attribute.Bool("medroute.access.accessible", acc.Accessible),
	)

	if !acc.Known {
		writeError(w, http.StatusNotFound, "unknown clinic")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
