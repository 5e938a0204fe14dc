// Package triageapi exposes the triage service over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medroute/internal/triage"
)

// maxRequestBytes bounds request bodies independently of the outer
// middleware so the handlers are safe when mounted elsewhere.
const maxRequestBytes = 64 << 10

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Analyze(ctx context.Context, complaint string) (*triage.Analysis, error)
	CheckAccess(name string, visited []string) *triage.Access
	Clinics() []triage.ClinicInfo
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", a.handleTriage)
		r.Get("/clinics", a.handleListClinics)
		r.Get("/clinics/{name}/access", a.handleCheckAccess)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
