// Package api exposes the guard's REST surface: suppression checks and
// management, bounce history, reputation trends, credential health, and the
// daily send quota.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/pkg/httputil"
	"github.com/ignite/deliverability-guard/internal/service/suppression"
)

// SuppressionAPI exposes the account-wide suppression list. Pre-send checks
// and list management both go through here.
type SuppressionAPI struct {
	svc *suppression.Service
}

// NewSuppressionAPI creates the suppression handler set.
func NewSuppressionAPI(svc *suppression.Service) *SuppressionAPI {
	return &SuppressionAPI{svc: svc}
}

// RegisterRoutes mounts the suppression endpoints.
func (api *SuppressionAPI) RegisterRoutes(r chi.Router) {
	r.Route("/suppression", func(r chi.Router) {
		r.Get("/stats", api.HandleStats)
		r.Get("/check/{email}", api.HandleCheck)
		r.Post("/check-batch", api.HandleCheckBatch)
		r.Get("/list", api.HandleList)
		r.Post("/suppress", api.HandleSuppress)
		r.Delete("/remove/{email}", api.HandleRemove)
	})
}

// HandleStats returns aggregated suppression statistics.
func (api *SuppressionAPI) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.svc.GetStats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// HandleCheck checks one address against the list.
func (api *SuppressionAPI) HandleCheck(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	suppressed, err := api.svc.IsSuppressed(r.Context(), email)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"email":      suppression.Normalize(email),
		"suppressed": suppressed,
	})
}

// HandleCheckBatch checks a batch of addresses in one round trip, for
// pre-send scrubbing.
func (api *SuppressionAPI) HandleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Emails []string `json:"emails"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	if len(input.Emails) == 0 {
		httputil.BadRequest(w, "emails is required")
		return
	}
	if len(input.Emails) > 10000 {
		httputil.BadRequest(w, "at most 10000 emails per batch")
		return
	}

	suppressed := []string{}
	deliverable := []string{}
	for _, email := range input.Emails {
		hit, err := api.svc.IsSuppressed(r.Context(), email)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		if hit {
			suppressed = append(suppressed, suppression.Normalize(email))
		} else {
			deliverable = append(deliverable, suppression.Normalize(email))
		}
	}
	httputil.OK(w, map[string]any{
		"suppressed":        suppressed,
		"deliverable":       deliverable,
		"suppressed_count":  len(suppressed),
		"deliverable_count": len(deliverable),
	})
}

// HandleList returns a filtered page of the list.
func (api *SuppressionAPI) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	entries, total, err := api.svc.List(r.Context(), suppression.ListFilter{
		Type:   q.Get("type"),
		Source: q.Get("source"),
		Search: q.Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.SuppressionEntry{}
	}
	httputil.OK(w, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// HandleSuppress adds an address to the list.
func (api *SuppressionAPI) HandleSuppress(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email  string `json:"email"`
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.Email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}

	typ := domain.SuppressionType(input.Type)
	if input.Type == "" {
		typ = domain.SuppressionManual
	}
	switch typ {
	case domain.SuppressionUnsubscribe, domain.SuppressionFBL, domain.SuppressionBounce,
		domain.SuppressionComplaint, domain.SuppressionManual:
	default:
		httputil.BadRequest(w, "unknown suppression type")
		return
	}

	if err := api.svc.Suppress(r.Context(), input.Email, typ, domain.SourceAPI, input.Reason, nil); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]any{
		"email":      suppression.Normalize(input.Email),
		"suppressed": true,
	})
}

// HandleRemove deletes an address from the list.
func (api *SuppressionAPI) HandleRemove(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := api.svc.Remove(r.Context(), email); err != nil {
		if errors.Is(err, suppression.ErrNotFound) {
			httputil.NotFound(w, "email not suppressed")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}
