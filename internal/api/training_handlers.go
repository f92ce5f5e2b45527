package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/deliverability-guard/internal/pkg/httputil"
	"github.com/ignite/deliverability-guard/internal/training"
)

// TrainingAPI exposes training state, the current effective limit, and the
// send-quota reservation the dispatch pipeline calls before each batch.
type TrainingAPI struct {
	repo       training.Repository
	controller *training.Controller
	limiter    *training.Limiter
}

// NewTrainingAPI creates the training handler set.
func NewTrainingAPI(repo training.Repository, controller *training.Controller, limiter *training.Limiter) *TrainingAPI {
	return &TrainingAPI{repo: repo, controller: controller, limiter: limiter}
}

// RegisterRoutes mounts the training endpoints.
func (api *TrainingAPI) RegisterRoutes(r chi.Router) {
	r.Get("/domains/{domainID}/training", api.HandleGet)
	r.Get("/domains/{domainID}/training/effective-limit", api.HandleEffectiveLimit)
	r.Post("/domains/{domainID}/training/reserve", api.HandleReserve)
}

// HandleGet returns the domain's training config.
func (api *TrainingAPI) HandleGet(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainID")
	tc, err := api.repo.ForDomain(r.Context(), domainID)
	if err != nil {
		if errors.Is(err, training.ErrNotFound) {
			httputil.NotFound(w, "no training config for domain")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, tc)
}

// HandleEffectiveLimit returns the limit the sender must honor right now,
// with today's consumption.
func (api *TrainingAPI) HandleEffectiveLimit(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainID")
	limit, err := api.controller.EffectiveLimit(r.Context(), domainID)
	if err != nil {
		if errors.Is(err, training.ErrNotFound) {
			httputil.NotFound(w, "no training config for domain")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	used, err := api.limiter.Usage(r.Context(), domainID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"domain_id":       domainID,
		"effective_limit": limit,
		"used_today":      used,
	})
}

// HandleReserve atomically reserves quota for a send batch. 429 when the
// batch does not fit today's remaining quota.
func (api *TrainingAPI) HandleReserve(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainID")
	var input struct {
		Count int `json:"count"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.Count <= 0 {
		httputil.BadRequest(w, "count must be positive")
		return
	}

	allowed, remaining, err := api.limiter.TryReserve(r.Context(), domainID, input.Count)
	if err != nil {
		if errors.Is(err, training.ErrNotFound) {
			httputil.NotFound(w, "no training config for domain")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	if !allowed {
		httputil.TooManyRequests(w, "daily send limit reached")
		return
	}
	httputil.OK(w, map[string]any{
		"domain_id": domainID,
		"reserved":  input.Count,
		"remaining": remaining,
	})
}
