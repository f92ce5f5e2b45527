package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/pkg/httputil"
	"github.com/ignite/deliverability-guard/internal/reputation"
	"github.com/ignite/deliverability-guard/internal/service/bouncelog"
)

// ReputationAPI exposes reputation snapshots, trends, and the underlying
// bounce history.
type ReputationAPI struct {
	scorer *reputation.Scorer
	log    *bouncelog.Service
}

// NewReputationAPI creates the reputation handler set.
func NewReputationAPI(scorer *reputation.Scorer, log *bouncelog.Service) *ReputationAPI {
	return &ReputationAPI{scorer: scorer, log: log}
}

// RegisterRoutes mounts the reputation endpoints. Plain registrations, not a
// nested Route: the training group shares the /domains/{domainID} prefix.
func (api *ReputationAPI) RegisterRoutes(r chi.Router) {
	r.Get("/domains/{domainID}/reputation", api.HandleLatest)
	r.Get("/domains/{domainID}/reputation/trend", api.HandleTrend)
	r.Get("/domains/{domainID}/bounces", api.HandleBounces)
	r.Get("/domains/{domainID}/bounces/counts", api.HandleBounceCounts)
}

// HandleLatest returns the most recent snapshot for a domain.
func (api *ReputationAPI) HandleLatest(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainID")
	snap, err := api.scorer.Latest(r.Context(), domainID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if snap == nil {
		httputil.NotFound(w, "no reputation snapshot yet")
		return
	}
	httputil.OK(w, snap)
}

// HandleTrend returns the daily snapshot series for the trailing N days
// (default 30).
func (api *ReputationAPI) HandleTrend(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainID")
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > 365 {
		days = 30
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	snaps, err := api.scorer.Trend(r.Context(), domainID, from, to)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if snaps == nil {
		snaps = []domain.ReputationSnapshot{}
	}
	httputil.OK(w, map[string]any{
		"domain_id": domainID,
		"days":      days,
		"snapshots": snaps,
	})
}

// HandleBounces returns recent bounce records for a domain.
func (api *ReputationAPI) HandleBounces(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := api.log.Recent(r.Context(), domainID, limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if records == nil {
		records = []domain.BounceRecord{}
	}
	httputil.OK(w, map[string]any{
		"domain_id": domainID,
		"records":   records,
	})
}

// HandleBounceCounts returns per-category counts over the trailing window
// (default 24 hours).
func (api *ReputationAPI) HandleBounceCounts(w http.ResponseWriter, r *http.Request) {
	domainID := chi.URLParam(r, "domainID")
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	if hours <= 0 || hours > 24*90 {
		hours = 24
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	counts, err := api.log.Counts(r.Context(), domainID, from, to)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"domain_id": domainID,
		"hours":     hours,
		"counts":    counts,
		"total":     counts.Total(),
	})
}
