package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/deliverability-guard/internal/pkg/httputil"
	"github.com/ignite/deliverability-guard/internal/service/credentials"
)

// CredentialAPI exposes mailbox credential health. Secrets never leave the
// database through this surface.
type CredentialAPI struct {
	repo credentials.Repository
}

// NewCredentialAPI creates the credential handler set.
func NewCredentialAPI(repo credentials.Repository) *CredentialAPI {
	return &CredentialAPI{repo: repo}
}

// RegisterRoutes mounts the credential endpoints.
func (api *CredentialAPI) RegisterRoutes(r chi.Router) {
	r.Get("/credentials/{credentialID}/health", api.HandleHealth)
}

// HandleHealth returns the poll bookkeeping for one credential: when it was
// last checked, how many messages it has produced, and its last error.
func (api *CredentialAPI) HandleHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialID")
	cred, err := api.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			httputil.NotFound(w, "credential not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	healthy := cred.IsActive && cred.LastError == nil
	httputil.OK(w, map[string]any{
		"credential_id":   cred.ID,
		"protocol":        cred.Protocol,
		"host":            cred.Host,
		"is_active":       cred.IsActive,
		"healthy":         healthy,
		"last_checked_at": cred.LastCheckedAt,
		"processed_count": cred.ProcessedCount,
		"last_error":      cred.LastError,
	})
}
