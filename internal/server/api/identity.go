package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"fedifeed/relay/internal/activity"
	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
)

// OwnerLookup resolves an owner by username.
type OwnerLookup interface {
	GetOwnerByUsername(ctx context.Context, username string) (*models.Owner, error)
}

// IdentityBuilder renders an owner's identity document.
type IdentityBuilder interface {
	BuildIdentityDocument(owner models.Owner) (activity.Document, error)
}

// IdentityHandler serves owner identity documents.
type IdentityHandler struct {
	owners  OwnerLookup
	builder IdentityBuilder
}

// NewIdentityHandler creates a new handler instance.
func NewIdentityHandler(owners OwnerLookup, builder IdentityBuilder) *IdentityHandler {
	return &IdentityHandler{owners: owners, builder: builder}
}

// Get returns the identity document of an active owner.
func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	username := chi.URLParam(r, "username")

	owner, err := h.owners.GetOwnerByUsername(r.Context(), username)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !owner.Active) {
		http.Error(w, "Owner not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("owner", username).Msg("Error loading owner")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	doc, err := h.builder.BuildIdentityDocument(*owner)
	if err != nil {
		log.Error().Err(err).Str("owner", username).Msg("Error building identity document")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeBody(w, r, http.StatusOK, activity.ContentType, doc)
}
