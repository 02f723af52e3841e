// access.go — обработчики выдачи доступа и журнала доступа:
// POST /api/v1/documents/{id}/access, GET /api/v1/documents/{id}/grants.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/access-engine/internal/api/errors"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/service"
)

// accessRequest — тело POST /api/v1/documents/{id}/access.
// Ключ, подпись — base64. Подпись покрывает кортеж
// (document id, ephemeral_public_key, timestamp, nonce).
type accessRequest struct {
	EphemeralPublicKey []byte    `json:"ephemeral_public_key"`
	Signature          []byte    `json:"signature"`
	Timestamp          time.Time `json:"timestamp"`
	Nonce              string    `json:"nonce"`
}

// accessResponse — зашифрованная подотчётная копия (поля []byte — base64).
type accessResponse struct {
	GrantID                  string `json:"grant_id"`
	CopyID                   string `json:"copy_id"`
	Ciphertext               []byte `json:"ciphertext"`
	Nonce                    []byte `json:"nonce"`
	ServerEphemeralPublicKey []byte `json:"server_ephemeral_public_key"`
}

type grantListResponse struct {
	DocumentID string               `json:"document_id"`
	Grants     []*model.AccessGrant `json:"grants"`
	Count      int                  `json:"count"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
}

// RequestAccess — POST /api/v1/documents/{id}/access.
// Запрос с корректным телом всегда оставляет запись в журнале доступа.
func (h *APIHandler) RequestAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req accessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.access.RequestAccess(r.Context(), service.AccessRequest{
		DocumentID:         chi.URLParam(r, "id"),
		Requestor:          actor,
		EphemeralPublicKey: req.EphemeralPublicKey,
		Signature:          req.Signature,
		Timestamp:          req.Timestamp,
		Nonce:              req.Nonce,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, accessResponse{
		GrantID:                  result.GrantID,
		CopyID:                   result.CopyID,
		Ciphertext:               result.Ciphertext,
		Nonce:                    result.Nonce[:],
		ServerEphemeralPublicKey: result.ServerPublicKey[:],
	})
}

// ListGrants — GET /api/v1/documents/{id}/grants?limit=&offset=.
func (h *APIHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	limit, offset, err := paginationDefaults(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	docID := chi.URLParam(r, "id")
	grants, err := h.access.ListGrants(r.Context(), actor, docID, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if grants == nil {
		grants = []*model.AccessGrant{}
	}

	writeJSON(w, http.StatusOK, grantListResponse{
		DocumentID: docID,
		Grants:     grants,
		Count:      len(grants),
		Limit:      limit,
		Offset:     offset,
	})
}
