// documents.go — обработчики реестра документов:
// POST /api/v1/documents, GET /api/v1/documents,
// DELETE /api/v1/documents/{id}, PUT /api/v1/documents/{id}/releasability,
// GET /api/v1/documents/{id}/history.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/access-engine/internal/api/errors"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/service"
)

// createDocumentRequest — тело POST /api/v1/documents.
// Content — содержимое документа в base64.
type createDocumentRequest struct {
	ClassificationLevel classification.Level `json:"classification_level"`
	ReleasableToIssuers []string             `json:"releasable_to_issuers"`
	Content             []byte               `json:"content"`
	Title               string               `json:"title"`
	Description         string               `json:"description,omitempty"`
	ContentType         string               `json:"content_type,omitempty"`
	ExpiresAt           *time.Time           `json:"expires_at,omitempty"`
}

type createDocumentResponse struct {
	ID string `json:"id"`
}

type documentListResponse struct {
	Documents []model.DocumentSummary `json:"documents"`
	Count     int                     `json:"count"`
}

type releasabilityRequest struct {
	ReleasableToIssuers []string `json:"releasable_to_issuers"`
}

type historyResponse struct {
	DocumentID string                `json:"document_id"`
	Events     []*model.HistoryEvent `json:"events"`
}

// CreateDocument — POST /api/v1/documents.
// Автор — субъект удостоверения; его издатель задаёт область ключа шифрования.
func (h *APIHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req createDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.registry.Create(r.Context(), actor, service.CreateDocumentInput{
		ClassificationLevel: req.ClassificationLevel,
		ReleasableToIssuers: req.ReleasableToIssuers,
		Plaintext:           req.Content,
		Title:               req.Title,
		Description:         req.Description,
		ContentType:         req.ContentType,
		ExpiresAt:           req.ExpiresAt,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/documents/"+id)
	writeJSON(w, http.StatusCreated, createDocumentResponse{ID: id})
}

// QueryDocuments — GET /api/v1/documents?limit=N.
// Возвращает документы, видимые издателю и допуску вызывающего,
// в порядке создания. Обход останавливается на limit.
func (h *APIHandler) QueryDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	limit, _, err := paginationDefaults(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	docs := make([]model.DocumentSummary, 0)
	for summary, err := range h.registry.Query(r.Context(), actor.Issuer, actor.Clearance) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		docs = append(docs, summary)
		if len(docs) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, documentListResponse{Documents: docs, Count: len(docs)})
}

// DeleteDocument — DELETE /api/v1/documents/{id} (soft delete).
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	if err := h.registry.SoftDelete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateReleasability — PUT /api/v1/documents/{id}/releasability.
func (h *APIHandler) UpdateReleasability(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req releasabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.registry.UpdateReleasability(r.Context(), actor, chi.URLParam(r, "id"), req.ReleasableToIssuers); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDocumentHistory — GET /api/v1/documents/{id}/history.
func (h *APIHandler) GetDocumentHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	docID := chi.URLParam(r, "id")
	events, err := h.registry.History(r.Context(), actor, docID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{DocumentID: docID, Events: events})
}
