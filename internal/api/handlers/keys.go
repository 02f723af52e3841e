// keys.go — регистрация ключа подписи и ротация ключей шифрования:
// PUT /api/v1/signing-keys/me, POST /api/v1/keys/rotate.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/access-engine/internal/api/errors"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
)

type signingKeyRequest struct {
	// PublicKey — Ed25519 публичный ключ (32 байта, base64)
	PublicKey []byte `json:"public_key"`
}

type rotateKeyRequest struct {
	ClassificationLevel *classification.Level `json:"classification_level"`
}

type rotateKeyResponse struct {
	Scope               string               `json:"scope"`
	ClassificationLevel classification.Level `json:"classification_level"`
	KeyID               string               `json:"key_id"`
}

// RegisterSigningKey — PUT /api/v1/signing-keys/me.
// Повторная регистрация заменяет ключ субъекта.
func (h *APIHandler) RegisterSigningKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req signingKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.access.RegisterSigningKey(r.Context(), actor, req.PublicKey); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateKey — POST /api/v1/keys/rotate.
// Ротирует ключ области издателя вызывающего для указанного грифа.
func (h *APIHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req rotateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ClassificationLevel == nil {
		apierrors.ValidationError(w, "classification_level обязателен")
		return
	}

	keyID, err := h.registry.RotateKey(r.Context(), actor, *req.ClassificationLevel)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rotateKeyResponse{
		Scope:               actor.Issuer,
		ClassificationLevel: *req.ClassificationLevel,
		KeyID:               keyID,
	})
}
