package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAccessDenied(t *testing.T) {
	rec := httptest.NewRecorder()
	AccessDenied(rec, "CLEARANCE_DENIED", "0190f1c2-7a3b-7c4d-8e5f-0123456789ab", "Доступ запрещён")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("ожидался 403, получен %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: %q", ct)
	}

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "CLEARANCE_DENIED" || body.Error.GrantID == "" {
		t.Errorf("тело: %+v", body)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		write      func(http.ResponseWriter, string)
		wantStatus int
		wantCode   string
	}{
		{ValidationError, http.StatusBadRequest, CodeValidationError},
		{NotFound, http.StatusNotFound, CodeNotFound},
		{Unauthorized, http.StatusUnauthorized, CodeInvalidCredential},
		{InsufficientClearance, http.StatusForbidden, CodeInsufficientClearance},
		{RateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{StorageUnavailable, http.StatusServiceUnavailable, CodeStorageUnavailable},
		{EncryptionKeyUnavailable, http.StatusInternalServerError, CodeEncryptionKeyUnavailable},
		{IntegrityMismatch, http.StatusInternalServerError, CodeIntegrityMismatch},
		{AuditLogFailure, http.StatusInternalServerError, CodeAuditLogFailure},
		{InternalError, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.write(rec, "сообщение")

		var body errorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if rec.Code != tt.wantStatus || body.Error.Code != tt.wantCode {
			t.Errorf("%s: получены %d/%s, ожидались %d/%s", tt.wantCode, rec.Code, body.Error.Code, tt.wantStatus, tt.wantCode)
		}
		if body.Error.GrantID != "" {
			t.Errorf("%s: grant_id не должен заполняться", tt.wantCode)
		}
	}
}
