package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type login struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr error
		anyErr  bool
	}{
		{name: "single object", body: `{"email":"a@b.c","password":"x"}`},
		{name: "trailing whitespace", body: "{\"email\":\"a@b.c\"}\n"},
		{name: "empty body", body: "", wantErr: errBodyRequired},
		{name: "second object", body: `{"email":"a"}{"email":"b"}`, wantErr: errTrailingData},
		{name: "trailing garbage", body: `{"email":"a"}}`, wantErr: errTrailingData},
		{name: "unknown field", body: `{"email":"a","admin":true}`, anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			var dst login
			err := decodeJSON(req, &dst)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatalf("expected error for %q", tt.body)
				}
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	respondError(rec, http.StatusBadGateway, "comment service unavailable")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "comment service unavailable" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["fields"]; ok {
		t.Fatalf("fields should be omitted, got %v", body)
	}
}

func TestTriggerHX(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	triggerHX(rec, "treeUpdated", map[string]any{"active": "docs/intro.md"})
	var got map[string]map[string]string
	if err := json.Unmarshal([]byte(rec.Header().Get("HX-Trigger")), &got); err != nil {
		t.Fatalf("decode HX-Trigger: %v", err)
	}
	if got["treeUpdated"]["active"] != "docs/intro.md" {
		t.Fatalf("unexpected trigger %v", got)
	}
}
