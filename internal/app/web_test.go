package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusStore(t *testing.T) {
	store := &statusStore{}

	rec := httptest.NewRecorder()
	store.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before data: %d, want 503", rec.Code)
	}

	if err := store.update([]byte("{bad")); err == nil {
		t.Error("bad payload accepted")
	}
	if err := store.update([]byte(`{"mode":"capturing","session":3,"rows":42}`)); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	store.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Mode != "capturing" || got.Session != 3 || got.Rows != 42 {
		t.Errorf("got %+v", got)
	}
}
