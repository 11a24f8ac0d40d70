package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireHospitalIDPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hospitalID, ok := hospitalIDFromRequest(r)
		if !ok || hospitalID != "hosp-abc" {
			t.Fatalf("expected hospital id propagated, got %s / %v", hospitalID, ok)
		}
		w.WriteHeader(http.StatusTeapot)
	})

	handler := requireHospitalID(next)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(hospitalHeader, "hosp-abc")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected downstream status, got %d", rr.Code)
	}
}

func TestRequireHospitalIDMissingHeader(t *testing.T) {
	handler := requireHospitalID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing hospital, got %d", rr.Code)
	}
}

func TestRequireHospitalIDWebsocketQuery(t *testing.T) {
	handler := requireHospitalID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := hospitalIDFromRequest(r); id != "hosp-ws" {
			t.Fatalf("expected hospital from query, got %q", id)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/test?hospital_id=hosp-ws", nil)
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestOptionalHospitalID(t *testing.T) {
	var seen string
	handler := optionalHospitalID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = hospitalIDFromRequest(r)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/hospital", nil))
	if seen != "" {
		t.Fatalf("expected no hospital, got %q", seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/hospital/3", nil)
	req.Header.Set(hospitalHeader, "hosp-3")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "hosp-3" {
		t.Fatalf("expected hosp-3, got %q", seen)
	}
}
