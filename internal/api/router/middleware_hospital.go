package router

import (
	"net/http"
	"strings"

	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
)

const hospitalHeader = "X-Hospital-Id"

// requireHospitalID enforces the tenant header for job routes. Websocket
// upgrades from browsers cannot set headers, so hospital_id is read from the
// query string for those.
func requireHospitalID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hospitalID := hospitalIDFromHeaders(r)
		if hospitalID == "" {
			http.Error(w, "missing X-Hospital-Id", http.StatusBadRequest)
			return
		}
		ctx := tenancy.WithHospitalID(r.Context(), hospitalID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalHospitalID attaches the tenant when present; some proxied routes
// (listing hospitals, accepting invites) are not tenant scoped.
func optionalHospitalID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hospitalID := hospitalIDFromHeaders(r); hospitalID != "" {
			r = r.WithContext(tenancy.WithHospitalID(r.Context(), hospitalID))
		}
		next.ServeHTTP(w, r)
	})
}

func hospitalIDFromHeaders(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(hospitalHeader)); id != "" {
		return id
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	}
	return ""
}

// hospitalIDFromRequest exposes the hospital id for local handlers.
func hospitalIDFromRequest(r *http.Request) (string, bool) {
	return tenancy.HospitalIDFromContext(r.Context())
}
