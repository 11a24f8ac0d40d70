package handlers

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

// NewBackendProxy forwards the remaining admin API (hospitals, members,
// schedule pages, invites) to the backend with prefix stripped. The caller's
// Authorization header passes through untouched.
func NewBackendProxy(backendURL, prefix string, logger *logging.Logger) (http.Handler, error) {
	target, err := url.Parse(strings.TrimRight(backendURL, "/"))
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("handlers: invalid backend url %q", backendURL)
	}
	if logger == nil {
		logger = logging.Default()
	}
	prefix = "/" + strings.Trim(prefix, "/")

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			path := strings.TrimPrefix(pr.In.URL.Path, prefix)
			if path == "" {
				path = "/"
			}
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
			if hospitalID, ok := tenancy.HospitalIDFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("X-Hospital-Id", hospitalID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if r.Context().Err() != nil {
				return
			}
			logger.Warn("backend proxy failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusBadGateway, "backend unavailable")
		},
	}, nil
}
