package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const defaultCORSMaxAge = 10 * time.Minute

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	corsHeaders = []string{"Authorization", "Content-Type", "X-Hospital-Id", "X-Request-ID"}
)

// CORSPolicy lists the admin UI origins allowed to call the BFF. An entry is an
// exact origin, "*" for any origin, or "https://*.example.org" for every
// subdomain of example.org over https.
type CORSPolicy struct {
	Origins []string
	MaxAge  time.Duration
}

type originPattern struct {
	scheme string
	suffix string
}

// OriginChecker returns a func reporting whether origin may call the BFF from a
// browser.
func (p CORSPolicy) OriginChecker() func(origin string) bool {
	return p.compile().allows
}

type compiledPolicy struct {
	any      bool
	exact    map[string]struct{}
	patterns []originPattern
}

func (p CORSPolicy) compile() compiledPolicy {
	c := compiledPolicy{exact: map[string]struct{}{}}
	for _, origin := range p.Origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			c.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			c.patterns = append(c.patterns, originPattern{scheme: scheme + "://", suffix: host})
		default:
			c.exact[origin] = struct{}{}
		}
	}
	return c
}

func (c compiledPolicy) allows(origin string) bool {
	if origin == "" || origin == "null" {
		return false
	}
	if c.any {
		return true
	}
	if _, ok := c.exact[origin]; ok {
		return true
	}
	for _, p := range c.patterns {
		rest, ok := strings.CutPrefix(origin, p.scheme)
		if ok && strings.HasSuffix(rest, p.suffix) && len(rest) > len(p.suffix) {
			return true
		}
	}
	return false
}

// CORS answers browser preflights for the admin UI and decorates allowed
// cross-origin responses. Preflights from unknown origins get 403 so the
// browser never sends the real request.
func CORS(policy CORSPolicy) func(http.Handler) http.Handler {
	compiled := policy.compile()
	maxAge := policy.MaxAge
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAge
	}
	maxAgeSeconds := strconv.Itoa(int(maxAge / time.Second))
	allowedMethods := strings.Join(corsMethods, ", ")
	allowedHeaders := strings.Join(corsHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !compiled.allows(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			if preflight {
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")
				if !allowedMethod(r.Header.Get("Access-Control-Request-Method")) {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Max-Age", maxAgeSeconds)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowedMethod(method string) bool {
	return slices.Contains(corsMethods, strings.ToUpper(strings.TrimSpace(method)))
}
