// Package cors implements the cross-origin policy wrapped around every route.
//
// Matching follows the browser's notion of an origin: scheme://host[:port],
// compared as an exact string. A configured origin carrying a path (including
// a bare trailing slash) can never equal a browser-sent Origin header; such
// entries are reported by Policy.MalformedOrigins so callers can warn at
// startup.
package cors

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefaultOrigins are the frontends allowed to call the backend.
var DefaultOrigins = []string{
	"https://fetchfloww.vercel.app/",
	"https://fetchfloww.workfloww.ai",
}

// allMethods is sent for a wildcard method policy.
var allMethods = []string{
	http.MethodDelete, http.MethodGet, http.MethodHead, http.MethodOptions,
	http.MethodPatch, http.MethodPost, http.MethodPut,
}

// DefaultMaxAge is the preflight cache lifetime in seconds.
const DefaultMaxAge = 600

// Policy is a cross-origin resource sharing policy.
type Policy struct {
	// AllowedOrigins are exact origins. "*" allows any origin.
	AllowedOrigins []string
	// AllowCredentials permits cookies and Authorization headers.
	AllowCredentials bool
	// AllowMethods lists accepted methods. "*" accepts all.
	AllowMethods []string
	// AllowHeaders lists accepted request headers. "*" accepts all.
	AllowHeaders []string
	// ExposeHeaders lists response headers readable by the browser.
	ExposeHeaders []string
	// MaxAge is the preflight cache lifetime in seconds; zero uses DefaultMaxAge.
	MaxAge int
}

// DefaultPolicy allows DefaultOrigins with credentials, every method and
// every header.
func DefaultPolicy() Policy {
	return Policy{
		AllowedOrigins:   append([]string(nil), DefaultOrigins...),
		AllowCredentials: true,
		AllowMethods:     []string{"*"},
		AllowHeaders:     []string{"*"},
	}
}

// MalformedOrigins returns the configured origins that no browser Origin
// header can match, because they carry a path or are not absolute URLs.
func (p Policy) MalformedOrigins() []string {
	var out []string
	for _, origin := range p.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
			out = append(out, origin)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func (p Policy) allowAllOrigins() bool { return contains(p.AllowedOrigins, "*") }
func (p Policy) allowAllMethods() bool { return contains(p.AllowMethods, "*") }
func (p Policy) allowAllHeaders() bool { return contains(p.AllowHeaders, "*") }

// OriginAllowed reports whether origin may make cross-origin requests.
func (p Policy) OriginAllowed(origin string) bool {
	return p.allowAllOrigins() || contains(p.AllowedOrigins, origin)
}

func (p Policy) methods() string {
	if p.allowAllMethods() {
		return strings.Join(allMethods, ", ")
	}
	return strings.Join(p.AllowMethods, ", ")
}

func (p Policy) maxAge() int {
	if p.MaxAge > 0 {
		return p.MaxAge
	}
	return DefaultMaxAge
}

// allowOriginValue echoes the origin unless the policy is a credential-less
// wildcard.
func (p Policy) allowOriginValue(origin string) string {
	if p.allowAllOrigins() && !p.AllowCredentials {
		return "*"
	}
	return origin
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// Handler wraps next with the policy. Preflight requests are answered here
// and never reach next.
func (p Policy) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPreflight(r) {
			p.preflight(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		if origin != "" && p.OriginAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", p.allowOriginValue(origin))
			if p.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if len(p.ExposeHeaders) > 0 {
				h.Set("Access-Control-Expose-Headers", strings.Join(p.ExposeHeaders, ", "))
			}
			h.Add("Vary", "Origin")
		}

		next.ServeHTTP(w, r)
	})
}

func (p Policy) preflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	method := r.Header.Get("Access-Control-Request-Method")
	requested := r.Header.Get("Access-Control-Request-Headers")

	h := w.Header()
	h.Add("Vary", "Origin")

	var failures []string
	if p.OriginAllowed(origin) {
		h.Set("Access-Control-Allow-Origin", p.allowOriginValue(origin))
	} else {
		failures = append(failures, "origin")
	}

	if !p.allowAllMethods() && !contains(p.AllowMethods, method) {
		failures = append(failures, "method")
	}

	if p.allowAllHeaders() {
		if requested != "" {
			h.Set("Access-Control-Allow-Headers", requested)
		}
	} else {
		for _, name := range strings.Split(requested, ",") {
			name = strings.TrimSpace(name)
			if name != "" && !containsFold(p.AllowHeaders, name) {
				failures = append(failures, "headers")
				break
			}
		}
		if len(p.AllowHeaders) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(p.AllowHeaders, ", "))
		}
	}

	h.Set("Access-Control-Allow-Methods", p.methods())
	h.Set("Access-Control-Max-Age", strconv.Itoa(p.maxAge()))
	if p.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}

	h.Set("Content-Type", "text/plain; charset=utf-8")
	if len(failures) > 0 {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Disallowed CORS " + strings.Join(failures, ", ")))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
