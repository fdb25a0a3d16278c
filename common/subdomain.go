package common

import (
	"net/http"
	"strings"
)

var reservedSubdomains = map[string]bool{
	"www": true, "admin": true, "api": true, "mail": true, "ftp": true, "smtp": true,
}

// SubdomainHandler rewrites slug.<domain>/path to /@/slug/path before gin routes
// the request, so publication pages answer on both forms.
func SubdomainHandler(domain string, next http.Handler) http.Handler {
	suffix := "." + strings.ToLower(domain)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slug := publicationSubdomain(r.Host, suffix); slug != "" {
			r.URL.Path = "/@/" + slug + r.URL.Path
		}
		next.ServeHTTP(w, r)
	})
}

func publicationSubdomain(host, suffix string) string {
	host = strings.ToLower(host)
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	if suffix == "." || !strings.HasSuffix(host, suffix) {
		return ""
	}
	slug := strings.TrimSuffix(host, suffix)
	if slug == "" || strings.Contains(slug, ".") || reservedSubdomains[slug] {
		return ""
	}
	return slug
}

// IsReservedSubdomain reports whether slug can never name a publication.
func IsReservedSubdomain(slug string) bool {
	return reservedSubdomains[strings.ToLower(slug)]
}
