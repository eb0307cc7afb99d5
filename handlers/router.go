package handlers

import (
	"net/http"
	"strings"
)

// Router serves the gateway endpoints below a route prefix.
type Router struct {
	prefix  string
	query   http.Handler
	openAPI http.Handler
}

// NewRouter creates a router for prefix, which must already be normalized
// with NormalizeRoutePrefix.
func NewRouter(prefix string, query *QueryHandler, openAPI *OpenAPIHandler) *Router {
	return &Router{prefix: prefix, query: query, openAPI: openAPI}
}

// NormalizeRoutePrefix makes prefix start with a slash and drops a trailing
// one. An empty prefix mounts the endpoints at the root.
func NormalizeRoutePrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}

// Prefix returns the route prefix.
func (rt *Router) Prefix() string {
	return rt.prefix
}

// Matches reports whether path belongs to the router.
func (rt *Router) Matches(path string) bool {
	if rt.prefix == "" {
		return true
	}
	return path == rt.prefix || strings.HasPrefix(path, rt.prefix+"/")
}

// ServeHTTP dispatches to the endpoint handlers.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = WithRequestID(w, r)

	switch strings.TrimPrefix(r.URL.Path, rt.prefix) {
	case "/health":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	case "/openapi.json":
		rt.openAPI.ServeHTTP(w, r)
	case "/query":
		rt.query.ServeHTTP(w, r)
	default:
		SendError(w, "Unknown SQL gateway endpoint", http.StatusNotFound)
	}
}
