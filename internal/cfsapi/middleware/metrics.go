package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/hpcfleet/cfs/internal/cfsmetrics"
)

// Metrics records request latency and count against the route template
// (not the raw path, to keep the {id} label cardinality bounded).
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		route := routeTemplate(r)
		status := strconv.Itoa(rw.statusCode)
		cfsmetrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		cfsmetrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
