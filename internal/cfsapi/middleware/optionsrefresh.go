package middleware

import (
	"context"
	"net/http"

	"github.com/hpcfleet/cfs/internal/optionscache"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

type optionsContextKey struct{}

// OptionsRefresh is the decorator-equivalent from the original options.py:
// every request refreshes the options record from the store before the
// handler runs and stashes the resulting snapshot in the request context.
// If the refresh fails, the last cached snapshot is used instead.
func OptionsRefresh(cache *optionscache.Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snapshot, err := cache.Refresh(r.Context())
			if err != nil {
				snapshot = cache.Snapshot()
			}
			ctx := context.WithValue(r.Context(), optionsContextKey{}, snapshot)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionsFromContext returns the snapshot stashed by OptionsRefresh, falling
// back to packaged defaults if the middleware was not installed.
func OptionsFromContext(ctx context.Context) cfsmodel.Options {
	if o, ok := ctx.Value(optionsContextKey{}).(cfsmodel.Options); ok {
		return o
	}
	return cfsmodel.DefaultOptions()
}
