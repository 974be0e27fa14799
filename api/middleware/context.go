package middleware

import (
	"context"
	"net/http"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

type contextKey string

const ctxSchool contextKey = "school"

// SchoolFromContext returns the school (OU) the request is scoped to, or "".
func SchoolFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxSchool).(string); ok {
		return v
	}
	return ""
}

// WithSchool injects the school identifier into the context for downstream handlers.
func WithSchool(ctx context.Context, school string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxSchool, school)
}

// SchoolContext lifts the optional ?school= query parameter into the request
// context and the log entry so every downstream line carries the scope.
func SchoolContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			school := r.URL.Query().Get("school")
			if school == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithSchool(r.Context(), school)
			if logg != nil {
				ctx = logg.WithSchool(ctx, school)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
