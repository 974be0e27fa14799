package controllers

import (
	"context"
	"net/http"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/responses"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

// Pinger is the connectivity probe the readiness check runs.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready once the directory store answers. The cache file
// is deliberately not probed; a missing cache only degrades search.
func HealthReady(logg *logger.Logger, dbP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dbP != nil {
			if err := dbP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, "directory store unreachable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
