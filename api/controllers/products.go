package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/middleware"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/responses"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/internal/metadata"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

// MetaDataService is the slice of the metadata handler the controllers use.
type MetaDataService interface {
	Counts(ctx context.Context, productID, ou string) (*metadata.ProductCounts, error)
}

// ProductCounts aggregates license counters per product, optionally scoped to
// the school in the request context.
func ProductCounts(svc MetaDataService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := svc.Counts(r.Context(), chi.URLParam(r, "productId"), middleware.SchoolFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, counts)
	}
}
