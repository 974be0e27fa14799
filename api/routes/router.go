package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/controllers"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/api/middleware"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

// RouterParams carries the service surfaces the HTTP layer delegates to.
// Controllers stay thin: decode, validate, delegate, encode.
type RouterParams struct {
	Logger      *logger.Logger
	DB          controllers.Pinger
	Licenses    controllers.LicenseService
	Searcher    controllers.LicenseSearcher
	Assignments controllers.AssignmentService
	MetaData    controllers.MetaDataService
}

func NewRouter(params RouterParams) http.Handler {
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, params.DB))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SchoolContext(logg))

		r.Route("/licenses", func(r chi.Router) {
			r.Post("/", controllers.LicenseCreate(params.Licenses, logg))
			r.Post("/search", controllers.LicenseSearch(params.Searcher, logg))
			r.Get("/{licenseCode}/counts", controllers.LicenseCounts(params.Licenses, logg))
			r.Patch("/{licenseCode}/ignore", controllers.LicenseIgnore(params.Licenses, logg))
			r.Patch("/{licenseCode}/validity", controllers.LicenseValidity(params.Licenses, logg))
			r.Delete("/{licenseCode}", controllers.LicenseDelete(params.Licenses, logg))
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", controllers.AssignmentAssign(params.Assignments, logg))
			r.Post("/bulk", controllers.AssignmentBulkAssign(params.Assignments, logg))
			r.Post("/remove", controllers.AssignmentRemove(params.Assignments, logg))
			r.Post("/status", controllers.AssignmentChangeStatus(params.Assignments, logg))
		})

		r.Get("/products/{productId}/counts", controllers.ProductCounts(params.MetaData, logg))
	})

	return r
}
