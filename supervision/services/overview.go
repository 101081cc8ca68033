package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"sitewatch/supervision/auth"
	"sitewatch/supervision/hierarchy"
	"sitewatch/supervision/schema"
	"sitewatch/supervision/telemetry"
	"sitewatch/utils"
)

type OverviewService struct {
	db         *gorm.DB
	userAuth   auth.IdentityProvider
	aggregator *hierarchy.Aggregator
}

func (s *OverviewService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.With(auth.SelfOrAdminOnly()).Get("/user/{user_id}", s.UserOverview)

	return r
}

func overviewErrorCode(err error) int {
	switch {
	case errors.Is(err, schema.ErrUserNotFound), errors.Is(err, schema.ErrSiteNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// UserOverview returns the site trees the user can see, one node per site the
// user holds at least one role on.
func (s *OverviewService) UserOverview(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(telemetry.OverviewMetric)
	defer timer.ObserveDuration()

	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	overview, err := s.aggregator.OverviewForUser(s.db, userId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error building overview: %v", err), overviewErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, overview)
}
