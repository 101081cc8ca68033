package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitewatch/supervision/access"
	"sitewatch/supervision/auth"
	"sitewatch/supervision/schema"
	"sitewatch/supervision/telemetry"
	"sitewatch/utils"
)

type AccessService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	grants   *access.Store
}

func (s *AccessService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.db))

		r.Post("/grant", s.Grant)
		r.Delete("/{user_id}/{site_id}/{role_id}", s.Revoke)
	})

	r.Route("/user/{user_id}", func(r chi.Router) {
		r.Use(auth.SelfOrAdminOnly())

		r.Get("/", s.UserGrants)
		r.Get("/sites", s.UserSites)
		r.Get("/roles", s.UserRoles)
		r.Get("/site/{site_id}", s.UserRolesOnSite)
	})

	return r
}

func accessErrorCode(err error) int {
	switch {
	case errors.Is(err, schema.ErrUserNotFound),
		errors.Is(err, schema.ErrSiteNotFound),
		errors.Is(err, schema.ErrRoleNotFound),
		errors.Is(err, schema.ErrGrantNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrDuplicateGrant):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type grantRequest struct {
	UserId uuid.UUID `json:"user_id"`
	SiteId uuid.UUID `json:"site_id"`
	RoleId uuid.UUID `json:"role_id"`
}

type GrantInfo struct {
	UserId uuid.UUID `json:"user_id"`
	SiteId uuid.UUID `json:"site_id"`
	RoleId uuid.UUID `json:"role_id"`
}

func (s *AccessService) Grant(w http.ResponseWriter, r *http.Request) {
	var params grantRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	grant, err := s.grants.Grant(s.db, params.UserId, params.SiteId, params.RoleId)
	if err != nil {
		if errors.Is(err, schema.ErrDuplicateGrant) {
			telemetry.AccessGrants.WithLabelValues("duplicate").Inc()
		} else {
			telemetry.AccessGrants.WithLabelValues("error").Inc()
		}
		http.Error(w, fmt.Sprintf("error granting access: %v", err), accessErrorCode(err))
		return
	}

	telemetry.AccessGrants.WithLabelValues("granted").Inc()

	utils.WriteJsonResponse(w, GrantInfo{UserId: grant.UserId, SiteId: grant.SiteId, RoleId: grant.RoleId})
}

func (s *AccessService) Revoke(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.grants.Revoke(s.db, userId, siteId, roleId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error revoking access: %v", err), accessErrorCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *AccessService) UserGrants(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	grants, err := s.grants.GrantsForUser(s.db, userId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing grants: %v", err), accessErrorCode(err))
		return
	}

	infos := make([]GrantInfo, 0, len(grants))
	for _, grant := range grants {
		infos = append(infos, GrantInfo{UserId: grant.UserId, SiteId: grant.SiteId, RoleId: grant.RoleId})
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *AccessService) UserSites(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sites, err := s.grants.SitesForUser(s.db, userId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing sites: %v", err), accessErrorCode(err))
		return
	}

	infos := make([]SiteInfo, 0, len(sites))
	for _, site := range sites {
		infos = append(infos, SiteInfo{Id: site.Id, Name: site.Name})
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *AccessService) UserRoles(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	roles, err := s.grants.RolesForUser(s.db, userId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing roles: %v", err), accessErrorCode(err))
		return
	}

	infos := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		infos = append(infos, RoleInfo{Id: role.Id, Name: role.Name})
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *AccessService) UserRolesOnSite(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	roles, err := s.grants.RolesForUserOnSite(s.db, userId, siteId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing roles on site: %v", err), accessErrorCode(err))
		return
	}

	infos := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		infos = append(infos, RoleInfo{Id: role.Id, Name: role.Name})
	}
	utils.WriteJsonResponse(w, infos)
}
