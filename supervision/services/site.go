package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitewatch/supervision/auth"
	"sitewatch/supervision/hierarchy"
	"sitewatch/supervision/schema"
	"sitewatch/utils"
)

type SiteService struct {
	db         *gorm.DB
	userAuth   auth.IdentityProvider
	aggregator *hierarchy.Aggregator
}

func (s *SiteService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)

	r.Route("/{site_id}", func(r chi.Router) {
		r.With(auth.SiteMemberOnly(s.db)).Get("/", s.GetSite)
		r.With(auth.SiteMemberOnly(s.db)).Get("/tree", s.SiteTree)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.db))

		r.Post("/create", s.CreateSite)
		r.Post("/{site_id}/update", s.UpdateSite)
		r.Delete("/{site_id}", s.DeleteSite)
	})

	return r
}

type createSiteRequest struct {
	Name string `json:"name"`
}

type createSiteResponse struct {
	SiteId uuid.UUID `json:"site_id"`
}

func (s *SiteService) CreateSite(w http.ResponseWriter, r *http.Request) {
	var params createSiteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "site name must be specified", http.StatusBadRequest)
		return
	}

	newSite := schema.Site{Id: uuid.New(), Name: params.Name}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existingSite schema.Site
		result := txn.Limit(1).Find(&existingSite, "name = ?", params.Name)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate site name", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("site with name %v already exists", params.Name), http.StatusConflict)
		}

		result = txn.Create(&newSite)
		if result.Error != nil {
			slog.Error("sql error creating new site", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating site: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createSiteResponse{SiteId: newSite.Id})
}

type updateSiteRequest struct {
	Name string `json:"name"`
}

func (s *SiteService) UpdateSite(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateSiteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "site name must be specified", http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		site, err := schema.GetSite(siteId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrSiteNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		site.Name = params.Name

		result := txn.Save(&site)
		if result.Error != nil {
			slog.Error("sql error updating site", "site_id", siteId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating site: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *SiteService) DeleteSite(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkSiteExists(txn, siteId); err != nil {
			return err
		}

		// Buildings, floors, devices, grants and any owned map cascade.
		result := txn.Delete(&schema.Site{Id: siteId})
		if result.Error != nil {
			slog.Error("sql error deleting site", "site_id", siteId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting site: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type SiteInfo struct {
	Id   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (s *SiteService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var sites []schema.Site
	var result *gorm.DB
	if user.IsAdmin {
		result = s.db.Find(&sites)
	} else {
		result = s.db.
			Distinct("sites.*").
			Joins("JOIN user_site_roles ON user_site_roles.site_id = sites.id").
			Where("user_site_roles.user_id = ?", user.Id).
			Find(&sites)
	}
	if result.Error != nil {
		slog.Error("sql error listing sites", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing sites: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]SiteInfo, 0, len(sites))
	for _, site := range sites {
		infos = append(infos, SiteInfo{Id: site.Id, Name: site.Name})
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *SiteService) GetSite(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	site, err := schema.GetSite(siteId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrSiteNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting site: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, SiteInfo{Id: site.Id, Name: site.Name})
}

func (s *SiteService) SiteTree(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tree, err := s.aggregator.SiteTree(s.db, siteId)
	if err != nil {
		if errors.Is(err, schema.ErrSiteNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error building site tree: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, tree)
}
