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
	"sitewatch/supervision/schema"
	"sitewatch/utils"
)

type BuildingService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *BuildingService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/{building_id}", s.GetBuilding)
	r.With(auth.SiteMemberOnly(s.db)).Get("/site/{site_id}", s.ListForSite)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.db))

		r.Post("/create", s.CreateBuilding)
		r.Post("/{building_id}/update", s.UpdateBuilding)
		r.Delete("/{building_id}", s.DeleteBuilding)
	})

	return r
}

type createBuildingRequest struct {
	Name      string         `json:"name"`
	SiteId    uuid.UUID      `json:"site_id"`
	Perimeter schema.Polygon `json:"perimeter"`
}

type createBuildingResponse struct {
	BuildingId uuid.UUID `json:"building_id"`
}

func (s *BuildingService) CreateBuilding(w http.ResponseWriter, r *http.Request) {
	var params createBuildingRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "building name must be specified", http.StatusBadRequest)
		return
	}
	if !params.Perimeter.Valid() {
		http.Error(w, "building perimeter contains invalid coordinates", http.StatusUnprocessableEntity)
		return
	}

	newBuilding := schema.Building{Id: uuid.New(), Name: params.Name, SiteId: params.SiteId, Perimeter: params.Perimeter}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkSiteExists(txn, params.SiteId); err != nil {
			return err
		}

		result := txn.Create(&newBuilding)
		if result.Error != nil {
			slog.Error("sql error creating new building", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating building: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createBuildingResponse{BuildingId: newBuilding.Id})
}

type updateBuildingRequest struct {
	Name      string          `json:"name"`
	Perimeter *schema.Polygon `json:"perimeter"`
}

func (s *BuildingService) UpdateBuilding(w http.ResponseWriter, r *http.Request) {
	buildingId, err := utils.URLParamUUID(r, "building_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateBuildingRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Perimeter != nil && !params.Perimeter.Valid() {
		http.Error(w, "building perimeter contains invalid coordinates", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		building, err := schema.GetBuilding(buildingId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrBuildingNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != "" {
			building.Name = params.Name
		}
		if params.Perimeter != nil {
			building.Perimeter = *params.Perimeter
		}

		result := txn.Save(&building)
		if result.Error != nil {
			slog.Error("sql error updating building", "building_id", buildingId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating building: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *BuildingService) DeleteBuilding(w http.ResponseWriter, r *http.Request) {
	buildingId, err := utils.URLParamUUID(r, "building_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkBuildingExists(txn, buildingId); err != nil {
			return err
		}

		result := txn.Delete(&schema.Building{Id: buildingId})
		if result.Error != nil {
			slog.Error("sql error deleting building", "building_id", buildingId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting building: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type BuildingInfo struct {
	Id        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	SiteId    uuid.UUID      `json:"site_id"`
	Perimeter schema.Polygon `json:"perimeter"`
}

func (s *BuildingService) GetBuilding(w http.ResponseWriter, r *http.Request) {
	buildingId, err := utils.URLParamUUID(r, "building_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	building, err := schema.GetBuilding(buildingId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrBuildingNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting building: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, BuildingInfo{Id: building.Id, Name: building.Name, SiteId: building.SiteId, Perimeter: building.Perimeter})
}

func (s *BuildingService) ListForSite(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkSiteExists(s.db, siteId); err != nil {
		http.Error(w, fmt.Sprintf("error listing buildings: %v", err), GetResponseCode(err))
		return
	}

	var buildings []schema.Building
	result := s.db.Find(&buildings, "site_id = ?", siteId)
	if result.Error != nil {
		slog.Error("sql error listing buildings for site", "site_id", siteId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing buildings: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]BuildingInfo, 0, len(buildings))
	for _, building := range buildings {
		infos = append(infos, BuildingInfo{Id: building.Id, Name: building.Name, SiteId: building.SiteId, Perimeter: building.Perimeter})
	}
	utils.WriteJsonResponse(w, infos)
}
