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

type FloorService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *FloorService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/{floor_id}", s.GetFloor)
	r.Get("/building/{building_id}", s.ListForBuilding)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.db))

		r.Post("/create", s.CreateFloor)
		r.Post("/{floor_id}/update", s.UpdateFloor)
		r.Delete("/{floor_id}", s.DeleteFloor)
	})

	return r
}

type createFloorRequest struct {
	Name       string    `json:"name"`
	BuildingId uuid.UUID `json:"building_id"`
}

type createFloorResponse struct {
	FloorId uuid.UUID `json:"floor_id"`
}

func (s *FloorService) CreateFloor(w http.ResponseWriter, r *http.Request) {
	var params createFloorRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "floor name must be specified", http.StatusBadRequest)
		return
	}

	newFloor := schema.Floor{Id: uuid.New(), Name: params.Name, BuildingId: params.BuildingId}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkBuildingExists(txn, params.BuildingId); err != nil {
			return err
		}

		result := txn.Create(&newFloor)
		if result.Error != nil {
			slog.Error("sql error creating new floor", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating floor: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createFloorResponse{FloorId: newFloor.Id})
}

type updateFloorRequest struct {
	Name string `json:"name"`
}

func (s *FloorService) UpdateFloor(w http.ResponseWriter, r *http.Request) {
	floorId, err := utils.URLParamUUID(r, "floor_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateFloorRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "floor name must be specified", http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		floor, err := schema.GetFloor(floorId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrFloorNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		floor.Name = params.Name

		result := txn.Save(&floor)
		if result.Error != nil {
			slog.Error("sql error updating floor", "floor_id", floorId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating floor: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *FloorService) DeleteFloor(w http.ResponseWriter, r *http.Request) {
	floorId, err := utils.URLParamUUID(r, "floor_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkFloorExists(txn, floorId); err != nil {
			return err
		}

		// Devices and any owned map cascade with the floor.
		result := txn.Delete(&schema.Floor{Id: floorId})
		if result.Error != nil {
			slog.Error("sql error deleting floor", "floor_id", floorId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting floor: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type FloorInfo struct {
	Id         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	BuildingId uuid.UUID `json:"building_id"`
}

func (s *FloorService) GetFloor(w http.ResponseWriter, r *http.Request) {
	floorId, err := utils.URLParamUUID(r, "floor_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	floor, err := schema.GetFloor(floorId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrFloorNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting floor: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, FloorInfo{Id: floor.Id, Name: floor.Name, BuildingId: floor.BuildingId})
}

func (s *FloorService) ListForBuilding(w http.ResponseWriter, r *http.Request) {
	buildingId, err := utils.URLParamUUID(r, "building_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkBuildingExists(s.db, buildingId); err != nil {
		http.Error(w, fmt.Sprintf("error listing floors: %v", err), GetResponseCode(err))
		return
	}

	var floors []schema.Floor
	result := s.db.Find(&floors, "building_id = ?", buildingId)
	if result.Error != nil {
		slog.Error("sql error listing floors for building", "building_id", buildingId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing floors: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]FloorInfo, 0, len(floors))
	for _, floor := range floors {
		infos = append(infos, FloorInfo{Id: floor.Id, Name: floor.Name, BuildingId: floor.BuildingId})
	}
	utils.WriteJsonResponse(w, infos)
}
