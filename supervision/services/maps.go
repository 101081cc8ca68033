package services

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"sitewatch/supervision/auth"
	"sitewatch/supervision/schema"
	"sitewatch/supervision/storage"
	"sitewatch/supervision/telemetry"
	"sitewatch/utils"
)

// Map uploads are capped at 32Mb.
const maxMapUploadSize = 32 << 20

type MapService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
	storage  storage.Storage
}

func (s *MapService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/{map_id}", s.GetMap)
	r.Get("/{map_id}/image", s.GetImage)
	r.With(auth.SiteMemberOnly(s.db)).Get("/site/{site_id}", s.MapForSite)
	r.Get("/floor/{floor_id}", s.MapForFloor)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.db))

		r.With(checkSufficientStorage(s.storage)).Post("/upload", s.Upload)
		r.Post("/{map_id}/owner", s.AssignOwner)
		r.Post("/{map_id}/update", s.UpdateMap)
		r.Delete("/{map_id}", s.DeleteMap)
	})

	return r
}

func mapErrorCode(err error) int {
	switch {
	case errors.Is(err, schema.ErrMapNotFound),
		errors.Is(err, schema.ErrSiteNotFound),
		errors.Is(err, schema.ErrFloorNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidOwnerRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, schema.ErrOwnerAlreadyMapped),
		errors.Is(err, schema.ErrMapAlreadyOwned):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func mapImagePath(mapId uuid.UUID, ext string) string {
	return filepath.Join("maps", mapId.String(), "image"+ext)
}

var allowedMapExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

type MapInfo struct {
	Id        uuid.UUID  `json:"id"`
	Path      string     `json:"path"`
	CenterLat float64    `json:"center_lat"`
	CenterLng float64    `json:"center_lng"`
	Zoom      float64    `json:"zoom"`
	SiteId    *uuid.UUID `json:"site_id,omitempty"`
	FloorId   *uuid.UUID `json:"floor_id,omitempty"`
}

func convertToMapInfo(m *schema.Map) MapInfo {
	return MapInfo{
		Id:        m.Id,
		Path:      m.Path,
		CenterLat: m.CenterLat,
		CenterLng: m.CenterLng,
		Zoom:      m.Zoom,
		SiteId:    m.SiteId,
		FloorId:   m.FloorId,
	}
}

// resolveOwner parses the optional site_id/floor_id form fields. Providing
// both is rejected, providing neither leaves the map unowned.
func resolveOwner(siteIdStr, floorIdStr string) (*schema.MapOwner, error) {
	if siteIdStr != "" && floorIdStr != "" {
		return nil, schema.ErrInvalidOwnerRequest
	}
	if siteIdStr != "" {
		siteId, err := uuid.Parse(siteIdStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid site id '%v'", schema.ErrInvalidParameter, siteIdStr)
		}
		return &schema.MapOwner{Kind: schema.OwnerSite, Id: siteId}, nil
	}
	if floorIdStr != "" {
		floorId, err := uuid.Parse(floorIdStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid floor id '%v'", schema.ErrInvalidParameter, floorIdStr)
		}
		return &schema.MapOwner{Kind: schema.OwnerFloor, Id: floorId}, nil
	}
	return nil, nil
}

func parseFloatField(r *http.Request, field string, defaultValue float64) (float64, error) {
	value := r.FormValue(field)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid value '%v' for field %v", schema.ErrInvalidParameter, value, field)
	}
	return f, nil
}

func checkMapGeometry(centerLat, centerLng, zoom float64) error {
	center := schema.Point{Lat: centerLat, Lng: centerLng}
	if !center.Valid() {
		return CodedError(fmt.Errorf("%w: map center must be a finite lat/lng coordinate", schema.ErrInvalidParameter), http.StatusUnprocessableEntity)
	}
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) || zoom <= 0 {
		return CodedError(fmt.Errorf("%w: zoom must be positive", schema.ErrInvalidParameter), http.StatusUnprocessableEntity)
	}
	return nil
}

// checkMapVisible restricts map reads to users holding a role on the site the
// map (or its floor's site) belongs to. Unowned maps are only visible to
// admins, since only admins can assign them.
func (s *MapService) checkMapVisible(r *http.Request, m *schema.Map) error {
	user, err := auth.UserFromContext(r)
	if err != nil {
		return CodedError(err, http.StatusInternalServerError)
	}

	owner := m.Owner()
	if owner == nil {
		if !user.IsAdmin {
			return CodedError(errors.New("map is not assigned to a site the user can access"), http.StatusForbidden)
		}
		return nil
	}

	siteId := owner.Id
	if owner.Kind == schema.OwnerFloor {
		siteId, err = schema.SiteForFloor(s.db, owner.Id)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
	}

	canView, err := auth.CanViewSite(siteId, user, s.db)
	if err != nil {
		return CodedError(err, http.StatusInternalServerError)
	}
	if !canView {
		return CodedError(errors.New("user must hold a role on the site owning the map"), http.StatusForbidden)
	}
	return nil
}

func (s *MapService) checkOwnerExists(txn *gorm.DB, owner schema.MapOwner) error {
	switch owner.Kind {
	case schema.OwnerSite:
		if ok, err := schema.SiteExists(txn, owner.Id); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		} else if !ok {
			return CodedError(schema.ErrSiteNotFound, http.StatusNotFound)
		}
	case schema.OwnerFloor:
		if ok, err := schema.FloorExists(txn, owner.Id); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		} else if !ok {
			return CodedError(schema.ErrFloorNotFound, http.StatusNotFound)
		}
	default:
		return CodedError(schema.ErrInvalidOwnerRequest, http.StatusUnprocessableEntity)
	}
	return nil
}

func (s *MapService) checkOwnerUnmapped(txn *gorm.DB, owner schema.MapOwner) error {
	var existing schema.Map
	var result *gorm.DB
	if owner.Kind == schema.OwnerSite {
		result = txn.Limit(1).Find(&existing, "site_id = ?", owner.Id)
	} else {
		result = txn.Limit(1).Find(&existing, "floor_id = ?", owner.Id)
	}
	if result.Error != nil {
		slog.Error("sql error checking for existing map on owner", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected != 0 {
		return CodedError(schema.ErrOwnerAlreadyMapped, http.StatusConflict)
	}
	return nil
}

func (s *MapService) Upload(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(telemetry.MapUploadMetric)
	defer timer.ObserveDuration()

	r.Body = http.MaxBytesReader(w, r.Body, maxMapUploadSize)
	if err := r.ParseMultipartForm(maxMapUploadSize); err != nil {
		http.Error(w, fmt.Sprintf("error parsing upload: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "map image file must be provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedMapExtensions[ext] {
		http.Error(w, fmt.Sprintf("unsupported map image type '%v', must be png, jpg, or jpeg", ext), http.StatusUnprocessableEntity)
		return
	}

	owner, err := resolveOwner(r.FormValue("site_id"), r.FormValue("floor_id"))
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, schema.ErrInvalidOwnerRequest) {
			code = http.StatusUnprocessableEntity
		}
		http.Error(w, fmt.Sprintf("error uploading map: %v", err), code)
		return
	}

	centerLat, err := parseFloatField(r, "center_lat", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	centerLng, err := parseFloatField(r, "center_lng", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	zoom, err := parseFloatField(r, "zoom", 1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := checkMapGeometry(centerLat, centerLng, zoom); err != nil {
		http.Error(w, fmt.Sprintf("error uploading map: %v", err), GetResponseCode(err))
		return
	}

	newMap := schema.Map{
		Id:        uuid.New(),
		CenterLat: centerLat,
		CenterLng: centerLng,
		Zoom:      zoom,
	}
	newMap.Path = mapImagePath(newMap.Id, ext)
	if owner != nil {
		newMap.SetOwner(*owner)
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if owner != nil {
			if err := s.checkOwnerExists(txn, *owner); err != nil {
				return err
			}
			if err := s.checkOwnerUnmapped(txn, *owner); err != nil {
				return err
			}
		}

		result := txn.Create(&newMap)
		if result.Error != nil {
			// The unique owner indexes close the race between the unmapped
			// check and the insert.
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return CodedError(schema.ErrOwnerAlreadyMapped, http.StatusConflict)
			}
			slog.Error("sql error creating new map", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if err := s.storage.Write(newMap.Path, file); err != nil {
			slog.Error("error saving uploaded map image", "map_id", newMap.Id, "error", err)
			return CodedError(errors.New("error saving map image"), http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error uploading map: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToMapInfo(&newMap))
}

type assignOwnerRequest struct {
	SiteId  *uuid.UUID `json:"site_id"`
	FloorId *uuid.UUID `json:"floor_id"`
}

// AssignOwner attaches an unowned map to a site or floor. Assignment is one
// shot: a map that already has an owner cannot be moved, it must be deleted
// and reuploaded.
func (s *MapService) AssignOwner(w http.ResponseWriter, r *http.Request) {
	mapId, err := utils.URLParamUUID(r, "map_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params assignOwnerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if (params.SiteId == nil) == (params.FloorId == nil) {
		http.Error(w, fmt.Sprintf("error assigning map owner: %v", schema.ErrInvalidOwnerRequest), http.StatusUnprocessableEntity)
		return
	}

	var owner schema.MapOwner
	if params.SiteId != nil {
		owner = schema.MapOwner{Kind: schema.OwnerSite, Id: *params.SiteId}
	} else {
		owner = schema.MapOwner{Kind: schema.OwnerFloor, Id: *params.FloorId}
	}

	var updated schema.Map

	err = s.db.Transaction(func(txn *gorm.DB) error {
		m, err := schema.GetMap(mapId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrMapNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if m.Owner() != nil {
			return CodedError(schema.ErrMapAlreadyOwned, http.StatusConflict)
		}

		if err := s.checkOwnerExists(txn, owner); err != nil {
			return err
		}
		if err := s.checkOwnerUnmapped(txn, owner); err != nil {
			return err
		}

		m.SetOwner(owner)

		result := txn.Save(&m)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return CodedError(schema.ErrOwnerAlreadyMapped, http.StatusConflict)
			}
			slog.Error("sql error assigning map owner", "map_id", mapId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		updated = m
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error assigning map owner: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToMapInfo(&updated))
}

type updateMapRequest struct {
	CenterLat *float64 `json:"center_lat"`
	CenterLng *float64 `json:"center_lng"`
	Zoom      *float64 `json:"zoom"`
}

func (s *MapService) UpdateMap(w http.ResponseWriter, r *http.Request) {
	mapId, err := utils.URLParamUUID(r, "map_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateMapRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		m, err := schema.GetMap(mapId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrMapNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.CenterLat != nil {
			m.CenterLat = *params.CenterLat
		}
		if params.CenterLng != nil {
			m.CenterLng = *params.CenterLng
		}
		if params.Zoom != nil {
			m.Zoom = *params.Zoom
		}
		if err := checkMapGeometry(m.CenterLat, m.CenterLng, m.Zoom); err != nil {
			return err
		}

		result := txn.Save(&m)
		if result.Error != nil {
			slog.Error("sql error updating map", "map_id", mapId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating map: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *MapService) DeleteMap(w http.ResponseWriter, r *http.Request) {
	mapId, err := utils.URLParamUUID(r, "map_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var path string

	err = s.db.Transaction(func(txn *gorm.DB) error {
		m, err := schema.GetMap(mapId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrMapNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}
		path = m.Path

		result := txn.Delete(&m)
		if result.Error != nil {
			slog.Error("sql error deleting map", "map_id", mapId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting map: %v", err), GetResponseCode(err))
		return
	}

	if err := s.storage.Delete(filepath.Dir(path)); err != nil {
		slog.Error("error deleting map image", "map_id", mapId, "error", err)
	}

	utils.WriteSuccess(w)
}

func (s *MapService) GetMap(w http.ResponseWriter, r *http.Request) {
	mapId, err := utils.URLParamUUID(r, "map_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := schema.GetMap(mapId, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting map: %v", err), mapErrorCode(err))
		return
	}

	if err := s.checkMapVisible(r, &m); err != nil {
		http.Error(w, fmt.Sprintf("error getting map: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToMapInfo(&m))
}

func (s *MapService) mapForOwner(w http.ResponseWriter, column string, ownerId uuid.UUID) {
	var m schema.Map
	result := s.db.Limit(1).Find(&m, column+" = ?", ownerId)
	if result.Error != nil {
		slog.Error("sql error retrieving map for owner", "owner_id", ownerId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error getting map: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, schema.ErrMapNotFound.Error(), http.StatusNotFound)
		return
	}

	utils.WriteJsonResponse(w, convertToMapInfo(&m))
}

func (s *MapService) MapForSite(w http.ResponseWriter, r *http.Request) {
	siteId, err := utils.URLParamUUID(r, "site_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkSiteExists(s.db, siteId); err != nil {
		http.Error(w, fmt.Sprintf("error getting map: %v", err), GetResponseCode(err))
		return
	}

	s.mapForOwner(w, "site_id", siteId)
}

func (s *MapService) MapForFloor(w http.ResponseWriter, r *http.Request) {
	floorId, err := utils.URLParamUUID(r, "floor_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkFloorExists(s.db, floorId); err != nil {
		http.Error(w, fmt.Sprintf("error getting map: %v", err), GetResponseCode(err))
		return
	}

	siteId, err := schema.SiteForFloor(s.db, floorId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting map: %v", err), mapErrorCode(err))
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	canView, err := auth.CanViewSite(siteId, user, s.db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !canView {
		http.Error(w, "user must hold a role on the floor's site to access endpoint", http.StatusForbidden)
		return
	}

	s.mapForOwner(w, "floor_id", floorId)
}

func (s *MapService) GetImage(w http.ResponseWriter, r *http.Request) {
	mapId, err := utils.URLParamUUID(r, "map_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := schema.GetMap(mapId, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting map image: %v", err), mapErrorCode(err))
		return
	}

	if err := s.checkMapVisible(r, &m); err != nil {
		http.Error(w, fmt.Sprintf("error getting map image: %v", err), GetResponseCode(err))
		return
	}

	file, err := s.storage.Read(m.Path)
	if err != nil {
		slog.Error("error reading map image", "map_id", mapId, "error", err)
		http.Error(w, "error reading map image", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(m.Path)) {
	case ".png":
		w.Header().Set("Content-Type", "image/png")
	case ".jpg", ".jpeg":
		w.Header().Set("Content-Type", "image/jpeg")
	}

	if _, err := io.Copy(w, file); err != nil {
		slog.Error("error streaming map image", "map_id", mapId, "error", err)
	}
}
