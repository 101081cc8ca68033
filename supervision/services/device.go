package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitewatch/supervision/auth"
	"sitewatch/supervision/schema"
	"sitewatch/supervision/telemetry"
	"sitewatch/utils"
)

type DeviceService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *DeviceService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/{device_id}", s.GetDevice)
	r.Get("/{device_id}/errors", s.ErrorHistory)
	r.Get("/floor/{floor_id}", s.ListForFloor)

	r.Post("/{device_id}/errors", s.RecordError)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.db))

		r.Post("/create", s.CreateDevice)
		r.Post("/{device_id}/update", s.UpdateDevice)
		r.Delete("/{device_id}", s.DeleteDevice)
	})

	return r
}

type createDeviceRequest struct {
	Name     string       `json:"name"`
	FloorId  uuid.UUID    `json:"floor_id"`
	Position schema.Point `json:"position"`
}

type createDeviceResponse struct {
	DeviceId uuid.UUID `json:"device_id"`
}

func (s *DeviceService) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var params createDeviceRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "device name must be specified", http.StatusBadRequest)
		return
	}
	if !params.Position.Valid() {
		http.Error(w, "device position contains invalid coordinates", http.StatusUnprocessableEntity)
		return
	}

	newDevice := schema.Device{Id: uuid.New(), Name: params.Name, FloorId: params.FloorId, Position: params.Position}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkFloorExists(txn, params.FloorId); err != nil {
			return err
		}

		result := txn.Create(&newDevice)
		if result.Error != nil {
			slog.Error("sql error creating new device", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating device: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createDeviceResponse{DeviceId: newDevice.Id})
}

type updateDeviceRequest struct {
	Name     string        `json:"name"`
	Position *schema.Point `json:"position"`
}

func (s *DeviceService) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	deviceId, err := utils.URLParamUUID(r, "device_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateDeviceRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Position != nil && !params.Position.Valid() {
		http.Error(w, "device position contains invalid coordinates", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		device, err := schema.GetDevice(deviceId, txn, false)
		if err != nil {
			if errors.Is(err, schema.ErrDeviceNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != "" {
			device.Name = params.Name
		}
		if params.Position != nil {
			device.Position = *params.Position
		}

		result := txn.Save(&device)
		if result.Error != nil {
			slog.Error("sql error updating device", "device_id", deviceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating device: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *DeviceService) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceId, err := utils.URLParamUUID(r, "device_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkDeviceExists(txn, deviceId); err != nil {
			return err
		}

		// Error history cascades with the device.
		result := txn.Delete(&schema.Device{Id: deviceId})
		if result.Error != nil {
			slog.Error("sql error deleting device", "device_id", deviceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting device: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type DeviceInfo struct {
	Id       uuid.UUID    `json:"id"`
	Name     string       `json:"name"`
	FloorId  uuid.UUID    `json:"floor_id"`
	Position schema.Point `json:"position"`
}

func (s *DeviceService) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceId, err := utils.URLParamUUID(r, "device_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	device, err := schema.GetDevice(deviceId, s.db, false)
	if err != nil {
		if errors.Is(err, schema.ErrDeviceNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("error getting device: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, DeviceInfo{Id: device.Id, Name: device.Name, FloorId: device.FloorId, Position: device.Position})
}

func (s *DeviceService) ListForFloor(w http.ResponseWriter, r *http.Request) {
	floorId, err := utils.URLParamUUID(r, "floor_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkFloorExists(s.db, floorId); err != nil {
		http.Error(w, fmt.Sprintf("error listing devices: %v", err), GetResponseCode(err))
		return
	}

	var devices []schema.Device
	result := s.db.Find(&devices, "floor_id = ?", floorId)
	if result.Error != nil {
		slog.Error("sql error listing devices for floor", "floor_id", floorId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing devices: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, DeviceInfo{Id: device.Id, Name: device.Name, FloorId: device.FloorId, Position: device.Position})
	}
	utils.WriteJsonResponse(w, infos)
}

type recordErrorRequest struct {
	Kind      string     `json:"kind"`
	Timestamp *time.Time `json:"timestamp"`
}

type recordErrorResponse struct {
	ErrorId uuid.UUID `json:"error_id"`
}

func (s *DeviceService) RecordError(w http.ResponseWriter, r *http.Request) {
	deviceId, err := utils.URLParamUUID(r, "device_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params recordErrorRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Kind == "" {
		http.Error(w, "error kind must be specified", http.StatusBadRequest)
		return
	}

	timestamp := time.Now().UTC()
	if params.Timestamp != nil {
		timestamp = params.Timestamp.UTC()
	}

	record := schema.ErrorRecord{Id: uuid.New(), Kind: params.Kind, Timestamp: timestamp, DeviceId: deviceId}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkDeviceExists(txn, deviceId); err != nil {
			return err
		}

		result := txn.Create(&record)
		if result.Error != nil {
			slog.Error("sql error recording device error", "device_id", deviceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error recording device error: %v", err), GetResponseCode(err))
		return
	}

	telemetry.DeviceErrorsRecorded.Inc()

	utils.WriteJsonResponse(w, recordErrorResponse{ErrorId: record.Id})
}

type ErrorRecordInfo struct {
	Id        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *DeviceService) ErrorHistory(w http.ResponseWriter, r *http.Request) {
	deviceId, err := utils.URLParamUUID(r, "device_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := checkDeviceExists(s.db, deviceId); err != nil {
		http.Error(w, fmt.Sprintf("error getting error history: %v", err), GetResponseCode(err))
		return
	}

	var records []schema.ErrorRecord
	result := s.db.Order("timestamp desc").Find(&records, "device_id = ?", deviceId)
	if result.Error != nil {
		slog.Error("sql error listing device errors", "device_id", deviceId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error getting error history: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]ErrorRecordInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, ErrorRecordInfo{Id: record.Id, Kind: record.Kind, Timestamp: record.Timestamp})
	}
	utils.WriteJsonResponse(w, infos)
}
