package services

import (
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

type RoleService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *RoleService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/list", s.List)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(s.db))

		r.Post("/create", s.CreateRole)
		r.Delete("/{role_id}", s.DeleteRole)
	})

	return r
}

type createRoleRequest struct {
	Name string `json:"name"`
}

type createRoleResponse struct {
	RoleId uuid.UUID `json:"role_id"`
}

func (s *RoleService) CreateRole(w http.ResponseWriter, r *http.Request) {
	var params createRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "role name must be specified", http.StatusBadRequest)
		return
	}

	newRole := schema.Role{Id: uuid.New(), Name: params.Name}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existingRole schema.Role
		result := txn.Limit(1).Find(&existingRole, "name = ?", params.Name)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate role name", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			return CodedError(fmt.Errorf("role with name %v already exists", params.Name), http.StatusConflict)
		}

		result = txn.Create(&newRole)
		if result.Error != nil {
			slog.Error("sql error creating new role", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createRoleResponse{RoleId: newRole.Id})
}

func (s *RoleService) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkRoleExists(txn, roleId); err != nil {
			return err
		}

		// Grants referencing the role cascade with it.
		result := txn.Delete(&schema.Role{Id: roleId})
		if result.Error != nil {
			slog.Error("sql error deleting role", "role_id", roleId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type RoleInfo struct {
	Id   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (s *RoleService) List(w http.ResponseWriter, r *http.Request) {
	var roles []schema.Role
	result := s.db.Find(&roles)
	if result.Error != nil {
		slog.Error("sql error listing roles", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing roles: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]RoleInfo, 0, len(roles))
	for _, role := range roles {
		infos = append(infos, RoleInfo{Id: role.Id, Name: role.Name})
	}
	utils.WriteJsonResponse(w, infos)
}
