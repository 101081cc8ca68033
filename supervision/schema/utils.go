package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrRoleNotFound     = errors.New("role not found")
	ErrSiteNotFound     = errors.New("site not found")
	ErrBuildingNotFound = errors.New("building not found")
	ErrFloorNotFound    = errors.New("floor not found")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrMapNotFound      = errors.New("map not found")
	ErrGrantNotFound    = errors.New("access grant not found")

	ErrDuplicateGrant      = errors.New("user already holds this role on this site")
	ErrOwnerAlreadyMapped  = errors.New("owner already has a map assigned")
	ErrMapAlreadyOwned     = errors.New("map is already assigned to an owner")
	ErrInvalidOwnerRequest = errors.New("a map owner must be exactly one of site or floor")
	ErrInvalidParameter    = errors.New("invalid parameter")

	ErrDbAccessFailed = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetRole(roleId uuid.UUID, db *gorm.DB) (Role, error) {
	var role Role

	result := db.First(&role, "id = ?", roleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return role, ErrRoleNotFound
		}
		slog.Error("sql error in get role", "role_id", roleId, "error", result.Error)
		return role, ErrDbAccessFailed
	}

	return role, nil
}

func GetSite(siteId uuid.UUID, db *gorm.DB, loadTree bool) (Site, error) {
	var site Site

	var result *gorm.DB = db
	if loadTree {
		result = result.Preload("Buildings").Preload("Buildings.Floors").Preload("Buildings.Floors.Devices")
	}
	result = result.First(&site, "id = ?", siteId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return site, ErrSiteNotFound
		}
		slog.Error("sql error in get site", "site_id", siteId, "error", result.Error)
		return site, ErrDbAccessFailed
	}

	return site, nil
}

func GetBuilding(buildingId uuid.UUID, db *gorm.DB, loadFloors bool) (Building, error) {
	var building Building

	var result *gorm.DB = db
	if loadFloors {
		result = result.Preload("Floors")
	}
	result = result.First(&building, "id = ?", buildingId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return building, ErrBuildingNotFound
		}
		slog.Error("sql error in get building", "building_id", buildingId, "error", result.Error)
		return building, ErrDbAccessFailed
	}

	return building, nil
}

func GetFloor(floorId uuid.UUID, db *gorm.DB, loadDevices bool) (Floor, error) {
	var floor Floor

	var result *gorm.DB = db
	if loadDevices {
		result = result.Preload("Devices")
	}
	result = result.First(&floor, "id = ?", floorId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return floor, ErrFloorNotFound
		}
		slog.Error("sql error in get floor", "floor_id", floorId, "error", result.Error)
		return floor, ErrDbAccessFailed
	}

	return floor, nil
}

func GetDevice(deviceId uuid.UUID, db *gorm.DB, loadErrors bool) (Device, error) {
	var device Device

	var result *gorm.DB = db
	if loadErrors {
		result = result.Preload("Errors")
	}
	result = result.First(&device, "id = ?", deviceId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return device, ErrDeviceNotFound
		}
		slog.Error("sql error in get device", "device_id", deviceId, "error", result.Error)
		return device, ErrDbAccessFailed
	}

	return device, nil
}

func GetMap(mapId uuid.UUID, db *gorm.DB) (Map, error) {
	var m Map

	result := db.First(&m, "id = ?", mapId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return m, ErrMapNotFound
		}
		slog.Error("sql error in get map", "map_id", mapId, "error", result.Error)
		return m, ErrDbAccessFailed
	}

	return m, nil
}

// SiteForFloor resolves the site a floor belongs to through its building.
func SiteForFloor(db *gorm.DB, floorId uuid.UUID) (uuid.UUID, error) {
	var floor Floor
	result := db.Preload("Building").First(&floor, "id = ?", floorId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return uuid.Nil, ErrFloorNotFound
		}
		slog.Error("sql error resolving site for floor", "floor_id", floorId, "error", result.Error)
		return uuid.Nil, ErrDbAccessFailed
	}
	if floor.Building == nil {
		return uuid.Nil, ErrBuildingNotFound
	}
	return floor.Building.SiteId, nil
}

func GetUserGrants(userId uuid.UUID, db *gorm.DB) ([]UserSiteRole, error) {
	var grants []UserSiteRole
	result := db.Find(&grants, "user_id = ?", userId)
	if result.Error != nil {
		slog.Error("sql error retrieving user_site_role entries", "user_id", userId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	return grants, nil
}

func GetGrant(userId, siteId, roleId uuid.UUID, db *gorm.DB) (UserSiteRole, error) {
	var grant UserSiteRole
	result := db.First(&grant, "user_id = ? and site_id = ? and role_id = ?", userId, siteId, roleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return grant, ErrGrantNotFound
		}
		slog.Error("sql error in get grant", "user_id", userId, "site_id", siteId, "role_id", roleId, "error", result.Error)
		return grant, ErrDbAccessFailed
	}

	return grant, nil
}

func UserExists(db *gorm.DB, userId uuid.UUID) (bool, error) {
	var user User
	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		slog.Error("sql error checking if user exists", "user_id", userId, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return true, nil
}

func SiteExists(db *gorm.DB, siteId uuid.UUID) (bool, error) {
	var site Site
	result := db.First(&site, "id = ?", siteId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		slog.Error("sql error checking if site exists", "site_id", siteId, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return true, nil
}

func RoleExists(db *gorm.DB, roleId uuid.UUID) (bool, error) {
	var role Role
	result := db.First(&role, "id = ?", roleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		slog.Error("sql error checking if role exists", "role_id", roleId, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return true, nil
}

func FloorExists(db *gorm.DB, floorId uuid.UUID) (bool, error) {
	var floor Floor
	result := db.First(&floor, "id = ?", floorId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		slog.Error("sql error checking if floor exists", "floor_id", floorId, "error", result.Error)
		return false, ErrDbAccessFailed
	}
	return true, nil
}
