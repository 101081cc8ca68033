// Package seed loads the default reference data (roles, a default site, and
// default users with their grants) into the database on startup. Seeding is
// idempotent so the server can apply it on every boot.
package seed

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"sitewatch/supervision/schema"
)

//go:embed default_seed.yaml
var defaultSeed []byte

type DeviceSeed struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lng  float64 `yaml:"lng"`
}

type FloorSeed struct {
	Name    string       `yaml:"name"`
	Devices []DeviceSeed `yaml:"devices"`
}

type BuildingSeed struct {
	Name   string      `yaml:"name"`
	Floors []FloorSeed `yaml:"floors"`
}

type SiteSeed struct {
	Name      string         `yaml:"name"`
	Buildings []BuildingSeed `yaml:"buildings"`
}

type GrantSeed struct {
	Site string `yaml:"site"`
	Role string `yaml:"role"`
}

type UserSeed struct {
	Username string      `yaml:"username"`
	Email    string      `yaml:"email"`
	Password string      `yaml:"password"`
	Grants   []GrantSeed `yaml:"grants"`
}

type Data struct {
	Roles []string   `yaml:"roles"`
	Sites []SiteSeed `yaml:"sites"`
	Users []UserSeed `yaml:"users"`
}

// Default returns the seed data bundled into the binary.
func Default() (Data, error) {
	return parse(defaultSeed)
}

// FromFile loads seed data from a yaml file on disk.
func FromFile(path string) (Data, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("error reading seed file %v: %w", path, err)
	}
	return parse(content)
}

func parse(content []byte) (Data, error) {
	var data Data
	if err := yaml.Unmarshal(content, &data); err != nil {
		return Data{}, fmt.Errorf("error parsing seed data: %w", err)
	}
	return data, nil
}

func ensureRole(txn *gorm.DB, name string) error {
	var existing schema.Role
	result := txn.Limit(1).Find(&existing, "name = ?", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 0 {
		return nil
	}

	return txn.Create(&schema.Role{Id: uuid.New(), Name: name}).Error
}

func ensureSite(txn *gorm.DB, site SiteSeed) error {
	var existing schema.Site
	result := txn.Limit(1).Find(&existing, "name = ?", site.Name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 0 {
		// Existing sites are left untouched, the seed never overwrites data
		// that may have been edited since.
		return nil
	}

	newSite := schema.Site{Id: uuid.New(), Name: site.Name}
	for _, building := range site.Buildings {
		newBuilding := schema.Building{Id: uuid.New(), Name: building.Name, SiteId: newSite.Id}
		for _, floor := range building.Floors {
			newFloor := schema.Floor{Id: uuid.New(), Name: floor.Name, BuildingId: newBuilding.Id}
			for _, device := range floor.Devices {
				newFloor.Devices = append(newFloor.Devices, schema.Device{
					Id:       uuid.New(),
					Name:     device.Name,
					Position: schema.Point{Lat: device.Lat, Lng: device.Lng},
					FloorId:  newFloor.Id,
				})
			}
			newBuilding.Floors = append(newBuilding.Floors, newFloor)
		}
		newSite.Buildings = append(newSite.Buildings, newBuilding)
	}

	return txn.Create(&newSite).Error
}

func ensureUser(txn *gorm.DB, user UserSeed) (uuid.UUID, error) {
	var existing schema.User
	result := txn.Limit(1).Find(&existing, "username = ?", user.Username)
	if result.Error != nil {
		return uuid.UUID{}, result.Error
	}
	if result.RowsAffected != 0 {
		return existing.Id, nil
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(user.Password), 10)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("error encrypting password: %w", err)
	}

	newUser := schema.User{Id: uuid.New(), Username: user.Username, Email: user.Email, Password: hashedPwd}
	if err := txn.Create(&newUser).Error; err != nil {
		return uuid.UUID{}, err
	}
	return newUser.Id, nil
}

func ensureGrant(txn *gorm.DB, userId uuid.UUID, grant GrantSeed) error {
	var site schema.Site
	result := txn.Limit(1).Find(&site, "name = ?", grant.Site)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("grant references unknown site %v", grant.Site)
	}

	var role schema.Role
	result = txn.Limit(1).Find(&role, "name = ?", grant.Role)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("grant references unknown role %v", grant.Role)
	}

	var existing schema.UserSiteRole
	result = txn.Limit(1).Find(&existing, "user_id = ? and site_id = ? and role_id = ?", userId, site.Id, role.Id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 0 {
		return nil
	}

	return txn.Create(&schema.UserSiteRole{UserId: userId, SiteId: site.Id, RoleId: role.Id}).Error
}

// Apply inserts any missing roles, sites, users, and grants from the seed
// data. Roles and sites are seeded first so user grants can reference them by
// name.
func Apply(db *gorm.DB, data Data) error {
	err := db.Transaction(func(txn *gorm.DB) error {
		for _, role := range data.Roles {
			if err := ensureRole(txn, role); err != nil {
				return fmt.Errorf("error seeding role %v: %w", role, err)
			}
		}
		for _, site := range data.Sites {
			if err := ensureSite(txn, site); err != nil {
				return fmt.Errorf("error seeding site %v: %w", site.Name, err)
			}
		}
		for _, user := range data.Users {
			userId, err := ensureUser(txn, user)
			if err != nil {
				return fmt.Errorf("error seeding user %v: %w", user.Username, err)
			}
			for _, grant := range user.Grants {
				if err := ensureGrant(txn, userId, grant); err != nil {
					return fmt.Errorf("error seeding grants for user %v: %w", user.Username, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("seed data applied", "roles", len(data.Roles), "sites", len(data.Sites), "users", len(data.Users))
	return nil
}
