package seed_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"sitewatch/supervision/schema"
	"sitewatch/supervision/seed"
)

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&schema.User{}, &schema.Role{}, &schema.UserSiteRole{},
		&schema.Site{}, &schema.Building{}, &schema.Floor{},
		&schema.Device{}, &schema.ErrorRecord{}, &schema.Map{},
	)
	require.NoError(t, err)

	return db
}

func TestDefaultSeedRoles(t *testing.T) {
	data, err := seed.Default()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user", "technician", "admin", "super-admin"}, data.Roles)
}

func TestDefaultSeedUsersAndGrants(t *testing.T) {
	db := setupDb(t)

	data, err := seed.Default()
	require.NoError(t, err)
	require.Len(t, data.Users, 4)

	require.NoError(t, seed.Apply(db, data))

	var site schema.Site
	require.NoError(t, db.First(&site, "name = ?", "Default Site").Error)

	var tech schema.User
	require.NoError(t, db.First(&tech, "username = ?", "technician").Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword(tech.Password, []byte("tech_password")))

	var role schema.Role
	require.NoError(t, db.First(&role, "name = ?", "technician").Error)

	var grant schema.UserSiteRole
	err = db.First(&grant, "user_id = ? and site_id = ? and role_id = ?", tech.Id, site.Id, role.Id).Error
	require.NoError(t, err)
}

func TestApplyIsIdempotent(t *testing.T) {
	db := setupDb(t)

	data, err := seed.Default()
	require.NoError(t, err)

	require.NoError(t, seed.Apply(db, data))
	require.NoError(t, seed.Apply(db, data))

	var count int64
	require.NoError(t, db.Model(&schema.Role{}).Count(&count).Error)
	assert.Equal(t, int64(len(data.Roles)), count)

	require.NoError(t, db.Model(&schema.User{}).Count(&count).Error)
	assert.Equal(t, int64(len(data.Users)), count)

	require.NoError(t, db.Model(&schema.UserSiteRole{}).Count(&count).Error)
	assert.Equal(t, int64(len(data.Users)), count)
}

func TestApplySeedsSites(t *testing.T) {
	db := setupDb(t)

	data := seed.Data{
		Roles: []string{"user"},
		Sites: []seed.SiteSeed{{
			Name: "demo-plant",
			Buildings: []seed.BuildingSeed{{
				Name: "main",
				Floors: []seed.FloorSeed{{
					Name: "ground",
					Devices: []seed.DeviceSeed{
						{Name: "sensor-1", Lat: 48.85, Lng: 2.35},
					},
				}},
			}},
		}},
	}

	require.NoError(t, seed.Apply(db, data))

	var site schema.Site
	err := db.Preload("Buildings.Floors.Devices").First(&site, "name = ?", "demo-plant").Error
	require.NoError(t, err)

	require.Len(t, site.Buildings, 1)
	require.Len(t, site.Buildings[0].Floors, 1)
	require.Len(t, site.Buildings[0].Floors[0].Devices, 1)
	assert.Equal(t, "sensor-1", site.Buildings[0].Floors[0].Devices[0].Name)

	// Applying again must not duplicate or overwrite the existing site.
	require.NoError(t, seed.Apply(db, data))

	var count int64
	require.NoError(t, db.Model(&schema.Site{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
