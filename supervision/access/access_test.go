package access_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"sitewatch/supervision/access"
	"sitewatch/supervision/schema"
)

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&schema.User{}, &schema.Role{}, &schema.UserSiteRole{},
		&schema.Site{}, &schema.Building{}, &schema.Floor{}, &schema.Device{},
		&schema.ErrorRecord{}, &schema.Map{},
	)
	require.NoError(t, err)

	return db
}

func addUser(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	user := schema.User{Id: uuid.New(), Username: name, Email: name + "@mail.com", Password: []byte("x")}
	require.NoError(t, db.Create(&user).Error)
	return user.Id
}

func addSite(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	site := schema.Site{Id: uuid.New(), Name: name}
	require.NoError(t, db.Create(&site).Error)
	return site.Id
}

func addRole(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	role := schema.Role{Id: uuid.New(), Name: name}
	require.NoError(t, db.Create(&role).Error)
	return role.Id
}

func TestGrantAndRevoke(t *testing.T) {
	db := setupDb(t)
	store := access.NewStore()

	user := addUser(t, db, "abc")
	site := addSite(t, db, "plant-a")
	role := addRole(t, db, "technician")

	grant, err := store.Grant(db, user, site, role)
	require.NoError(t, err)
	assert.Equal(t, user, grant.UserId)
	assert.Equal(t, site, grant.SiteId)
	assert.Equal(t, role, grant.RoleId)

	grants, err := store.GrantsForUser(db, user)
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	require.NoError(t, store.Revoke(db, user, site, role))

	grants, err = store.GrantsForUser(db, user)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestGrantRequiresExistingRows(t *testing.T) {
	db := setupDb(t)
	store := access.NewStore()

	user := addUser(t, db, "abc")
	site := addSite(t, db, "plant-a")
	role := addRole(t, db, "technician")

	_, err := store.Grant(db, uuid.New(), site, role)
	assert.ErrorIs(t, err, schema.ErrUserNotFound)

	_, err = store.Grant(db, user, uuid.New(), role)
	assert.ErrorIs(t, err, schema.ErrSiteNotFound)

	_, err = store.Grant(db, user, site, uuid.New())
	assert.ErrorIs(t, err, schema.ErrRoleNotFound)
}

func TestDuplicateGrant(t *testing.T) {
	db := setupDb(t)
	store := access.NewStore()

	user := addUser(t, db, "abc")
	site := addSite(t, db, "plant-a")
	role := addRole(t, db, "technician")

	_, err := store.Grant(db, user, site, role)
	require.NoError(t, err)

	_, err = store.Grant(db, user, site, role)
	assert.ErrorIs(t, err, schema.ErrDuplicateGrant)
}

func TestRevokeMissingGrant(t *testing.T) {
	db := setupDb(t)
	store := access.NewStore()

	user := addUser(t, db, "abc")
	site := addSite(t, db, "plant-a")
	role := addRole(t, db, "technician")

	err := store.Revoke(db, user, site, role)
	assert.ErrorIs(t, err, schema.ErrGrantNotFound)
}

func TestDistinctSiteAndRoleQueries(t *testing.T) {
	db := setupDb(t)
	store := access.NewStore()

	user := addUser(t, db, "abc")
	siteA := addSite(t, db, "plant-a")
	siteB := addSite(t, db, "plant-b")
	tech := addRole(t, db, "technician")
	sup := addRole(t, db, "super-admin")

	for _, grant := range []struct{ site, role uuid.UUID }{
		{siteA, tech}, {siteA, sup}, {siteB, tech},
	} {
		_, err := store.Grant(db, user, grant.site, grant.role)
		require.NoError(t, err)
	}

	sites, err := store.SitesForUser(db, user)
	require.NoError(t, err)
	assert.Len(t, sites, 2)

	roles, err := store.RolesForUser(db, user)
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	onSiteA, err := store.RolesForUserOnSite(db, user, siteA)
	require.NoError(t, err)
	assert.Len(t, onSiteA, 2)

	onSiteB, err := store.RolesForUserOnSite(db, user, siteB)
	require.NoError(t, err)
	require.Len(t, onSiteB, 1)
	assert.Equal(t, "technician", onSiteB[0].Name)

	siteIds, err := store.AccessibleSiteIds(db, user)
	require.NoError(t, err)
	assert.Len(t, siteIds, 2)
	assert.True(t, siteIds[siteA])
	assert.True(t, siteIds[siteB])
}

func TestSitesWithRoles(t *testing.T) {
	db := setupDb(t)
	store := access.NewStore()

	user := addUser(t, db, "abc")
	site := addSite(t, db, "plant-a")
	tech := addRole(t, db, "technician")
	sup := addRole(t, db, "super-admin")

	_, err := store.Grant(db, user, site, tech)
	require.NoError(t, err)
	_, err = store.Grant(db, user, site, sup)
	require.NoError(t, err)

	siteRoles, err := store.SitesWithRoles(db, user)
	require.NoError(t, err)
	require.Len(t, siteRoles, 1)
	assert.Equal(t, "plant-a", siteRoles[0].Site.Name)
	assert.Len(t, siteRoles[0].Roles, 2)
}
