package hierarchy_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"sitewatch/supervision/access"
	"sitewatch/supervision/hierarchy"
	"sitewatch/supervision/schema"
)

type fixture struct {
	db         *gorm.DB
	store      *access.Store
	aggregator *hierarchy.Aggregator

	user uuid.UUID
	role uuid.UUID
}

func setupFixture(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&schema.User{}, &schema.Role{}, &schema.UserSiteRole{},
		&schema.Site{}, &schema.Building{}, &schema.Floor{}, &schema.Device{},
		&schema.ErrorRecord{}, &schema.Map{},
	)
	require.NoError(t, err)

	user := schema.User{Id: uuid.New(), Username: "abc", Email: "abc@mail.com", Password: []byte("x")}
	require.NoError(t, db.Create(&user).Error)

	role := schema.Role{Id: uuid.New(), Name: "technician"}
	require.NoError(t, db.Create(&role).Error)

	store := access.NewStore()

	return &fixture{
		db:         db,
		store:      store,
		aggregator: hierarchy.NewAggregator(store),
		user:       user.Id,
		role:       role.Id,
	}
}

func (f *fixture) addSite(t *testing.T, name string) uuid.UUID {
	site := schema.Site{Id: uuid.New(), Name: name}
	require.NoError(t, f.db.Create(&site).Error)
	return site.Id
}

func (f *fixture) addDeviceChain(t *testing.T, siteId uuid.UUID) (buildingId, floorId, deviceId uuid.UUID) {
	building := schema.Building{Id: uuid.New(), Name: "main", SiteId: siteId}
	require.NoError(t, f.db.Create(&building).Error)

	floor := schema.Floor{Id: uuid.New(), Name: "first", BuildingId: building.Id}
	require.NoError(t, f.db.Create(&floor).Error)

	device := schema.Device{
		Id: uuid.New(), Name: "hvac-1",
		Position: schema.Point{Lat: 48.85, Lng: 2.35},
		FloorId:  floor.Id,
	}
	require.NoError(t, f.db.Create(&device).Error)

	return building.Id, floor.Id, device.Id
}

func TestOverviewEmptyWithoutGrants(t *testing.T) {
	f := setupFixture(t)
	f.addSite(t, "plant-a")

	overview, err := f.aggregator.OverviewForUser(f.db, f.user)
	require.NoError(t, err)
	assert.Equal(t, f.user, overview.UserId)
	assert.Empty(t, overview.Sites)
}

func TestOverviewUnknownUser(t *testing.T) {
	f := setupFixture(t)

	_, err := f.aggregator.OverviewForUser(f.db, uuid.New())
	assert.ErrorIs(t, err, schema.ErrUserNotFound)
}

func TestOverviewContainsFullTree(t *testing.T) {
	f := setupFixture(t)

	site := f.addSite(t, "plant-a")
	_, floorId, deviceId := f.addDeviceChain(t, site)

	older := schema.ErrorRecord{Id: uuid.New(), Kind: "overheat", Timestamp: time.Now().UTC().Add(-time.Hour), DeviceId: deviceId}
	newer := schema.ErrorRecord{Id: uuid.New(), Kind: "power_loss", Timestamp: time.Now().UTC(), DeviceId: deviceId}
	require.NoError(t, f.db.Create(&older).Error)
	require.NoError(t, f.db.Create(&newer).Error)

	siteMap := schema.Map{Id: uuid.New(), Path: "maps/site.png", Zoom: 1, SiteId: &site}
	require.NoError(t, f.db.Create(&siteMap).Error)
	floorMap := schema.Map{Id: uuid.New(), Path: "maps/floor.png", Zoom: 1, FloorId: &floorId}
	require.NoError(t, f.db.Create(&floorMap).Error)

	_, err := f.store.Grant(f.db, f.user, site, f.role)
	require.NoError(t, err)

	overview, err := f.aggregator.OverviewForUser(f.db, f.user)
	require.NoError(t, err)
	require.Len(t, overview.Sites, 1)

	node := overview.Sites[0]
	assert.Equal(t, "plant-a", node.Name)
	require.NotNil(t, node.Map)
	assert.Equal(t, siteMap.Id, node.Map.MapId)

	require.Len(t, node.Buildings, 1)
	require.Len(t, node.Buildings[0].Floors, 1)

	floor := node.Buildings[0].Floors[0]
	require.NotNil(t, floor.Map)
	assert.Equal(t, floorMap.Id, floor.Map.MapId)

	require.Len(t, floor.Devices, 1)
	errs := floor.Devices[0].Errors
	require.Len(t, errs, 2)
	// Error history is returned most recent first.
	assert.Equal(t, "power_loss", errs[0].Kind)
	assert.Equal(t, "overheat", errs[1].Kind)
}

func TestOverviewMapsAreIdOnlyReferences(t *testing.T) {
	f := setupFixture(t)

	site := f.addSite(t, "plant-a")
	f.addDeviceChain(t, site)

	siteMap := schema.Map{Id: uuid.New(), Path: "maps/plant-a/image.png", Zoom: 1, SiteId: &site}
	require.NoError(t, f.db.Create(&siteMap).Error)

	_, err := f.store.Grant(f.db, f.user, site, f.role)
	require.NoError(t, err)

	overview, err := f.aggregator.OverviewForUser(f.db, f.user)
	require.NoError(t, err)

	// The tree names maps by id only, storage paths and display parameters
	// stay behind the map endpoints.
	payload, err := json.Marshal(overview)
	require.NoError(t, err)
	assert.Contains(t, string(payload), siteMap.Id.String())
	assert.NotContains(t, string(payload), "maps/plant-a/image.png")
	assert.NotContains(t, string(payload), `"path"`)
}

func TestOverviewDeduplicatesGrants(t *testing.T) {
	f := setupFixture(t)

	site := f.addSite(t, "plant-a")
	other := schema.Role{Id: uuid.New(), Name: "super-admin"}
	require.NoError(t, f.db.Create(&other).Error)

	_, err := f.store.Grant(f.db, f.user, site, f.role)
	require.NoError(t, err)
	_, err = f.store.Grant(f.db, f.user, site, other.Id)
	require.NoError(t, err)

	overview, err := f.aggregator.OverviewForUser(f.db, f.user)
	require.NoError(t, err)
	assert.Len(t, overview.Sites, 1)
}

func TestSiteTreeUnknownSite(t *testing.T) {
	f := setupFixture(t)

	_, err := f.aggregator.SiteTree(f.db, uuid.New())
	assert.ErrorIs(t, err, schema.ErrSiteNotFound)
}

func TestSiteTreeWithoutMaps(t *testing.T) {
	f := setupFixture(t)

	site := f.addSite(t, "plant-a")
	f.addDeviceChain(t, site)

	tree, err := f.aggregator.SiteTree(f.db, site)
	require.NoError(t, err)
	assert.Nil(t, tree.Map)
	require.Len(t, tree.Buildings, 1)
	assert.Nil(t, tree.Buildings[0].Floors[0].Map)
}
