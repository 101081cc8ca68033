package schema_test

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"sitewatch/supervision/schema"
)

func TestPointValidation(t *testing.T) {
	assert.True(t, schema.Point{Lat: 48.85, Lng: 2.35}.Valid())
	assert.True(t, schema.Point{Lat: -90, Lng: 180}.Valid())

	assert.False(t, schema.Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, schema.Point{Lat: 0, Lng: -181}.Valid())
	assert.False(t, schema.Point{Lat: math.NaN(), Lng: 0}.Valid())
	assert.False(t, schema.Point{Lat: 0, Lng: math.Inf(1)}.Valid())
}

func TestPolygonValidation(t *testing.T) {
	assert.True(t, schema.Polygon{}.Valid())
	assert.True(t, schema.Polygon{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}}.Valid())
	assert.False(t, schema.Polygon{{Lat: 0, Lng: 0}, {Lat: 100, Lng: 0}}.Valid())
}

func TestMapOwner(t *testing.T) {
	var m schema.Map
	assert.Nil(t, m.Owner())

	siteId := uuid.New()
	m.SetOwner(schema.MapOwner{Kind: schema.OwnerSite, Id: siteId})
	owner := m.Owner()
	require.NotNil(t, owner)
	assert.Equal(t, schema.OwnerSite, owner.Kind)
	assert.Equal(t, siteId, owner.Id)
	assert.Nil(t, m.FloorId)

	var n schema.Map
	floorId := uuid.New()
	n.SetOwner(schema.MapOwner{Kind: schema.OwnerFloor, Id: floorId})
	owner = n.Owner()
	require.NotNil(t, owner)
	assert.Equal(t, schema.OwnerFloor, owner.Kind)
	assert.Equal(t, floorId, owner.Id)
	assert.Nil(t, n.SiteId)
}

func TestUniqueOwnerIndexes(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&schema.Site{}, &schema.Building{}, &schema.Floor{}, &schema.Device{}, &schema.ErrorRecord{}, &schema.Map{}))

	site := schema.Site{Id: uuid.New(), Name: "plant-a"}
	require.NoError(t, db.Create(&site).Error)

	first := schema.Map{Id: uuid.New(), Path: "maps/a.png", Zoom: 1, SiteId: &site.Id}
	require.NoError(t, db.Create(&first).Error)

	second := schema.Map{Id: uuid.New(), Path: "maps/b.png", Zoom: 1, SiteId: &site.Id}
	err = db.Create(&second).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Unowned maps are not constrained by the unique indexes.
	for i := 0; i < 2; i++ {
		unowned := schema.Map{Id: uuid.New(), Path: "maps/unowned.png", Zoom: 1}
		require.NoError(t, db.Create(&unowned).Error)
	}
}
