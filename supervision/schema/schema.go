package schema

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"unique;size:50;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	IsAdmin bool `gorm:"not null;default:false"`

	Grants []UserSiteRole `gorm:"constraint:OnDelete:CASCADE"`
}

type Role struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"unique;size:100;not null"`
}

type Site struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"unique;size:100;not null"`

	Buildings []Building `gorm:"constraint:OnDelete:CASCADE"`
	Map       *Map       `gorm:"foreignKey:SiteId"`
}

type Building struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"size:100;not null"`

	Perimeter Polygon `gorm:"serializer:json"`

	SiteId uuid.UUID `gorm:"type:uuid;not null;index"`
	Site   *Site     `gorm:"constraint:OnDelete:CASCADE"`

	Floors []Floor `gorm:"constraint:OnDelete:CASCADE"`
}

type Floor struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"size:100;not null"`

	BuildingId uuid.UUID `gorm:"type:uuid;not null;index"`
	Building   *Building `gorm:"constraint:OnDelete:CASCADE"`

	Devices []Device `gorm:"constraint:OnDelete:CASCADE"`
	Map     *Map     `gorm:"foreignKey:FloorId"`
}

type Device struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"size:100;not null"`

	Position Point `gorm:"embedded;embeddedPrefix:position_"`

	FloorId uuid.UUID `gorm:"type:uuid;not null;index"`
	Floor   *Floor    `gorm:"constraint:OnDelete:CASCADE"`

	Errors []ErrorRecord `gorm:"constraint:OnDelete:CASCADE"`
}

// ErrorRecord rows are append only: they are created when a device reports a
// fault and are never updated afterwards.
type ErrorRecord struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Kind      string    `gorm:"size:100;not null"`
	Timestamp time.Time `gorm:"not null"`

	DeviceId uuid.UUID `gorm:"type:uuid;not null;index"`
	Device   *Device   `gorm:"constraint:OnDelete:CASCADE"`
}

// UserSiteRole is the ternary association "this user holds this role on this
// site". The composite primary key makes duplicate grants impossible at the
// store level even under concurrent writers.
type UserSiteRole struct {
	UserId uuid.UUID `gorm:"type:uuid;primaryKey"`
	SiteId uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoleId uuid.UUID `gorm:"type:uuid;primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	User *User `gorm:"constraint:OnDelete:CASCADE"`
	Site *Site `gorm:"constraint:OnDelete:CASCADE"`
	Role *Role `gorm:"constraint:OnDelete:CASCADE"`
}

// Map is an uploaded map image with display parameters. A map is owned by at
// most one site or one floor, never both: the check constraint forbids dual
// ownership and the unique indexes on the two nullable owner columns ensure a
// given site or floor owns at most one map (nulls do not collide, so any
// number of maps may be unowned or owned by the other kind).
type Map struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Path string `gorm:"size:255;not null"`

	CenterLat float64 `gorm:"not null;default:0"`
	CenterLng float64 `gorm:"not null;default:0"`
	Zoom      float64 `gorm:"not null;default:1"`

	SiteId *uuid.UUID `gorm:"type:uuid;uniqueIndex;check:ck_maps_single_owner,(site_id IS NULL) OR (floor_id IS NULL)"`
	Site   *Site      `gorm:"constraint:OnDelete:CASCADE"`

	FloorId *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Floor   *Floor     `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OwnerKind string

const (
	OwnerSite  OwnerKind = "site"
	OwnerFloor OwnerKind = "floor"
)

// MapOwner is the tagged union over a map's possible owners. A nil *MapOwner
// is the unowned state, so code holding one can never represent dual
// ownership.
type MapOwner struct {
	Kind OwnerKind
	Id   uuid.UUID
}

func (m *Map) Owner() *MapOwner {
	if m.SiteId != nil {
		return &MapOwner{Kind: OwnerSite, Id: *m.SiteId}
	}
	if m.FloorId != nil {
		return &MapOwner{Kind: OwnerFloor, Id: *m.FloorId}
	}
	return nil
}

func (m *Map) SetOwner(owner MapOwner) {
	id := owner.Id
	switch owner.Kind {
	case OwnerSite:
		m.SiteId = &id
		m.FloorId = nil
	case OwnerFloor:
		m.FloorId = &id
		m.SiteId = nil
	}
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	return finite(p.Lat) && finite(p.Lng) && p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type Polygon []Point

func (poly Polygon) Valid() bool {
	for _, p := range poly {
		if !p.Valid() {
			return false
		}
	}
	return true
}
