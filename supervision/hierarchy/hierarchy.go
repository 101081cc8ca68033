// Package hierarchy assembles the site -> building -> floor -> device tree a
// user is allowed to see, scoped by their access grants.
package hierarchy

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitewatch/supervision/access"
	"sitewatch/supervision/schema"
)

// MapRef points at the map assigned to a site or floor. Only the id is
// carried, clients fetch display parameters and the image through the map
// endpoints so the tree payload never exposes storage paths.
type MapRef struct {
	MapId uuid.UUID `json:"map_id"`
}

type ErrorInfo struct {
	ErrorId   uuid.UUID `json:"error_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

type DeviceNode struct {
	DeviceId uuid.UUID    `json:"device_id"`
	Name     string       `json:"name"`
	Position schema.Point `json:"position"`
	Errors   []ErrorInfo  `json:"errors"`
}

type FloorNode struct {
	FloorId uuid.UUID    `json:"floor_id"`
	Name    string       `json:"name"`
	Map     *MapRef      `json:"map,omitempty"`
	Devices []DeviceNode `json:"devices"`
}

type BuildingNode struct {
	BuildingId uuid.UUID      `json:"building_id"`
	Name       string         `json:"name"`
	Perimeter  schema.Polygon `json:"perimeter"`
	Floors     []FloorNode    `json:"floors"`
}

type SiteNode struct {
	SiteId    uuid.UUID      `json:"site_id"`
	Name      string         `json:"name"`
	Map       *MapRef        `json:"map,omitempty"`
	Buildings []BuildingNode `json:"buildings"`
}

type Overview struct {
	UserId uuid.UUID  `json:"user_id"`
	Sites  []SiteNode `json:"sites"`
}

// Aggregator walks the stored hierarchy for the sites a user holds at least
// one role on. Sites reachable through several grants appear once.
type Aggregator struct {
	store *access.Store
}

func NewAggregator(store *access.Store) *Aggregator {
	return &Aggregator{store: store}
}

// OverviewForUser builds the full tree for every site the user can see. A
// user with no grants gets an empty site list, not an error.
func (a *Aggregator) OverviewForUser(db *gorm.DB, userId uuid.UUID) (Overview, error) {
	overview := Overview{UserId: userId, Sites: []SiteNode{}}

	if ok, err := schema.UserExists(db, userId); err != nil {
		return overview, err
	} else if !ok {
		return overview, schema.ErrUserNotFound
	}

	siteIds, err := a.store.AccessibleSiteIds(db, userId)
	if err != nil {
		return overview, err
	}
	if len(siteIds) == 0 {
		return overview, nil
	}

	ordered := make([]uuid.UUID, 0, len(siteIds))
	for id := range siteIds {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	for _, siteId := range ordered {
		node, err := a.siteTree(db, siteId)
		if err != nil {
			return overview, err
		}
		overview.Sites = append(overview.Sites, node)
	}

	return overview, nil
}

// SiteTree builds the tree for a single site without access scoping. The
// service layer is responsible for checking the caller may see the site.
func (a *Aggregator) SiteTree(db *gorm.DB, siteId uuid.UUID) (SiteNode, error) {
	return a.siteTree(db, siteId)
}

func (a *Aggregator) siteTree(db *gorm.DB, siteId uuid.UUID) (SiteNode, error) {
	site, err := schema.GetSite(siteId, db, true)
	if err != nil {
		return SiteNode{}, err
	}

	siteMap, err := a.ownerMap(db, &site.Id, nil)
	if err != nil {
		return SiteNode{}, err
	}

	node := SiteNode{
		SiteId:    site.Id,
		Name:      site.Name,
		Map:       siteMap,
		Buildings: make([]BuildingNode, 0, len(site.Buildings)),
	}

	for _, building := range site.Buildings {
		buildingNode := BuildingNode{
			BuildingId: building.Id,
			Name:       building.Name,
			Perimeter:  building.Perimeter,
			Floors:     make([]FloorNode, 0, len(building.Floors)),
		}

		for _, floor := range building.Floors {
			floorMap, err := a.ownerMap(db, nil, &floor.Id)
			if err != nil {
				return SiteNode{}, err
			}

			floorNode := FloorNode{
				FloorId: floor.Id,
				Name:    floor.Name,
				Map:     floorMap,
				Devices: make([]DeviceNode, 0, len(floor.Devices)),
			}

			for _, device := range floor.Devices {
				deviceNode, err := a.deviceNode(db, device)
				if err != nil {
					return SiteNode{}, err
				}
				floorNode.Devices = append(floorNode.Devices, deviceNode)
			}

			buildingNode.Floors = append(buildingNode.Floors, floorNode)
		}

		node.Buildings = append(node.Buildings, buildingNode)
	}

	return node, nil
}

func (a *Aggregator) deviceNode(db *gorm.DB, device schema.Device) (DeviceNode, error) {
	var records []schema.ErrorRecord
	result := db.Order("timestamp desc").Find(&records, "device_id = ?", device.Id)
	if result.Error != nil {
		slog.Error("sql error retrieving device error history", "device_id", device.Id, "error", result.Error)
		return DeviceNode{}, schema.ErrDbAccessFailed
	}

	errs := make([]ErrorInfo, 0, len(records))
	for _, record := range records {
		errs = append(errs, ErrorInfo{ErrorId: record.Id, Kind: record.Kind, Timestamp: record.Timestamp})
	}

	return DeviceNode{
		DeviceId: device.Id,
		Name:     device.Name,
		Position: device.Position,
		Errors:   errs,
	}, nil
}

// ownerMap looks up the map assigned to a site or floor, if any. Missing
// maps are not an error since ownership is optional.
func (a *Aggregator) ownerMap(db *gorm.DB, siteId, floorId *uuid.UUID) (*MapRef, error) {
	var m schema.Map
	var result *gorm.DB
	if siteId != nil {
		result = db.First(&m, "site_id = ?", *siteId)
	} else {
		result = db.First(&m, "floor_id = ?", *floorId)
	}
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("sql error retrieving map for owner", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return &MapRef{MapId: m.Id}, nil
}
